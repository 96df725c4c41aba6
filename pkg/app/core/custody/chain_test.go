package custody

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	results     map[string][]byte // selector -> return data
	sent        []*types.Transaction
	nonce       uint64
	notFound    int // receipt polls answered with NotFound before the receipt
	status      uint64
	estimateErr error
	dropLogs    bool // mined token transfers emit no Transfer log
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{results: make(map[string][]byte), status: types.ReceiptStatusSuccessful}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[hex.EncodeToString(msg.Data[:4])], nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(100)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60_000, f.estimateErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound > 0 {
		f.notFound--
		return nil, ethereum.NotFound
	}
	r := &types.Receipt{Status: f.status, BlockNumber: big.NewInt(7), TxHash: hash}
	for _, tx := range f.sent {
		if tx.Hash() != hash || f.dropLogs {
			continue
		}
		if l := transferLog(tx); l != nil {
			r.Logs = append(r.Logs, l)
		}
	}
	return r, nil
}

// transferLog is the Transfer event a standard token emits for tx.
func transferLog(tx *types.Transaction) *types.Log {
	data := tx.Data()
	if len(data) < 4 {
		return nil
	}
	var (
		from, to common.Address
		amount   []byte
	)
	switch hex.EncodeToString(data[:4]) {
	case "a9059cbb": // transfer
		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			return nil
		}
		from, to, amount = sender, common.BytesToAddress(data[4:36]), data[36:68]
	case "23b872dd": // transferFrom
		from, to, amount = common.BytesToAddress(data[4:36]), common.BytesToAddress(data[36:68]), data[68:100]
	default:
		return nil
	}
	return &types.Log{
		Address: *tx.To(),
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: amount,
	}
}

func testERC20(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	return parsed
}

func (f *fakeBackend) respond(t *testing.T, erc20 abi.ABI, method string, values ...interface{}) {
	t.Helper()
	m := erc20.Methods[method]
	out, err := m.Outputs.Pack(values...)
	require.NoError(t, err)
	f.results[hex.EncodeToString(m.ID)] = out
}

func newTestChain(t *testing.T, backend Backend) (*Chain, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewChain(backend, ChainConfig{
		ChainID:        1337,
		PrivateKeyHex:  hex.EncodeToString(crypto.FromECDSA(key)),
		ConfirmTimeout: time.Second,
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	return c, crypto.PubkeyToAddress(key.PublicKey)
}

func TestChainReads(t *testing.T) {
	ctx := context.Background()
	erc20 := testERC20(t)
	b := newFakeBackend()
	c, _ := newTestChain(t, b)

	_, err := c.Decimals(ctx, asset)
	require.ErrorIs(t, err, ErrUnknownAsset)

	b.respond(t, erc20, "decimals", uint8(6))
	b.respond(t, erc20, "allowance", big.NewInt(1234))

	d, err := c.Decimals(ctx, asset)
	require.NoError(t, err)
	require.Equal(t, uint8(6), d)

	a, err := c.Allowance(ctx, alice, asset)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), a.Uint64())
}

func TestChainPullSignsTransferFrom(t *testing.T) {
	ctx := context.Background()
	erc20 := testERC20(t)
	b := newFakeBackend()
	b.notFound = 2
	c, key := newTestChain(t, b)
	require.Equal(t, key, c.Custodian())

	require.NoError(t, c.PullAsset(ctx, alice, asset, u(500)))
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	require.Equal(t, asset, *tx.To())
	require.Equal(t, uint64(60_000), tx.Gas())
	require.Equal(t, big.NewInt(1e9+200), tx.GasFeeCap())
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	require.Equal(t, c.Custodian(), from)

	args, err := erc20.Methods["transferFrom"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, alice, args[0])
	require.Equal(t, c.Custodian(), args[1])
	require.Equal(t, big.NewInt(500), args[2])
}

func TestChainPushes(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend()
	c, _ := newTestChain(t, b)

	require.NoError(t, c.PushAsset(ctx, bob, asset, u(3)))
	require.NoError(t, c.PushPayment(ctx, bob, u(9)))
	require.Len(t, b.sent, 2)
	require.Equal(t, uint64(0), b.sent[0].Nonce())
	require.Equal(t, uint64(1), b.sent[1].Nonce())

	pay := b.sent[1]
	require.Equal(t, bob, *pay.To())
	require.Equal(t, big.NewInt(9), pay.Value())
	require.Empty(t, pay.Data())
}

func TestChainFailures(t *testing.T) {
	ctx := context.Background()

	reverted := newFakeBackend()
	reverted.status = types.ReceiptStatusFailed
	c, _ := newTestChain(t, reverted)
	require.ErrorIs(t, c.PushAsset(ctx, bob, asset, u(1)), ErrTransferFailed)

	noGas := newFakeBackend()
	noGas.estimateErr = ethereum.NotFound
	c, _ = newTestChain(t, noGas)
	require.ErrorIs(t, c.PushPayment(ctx, bob, u(1)), ErrTransferFailed)
	require.Empty(t, noGas.sent)

	neverMined := newFakeBackend()
	neverMined.notFound = 1 << 30
	c, err := NewChain(neverMined, ChainConfig{
		ChainID:        1337,
		PrivateKeyHex:  "0x" + strings.Repeat("11", 32),
		ConfirmTimeout: 20 * time.Millisecond,
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	require.ErrorIs(t, c.PushAsset(ctx, bob, asset, u(1)), ErrTransferFailed)

	_, err = NewChain(neverMined, ChainConfig{PrivateKeyHex: "not-a-key"})
	require.Error(t, err)
}

func TestChainTokenReturnsFalse(t *testing.T) {
	ctx := context.Background()
	erc20 := testERC20(t)

	refusing := newFakeBackend()
	refusing.respond(t, erc20, "transfer", false)
	refusing.respond(t, erc20, "transferFrom", false)
	c, _ := newTestChain(t, refusing)
	require.ErrorIs(t, c.PushAsset(ctx, bob, asset, u(3)), ErrTransferFailed)
	require.ErrorIs(t, c.PullAsset(ctx, alice, asset, u(3)), ErrTransferFailed)
	require.Empty(t, refusing.sent)

	garbled := newFakeBackend()
	garbled.results[hex.EncodeToString(erc20.Methods["transfer"].ID)] = []byte{0x01}
	c, _ = newTestChain(t, garbled)
	require.ErrorIs(t, c.PushAsset(ctx, bob, asset, u(3)), ErrTransferFailed)
	require.Empty(t, garbled.sent)

	accepting := newFakeBackend()
	accepting.respond(t, erc20, "transfer", true)
	c, _ = newTestChain(t, accepting)
	require.NoError(t, c.PushAsset(ctx, bob, asset, u(3)))
	require.Len(t, accepting.sent, 1)
}

func TestChainRequiresTransferLog(t *testing.T) {
	ctx := context.Background()
	erc20 := testERC20(t)

	silent := newFakeBackend()
	silent.dropLogs = true
	c, _ := newTestChain(t, silent)
	require.ErrorIs(t, c.PushAsset(ctx, bob, asset, u(3)), ErrTransferFailed)
	require.Len(t, silent.sent, 1)

	// The call answered true but the mined transaction moved nothing.
	stale := newFakeBackend()
	stale.respond(t, erc20, "transferFrom", true)
	stale.dropLogs = true
	c, _ = newTestChain(t, stale)
	require.ErrorIs(t, c.PullAsset(ctx, alice, asset, u(3)), ErrTransferFailed)

	require.NoError(t, c.PushPayment(ctx, bob, u(1)))
}
