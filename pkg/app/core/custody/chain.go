package custody

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const erc20ABI = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// Backend is the subset of *ethclient.Client the live gateway uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Chain settles against ERC-20 contracts and native value on an EVM chain. The custody
// account is the address of the configured key.
//
// Each push or pull is a mined transaction and cannot be undone, so a failure after an
// earlier transfer of the same operation leaves that transfer in place.
type Chain struct {
	backend      Backend
	key          *ecdsa.PrivateKey
	custodian    common.Address
	chainID      *big.Int
	erc20        abi.ABI
	pollInterval time.Duration
	timeout      time.Duration
	log          *zap.SugaredLogger
}

type ChainConfig struct {
	ChainID        int64
	PrivateKeyHex  string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Logger         *zap.SugaredLogger
}

func NewChain(backend Backend, cfg ChainConfig) (*Chain, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("custody key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("erc20 abi: %w", err)
	}
	c := &Chain{
		backend:      backend,
		key:          key,
		custodian:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:      big.NewInt(cfg.ChainID),
		erc20:        parsed,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.ConfirmTimeout,
		log:          cfg.Logger,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Minute
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	return c, nil
}

func (c *Chain) Custodian() common.Address { return c.custodian }

func (c *Chain) call(ctx context.Context, asset common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.custodian, To: &asset, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, asset.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no code", ErrUnknownAsset, asset.Hex())
	}
	return c.erc20.Unpack(method, out)
}

func (c *Chain) Decimals(ctx context.Context, asset common.Address) (uint8, error) {
	res, err := c.call(ctx, asset, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := res[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected %T", res[0])
	}
	return d, nil
}

func (c *Chain) Allowance(ctx context.Context, owner, asset common.Address) (*uint256.Int, error) {
	res, err := c.call(ctx, asset, "allowance", owner, c.custodian)
	if err != nil {
		return nil, err
	}
	return toUint256(res[0])
}

func (c *Chain) PullAsset(ctx context.Context, from, asset common.Address, amount *uint256.Int) error {
	return c.transferToken(ctx, asset, from, c.custodian, amount, "transferFrom", from, c.custodian, amount.ToBig())
}

func (c *Chain) PushAsset(ctx context.Context, to, asset common.Address, amount *uint256.Int) error {
	return c.transferToken(ctx, asset, c.custodian, to, amount, "transfer", to, amount.ToBig())
}

func (c *Chain) PushPayment(ctx context.Context, to common.Address, amount *uint256.Int) error {
	_, err := c.transact(ctx, to, amount.ToBig(), nil)
	return err
}

// transferToken simulates the token call and refuses a false result before anything
// is sent, then requires the mined receipt to carry the matching Transfer log. Tokens
// that return no data are judged by the log alone.
func (c *Chain) transferToken(ctx context.Context, asset, from, to common.Address, amount *uint256.Int, method string, args ...interface{}) error {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.custodian, To: &asset, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("%w: simulate %s: %w", ErrTransferFailed, method, err)
	}
	if len(out) > 0 {
		res, err := c.erc20.Unpack(method, out)
		if err != nil {
			return fmt.Errorf("%w: %s result: %w", ErrTransferFailed, method, err)
		}
		if ok, _ := res[0].(bool); !ok {
			return fmt.Errorf("%w: %s on %s returned false", ErrTransferFailed, method, asset.Hex())
		}
	}

	receipt, err := c.transact(ctx, asset, nil, data)
	if err != nil {
		return err
	}
	if !c.hasTransferLog(receipt, asset, from, to, amount) {
		return fmt.Errorf("%w: %s moved no tokens", ErrTransferFailed, receipt.TxHash.Hex())
	}
	return nil
}

func (c *Chain) hasTransferLog(r *types.Receipt, asset, from, to common.Address, amount *uint256.Int) bool {
	id := c.erc20.Events["Transfer"].ID
	for _, l := range r.Logs {
		if l.Address != asset || len(l.Topics) != 3 || l.Topics[0] != id {
			continue
		}
		if common.BytesToAddress(l.Topics[1].Bytes()) != from || common.BytesToAddress(l.Topics[2].Bytes()) != to {
			continue
		}
		if new(uint256.Int).SetBytes(l.Data).Eq(amount) {
			return true
		}
	}
	return false
}

// transact signs and sends an EIP-1559 transaction and waits for it to be mined.
func (c *Chain) transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.custodian)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", ErrTransferFailed, err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas tip: %w", ErrTransferFailed, err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: head: %w", ErrTransferFailed, err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.custodian, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %w", ErrTransferFailed, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %w", ErrTransferFailed, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%w: send: %w", ErrTransferFailed, err)
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransferFailed, signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s reverted", ErrTransferFailed, signed.Hash().Hex())
	}
	c.log.Debugw("custody_tx_mined", "tx", signed.Hash().Hex(), "to", to.Hex(), "block", receipt.BlockNumber)
	return receipt, nil
}

func (c *Chain) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toUint256(v interface{}) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %T", v)
	}
	out, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("value %s overflows 256 bits", b)
	}
	return out, nil
}

var _ Gateway = (*Chain)(nil)
