package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/exchange"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/feed"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

var (
	custodian = common.HexToAddress("0x00000000000000000000000000000000000e5c40")
	hypl      = common.HexToAddress("0x00000000000000000000000000000000000a55e7")
	oneHYPL   = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type fixture struct {
	t        *testing.T
	app      *exchange.App
	seq      *sequencer.Sequencer
	server   *Server
	http     *httptest.Server
	builders []*transaction.Builder
	nonces   map[common.Address]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New(nil)
	app := exchange.NewApp(exchange.Config{ChainID: 1337, Custodian: custodian, Persister: store, Metrics: m})
	require.NoError(t, app.InitGenesis(params.DevnetGenesis()))

	seq, err := sequencer.New(app, store, sequencer.Config{Clock: util.NewManualClock(time.Unix(1_700_000_000, 0))})
	require.NoError(t, err)

	server := NewServer(Config{App: app, Blocks: store, Metrics: m.Handler()})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	f := &fixture{t: t, app: app, seq: seq, server: server, http: ts, nonces: make(map[common.Address]int64)}
	for _, k := range params.DevnetKeys {
		s, err := crypto.FromPrivateKeyHex(k)
		require.NoError(t, err)
		f.builders = append(f.builders, transaction.NewBuilder(s, app.Domain()))
	}
	return f
}

func (f *fixture) nonce(b *transaction.Builder) *big.Int {
	addr := b.Signer().Address()
	f.nonces[addr]++
	return big.NewInt(f.nonces[addr])
}

func (f *fixture) serialize(tx *transaction.SignedTransaction, err error) []byte {
	f.t.Helper()
	require.NoError(f.t, err)
	raw, err := tx.Serialize()
	require.NoError(f.t, err)
	return raw
}

func (f *fixture) approve(b *transaction.Builder) []byte {
	owner := b.Signer().Address()
	return f.serialize(b.Approve(&crypto.ApproveEIP712{
		Asset: hypl, Amount: new(uint256.Int).SetAllOne().ToBig(), Nonce: f.nonce(b), Owner: owner,
	}))
}

func (f *fixture) place(b *transaction.Builder, side orderbook.Side, units, price int64) []byte {
	owner := b.Signer().Address()
	return f.serialize(b.Place(&crypto.PlaceOrderEIP712{
		Asset:  hypl,
		Side:   uint8(side),
		Amount: new(big.Int).Mul(big.NewInt(units), oneHYPL),
		Total:  big.NewInt(units * price),
		Nonce:  f.nonce(b),
		Owner:  owner,
	}))
}

func (f *fixture) post(path string, body []byte) *http.Response {
	f.t.Helper()
	resp, err := http.Post(f.http.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(f.t, err)
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(path string, out interface{}) int {
	f.t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) step() sequencer.Block {
	f.t.Helper()
	b, ok, err := f.seq.Step(context.Background())
	require.NoError(f.t, err)
	require.True(f.t, ok)
	return b
}

// seed rests a sell of 2 HYPL at 10 from the first devnet key and a buy of 1 HYPL at
// 9 from the second, in block 1.
func (f *fixture) seed() {
	seller, buyer := f.builders[0], f.builders[1]
	for _, raw := range [][]byte{f.approve(seller), f.place(seller, orderbook.Sell, 2, 10), f.place(buyer, orderbook.Buy, 1, 9)} {
		resp := f.post("/api/v1/tx", raw)
		require.Equal(f.t, http.StatusAccepted, resp.StatusCode)
	}
	f.step()
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	var health map[string]string
	require.Equal(t, http.StatusOK, f.get("/health", &health))
	require.Equal(t, "ok", health["status"])

	f.seed()
	var status ChainStatus
	require.Equal(t, http.StatusOK, f.get("/api/v1/status", &status))
	require.Equal(t, int64(1), status.Height)
	require.Equal(t, f.app.AppHash(), status.AppHash)
	require.Zero(t, status.MempoolSize)
}

func TestAssets(t *testing.T) {
	f := newFixture(t)

	var assets []AssetInfo
	require.Equal(t, http.StatusOK, f.get("/api/v1/assets", &assets))
	require.Len(t, assets, 2)
	require.Equal(t, "HYPL", assets[0].Symbol)
	require.Equal(t, "Active", assets[0].Status)

	var one AssetInfo
	require.Equal(t, http.StatusOK, f.get("/api/v1/assets/"+hypl.Hex(), &one))
	require.Equal(t, uint8(18), one.Decimals)

	require.Equal(t, http.StatusBadRequest, f.get("/api/v1/assets/nope", nil))
	require.Equal(t, http.StatusNotFound, f.get("/api/v1/assets/"+custodian.Hex(), nil))
}

func TestSubmitTx(t *testing.T) {
	f := newFixture(t)

	resp := f.post("/api/v1/tx", []byte(`{"type":"place"`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw := f.approve(f.builders[0])
	resp = f.post("/api/v1/tx", raw)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out SubmitTxResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "submitted", out.Status)
	require.Equal(t, transaction.Hash(raw), out.Hash)
	require.Equal(t, 1, f.app.MempoolSize())

	f.step()
	// Same nonce again once the first one is spent.
	resp = f.post("/api/v1/tx", raw)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	require.Equal(t, "transaction refused", e.Error)
}

func TestBooksAndOrders(t *testing.T) {
	f := newFixture(t)
	f.seed()
	seller := f.builders[0].Signer().Address()
	buyer := f.builders[1].Signer().Address()

	var sells BookResponse
	require.Equal(t, http.StatusOK, f.get("/api/v1/books/sell", &sells))
	require.Equal(t, 1, sells.Count)
	require.Equal(t, int64(1), sells.Height)
	require.Equal(t, seller, sells.Orders[0].Owner)
	require.Equal(t, "10", sells.Orders[0].UnitPrice.Dec())

	var buy OrderInfo
	require.Equal(t, http.StatusOK, f.get("/api/v1/books/buy/0", &buy))
	require.Equal(t, buyer, buy.Owner)
	require.Equal(t, "buy", buy.Side)
	require.Equal(t, http.StatusNotFound, f.get("/api/v1/books/buy/3", nil))
	require.Equal(t, http.StatusBadRequest, f.get("/api/v1/books/sideways", nil))

	var order OrderInfo
	require.Equal(t, http.StatusOK, f.get("/api/v1/orders/"+seller.Hex()+"/"+hypl.Hex()+"/sell", &order))
	require.Equal(t, new(big.Int).Mul(big.NewInt(2), oneHYPL).String(), order.Amount.Dec())
	require.Equal(t, http.StatusNotFound, f.get("/api/v1/orders/"+buyer.Hex()+"/"+hypl.Hex()+"/sell", nil))
	require.Equal(t, http.StatusBadRequest, f.get("/api/v1/orders/"+buyer.Hex()+"/bad/sell", nil))
}

func TestAccount(t *testing.T) {
	f := newFixture(t)
	f.seed()
	seller := f.builders[0].Signer().Address()

	var acc exchange.Account
	require.Equal(t, http.StatusOK, f.get("/api/v1/accounts/"+seller.Hex(), &acc))
	require.Equal(t, uint64(2), acc.Nonce)
	require.Len(t, acc.Tokens, 2)
	require.Equal(t, "HYPL", acc.Tokens[0].Symbol)
	// 10000 HYPL at genesis, 2 escrowed by the resting sell.
	want := new(big.Int).Mul(big.NewInt(9998), oneHYPL)
	require.Equal(t, want.String(), acc.Tokens[0].Balance.Dec())
}

func TestBlocks(t *testing.T) {
	f := newFixture(t)
	f.seed()

	var b BlockResponse
	require.Equal(t, http.StatusOK, f.get("/api/v1/blocks/1", &b))
	require.Equal(t, 3, b.TxCount)
	require.Len(t, b.Receipts, 3)
	for _, r := range b.Receipts {
		require.Zero(t, r.Code, r.Log)
	}
	require.NotEmpty(t, b.Events)
	require.Equal(t, f.app.AppHash(), b.AppHash)

	require.Equal(t, http.StatusNotFound, f.get("/api/v1/blocks/7", nil))
}

func TestMetricsAndCORS(t *testing.T) {
	f := newFixture(t)
	f.seed()

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, body.String(), `hyperswap_block_height 1`)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/v1/tx", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	pre, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer pre.Body.Close()
	require.Equal(t, "http://localhost:3000", pre.Header.Get("Access-Control-Allow-Origin"))
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, v))
}

func TestWebSocketChannels(t *testing.T) {
	f := newFixture(t)
	f.seed()

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelEvents, "book:sell"}}))
	var ack WSAck
	readJSON(t, conn, &ack)
	require.Equal(t, "subscribed", ack.Type)
	require.Equal(t, 1, f.server.Hub().Clients())

	// Only the subscribed side arrives.
	f.server.BroadcastBook(1)
	var book BookUpdate
	readJSON(t, conn, &book)
	require.Equal(t, "book", book.Type)
	require.Equal(t, "sell", book.Side)
	require.Len(t, book.Orders, 1)

	env := feed.Envelope{Height: 1, Seq: 0, Kind: "order_placed", Event: json.RawMessage(`{}`)}
	require.NoError(t, f.server.Hub().Publish(context.Background(), env))
	var ev EventMessage
	readJSON(t, conn, &ev)
	require.Equal(t, "event", ev.Type)
	require.Equal(t, "order_placed", ev.Data.Kind)

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "unsubscribe", Channels: []string{ChannelEvents}}))
	readJSON(t, conn, &ack)
	require.Equal(t, "unsubscribed", ack.Type)
}
