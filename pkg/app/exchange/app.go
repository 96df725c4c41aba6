// Package exchange is the node's application: it verifies signed transactions, runs
// them through the matching engine one at a time and turns each block into a
// deterministic state hash, persisted state and a stream of committed events.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/engine"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/feed"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// Persister stores the result of a committed block.
type Persister interface {
	SaveCommit(cp *Checkpoint) error
}

// Checkpoint is everything a block produced: the state after it, its receipts and
// its events.
type Checkpoint struct {
	Height   int64
	Time     time.Time
	AppHash  abci.Hash
	Receipts []abci.TxResult
	Events   []feed.Envelope
	State    *Snapshot

	raw []engine.Event
}

type Config struct {
	ChainID int64
	// Custodian holds escrow on the in-process ledger and is the EIP-712 verifying
	// contract.
	Custodian common.Address
	// Gateway overrides the in-process ledger as custody, e.g. with custody.Chain.
	Gateway     custody.Gateway
	MempoolSize int
	Persister   Persister
	Publisher   feed.Publisher
	Metrics     *metrics.Metrics
	Logger      *zap.SugaredLogger
}

type App struct {
	mu sync.RWMutex

	journal  *state.Journal
	ledger   *ledger.Ledger
	local    *custody.Ledger // nil when custody is external
	gateway  custody.Gateway
	registry *market.Registry
	store    *orderbook.Store
	engine   *engine.Engine
	verifier *transaction.Verifier
	mempool  *mempool.Mempool
	clock    *util.ManualClock
	nonces   map[common.Address]uint64

	height  int64
	appHash abci.Hash
	pending *Checkpoint

	persister Persister
	publisher feed.Publisher
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
}

func NewApp(cfg Config) *App {
	if cfg.Logger == nil {
		cfg.Logger = util.Nop()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = feed.Nop{}
	}

	journal := state.NewJournal()
	l := ledger.New(journal)
	a := &App{
		journal:   journal,
		ledger:    l,
		registry:  market.NewRegistry(),
		store:     orderbook.NewStore(journal),
		verifier:  transaction.NewVerifier(crypto.DefaultDomain(cfg.ChainID, cfg.Custodian)),
		mempool:   mempool.NewMempool(cfg.MempoolSize),
		clock:     util.NewManualClock(time.Unix(0, 0).UTC()),
		nonces:    make(map[common.Address]uint64),
		persister: cfg.Persister,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
	if cfg.Gateway != nil {
		a.gateway = cfg.Gateway
	} else {
		a.local = custody.NewLedger(l, cfg.Custodian)
		a.gateway = a.local
	}
	a.engine = engine.New(engine.Config{
		Store:   a.store,
		Gateway: a.gateway,
		Journal: journal,
		Clock:   a.clock,
		Logger:  cfg.Logger,
	})
	return a
}

// Ledger is the in-process asset ledger. Receivers registered on it run inside block
// execution and may call back into the exchange through Executor.
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

func (a *App) Executor() Executor { return Executor{app: a} }

// SetAssetStatus pauses or resumes new orders for an asset. Open orders stay on the
// book and can still be canceled.
func (a *App) SetAssetStatus(asset common.Address, status market.AssetStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.registry.UpdateStatus(asset, status); err != nil {
		return err
	}
	a.log.Infow("asset_status_changed", "asset", asset.Hex(), "status", status.String())
	return nil
}

// SubmitTx checks that raw is a correctly signed transaction with a fresh nonce and
// queues it for the next block.
func (a *App) SubmitTx(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, err
	}
	op, err := a.verifier.Verify(tx)
	if err != nil {
		return common.Hash{}, err
	}
	a.mu.RLock()
	last := a.nonces[op.Signer]
	a.mu.RUnlock()
	if op.Nonce <= last {
		return common.Hash{}, fmt.Errorf("%w: %d, last used %d", ErrNonceTooLow, op.Nonce, last)
	}
	if err := a.mempool.Push(raw, op.Signer, op.Nonce); err != nil {
		return common.Hash{}, err
	}
	return transaction.Hash(raw), nil
}

func (a *App) PushTx(raw []byte) error {
	_, err := a.SubmitTx(raw)
	return err
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts any proposal; bad transactions fail individually with a
// receipt instead of invalidating the block.
func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx := context.Background()
	a.clock.Set(req.Time)

	cp := &Checkpoint{Height: req.Height, Time: req.Time}
	results := make([]abci.TxResult, 0, len(req.Txs))
	for _, raw := range req.Txs {
		res := a.applyTx(ctx, raw)
		results = append(results, res)
		if res.Code != abci.CodeOK {
			a.log.Infow("tx_"+statusOf(res.Code), "height", req.Height, "hash", res.Hash.String(), "type", res.Type, "err", res.Log)
			continue
		}
		cp.raw = append(cp.raw, a.engine.Flush()...)
	}

	for _, ev := range cp.raw {
		env, err := feed.NewEnvelope(req.Height, len(cp.Events), req.Time, ev)
		if err != nil {
			a.log.Errorw("event_encode_failed", "height", req.Height, "kind", ev.Kind(), "err", err)
			continue
		}
		cp.Events = append(cp.Events, env)
	}
	cp.Receipts = results
	cp.AppHash = a.computeAppHash(req.Height, req.Time)
	a.pending = cp

	if len(req.Txs) > 0 {
		a.log.Infow("block_finalized", "height", req.Height, "txs", len(req.Txs),
			"events", len(cp.Events), "app_hash", cp.AppHash.String())
	}
	return abci.ResponseFinalizeBlock{TxResults: results, Events: len(cp.Events), AppHash: cp.AppHash}
}

// Commit makes the last finalized block final: the undo journal is dropped, the
// state is persisted and the block's events are published.
func (a *App) Commit() (abci.ResponseCommit, error) {
	a.mu.Lock()
	cp := a.pending
	if cp == nil {
		h := a.height
		a.mu.Unlock()
		return abci.ResponseCommit{Height: h}, nil
	}
	a.pending = nil
	a.journal.Reset()
	a.height, a.appHash = cp.Height, cp.AppHash
	if a.persister != nil {
		cp.State = a.snapshotLocked()
		if err := a.persister.SaveCommit(cp); err != nil {
			a.mu.Unlock()
			return abci.ResponseCommit{}, fmt.Errorf("persist block %d: %w", cp.Height, err)
		}
	}
	buys, sells := a.store.Count(orderbook.Buy), a.store.Count(orderbook.Sell)
	a.mu.Unlock()

	ctx := context.Background()
	if err := feed.PublishAll(ctx, a.publisher, cp.Events); err != nil {
		a.log.Warnw("event_publish_failed", "height", cp.Height, "events", len(cp.Events), "err", err)
	}
	if a.metrics != nil {
		for _, ev := range cp.raw {
			a.metrics.ObserveEvent(ev.Kind(), eventSide(ev).String())
		}
		for _, r := range cp.Receipts {
			a.metrics.ObserveTx(r.Type, statusOf(r.Code))
		}
		a.metrics.ObserveBlock(cp.Height, len(cp.Receipts), buys, sells)
	}
	return abci.ResponseCommit{Height: cp.Height}, nil
}

func statusOf(code uint32) string {
	switch code {
	case abci.CodeOK:
		return "ok"
	case abci.CodeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

func eventSide(ev engine.Event) orderbook.Side {
	switch e := ev.(type) {
	case engine.OrderPlaced:
		return e.Side
	case engine.OrderMatched:
		return e.Side
	case engine.OrderCanceled:
		return e.Side
	}
	return 0
}

var _ abci.Application = (*App)(nil)
