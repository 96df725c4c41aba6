package exchange

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pricing"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// FeederConfig controls devnet load generation.
type FeederConfig struct {
	Asset     common.Address
	Decimals  uint8
	BatchSize int           // txs per batch
	Interval  time.Duration // how often to generate batches
	// Prices are the unit prices orders are drawn from. A narrow set keeps orders
	// crossing, since only equal prices match.
	Prices []uint64
	Seed   int64
}

func DefaultFeederConfig(asset common.Address, decimals uint8) FeederConfig {
	return FeederConfig{
		Asset:     asset,
		Decimals:  decimals,
		BatchSize: 4,
		Interval:  500 * time.Millisecond,
		Prices:    []uint64{9, 10, 11},
		Seed:      time.Now().UnixNano(),
	}
}

// Feeder signs random place and cancel orders for a fixed set of keys.
type Feeder struct {
	cfg      FeederConfig
	builders []*transaction.Builder
	nonces   map[common.Address]uint64
	scale    *uint256.Int
	rng      *rand.Rand
}

func NewFeeder(signers []*crypto.Signer, domain crypto.EIP712Domain, cfg FeederConfig) (*Feeder, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("feeder needs at least one signer")
	}
	if len(cfg.Prices) == 0 {
		return nil, fmt.Errorf("feeder needs at least one price")
	}
	scale, err := pricing.Scale(cfg.Decimals)
	if err != nil {
		return nil, err
	}
	f := &Feeder{
		cfg:    cfg,
		nonces: make(map[common.Address]uint64),
		scale:  scale,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, s := range signers {
		f.builders = append(f.builders, transaction.NewBuilder(s, domain))
	}
	return f, nil
}

// StartAt continues each signer's nonce sequence after the given value.
func (f *Feeder) StartAt(addr common.Address, nonce uint64) { f.nonces[addr] = nonce }

func (f *Feeder) nextNonce(addr common.Address) *big.Int {
	f.nonces[addr]++
	return new(big.Int).SetUint64(f.nonces[addr])
}

// Approvals grants custody an unlimited allowance for every signer.
func (f *Feeder) Approvals() ([][]byte, error) {
	out := make([][]byte, 0, len(f.builders))
	unlimited := new(uint256.Int).SetAllOne()
	for _, b := range f.builders {
		owner := b.Signer().Address()
		tx, err := b.Approve(&crypto.ApproveEIP712{
			Asset:  f.cfg.Asset,
			Amount: unlimited.ToBig(),
			Nonce:  f.nextNonce(owner),
			Owner:  owner,
		})
		if err != nil {
			return nil, err
		}
		raw, err := tx.Serialize()
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

type feederOp struct {
	b      *transaction.Builder
	side   orderbook.Side
	cancel bool
	units  uint64
	price  uint64
}

// draw picks a place four times out of five, otherwise a cancel of whatever the
// chosen signer may have resting.
func (f *Feeder) draw() feederOp {
	op := feederOp{b: f.builders[f.rng.Intn(len(f.builders))], side: orderbook.Buy}
	if f.rng.Intn(2) == 1 {
		op.side = orderbook.Sell
	}
	if f.rng.Intn(5) == 0 {
		op.cancel = true
		return op
	}
	op.units = uint64(f.rng.Intn(5) + 1)
	op.price = f.cfg.Prices[f.rng.Intn(len(f.cfg.Prices))]
	return op
}

func (f *Feeder) sign(op feederOp) ([]byte, error) {
	owner := op.b.Signer().Address()
	var (
		tx  *transaction.SignedTransaction
		err error
	)
	if op.cancel {
		tx, err = op.b.Cancel(&crypto.CancelOrderEIP712{
			Owner: owner,
			Asset: f.cfg.Asset,
			Side:  uint8(op.side),
			Nonce: f.nextNonce(owner),
		})
	} else {
		amount := new(uint256.Int).Mul(uint256.NewInt(op.units), f.scale)
		tx, err = op.b.Place(&crypto.PlaceOrderEIP712{
			Asset:  f.cfg.Asset,
			Side:   uint8(op.side),
			Amount: amount.ToBig(),
			Total:  new(big.Int).SetUint64(op.units * op.price),
			Nonce:  f.nextNonce(owner),
			Owner:  owner,
		})
	}
	if err != nil {
		return nil, err
	}
	return tx.Serialize()
}

// Next returns one signed transaction.
func (f *Feeder) Next() ([]byte, error) { return f.sign(f.draw()) }

// Batch signs BatchSize transactions in nonce order.
func (f *Feeder) Batch() ([][]byte, error) {
	out := make([][]byte, 0, f.cfg.BatchSize)
	for i := 0; i < f.cfg.BatchSize; i++ {
		raw, err := f.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// StartFeeder submits the approvals and then a batch every interval until ctx ends
// or the returned cancel func is called.
func StartFeeder(ctx context.Context, app *App, f *Feeder, log *zap.SugaredLogger) context.CancelFunc {
	if log == nil {
		log = util.Nop()
	}
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		approvals, err := f.Approvals()
		if err != nil {
			log.Errorw("feeder_sign_failed", "err", err)
			return
		}
		for _, raw := range approvals {
			if err := app.PushTx(raw); err != nil {
				log.Warnw("feeder_submit_failed", "err", err)
			}
		}

		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()
		start, total := time.Now(), 0
		log.Infow("feeder_started", "signers", len(f.builders), "batch", f.cfg.BatchSize, "interval", f.cfg.Interval)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				log.Infow("feeder_stopped", "txs", total, "elapsed", elapsed.Round(time.Second),
					"tx_per_sec", float64(total)/elapsed.Seconds())
				return
			case <-ticker.C:
				batch, err := f.Batch()
				if err != nil {
					log.Errorw("feeder_sign_failed", "err", err)
					continue
				}
				for _, raw := range batch {
					if err := app.PushTx(raw); err != nil {
						log.Debugw("feeder_submit_failed", "err", err)
						continue
					}
					total++
				}
			}
		}
	}()

	return cancel
}
