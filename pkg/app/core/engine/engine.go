// Package engine places, matches and cancels escrowed orders.
//
// Orders trade only at exactly equal unit prices. A new order is compared against the
// opposite side in insertion order and fills as many resting orders as it can; the
// rest of it stays on the book. While an order is open the engine holds its escrow:
// the asset for a sell, the payment for a buy.
//
// Every public operation is atomic. All state it touches is journaled, and on error
// the journal is reverted to the snapshot taken when the operation started.
// Settlement updates the book completely before any transfer is made, so code run by
// a transfer recipient (which may call back into the engine) never sees an order
// whose escrow has already left custody.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pricing"
	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// Call is the execution context of a placement: the authenticated caller and the
// payment attached to the call, already held in custody.
type Call struct {
	Caller common.Address
	Value  *uint256.Int
}

type Config struct {
	Store   *orderbook.Store
	Gateway custody.Gateway
	Journal *state.Journal
	Clock   util.Clock
	Logger  *zap.SugaredLogger
}

// Engine is not safe for concurrent use. Reentrant calls on the same goroutine are
// supported.
type Engine struct {
	store   *orderbook.Store
	gateway custody.Gateway
	journal *state.Journal
	clock   util.Clock
	log     *zap.SugaredLogger

	pending []Event
}

func New(cfg Config) *Engine {
	e := &Engine{
		store:   cfg.Store,
		gateway: cfg.Gateway,
		journal: cfg.Journal,
		clock:   cfg.Clock,
		log:     cfg.Logger,
	}
	if e.journal == nil {
		e.journal = state.NewJournal()
	}
	if e.store == nil {
		e.store = orderbook.NewStore(e.journal)
	}
	if e.clock == nil {
		e.clock = util.RealClock{}
	}
	if e.log == nil {
		e.log = util.Nop()
	}
	return e
}

func (e *Engine) Store() *orderbook.Store { return e.store }

// settlement is a fill decided during the mutation pass and paid out afterwards.
type settlement struct {
	buyer, seller common.Address
	counterparty  common.Address
	amount        *uint256.Int
	payment       *uint256.Int
}

// atomic runs fn inside its own journal revision and reverts it if fn fails.
func (e *Engine) atomic(fn func() error) error {
	snap := e.journal.Snapshot()
	if err := fn(); err != nil {
		e.journal.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (e *Engine) emit(ev Event) {
	n := len(e.pending)
	e.pending = append(e.pending, ev)
	e.journal.Append(func() { e.pending = e.pending[:n] })
}

// Flush hands out the events of committed operations and clears the buffer. Callers
// flush once the enclosing operation has succeeded; flushing mid-operation would
// release events that a later revert cannot take back.
func (e *Engine) Flush() []Event {
	out := e.pending
	e.pending = nil
	return out
}

func (e *Engine) scale(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	dec, err := e.gateway.Decimals(ctx, asset)
	if err != nil {
		if errors.Is(err, custody.ErrUnknownAsset) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
		}
		return nil, fmt.Errorf("decimals of %s: %w", asset.Hex(), err)
	}
	return pricing.Scale(dec)
}

// PlaceOrder escrows and books an order for call.Caller, then matches it. total is the
// payment for the whole amount; for a buy it must be exactly the attached value.
func (e *Engine) PlaceOrder(ctx context.Context, call Call, asset common.Address, amount, total *uint256.Int, side orderbook.Side) error {
	return e.atomic(func() error { return e.place(ctx, call, asset, amount, total, side) })
}

func (e *Engine) place(ctx context.Context, call Call, asset common.Address, amount, total *uint256.Int, side orderbook.Side) error {
	if !side.Valid() {
		return ErrInvalidSide
	}
	scale, err := e.scale(ctx, asset)
	if err != nil {
		return err
	}
	unitPrice, err := pricing.UnitPrice(amount, total, scale)
	if err != nil {
		return err
	}

	value := call.Value
	if value == nil {
		value = new(uint256.Int)
	}
	switch side {
	case orderbook.Buy:
		if !value.Eq(total) {
			return fmt.Errorf("%w: attached %s, total %s", ErrPaymentMismatch, value.Dec(), total.Dec())
		}
	case orderbook.Sell:
		if !value.IsZero() {
			return fmt.Errorf("%w: sell attaches %s", ErrPaymentMismatch, value.Dec())
		}
	}

	owner := call.Caller
	if e.store.Contains(owner, asset, side) {
		return ErrDuplicateOrder
	}

	if side == orderbook.Sell {
		allowed, err := e.gateway.Allowance(ctx, owner, asset)
		if err != nil {
			return fmt.Errorf("allowance: %w", err)
		}
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: approved %s, order needs %s", ErrAllowanceInsufficient, allowed.Dec(), amount.Dec())
		}
		if err := e.gateway.PullAsset(ctx, owner, asset, amount); err != nil {
			return fmt.Errorf("escrow: %w", err)
		}
	}

	if err := e.store.Insert(owner, asset, side, amount, unitPrice); err != nil {
		return err
	}
	e.emit(OrderPlaced{
		Owner:     owner,
		Asset:     asset,
		Amount:    amount.Clone(),
		UnitPrice: unitPrice.Clone(),
		Side:      side,
		Timestamp: e.clock.Now(),
	})
	e.log.Debugw("order_placed", "owner", owner.Hex(), "asset", asset.Hex(), "side", side.String(),
		"amount", amount.Dec(), "unit_price", unitPrice.Dec())

	return e.match(ctx, owner, asset, side, scale)
}

// match fills the order at (owner, asset, side) against the opposite side. The first
// pass only touches the book; the second performs the transfers.
func (e *Engine) match(ctx context.Context, owner, asset common.Address, side orderbook.Side, scale *uint256.Int) error {
	active, err := e.store.Detail(owner, asset, side)
	if err != nil {
		return err
	}
	remaining := active.Amount.Clone()
	price := active.UnitPrice
	opp := side.Opposite()

	var fills []settlement
	for i := 0; i < e.store.Count(opp) && !remaining.IsZero(); {
		cand, err := e.store.At(opp, i)
		if err != nil {
			return err
		}
		if cand.Asset != asset || !cand.UnitPrice.Eq(price) {
			i++
			continue
		}

		trade := cand.Amount.Clone()
		if remaining.Lt(trade) {
			trade = remaining.Clone()
		}
		payment, err := pricing.Payment(trade, price, scale)
		if err != nil {
			return err
		}

		e.store.Decrement(owner, asset, side, trade)
		e.store.Decrement(cand.Owner, asset, opp, trade)
		remaining.Sub(remaining, trade)

		s := settlement{counterparty: cand.Owner, amount: trade, payment: payment}
		if side == orderbook.Buy {
			s.buyer, s.seller = owner, cand.Owner
		} else {
			s.buyer, s.seller = cand.Owner, owner
		}
		fills = append(fills, s)

		if cand.Amount.Eq(trade) {
			// The next candidate shifts into slot i.
			e.store.Remove(cand.Owner, asset, opp)
			continue
		}
		i++
	}
	if remaining.IsZero() {
		e.store.Remove(owner, asset, side)
	}

	for _, s := range fills {
		if err := e.gateway.PushAsset(ctx, s.buyer, asset, s.amount); err != nil {
			return fmt.Errorf("settle asset to %s: %w", s.buyer.Hex(), err)
		}
		if err := e.gateway.PushPayment(ctx, s.seller, s.payment); err != nil {
			return fmt.Errorf("settle payment to %s: %w", s.seller.Hex(), err)
		}
		e.emit(OrderMatched{
			Owner:        owner,
			Counterparty: s.counterparty,
			Asset:        asset,
			TradeAmount:  s.amount,
			UnitPrice:    price.Clone(),
			Side:         side,
			Timestamp:    e.clock.Now(),
		})
		e.log.Debugw("order_matched", "owner", owner.Hex(), "counterparty", s.counterparty.Hex(),
			"asset", asset.Hex(), "side", side.String(), "amount", s.amount.Dec(), "unit_price", price.Dec())
	}
	return nil
}

// CancelOrder removes the caller's order and returns its escrow to the owner.
func (e *Engine) CancelOrder(ctx context.Context, caller, owner, asset common.Address, side orderbook.Side) error {
	return e.atomic(func() error { return e.cancel(ctx, caller, owner, asset, side) })
}

func (e *Engine) cancel(ctx context.Context, caller, owner, asset common.Address, side orderbook.Side) error {
	if caller != owner {
		return fmt.Errorf("%w: %s cancels order of %s", ErrUnauthorized, caller.Hex(), owner.Hex())
	}
	if !side.Valid() {
		return ErrInvalidSide
	}
	d, err := e.store.Detail(owner, asset, side)
	if err != nil {
		return err
	}

	e.store.Remove(owner, asset, side)

	switch side {
	case orderbook.Sell:
		if err := e.gateway.PushAsset(ctx, owner, asset, d.Amount); err != nil {
			return fmt.Errorf("release escrow: %w", err)
		}
	case orderbook.Buy:
		scale, err := e.scale(ctx, asset)
		if err != nil {
			return err
		}
		refund, err := pricing.Payment(d.Amount, d.UnitPrice, scale)
		if err != nil {
			return err
		}
		if err := e.gateway.PushPayment(ctx, owner, refund); err != nil {
			return fmt.Errorf("release escrow: %w", err)
		}
	}

	e.emit(OrderCanceled{Owner: owner, Asset: asset, Side: side, Timestamp: e.clock.Now()})
	e.log.Debugw("order_canceled", "owner", owner.Hex(), "asset", asset.Hex(), "side", side.String())
	return nil
}

func (e *Engine) OrderDetail(owner, asset common.Address, side orderbook.Side) (orderbook.Detail, error) {
	return e.store.Detail(owner, asset, side)
}

func (e *Engine) OrderCount(side orderbook.Side) int { return e.store.Count(side) }

func (e *Engine) OrderAt(side orderbook.Side, i int) (orderbook.Key, error) {
	o, err := e.store.At(side, i)
	if err != nil {
		return orderbook.Key{}, err
	}
	return o.Key, nil
}

func (e *Engine) IsOnOrderBook(owner, asset common.Address, side orderbook.Side) bool {
	return e.store.Contains(owner, asset, side)
}

// Obligations is the escrow the engine owes its open orders: asset units per asset for
// sells and the payment for buys.
func (e *Engine) Obligations(ctx context.Context) (map[common.Address]*uint256.Int, *uint256.Int, error) {
	assets := make(map[common.Address]*uint256.Int)
	for _, o := range e.store.Orders(orderbook.Sell) {
		sum, ok := assets[o.Asset]
		if !ok {
			sum = new(uint256.Int)
			assets[o.Asset] = sum
		}
		sum.Add(sum, o.Amount)
	}
	payment := new(uint256.Int)
	for _, o := range e.store.Orders(orderbook.Buy) {
		scale, err := e.scale(ctx, o.Asset)
		if err != nil {
			return nil, nil, err
		}
		p, err := pricing.Payment(o.Amount, o.UnitPrice, scale)
		if err != nil {
			return nil, nil, err
		}
		payment.Add(payment, p)
	}
	return assets, payment, nil
}
