package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/engine"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

// Executor runs exchange operations without taking the app lock. Block execution
// uses it, and so can ledger receivers that are invoked mid-transfer and want to call
// back into the exchange. It must not be used from any other goroutine.
type Executor struct {
	app *App
}

// Place attaches total from caller for a buy and places the order. Everything is
// undone if the placement fails.
func (x Executor) Place(ctx context.Context, caller, asset common.Address, amount, total *uint256.Int, side orderbook.Side) error {
	a := x.app
	if err := a.registry.CheckTradable(asset); err != nil {
		if errors.Is(err, market.ErrAssetNotFound) {
			return fmt.Errorf("%w: %s", engine.ErrUnknownAsset, asset.Hex())
		}
		return err
	}
	if total == nil {
		total = new(uint256.Int)
	}

	snap := a.journal.Snapshot()
	value := new(uint256.Int)
	if side == orderbook.Buy {
		attacher, ok := a.gateway.(custody.Attacher)
		if !ok {
			a.journal.RevertToSnapshot(snap)
			return ErrAttachUnsupported
		}
		if err := attacher.Attach(ctx, caller, total); err != nil {
			a.journal.RevertToSnapshot(snap)
			return err
		}
		value = total
	}
	if err := a.engine.PlaceOrder(ctx, engine.Call{Caller: caller, Value: value}, asset, amount, total, side); err != nil {
		a.journal.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// Cancel is allowed for paused and delisted assets so escrow can always be withdrawn.
func (x Executor) Cancel(ctx context.Context, caller, owner, asset common.Address, side orderbook.Side) error {
	return x.app.engine.CancelOrder(ctx, caller, owner, asset, side)
}

// Approve sets how much of asset the custody account may pull from owner.
func (x Executor) Approve(_ context.Context, owner, asset common.Address, amount *uint256.Int) error {
	a := x.app
	if a.local == nil {
		return ErrApproveUnsupported
	}
	t, err := a.ledger.Token(asset)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownToken) {
			return fmt.Errorf("%w: %s", engine.ErrUnknownAsset, asset.Hex())
		}
		return err
	}
	return t.Approve(owner, a.local.Custodian(), amount)
}
