// Package custody moves assets and payment between traders and the exchange's custody
// account.
//
// The engine only ever pulls assets (when a sell order is placed) and pushes assets or
// payment (settlement and cancel refunds). Payment for a buy order arrives attached to
// the placement call itself, so there is no pull for payment.
package custody

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrAllowanceInsufficient = errors.New("allowance insufficient")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrUnknownAsset          = errors.New("unknown asset")
)

// Gateway is the engine's view of the external ledger.
type Gateway interface {
	Decimals(ctx context.Context, asset common.Address) (uint8, error)
	// Allowance is what owner has approved the custody account to pull.
	Allowance(ctx context.Context, owner, asset common.Address) (*uint256.Int, error)
	PullAsset(ctx context.Context, from, asset common.Address, amount *uint256.Int) error
	PushAsset(ctx context.Context, to, asset common.Address, amount *uint256.Int) error
	PushPayment(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Attacher moves payment attached to a call from the caller into custody, the way an
// execution environment delivers value sent with a call.
type Attacher interface {
	Attach(ctx context.Context, from common.Address, value *uint256.Int) error
}

// Holdings reports what the custody account currently holds. Gateways that can
// answer cheaply implement it; conservation checks use it.
type Holdings interface {
	AssetCustody(asset common.Address) *uint256.Int
	PaymentCustody() *uint256.Int
}
