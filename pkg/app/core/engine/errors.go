package engine

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pricing"
)

var (
	ErrValidation      = pricing.ErrValidation
	ErrInvalidAmount   = pricing.ErrInvalidAmount
	ErrInvalidPrice    = pricing.ErrInvalidPrice
	ErrPaymentMismatch = fmt.Errorf("%w: attached payment does not match order", ErrValidation)
	ErrUnknownAsset    = fmt.Errorf("%w: %w", ErrValidation, custody.ErrUnknownAsset)

	ErrUnauthorized = errors.New("caller is not the order owner")

	ErrDuplicateOrder    = orderbook.ErrDuplicateOrder
	ErrOrderNotFound     = orderbook.ErrOrderNotFound
	ErrBuyOrderNotFound  = orderbook.ErrBuyOrderNotFound
	ErrSellOrderNotFound = orderbook.ErrSellOrderNotFound
	ErrInvalidIndex      = orderbook.ErrInvalidIndex
	ErrInvalidSide       = orderbook.ErrInvalidSide

	ErrAllowanceInsufficient = custody.ErrAllowanceInsufficient
	ErrTransferFailed        = custody.ErrTransferFailed
)
