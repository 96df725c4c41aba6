package orderbook

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateOrder = errors.New("duplicate order")
	ErrInvalidIndex   = errors.New("invalid index")
	ErrInvalidSide    = errors.New("invalid side")

	ErrOrderNotFound     = errors.New("order not found")
	ErrBuyOrderNotFound  = fmt.Errorf("buy %w", ErrOrderNotFound)
	ErrSellOrderNotFound = fmt.Errorf("sell %w", ErrOrderNotFound)
)

// NotFound returns the side-specific not-found error.
func NotFound(side Side) error {
	if side == Buy {
		return ErrBuyOrderNotFound
	}
	return ErrSellOrderNotFound
}
