// Package pricing converts between order totals and unit prices.
//
// A unit price is denominated in payment units per whole asset unit, where one whole
// unit is scale = 10^decimals smallest units of the asset. Only amounts that are an
// exact multiple of scale, and totals that divide exactly across the whole units, have
// a unit price; everything else is rejected rather than rounded.
package pricing

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidPrice  = fmt.Errorf("%w: invalid price", ErrValidation)
	ErrOverflow      = fmt.Errorf("%w: payment overflows 256 bits", ErrValidation)
)

// MaxDecimals is the largest exponent for which 10^decimals fits in 256 bits.
const MaxDecimals = 77

// Scale returns 10^decimals.
func Scale(decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("decimals %d exceed %d", decimals, MaxDecimals)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))), nil
}

// UnitPrice returns total / (amount/scale).
func UnitPrice(amount, total, scale *uint256.Int) (*uint256.Int, error) {
	if scale == nil || scale.IsZero() {
		return nil, fmt.Errorf("%w: zero scale", ErrInvalidAmount)
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: amount is zero", ErrInvalidAmount)
	}
	if !new(uint256.Int).Mod(amount, scale).IsZero() {
		return nil, fmt.Errorf("%w: %s is not a multiple of %s", ErrInvalidAmount, amount.Dec(), scale.Dec())
	}
	units := new(uint256.Int).Div(amount, scale)

	if total == nil || total.IsZero() {
		return nil, fmt.Errorf("%w: total is zero", ErrInvalidPrice)
	}
	if !new(uint256.Int).Mod(total, units).IsZero() {
		return nil, fmt.Errorf("%w: %s does not divide across %s units", ErrInvalidPrice, total.Dec(), units.Dec())
	}
	return new(uint256.Int).Div(total, units), nil
}

// Payment returns amount/scale*unitPrice, the payment owed for amount smallest units.
// amount is expected to be a multiple of scale; any remainder is truncated.
func Payment(amount, unitPrice, scale *uint256.Int) (*uint256.Int, error) {
	units := new(uint256.Int).Div(amount, scale)
	out, overflow := new(uint256.Int).MulOverflow(units, unitPrice)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
