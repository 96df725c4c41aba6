package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side uses the same encoding as the signed payloads: 1 = Buy, 2 = Sell.
type Side uint8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the side an order on s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	side, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseSide accepts "buy"/"sell" in any case, or "1"/"2".
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(v) {
	case "buy", "1":
		return Buy, nil
	case "sell", "2":
		return Sell, nil
	}
	return 0, fmt.Errorf("invalid side %q", v)
}

// Key identifies an order within one side of the book. There is at most one open
// order per key.
type Key struct {
	Owner common.Address
	Asset common.Address
}

// Detail is the mutable part of an order. Amount is in smallest asset units,
// UnitPrice in payment units per whole asset unit.
type Detail struct {
	Amount    *uint256.Int
	UnitPrice *uint256.Int
}

func (d Detail) clone() Detail {
	return Detail{Amount: d.Amount.Clone(), UnitPrice: d.UnitPrice.Clone()}
}

type Order struct {
	Key
	Side Side
	Detail
}
