package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/pricing"
)

// AssetStatus defines whether new orders may be placed for an asset
type AssetStatus int8

const (
	Active   AssetStatus = iota // Trading enabled
	Paused                      // Cancels only
	Delisted                    // Cancels only, terminal
)

func (s AssetStatus) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Delisted:
		return "Delisted"
	default:
		return "Unknown"
	}
}

// Asset is a listed fungible asset traded against the payment currency.
type Asset struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
	Status   AssetStatus
}

func NewAsset(symbol string, addr common.Address, decimals uint8) (*Asset, error) {
	if symbol == "" {
		return nil, fmt.Errorf("asset symbol cannot be empty")
	}
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("asset %s: zero address", symbol)
	}
	if decimals > pricing.MaxDecimals {
		return nil, fmt.Errorf("asset %s: decimals %d exceed %d", symbol, decimals, pricing.MaxDecimals)
	}
	return &Asset{Symbol: symbol, Address: addr, Decimals: decimals, Status: Active}, nil
}

// Scale is the number of smallest units in one whole unit.
func (a *Asset) Scale() *uint256.Int {
	s, _ := pricing.Scale(a.Decimals)
	return s
}

func (a *Asset) Tradable() bool { return a.Status == Active }
