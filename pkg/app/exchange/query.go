package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// TokenBalance is an account's holding of one asset on the in-process ledger.
type TokenBalance struct {
	Asset     common.Address `json:"asset"`
	Symbol    string         `json:"symbol"`
	Balance   *uint256.Int   `json:"balance"`
	Allowance *uint256.Int   `json:"allowance"` // approved to custody
}

type Account struct {
	Address common.Address `json:"address"`
	Payment *uint256.Int   `json:"payment"`
	Nonce   uint64         `json:"nonce"`
	Tokens  []TokenBalance `json:"tokens"`
}

func (a *App) Height() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

func (a *App) AppHash() abci.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appHash
}

func (a *App) Domain() crypto.EIP712Domain { return a.verifier.Domain() }

func (a *App) MempoolSize() int { return a.mempool.Len() }

func (a *App) Assets() []market.Asset { return a.registry.List() }

func (a *App) Asset(addr common.Address) (market.Asset, error) { return a.registry.Get(addr) }

// Book returns one side of the order book in sequence order.
func (a *App) Book(side orderbook.Side) []orderbook.Order {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.Orders(side)
}

func (a *App) OrderCount(side orderbook.Side) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.OrderCount(side)
}

func (a *App) OrderAt(side orderbook.Side, i int) (orderbook.Key, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.OrderAt(side, i)
}

// OrderEntry returns the order at index i together with its detail, read under one
// lock so both belong to the same block.
func (a *App) OrderEntry(side orderbook.Side, i int) (orderbook.Order, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.At(side, i)
}

func (a *App) OrderDetail(owner, asset common.Address, side orderbook.Side) (orderbook.Detail, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.OrderDetail(owner, asset, side)
}

func (a *App) IsOnOrderBook(owner, asset common.Address, side orderbook.Side) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.IsOnOrderBook(owner, asset, side)
}

func (a *App) Nonce(addr common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nonces[addr]
}

func (a *App) Account(addr common.Address) Account {
	a.mu.RLock()
	defer a.mu.RUnlock()

	acc := Account{
		Address: addr,
		Payment: a.ledger.PaymentBalance(addr),
		Nonce:   a.nonces[addr],
		Tokens:  []TokenBalance{},
	}
	var custodian common.Address
	if a.local != nil {
		custodian = a.local.Custodian()
	}
	for _, t := range a.ledger.Tokens() {
		acc.Tokens = append(acc.Tokens, TokenBalance{
			Asset:     t.Address(),
			Symbol:    t.Symbol(),
			Balance:   t.BalanceOf(addr),
			Allowance: t.Allowance(addr, custodian),
		})
	}
	return acc
}
