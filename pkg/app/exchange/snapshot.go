package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

// TokenState is one in-process ledger token with its balances and approvals.
type TokenState struct {
	Address    common.Address
	Symbol     string
	Decimals   uint8
	Balances   map[common.Address]*uint256.Int
	Allowances []ledger.Allowance
}

// Snapshot is the complete application state at a committed height.
type Snapshot struct {
	Height   int64
	AppHash  abci.Hash
	Assets   []market.Asset
	Buys     []orderbook.Order
	Sells    []orderbook.Order
	Tokens   []TokenState
	Payments map[common.Address]*uint256.Int
	Nonces   map[common.Address]uint64
}

func (a *App) Snapshot() *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *App) snapshotLocked() *Snapshot {
	s := &Snapshot{
		Height:   a.height,
		AppHash:  a.appHash,
		Assets:   a.registry.List(),
		Buys:     a.store.Orders(orderbook.Buy),
		Sells:    a.store.Orders(orderbook.Sell),
		Payments: a.ledger.PaymentBalances(),
		Nonces:   make(map[common.Address]uint64, len(a.nonces)),
	}
	for _, t := range a.ledger.Tokens() {
		s.Tokens = append(s.Tokens, TokenState{
			Address:    t.Address(),
			Symbol:     t.Symbol(),
			Decimals:   t.Decimals(),
			Balances:   t.Balances(),
			Allowances: t.Allowances(),
		})
	}
	for addr, n := range a.nonces {
		s.Nonces[addr] = n
	}
	return s
}

// Restore loads persisted state into a freshly constructed App.
func (a *App) Restore(s *Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range s.Assets {
		if err := a.registry.Register(&s.Assets[i]); err != nil {
			return fmt.Errorf("restore asset: %w", err)
		}
	}
	for _, ts := range s.Tokens {
		t, err := a.ledger.AddToken(ts.Address, ts.Symbol, ts.Decimals)
		if err != nil {
			return fmt.Errorf("restore token: %w", err)
		}
		t.Restore(ts.Balances, ts.Allowances)
	}
	a.ledger.RestorePayments(s.Payments)
	if err := a.store.Restore(s.Buys); err != nil {
		return fmt.Errorf("restore buys: %w", err)
	}
	if err := a.store.Restore(s.Sells); err != nil {
		return fmt.Errorf("restore sells: %w", err)
	}
	for addr, n := range s.Nonces {
		a.nonces[addr] = n
	}
	a.height, a.appHash = s.Height, s.AppHash
	a.journal.Reset()
	a.log.Infow("state_restored", "height", s.Height, "assets", len(s.Assets),
		"buys", len(s.Buys), "sells", len(s.Sells), "app_hash", s.AppHash.String())
	return nil
}

// InitGenesis lists the genesis assets and, when custody is the in-process ledger,
// creates their tokens and funds the genesis accounts.
func (a *App) InitGenesis(g params.Genesis) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, ga := range g.Assets {
		if !common.IsHexAddress(ga.Address) {
			return fmt.Errorf("%w: asset %s address %q", ErrBadGenesis, ga.Symbol, ga.Address)
		}
		asset, err := market.NewAsset(ga.Symbol, common.HexToAddress(ga.Address), ga.Decimals)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadGenesis, err)
		}
		if err := a.registry.Register(asset); err != nil {
			return fmt.Errorf("%w: %w", ErrBadGenesis, err)
		}
		if a.local == nil {
			continue
		}
		if _, err := a.ledger.AddToken(asset.Address, asset.Symbol, asset.Decimals); err != nil {
			return fmt.Errorf("%w: %w", ErrBadGenesis, err)
		}
	}

	if a.local != nil {
		for _, acc := range g.Accounts {
			if err := a.fundLocked(acc); err != nil {
				return err
			}
		}
	}

	a.journal.Reset()
	a.appHash = a.computeAppHash(0, a.clock.Now())
	a.log.Infow("genesis_loaded", "assets", len(g.Assets), "accounts", len(g.Accounts), "app_hash", a.appHash.String())
	return nil
}

func (a *App) fundLocked(acc params.GenesisAccount) error {
	if !common.IsHexAddress(acc.Address) {
		return fmt.Errorf("%w: account address %q", ErrBadGenesis, acc.Address)
	}
	addr := common.HexToAddress(acc.Address)
	if acc.Payment != "" {
		amt, err := uint256.FromDecimal(acc.Payment)
		if err != nil {
			return fmt.Errorf("%w: payment of %s: %w", ErrBadGenesis, acc.Address, err)
		}
		if err := a.ledger.MintPayment(addr, amt); err != nil {
			return fmt.Errorf("%w: %w", ErrBadGenesis, err)
		}
	}
	for symbol, v := range acc.Tokens {
		asset, err := a.registry.BySymbol(symbol)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadGenesis, err)
		}
		amt, err := uint256.FromDecimal(v)
		if err != nil {
			return fmt.Errorf("%w: %s of %s: %w", ErrBadGenesis, symbol, acc.Address, err)
		}
		t, err := a.ledger.Token(asset.Address)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadGenesis, err)
		}
		if err := t.Mint(addr, amt); err != nil {
			return fmt.Errorf("%w: %w", ErrBadGenesis, err)
		}
	}
	return nil
}
