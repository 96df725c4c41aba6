package market

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrAssetExists   = errors.New("asset already registered")
	ErrAssetPaused   = errors.New("asset not tradable")
)

// Registry manages listed assets in a thread-safe manner
type Registry struct {
	mu       sync.RWMutex
	assets   map[common.Address]*Asset
	bySymbol map[string]common.Address
}

func NewRegistry() *Registry {
	return &Registry{
		assets:   make(map[common.Address]*Asset),
		bySymbol: make(map[string]common.Address),
	}
}

// Register adds a new asset. Both the address and the symbol must be unused.
func (r *Registry) Register(a *Asset) error {
	if a == nil {
		return fmt.Errorf("cannot register nil asset")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[a.Address]; exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, a.Address.Hex())
	}
	if _, exists := r.bySymbol[a.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, a.Symbol)
	}

	cp := *a
	r.assets[a.Address] = &cp
	r.bySymbol[a.Symbol] = a.Address
	return nil
}

// Get returns a copy of the asset at addr
func (r *Registry) Get(addr common.Address) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.assets[addr]
	if !exists {
		return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, addr.Hex())
	}
	return *a, nil
}

func (r *Registry) BySymbol(symbol string) (Asset, error) {
	r.mu.RLock()
	addr, exists := r.bySymbol[symbol]
	r.mu.RUnlock()
	if !exists {
		return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
	}
	return r.Get(addr)
}

// CheckTradable returns nil when new orders may be placed for addr.
func (r *Registry) CheckTradable(addr common.Address) error {
	a, err := r.Get(addr)
	if err != nil {
		return err
	}
	if !a.Tradable() {
		return fmt.Errorf("%w: %s is %s", ErrAssetPaused, a.Symbol, a.Status)
	}
	return nil
}

// List returns all assets ordered by address
func (r *Registry) List() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// UpdateStatus pauses or resumes trading. Delisted is terminal.
func (r *Registry) UpdateStatus(addr common.Address, status AssetStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.assets[addr]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, addr.Hex())
	}
	if a.Status == Delisted {
		return fmt.Errorf("cannot change status of %s from Delisted (terminal state)", a.Symbol)
	}
	a.Status = status
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
