package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

// balances is a journaled address -> amount map with a running total.
type balances struct {
	m      map[common.Address]*uint256.Int
	supply *uint256.Int
}

func newBalances() balances {
	return balances{m: make(map[common.Address]*uint256.Int), supply: new(uint256.Int)}
}

func (b *balances) get(addr common.Address) *uint256.Int {
	if v, ok := b.m[addr]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (b *balances) set(j *state.Journal, addr common.Address, v *uint256.Int) {
	prev, had := b.m[addr]
	if v.IsZero() {
		delete(b.m, addr)
	} else {
		b.m[addr] = v
	}
	j.Append(func() {
		if had {
			b.m[addr] = prev
		} else {
			delete(b.m, addr)
		}
	})
}

func (b *balances) credit(j *state.Journal, addr common.Address, amount *uint256.Int) {
	b.set(j, addr, new(uint256.Int).Add(b.get(addr), amount))
}

func (b *balances) debit(j *state.Journal, addr common.Address, amount *uint256.Int) error {
	cur := b.get(addr)
	if cur.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, addr.Hex(), cur.Dec(), amount.Dec())
	}
	b.set(j, addr, new(uint256.Int).Sub(cur, amount))
	return nil
}

func (b *balances) adjustSupply(j *state.Journal, amount *uint256.Int, increase bool) {
	prev := b.supply
	if increase {
		b.supply = new(uint256.Int).Add(prev, amount)
	} else {
		b.supply = new(uint256.Int).Sub(prev, amount)
	}
	j.Append(func() { b.supply = prev })
}

func (b *balances) copy() map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(b.m))
	for k, v := range b.m {
		out[k] = v.Clone()
	}
	return out
}

func (b *balances) restore(src map[common.Address]*uint256.Int) {
	for addr, v := range src {
		if v == nil || v.IsZero() {
			continue
		}
		b.m[addr] = v.Clone()
		b.supply = new(uint256.Int).Add(b.supply, v)
	}
}
