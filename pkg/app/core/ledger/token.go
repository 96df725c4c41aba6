package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type allowanceKey struct {
	owner, spender common.Address
}

// Allowance is one persisted approval.
type Allowance struct {
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

// Token is a fungible asset with ERC-20 semantics. A max-value allowance is treated
// as unlimited and never decremented.
type Token struct {
	ledger     *Ledger
	address    common.Address
	symbol     string
	decimals   uint8
	balances   balances
	allowances map[allowanceKey]*uint256.Int
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Symbol() string           { return t.symbol }
func (t *Token) Decimals() uint8          { return t.decimals }
func (t *Token) TotalSupply() *uint256.Int {
	return t.balances.supply.Clone()
}

func (t *Token) BalanceOf(addr common.Address) *uint256.Int { return t.balances.get(addr) }

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	if v, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	t.setAllowance(allowanceKey{owner, spender}, amount.Clone())
	return nil
}

func (t *Token) setAllowance(k allowanceKey, v *uint256.Int) {
	prev, had := t.allowances[k]
	if v.IsZero() {
		delete(t.allowances, k)
	} else {
		t.allowances[k] = v
	}
	t.ledger.journal.Append(func() {
		if had {
			t.allowances[k] = prev
		} else {
			delete(t.allowances, k)
		}
	})
}

func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	j := t.ledger.journal
	t.balances.credit(j, to, amount)
	t.balances.adjustSupply(j, amount, true)
	return nil
}

func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	return t.move(from, to, amount)
}

// TransferFrom moves amount from `from` to `to` on behalf of spender, consuming
// allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	j := t.ledger.journal
	snap := j.Snapshot()

	k := allowanceKey{from, spender}
	allowed := t.Allowance(from, spender)
	if allowed.Lt(amount) {
		j.RevertToSnapshot(snap)
		return fmt.Errorf("%w: %s allows %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowed.Dec(), amount.Dec())
	}
	if !isUnlimited(allowed) {
		t.setAllowance(k, new(uint256.Int).Sub(allowed, amount))
	}
	if err := t.move(from, to, amount); err != nil {
		j.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	j := t.ledger.journal
	snap := j.Snapshot()
	if err := t.balances.debit(j, from, amount); err != nil {
		j.RevertToSnapshot(snap)
		return err
	}
	t.balances.credit(j, to, amount)
	if err := t.ledger.notifyToken(t.address, from, to, amount); err != nil {
		j.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// Balances returns a copy of every non-zero balance.
func (t *Token) Balances() map[common.Address]*uint256.Int { return t.balances.copy() }

// Allowances returns every non-zero approval ordered by owner then spender.
func (t *Token) Allowances() []Allowance {
	out := make([]Allowance, 0, len(t.allowances))
	for k, v := range t.allowances {
		out = append(out, Allowance{Owner: k.owner, Spender: k.spender, Amount: v.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Owner[:], out[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Spender[:], out[j].Spender[:]) < 0
	})
	return out
}

// Restore loads persisted state into a freshly added token without journaling.
func (t *Token) Restore(bals map[common.Address]*uint256.Int, allowances []Allowance) {
	t.balances.restore(bals)
	for _, a := range allowances {
		if a.Amount != nil && !a.Amount.IsZero() {
			t.allowances[allowanceKey{a.Owner, a.Spender}] = a.Amount.Clone()
		}
	}
}

func isUnlimited(v *uint256.Int) bool {
	return v.Eq(new(uint256.Int).SetAllOne())
}
