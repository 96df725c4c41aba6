package custody

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

// Op names a gateway call recorded by Memory.
type Op string

const (
	OpPullAsset   Op = "pull_asset"
	OpPushAsset   Op = "push_asset"
	OpPushPayment Op = "push_payment"
)

// Transfer is one recorded gateway call. Asset is zero for payments.
type Transfer struct {
	Op     Op
	Who    common.Address
	Asset  common.Address
	Amount *uint256.Int
}

type holding struct {
	owner, asset common.Address
}

// Memory is a deterministic in-memory gateway for tests. It tracks per-owner asset
// balances, allowances to the custody account, payment balances and the custody
// totals. All state is journaled.
//
// Fail, when set, is consulted before each transfer and may return an error to
// simulate a failing ledger. AfterCredit, when set, runs after a push has credited the
// recipient and may re-enter the engine.
type Memory struct {
	journal    *state.Journal
	decimals   map[common.Address]uint8
	assets     map[holding]*uint256.Int
	allowances map[holding]*uint256.Int
	payments   map[common.Address]*uint256.Int
	custody    map[common.Address]*uint256.Int
	payCustody *uint256.Int

	Transfers   []Transfer
	Fail        func(t Transfer) error
	AfterCredit func(t Transfer) error
}

func NewMemory(journal *state.Journal) *Memory {
	return &Memory{
		journal:    journal,
		decimals:   make(map[common.Address]uint8),
		assets:     make(map[holding]*uint256.Int),
		allowances: make(map[holding]*uint256.Int),
		payments:   make(map[common.Address]*uint256.Int),
		custody:    make(map[common.Address]*uint256.Int),
		payCustody: new(uint256.Int),
	}
}

func setJournaled[K comparable](j *state.Journal, m map[K]*uint256.Int, k K, v *uint256.Int) {
	prev, had := m[k]
	m[k] = v
	j.Append(func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func get[K comparable](m map[K]*uint256.Int, k K) *uint256.Int {
	if v, ok := m[k]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (m *Memory) setPayCustody(v *uint256.Int) {
	prev := m.payCustody
	m.payCustody = v
	m.journal.Append(func() { m.payCustody = prev })
}

func (m *Memory) record(t Transfer) {
	n := len(m.Transfers)
	m.Transfers = append(m.Transfers, t)
	m.journal.Append(func() { m.Transfers = m.Transfers[:n] })
}

// ListAsset makes asset known with the given decimals.
func (m *Memory) ListAsset(asset common.Address, decimals uint8) { m.decimals[asset] = decimals }

func (m *Memory) Fund(owner, asset common.Address, amount *uint256.Int) {
	k := holding{owner, asset}
	setJournaled(m.journal, m.assets, k, new(uint256.Int).Add(get(m.assets, k), amount))
}

func (m *Memory) FundPayment(owner common.Address, amount *uint256.Int) {
	setJournaled(m.journal, m.payments, owner, new(uint256.Int).Add(get(m.payments, owner), amount))
}

func (m *Memory) Approve(owner, asset common.Address, amount *uint256.Int) {
	setJournaled(m.journal, m.allowances, holding{owner, asset}, amount.Clone())
}

func (m *Memory) Attach(_ context.Context, from common.Address, value *uint256.Int) error {
	bal := get(m.payments, from)
	if bal.Lt(value) {
		return fmt.Errorf("%w: %s has %s payment, attaches %s", ErrTransferFailed, from.Hex(), bal.Dec(), value.Dec())
	}
	setJournaled(m.journal, m.payments, from, new(uint256.Int).Sub(bal, value))
	m.setPayCustody(new(uint256.Int).Add(m.payCustody, value))
	return nil
}

func (m *Memory) AssetBalance(owner, asset common.Address) *uint256.Int {
	return get(m.assets, holding{owner, asset})
}

func (m *Memory) PaymentBalance(owner common.Address) *uint256.Int { return get(m.payments, owner) }

func (m *Memory) AssetCustody(asset common.Address) *uint256.Int { return get(m.custody, asset) }

func (m *Memory) PaymentCustody() *uint256.Int { return m.payCustody.Clone() }

func (m *Memory) Decimals(_ context.Context, asset common.Address) (uint8, error) {
	d, ok := m.decimals[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return d, nil
}

func (m *Memory) Allowance(_ context.Context, owner, asset common.Address) (*uint256.Int, error) {
	if _, ok := m.decimals[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return get(m.allowances, holding{owner, asset}), nil
}

func (m *Memory) check(t Transfer) error {
	if m.Fail == nil {
		return nil
	}
	if err := m.Fail(t); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (m *Memory) PullAsset(_ context.Context, from, asset common.Address, amount *uint256.Int) error {
	t := Transfer{Op: OpPullAsset, Who: from, Asset: asset, Amount: amount.Clone()}
	if err := m.check(t); err != nil {
		return err
	}
	k := holding{from, asset}
	allowed := get(m.allowances, k)
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: %s approved %s, needs %s", ErrAllowanceInsufficient, from.Hex(), allowed.Dec(), amount.Dec())
	}
	bal := get(m.assets, k)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrTransferFailed, from.Hex(), bal.Dec(), amount.Dec())
	}
	setJournaled(m.journal, m.allowances, k, new(uint256.Int).Sub(allowed, amount))
	setJournaled(m.journal, m.assets, k, new(uint256.Int).Sub(bal, amount))
	setJournaled(m.journal, m.custody, asset, new(uint256.Int).Add(get(m.custody, asset), amount))
	m.record(t)
	return nil
}

func (m *Memory) PushAsset(_ context.Context, to, asset common.Address, amount *uint256.Int) error {
	t := Transfer{Op: OpPushAsset, Who: to, Asset: asset, Amount: amount.Clone()}
	if err := m.check(t); err != nil {
		return err
	}
	held := get(m.custody, asset)
	if held.Lt(amount) {
		return fmt.Errorf("%w: custody holds %s of %s, needs %s", ErrTransferFailed, held.Dec(), asset.Hex(), amount.Dec())
	}
	setJournaled(m.journal, m.custody, asset, new(uint256.Int).Sub(held, amount))
	k := holding{to, asset}
	setJournaled(m.journal, m.assets, k, new(uint256.Int).Add(get(m.assets, k), amount))
	m.record(t)
	return m.afterCredit(t)
}

func (m *Memory) PushPayment(_ context.Context, to common.Address, amount *uint256.Int) error {
	t := Transfer{Op: OpPushPayment, Who: to, Amount: amount.Clone()}
	if err := m.check(t); err != nil {
		return err
	}
	if m.payCustody.Lt(amount) {
		return fmt.Errorf("%w: custody holds %s payment, needs %s", ErrTransferFailed, m.payCustody.Dec(), amount.Dec())
	}
	m.setPayCustody(new(uint256.Int).Sub(m.payCustody, amount))
	setJournaled(m.journal, m.payments, to, new(uint256.Int).Add(get(m.payments, to), amount))
	m.record(t)
	return m.afterCredit(t)
}

func (m *Memory) afterCredit(t Transfer) error {
	if m.AfterCredit == nil {
		return nil
	}
	if err := m.AfterCredit(t); err != nil {
		return fmt.Errorf("%w: recipient hook: %w", ErrTransferFailed, err)
	}
	return nil
}

var (
	_ Gateway  = (*Memory)(nil)
	_ Attacher = (*Memory)(nil)
	_ Holdings = (*Memory)(nil)
)
