// Package ledger is the node's in-process asset ledger: ERC-20 style tokens plus a
// native payment currency. Balances change only through journaled operations, so a
// failed exchange operation rolls ledger effects back together with the order book.
//
// Addresses may register a Receiver that is called after they are credited. A
// receiver can run arbitrary code, including calls back into the exchange; if it
// returns an error the transfer is undone and the error is returned to the sender.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownToken          = errors.New("unknown token")
	ErrTokenExists           = errors.New("token already registered")
	ErrReceiverRejected      = errors.New("receiver rejected transfer")
	ErrZeroAddress           = errors.New("zero address")
)

// Receiver is notified after its address is credited.
type Receiver interface {
	OnTokenReceived(token, from common.Address, amount *uint256.Int) error
	OnPaymentReceived(from common.Address, amount *uint256.Int) error
}

// Hooks adapts plain functions to Receiver; nil fields accept silently.
type Hooks struct {
	Token   func(token, from common.Address, amount *uint256.Int) error
	Payment func(from common.Address, amount *uint256.Int) error
}

func (h Hooks) OnTokenReceived(token, from common.Address, amount *uint256.Int) error {
	if h.Token == nil {
		return nil
	}
	return h.Token(token, from, amount)
}

func (h Hooks) OnPaymentReceived(from common.Address, amount *uint256.Int) error {
	if h.Payment == nil {
		return nil
	}
	return h.Payment(from, amount)
}

type Ledger struct {
	journal   *state.Journal
	tokens    map[common.Address]*Token
	payments  balances
	receivers map[common.Address]Receiver
}

// New returns an empty ledger recording into journal. A nil journal gets a private one
// so rejected transfers can still be undone.
func New(journal *state.Journal) *Ledger {
	if journal == nil {
		journal = state.NewJournal()
	}
	return &Ledger{
		journal:   journal,
		tokens:    make(map[common.Address]*Token),
		payments:  newBalances(),
		receivers: make(map[common.Address]Receiver),
	}
}

func (l *Ledger) Journal() *state.Journal { return l.journal }

func (l *Ledger) AddToken(addr common.Address, symbol string, decimals uint8) (*Token, error) {
	if addr == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if _, ok := l.tokens[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenExists, addr.Hex())
	}
	t := &Token{
		ledger:     l,
		address:    addr,
		symbol:     symbol,
		decimals:   decimals,
		balances:   newBalances(),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
	l.tokens[addr] = t
	return t, nil
}

func (l *Ledger) Token(addr common.Address) (*Token, error) {
	t, ok := l.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

// Tokens returns all tokens ordered by address.
func (l *Ledger) Tokens() []*Token {
	out := make([]*Token, 0, len(l.tokens))
	for _, t := range l.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].address[:], out[j].address[:]) < 0
	})
	return out
}

func (l *Ledger) SetReceiver(addr common.Address, r Receiver) { l.receivers[addr] = r }
func (l *Ledger) RemoveReceiver(addr common.Address)          { delete(l.receivers, addr) }

func (l *Ledger) PaymentBalance(addr common.Address) *uint256.Int { return l.payments.get(addr) }
func (l *Ledger) PaymentSupply() *uint256.Int                     { return l.payments.supply.Clone() }

// PaymentBalances returns a copy of every non-zero payment balance.
func (l *Ledger) PaymentBalances() map[common.Address]*uint256.Int { return l.payments.copy() }

func (l *Ledger) MintPayment(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.payments.credit(l.journal, to, amount)
	l.payments.adjustSupply(l.journal, amount, true)
	return nil
}

// TransferPayment moves native payment and then notifies the recipient's receiver.
func (l *Ledger) TransferPayment(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	snap := l.journal.Snapshot()
	if err := l.payments.debit(l.journal, from, amount); err != nil {
		l.journal.RevertToSnapshot(snap)
		return err
	}
	l.payments.credit(l.journal, to, amount)

	if r, ok := l.receivers[to]; ok {
		if err := r.OnPaymentReceived(from, amount.Clone()); err != nil {
			l.journal.RevertToSnapshot(snap)
			return fmt.Errorf("%w: %v", ErrReceiverRejected, err)
		}
	}
	return nil
}

// RestorePayments loads persisted balances into an empty ledger without journaling.
func (l *Ledger) RestorePayments(bals map[common.Address]*uint256.Int) {
	l.payments.restore(bals)
}

func (l *Ledger) notifyToken(token, from, to common.Address, amount *uint256.Int) error {
	r, ok := l.receivers[to]
	if !ok {
		return nil
	}
	if err := r.OnTokenReceived(token, from, amount.Clone()); err != nil {
		return fmt.Errorf("%w: %v", ErrReceiverRejected, err)
	}
	return nil
}
