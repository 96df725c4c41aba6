package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

type book struct {
	seq    []Key          // insertion order, index-addressable
	detail map[Key]Detail // same key set as seq
}

func newBook() *book { return &book{detail: make(map[Key]Detail)} }

func (b *book) indexOf(k Key) int {
	for i, key := range b.seq {
		if key == k {
			return i
		}
	}
	return -1
}

// Store holds the open orders of both sides. Every mutation is recorded in the
// attached journal, so a failed operation can be rolled back with
// Journal.RevertToSnapshot.
//
// Store is not safe for concurrent use; the caller serializes access.
type Store struct {
	journal *state.Journal
	buys    *book
	sells   *book
}

// NewStore returns an empty store. journal may be nil.
func NewStore(journal *state.Journal) *Store {
	return &Store{journal: journal, buys: newBook(), sells: newBook()}
}

func (s *Store) book(side Side) *book {
	if side == Buy {
		return s.buys
	}
	return s.sells
}

func (s *Store) Insert(owner, asset common.Address, side Side, amount, unitPrice *uint256.Int) error {
	if !side.Valid() {
		return ErrInvalidSide
	}
	b := s.book(side)
	k := Key{Owner: owner, Asset: asset}
	if _, exists := b.detail[k]; exists {
		return ErrDuplicateOrder
	}
	b.seq = append(b.seq, k)
	b.detail[k] = Detail{Amount: amount.Clone(), UnitPrice: unitPrice.Clone()}

	s.journal.Append(func() {
		b.seq = b.seq[:len(b.seq)-1]
		delete(b.detail, k)
	})
	return nil
}

// Decrement lowers the remaining amount. The caller guarantees by <= remaining;
// a missing order is a no-op.
func (s *Store) Decrement(owner, asset common.Address, side Side, by *uint256.Int) {
	b := s.book(side)
	k := Key{Owner: owner, Asset: asset}
	d, ok := b.detail[k]
	if !ok {
		return
	}
	prev := d.Amount
	b.detail[k] = Detail{Amount: new(uint256.Int).Sub(prev, by), UnitPrice: d.UnitPrice}

	s.journal.Append(func() {
		cur := b.detail[k]
		b.detail[k] = Detail{Amount: prev, UnitPrice: cur.UnitPrice}
	})
}

// Remove deletes the order and closes the gap in the sequence, keeping the relative
// order of the remaining keys. Removing an absent order is a no-op.
func (s *Store) Remove(owner, asset common.Address, side Side) {
	b := s.book(side)
	k := Key{Owner: owner, Asset: asset}
	d, ok := b.detail[k]
	if !ok {
		return
	}
	delete(b.detail, k)
	i := b.indexOf(k)
	if i >= 0 {
		b.seq = append(b.seq[:i], b.seq[i+1:]...)
	}

	s.journal.Append(func() {
		b.detail[k] = d
		if i < 0 {
			return
		}
		b.seq = append(b.seq, Key{})
		copy(b.seq[i+1:], b.seq[i:])
		b.seq[i] = k
	})
}

func (s *Store) Detail(owner, asset common.Address, side Side) (Detail, error) {
	d, ok := s.book(side).detail[Key{Owner: owner, Asset: asset}]
	if !ok {
		return Detail{}, NotFound(side)
	}
	return d.clone(), nil
}

func (s *Store) Count(side Side) int { return len(s.book(side).seq) }

func (s *Store) At(side Side, i int) (Order, error) {
	b := s.book(side)
	if i < 0 || i >= len(b.seq) {
		return Order{}, ErrInvalidIndex
	}
	k := b.seq[i]
	return Order{Key: k, Side: side, Detail: b.detail[k].clone()}, nil
}

// Contains scans the sequence rather than the detail map so that it reports exactly
// what At can reach.
func (s *Store) Contains(owner, asset common.Address, side Side) bool {
	return s.book(side).indexOf(Key{Owner: owner, Asset: asset}) >= 0
}

// Orders returns a copy of one side in sequence order.
func (s *Store) Orders(side Side) []Order {
	b := s.book(side)
	out := make([]Order, 0, len(b.seq))
	for _, k := range b.seq {
		out = append(out, Order{Key: k, Side: side, Detail: b.detail[k].clone()})
	}
	return out
}

// Restore appends orders in the given order without journaling. Used when loading
// persisted state into an empty store.
func (s *Store) Restore(orders []Order) error {
	for _, o := range orders {
		if !o.Side.Valid() {
			return ErrInvalidSide
		}
		b := s.book(o.Side)
		if _, exists := b.detail[o.Key]; exists {
			return ErrDuplicateOrder
		}
		b.seq = append(b.seq, o.Key)
		b.detail[o.Key] = o.Detail.clone()
	}
	return nil
}
