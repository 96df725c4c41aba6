package orderbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca401")
	tokA  = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokB  = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func owners(s *Store, side Side) []common.Address {
	var out []common.Address
	for _, o := range s.Orders(side) {
		out = append(out, o.Owner)
	}
	return out
}

func TestInsertAndQuery(t *testing.T) {
	s := NewStore(nil)
	if err := s.Insert(alice, tokA, Sell, u(10), u(3)); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(alice, tokA, Buy, u(20), u(4)); err != nil {
		t.Fatalf("same owner and asset on the other side must be allowed: %v", err)
	}
	if err := s.Insert(alice, tokA, Sell, u(1), u(1)); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("err = %v, want duplicate", err)
	}

	d, err := s.Detail(alice, tokA, Sell)
	if err != nil {
		t.Fatal(err)
	}
	if d.Amount.Uint64() != 10 || d.UnitPrice.Uint64() != 3 {
		t.Errorf("detail = %s@%s, want 10@3", d.Amount.Dec(), d.UnitPrice.Dec())
	}
	if s.Count(Sell) != 1 || s.Count(Buy) != 1 {
		t.Errorf("counts = %d/%d", s.Count(Buy), s.Count(Sell))
	}
	if !s.Contains(alice, tokA, Buy) || s.Contains(alice, tokB, Buy) {
		t.Error("contains mismatch")
	}
	if err := s.Insert(bob, tokA, Side(9), u(1), u(1)); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("err = %v, want invalid side", err)
	}
}

func TestDetailNotFoundIsSideSpecific(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Detail(alice, tokA, Buy)
	if !errors.Is(err, ErrBuyOrderNotFound) || !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("buy err = %v", err)
	}
	_, err = s.Detail(alice, tokA, Sell)
	if !errors.Is(err, ErrSellOrderNotFound) || errors.Is(err, ErrBuyOrderNotFound) {
		t.Errorf("sell err = %v", err)
	}
}

func TestRemovePreservesOrder(t *testing.T) {
	s := NewStore(nil)
	for _, owner := range []common.Address{alice, bob, carol} {
		if err := s.Insert(owner, tokA, Sell, u(5), u(1)); err != nil {
			t.Fatal(err)
		}
	}

	s.Remove(bob, tokA, Sell)
	got := owners(s, Sell)
	if len(got) != 2 || got[0] != alice || got[1] != carol {
		t.Fatalf("sequence after remove = %v, want [alice carol]", got)
	}
	at, err := s.At(Sell, 1)
	if err != nil || at.Owner != carol {
		t.Fatalf("At(1) = %v, %v; want carol", at.Owner, err)
	}

	// absent remove is a no-op
	s.Remove(bob, tokA, Sell)
	if s.Count(Sell) != 2 {
		t.Errorf("count = %d after no-op remove", s.Count(Sell))
	}
	if _, err := s.At(Sell, 2); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("At(2) err = %v", err)
	}
	if _, err := s.At(Sell, -1); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("At(-1) err = %v", err)
	}
}

func TestDecrement(t *testing.T) {
	s := NewStore(nil)
	_ = s.Insert(alice, tokA, Buy, u(10), u(2))
	s.Decrement(alice, tokA, Buy, u(4))
	d, _ := s.Detail(alice, tokA, Buy)
	if d.Amount.Uint64() != 6 {
		t.Errorf("amount = %s, want 6", d.Amount.Dec())
	}
	s.Decrement(bob, tokA, Buy, u(1)) // absent
}

func TestDetailReturnsCopy(t *testing.T) {
	s := NewStore(nil)
	_ = s.Insert(alice, tokA, Buy, u(10), u(2))
	d, _ := s.Detail(alice, tokA, Buy)
	d.Amount.SetUint64(999)
	again, _ := s.Detail(alice, tokA, Buy)
	if again.Amount.Uint64() != 10 {
		t.Errorf("store mutated through returned detail: %s", again.Amount.Dec())
	}
}

func TestJournalRevertRestoresSequence(t *testing.T) {
	j := state.NewJournal()
	s := NewStore(j)
	_ = s.Insert(alice, tokA, Sell, u(5), u(1))
	_ = s.Insert(bob, tokA, Sell, u(6), u(1))
	_ = s.Insert(carol, tokA, Sell, u(7), u(1))

	snap := j.Snapshot()
	s.Decrement(bob, tokA, Sell, u(6))
	s.Remove(bob, tokA, Sell)
	s.Remove(alice, tokA, Sell)
	_ = s.Insert(alice, tokB, Sell, u(1), u(1))
	j.RevertToSnapshot(snap)

	got := owners(s, Sell)
	if len(got) != 3 || got[0] != alice || got[1] != bob || got[2] != carol {
		t.Fatalf("sequence after revert = %v", got)
	}
	d, _ := s.Detail(bob, tokA, Sell)
	if d.Amount.Uint64() != 6 {
		t.Errorf("bob amount after revert = %s, want 6", d.Amount.Dec())
	}
	if s.Contains(alice, tokB, Sell) {
		t.Error("insert inside reverted frame survived")
	}
}

func TestRestore(t *testing.T) {
	src := NewStore(nil)
	_ = src.Insert(carol, tokA, Buy, u(3), u(1))
	_ = src.Insert(alice, tokA, Buy, u(4), u(1))

	dst := NewStore(nil)
	if err := dst.Restore(src.Orders(Buy)); err != nil {
		t.Fatal(err)
	}
	got := owners(dst, Buy)
	if len(got) != 2 || got[0] != carol || got[1] != alice {
		t.Fatalf("restored order = %v", got)
	}
	if err := dst.Restore(src.Orders(Buy)); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("restoring twice: err = %v", err)
	}
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"buy": Buy, "BUY": Buy, "1": Buy, "sell": Sell, "2": Sell} {
		got, err := ParseSide(in)
		if err != nil || got != want {
			t.Errorf("ParseSide(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSide("hold"); err == nil {
		t.Error("expected error for unknown side")
	}
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Error("opposite mismatch")
	}
}
