package state

import "testing"

func TestJournalNestedRevert(t *testing.T) {
	j := NewJournal()
	v := 0
	set := func(n int) {
		prev := v
		v = n
		j.Append(func() { v = prev })
	}

	outer := j.Snapshot()
	set(1)
	inner := j.Snapshot()
	set(2)
	set(3)

	j.RevertToSnapshot(inner)
	if v != 1 {
		t.Fatalf("after inner revert v = %d, want 1", v)
	}
	if j.Length() != 1 {
		t.Fatalf("journal length = %d, want 1", j.Length())
	}

	set(4)
	j.RevertToSnapshot(outer)
	if v != 0 {
		t.Fatalf("after outer revert v = %d, want 0", v)
	}
	if j.Length() != 0 {
		t.Fatalf("journal length = %d, want 0", j.Length())
	}
}

func TestJournalRevertUnknownPanics(t *testing.T) {
	j := NewJournal()
	id := j.Snapshot()
	j.RevertToSnapshot(id)

	defer func() {
		if recover() == nil {
			t.Error("reverting a consumed revision should panic")
		}
	}()
	j.RevertToSnapshot(id)
}

func TestNilJournal(t *testing.T) {
	var j *Journal
	j.Append(func() { t.Error("nil journal must not run undo") })
	j.RevertToSnapshot(j.Snapshot())
	j.Reset()
	if j.Length() != 0 {
		t.Error("nil journal length should be 0")
	}
}

func TestJournalReset(t *testing.T) {
	j := NewJournal()
	j.Snapshot()
	j.Append(func() {})
	j.Reset()
	if j.Length() != 0 {
		t.Fatalf("length after reset = %d", j.Length())
	}
	id := j.Snapshot()
	j.RevertToSnapshot(id)
}
