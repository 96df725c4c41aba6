// Package state provides the undo journal shared by everything that must roll back
// together when an operation fails: the order store, the asset ledger, account nonces
// and the engine's pending event log.
package state

import "fmt"

type revision struct {
	id           int
	journalIndex int
}

// Journal records undo closures in application order. Snapshot marks a point;
// RevertToSnapshot runs every closure recorded after it, newest first.
//
// Snapshots nest: a reentrant operation may take and revert its own snapshot while an
// outer one is open. A Journal is not safe for concurrent use.
type Journal struct {
	entries   []func()
	revisions []revision
	nextID    int
}

func NewJournal() *Journal { return &Journal{} }

// Append records undo. A nil Journal discards it, so collaborators can be used
// without journaling.
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

func (j *Journal) Snapshot() int {
	if j == nil {
		return 0
	}
	id := j.nextID
	j.nextID++
	j.revisions = append(j.revisions, revision{id: id, journalIndex: len(j.entries)})
	return id
}

func (j *Journal) RevertToSnapshot(id int) {
	if j == nil {
		return
	}
	idx := -1
	for i := len(j.revisions) - 1; i >= 0; i-- {
		if j.revisions[i].id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Errorf("revision id %d cannot be reverted", id))
	}
	start := j.revisions[idx].journalIndex
	for i := len(j.entries) - 1; i >= start; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:start]
	j.revisions = j.revisions[:idx]
}

// Reset drops all entries and revisions. Called once a block's effects are final.
func (j *Journal) Reset() {
	if j == nil {
		return
	}
	j.entries = j.entries[:0]
	j.revisions = j.revisions[:0]
}

func (j *Journal) Length() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}
