package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

type memWAL struct {
	mu    sync.Mutex
	lines []string
}

func (w *memWAL) Append(line string) {
	w.mu.Lock()
	w.lines = append(w.lines, line)
	w.mu.Unlock()
}

var genesisTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSequencer(t *testing.T, app abci.Application, store BlockStore) (*Sequencer, *memWAL, *util.ManualClock) {
	t.Helper()
	wal := &memWAL{}
	clock := util.NewManualClock(genesisTime)
	s, err := New(app, store, Config{MinBlockTime: 100 * time.Millisecond, Clock: clock, WAL: wal})
	if err != nil {
		t.Fatalf("new sequencer: %v", err)
	}
	return s, wal, clock
}

func pushN(t *testing.T, app *abci.MockApp, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		tx := fmt.Sprintf(`{"type":"place","place":{"nonce":"%d"}}`, i)
		if err := app.PushTx([]byte(tx)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
}

func TestStep_EmptyMempoolProducesNothing(t *testing.T) {
	app := abci.NewMockApp()
	store := NewMemStore()
	s, wal, _ := newTestSequencer(t, app, store)

	_, ok, err := s.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if ok {
		t.Fatal("expected no block for empty mempool")
	}
	if app.CommitCount() != 0 || s.Height() != 0 || len(wal.lines) != 0 {
		t.Fatalf("unexpected side effects: commits=%d height=%d wal=%d", app.CommitCount(), s.Height(), len(wal.lines))
	}
	if _, ok, _ := store.Latest(); ok {
		t.Fatal("store should be empty")
	}
}

func TestStep_ChainsBlocks(t *testing.T) {
	app := abci.NewMockApp()
	store := NewMemStore()
	s, wal, clock := newTestSequencer(t, app, store)

	var committed []int64
	s.cfg.OnBlockCommit = func(b Block) { committed = append(committed, b.Height) }

	pushN(t, app, 3)
	b1, ok, err := s.Step(context.Background())
	if err != nil || !ok {
		t.Fatalf("block 1: ok=%v err=%v", ok, err)
	}
	if b1.Height != 1 || len(b1.Txs) != 3 || len(b1.Receipts) != 3 {
		t.Fatalf("block 1 = height %d txs %d receipts %d", b1.Height, len(b1.Txs), len(b1.Receipts))
	}
	if b1.Parent != (abci.Hash{}) {
		t.Fatal("first block should have a zero parent")
	}
	if !b1.Time.Equal(genesisTime) {
		t.Fatalf("block time = %v, want %v", b1.Time, genesisTime)
	}

	clock.Advance(time.Second)
	pushN(t, app, 1)
	b2, ok, err := s.Step(context.Background())
	if err != nil || !ok {
		t.Fatalf("block 2: ok=%v err=%v", ok, err)
	}
	if b2.Parent != HashOfBlock(b1) {
		t.Fatal("block 2 does not point at block 1")
	}
	if !b2.Time.After(b1.Time) {
		t.Fatal("block time did not advance")
	}

	if app.CommitCount() != 2 {
		t.Fatalf("commits = %d, want 2", app.CommitCount())
	}
	if len(committed) != 2 || committed[1] != 2 {
		t.Fatalf("OnBlockCommit heights = %v", committed)
	}
	if len(wal.lines) != 2 || !strings.HasPrefix(wal.lines[1], "commit height=2 txs=1") {
		t.Fatalf("wal = %q", wal.lines)
	}
	latest, ok, _ := store.Latest()
	if !ok || latest.Height != 2 {
		t.Fatalf("latest = %d (%v)", latest.Height, ok)
	}
}

func TestNew_ResumesFromStore(t *testing.T) {
	app := abci.NewMockApp()
	store := NewMemStore()
	s, _, _ := newTestSequencer(t, app, store)
	pushN(t, app, 2)
	b1, _, err := s.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	restarted, _, _ := newTestSequencer(t, app, store)
	if restarted.Height() != 1 {
		t.Fatalf("resumed height = %d, want 1", restarted.Height())
	}
	pushN(t, app, 1)
	b2, ok, err := restarted.Step(context.Background())
	if err != nil || !ok {
		t.Fatalf("step after restart: ok=%v err=%v", ok, err)
	}
	if b2.Height != 2 || b2.Parent != HashOfBlock(b1) {
		t.Fatalf("block after restart: height=%d parent ok=%v", b2.Height, b2.Parent == HashOfBlock(b1))
	}
}

func TestStep_RejectedProposal(t *testing.T) {
	app := abci.NewMockApp()
	app.Reject = true
	s, _, _ := newTestSequencer(t, app, NewMemStore())
	pushN(t, app, 1)

	_, _, err := s.Step(context.Background())
	if !errors.Is(err, ErrProposalRejected) {
		t.Fatalf("err = %v, want ErrProposalRejected", err)
	}
	if app.CommitCount() != 0 {
		t.Fatal("rejected proposal must not be committed")
	}
}

type failingStore struct{ *MemStore }

func (failingStore) SaveBlock(Block) error { return errors.New("disk full") }

func TestStep_SaveFailureSkipsCommit(t *testing.T) {
	app := abci.NewMockApp()
	s, _, _ := newTestSequencer(t, app, failingStore{NewMemStore()})
	pushN(t, app, 1)

	if _, _, err := s.Step(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if app.CommitCount() != 0 || s.Height() != 0 {
		t.Fatalf("commits=%d height=%d after failed save", app.CommitCount(), s.Height())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	app := abci.NewMockApp()
	store := NewMemStore()
	s, _, _ := newTestSequencer(t, app, store)

	ctx, cancel := context.WithCancel(context.Background())
	s.cfg.OnBlockCommit = func(b Block) {
		if b.Height == 3 {
			cancel()
			return
		}
		pushN(t, app, 1)
	}
	pushN(t, app, 1)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sequencer did not stop")
	}
	if s.Height() != 3 {
		t.Fatalf("height = %d, want 3", s.Height())
	}
}

func TestHashOfBlock(t *testing.T) {
	base := Block{Height: 1, Time: genesisTime, Txs: [][]byte{[]byte("ab"), []byte("c")}}
	if HashOfBlock(base) != HashOfBlock(base) {
		t.Fatal("hash is not deterministic")
	}
	resplit := base
	resplit.Txs = [][]byte{[]byte("a"), []byte("bc")}
	if HashOfBlock(base) == HashOfBlock(resplit) {
		t.Fatal("tx boundaries must affect the hash")
	}
	withResult := base
	withResult.AppHash = abci.Hash{1}
	if HashOfBlock(base) != HashOfBlock(withResult) {
		t.Fatal("app hash must not affect the block hash")
	}
}
