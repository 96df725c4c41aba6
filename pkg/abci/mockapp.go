package abci

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
)

// MockApp orders txs like the exchange mempool but does not execute them.
// Sequencer tests use it.
type MockApp struct {
	mu      sync.Mutex
	mempool *mempool.Mempool
	commits int
	pending int64
	Reject  bool
}

func NewMockApp() *MockApp { return &MockApp{mempool: mempool.NewMempool(0)} }

func (m *MockApp) PushTx(b []byte) error { return m.mempool.PushRaw(b) }

func (m *MockApp) PrepareProposal(req RequestPrepareProposal) ResponsePrepareProposal {
	return ResponsePrepareProposal{Txs: m.mempool.SelectForProposal(req.MaxTxBytes)}
}

func (m *MockApp) ProcessProposal(_ RequestProcessProposal) ResponseProcessProposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ResponseProcessProposal{Accept: !m.Reject}
}

// FinalizeBlock returns a hash of height and tx count, deterministic for tests.
func (m *MockApp) FinalizeBlock(req RequestFinalizeBlock) ResponseFinalizeBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = req.Height

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(req.Height))
	binary.BigEndian.PutUint64(buf[8:], uint64(len(req.Txs)))
	results := make([]TxResult, len(req.Txs))
	for i, tx := range req.Txs {
		results[i] = TxResult{Hash: sha256.Sum256(tx), Type: "mock"}
	}
	return ResponseFinalizeBlock{TxResults: results, AppHash: sha256.Sum256(buf[:])}
}

func (m *MockApp) Commit() (ResponseCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	return ResponseCommit{Height: m.pending}, nil
}

func (m *MockApp) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

var _ Application = (*MockApp)(nil)
