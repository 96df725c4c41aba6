package sequencer

import "sync"

type MemStore struct {
	mu     sync.Mutex
	blocks map[int64]Block
	latest int64
}

func NewMemStore() *MemStore {
	return &MemStore{blocks: make(map[int64]Block)}
}

func (s *MemStore) SaveBlock(b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	if b.Height > s.latest {
		s.latest = b.Height
	}
	return nil
}

func (s *MemStore) BlockByHeight(height int64) (Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	return b, ok, nil
}

func (s *MemStore) Latest() (Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == 0 {
		return Block{}, false, nil
	}
	return s.blocks[s.latest], true, nil
}

var _ BlockStore = (*MemStore)(nil)
