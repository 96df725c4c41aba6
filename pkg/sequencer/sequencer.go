// Package sequencer is the node's single block producer. Every MinBlockTime it drains
// the mempool through the application, chains the result to the previous block,
// stores it and tells the application to commit.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

var ErrProposalRejected = errors.New("application rejected its own proposal")

type Config struct {
	MinBlockTime  time.Duration
	MaxBlockBytes int64
	Clock         util.Clock
	Logger        *zap.SugaredLogger
	WAL           WAL
	// OnBlockCommit runs after the application has committed a block.
	OnBlockCommit func(Block)
}

type Sequencer struct {
	app    abci.Application
	store  BlockStore
	cfg    Config
	log    *zap.SugaredLogger
	height int64
	parent abci.Hash
}

// New resumes after the latest block in store.
func New(app abci.Application, store BlockStore, cfg Config) (*Sequencer, error) {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = util.Nop()
	}
	if cfg.MinBlockTime <= 0 {
		cfg.MinBlockTime = 200 * time.Millisecond
	}
	if cfg.MaxBlockBytes <= 0 {
		cfg.MaxBlockBytes = 1 << 24
	}
	s := &Sequencer{app: app, store: store, cfg: cfg, log: cfg.Logger}

	last, ok, err := store.Latest()
	if err != nil {
		return nil, fmt.Errorf("load latest block: %w", err)
	}
	if ok {
		s.height = last.Height
		s.parent = HashOfBlock(last)
	}
	return s, nil
}

// Height is the height of the last produced block.
func (s *Sequencer) Height() int64 { return s.height }

// Step produces at most one block. It reports false when the mempool was empty.
func (s *Sequencer) Step(ctx context.Context) (Block, bool, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, false, err
	}
	next := s.height + 1
	prop := s.app.PrepareProposal(abci.RequestPrepareProposal{Height: next, MaxTxBytes: s.cfg.MaxBlockBytes})
	if len(prop.Txs) == 0 {
		return Block{}, false, nil
	}
	if !s.app.ProcessProposal(abci.RequestProcessProposal{Height: next, Txs: prop.Txs}).Accept {
		return Block{}, false, fmt.Errorf("%w: height %d", ErrProposalRejected, next)
	}

	b := Block{
		Height: next,
		Parent: s.parent,
		Time:   s.cfg.Clock.Now().UTC(),
		Txs:    prop.Txs,
	}
	res := s.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: b.Height, Time: b.Time, Txs: b.Txs})
	b.AppHash, b.Receipts = res.AppHash, res.TxResults

	// The block is stored before the app commits: a node that stops in between
	// replays nothing and reports the mismatch on restart.
	if err := s.store.SaveBlock(b); err != nil {
		return Block{}, false, fmt.Errorf("save block %d: %w", b.Height, err)
	}
	if _, err := s.app.Commit(); err != nil {
		return Block{}, false, fmt.Errorf("commit block %d: %w", b.Height, err)
	}
	s.height, s.parent = b.Height, HashOfBlock(b)

	if s.cfg.WAL != nil {
		s.cfg.WAL.Append(fmt.Sprintf("commit height=%d txs=%d apphash=0x%s", b.Height, len(b.Txs), b.AppHash))
	}
	s.log.Infow("block_committed", "height", b.Height, "txs", len(b.Txs), "events", res.Events,
		"hash", s.parent.String(), "app_hash", b.AppHash.String())
	if s.cfg.OnBlockCommit != nil {
		s.cfg.OnBlockCommit(b)
	}
	return b, true, nil
}

// Run produces blocks until ctx is canceled or a block fails to commit.
func (s *Sequencer) Run(ctx context.Context) error {
	s.log.Infow("sequencer_started", "height", s.height, "min_block_time", s.cfg.MinBlockTime)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.cfg.Clock.After(s.cfg.MinBlockTime):
		}
		if _, _, err := s.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.log.Errorw("block_failed", "height", s.height+1, "err", err)
			return err
		}
	}
}
