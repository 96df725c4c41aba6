// Package feed delivers committed exchange events to outside observers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/engine"
)

// Envelope is one committed event. Seq orders events within a block.
type Envelope struct {
	Height int64           `json:"height"`
	Seq    int             `json:"seq"`
	Kind   string          `json:"kind"`
	Time   time.Time       `json:"time"`
	Event  json.RawMessage `json:"event"`
}

func NewEnvelope(height int64, seq int, blockTime time.Time, ev engine.Event) (Envelope, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return Envelope{Height: height, Seq: seq, Kind: ev.Kind(), Time: blockTime, Event: raw}, nil
}

// Key partitions envelopes by block so consumers see a block's events in order.
func (e Envelope) Key() []byte { return []byte(fmt.Sprintf("%020d", e.Height)) }

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// BatchPublisher is implemented by publishers that can send a whole block's events
// in one round trip.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, envs []Envelope) error
}

// PublishAll sends envs through p, in one call when p batches. Without batching the
// first error stops the remaining envelopes.
func PublishAll(ctx context.Context, p Publisher, envs []Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if bp, ok := p.(BatchPublisher); ok {
		return bp.PublishBatch(ctx, envs)
	}
	for _, env := range envs {
		if err := p.Publish(ctx, env); err != nil {
			return fmt.Errorf("publish %d/%d: %w", env.Height, env.Seq, err)
		}
	}
	return nil
}

type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }

// Fanout publishes to every publisher. A failing publisher is logged and skipped; an
// error is returned only when all of them failed.
type Fanout struct {
	pubs []Publisher
	log  *zap.SugaredLogger
}

func NewFanout(log *zap.SugaredLogger, pubs ...Publisher) *Fanout {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fanout{pubs: pubs, log: log}
}

func (f *Fanout) Add(p Publisher) { f.pubs = append(f.pubs, p) }

func (f *Fanout) Publish(ctx context.Context, env Envelope) error {
	if len(f.pubs) == 0 {
		return nil
	}
	var errs []error
	for _, p := range f.pubs {
		if err := p.Publish(ctx, env); err != nil {
			f.log.Warnw("feed_publish_failed", "publisher", fmt.Sprintf("%T", p), "height", env.Height, "seq", env.Seq, "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f.pubs) {
		return errors.Join(errs...)
	}
	return nil
}

// PublishBatch hands the block to each publisher with PublishAll, so batching
// publishers still get a single call.
func (f *Fanout) PublishBatch(ctx context.Context, envs []Envelope) error {
	if len(f.pubs) == 0 || len(envs) == 0 {
		return nil
	}
	var errs []error
	for _, p := range f.pubs {
		if err := PublishAll(ctx, p, envs); err != nil {
			f.log.Warnw("feed_publish_failed", "publisher", fmt.Sprintf("%T", p), "height", envs[0].Height, "events", len(envs), "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f.pubs) {
		return errors.Join(errs...)
	}
	return nil
}
