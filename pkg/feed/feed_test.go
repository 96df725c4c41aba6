package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/engine"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

func testEnvelope(t *testing.T) Envelope {
	env, err := NewEnvelope(7, 2, time.Unix(1_700_000_000, 0).UTC(), engine.OrderPlaced{
		Owner:     common.HexToAddress("0x01"),
		Asset:     common.HexToAddress("0x02"),
		Amount:    uint256.NewInt(500),
		UnitPrice: uint256.NewInt(5),
		Side:      orderbook.Sell,
	})
	require.NoError(t, err)
	return env
}

func TestEnvelopeEncoding(t *testing.T) {
	env := testEnvelope(t)
	require.Equal(t, engine.KindOrderPlaced, env.Kind)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(env.Event, &ev))
	require.Equal(t, "sell", ev["side"])
	require.Equal(t, "500", ev["amount"])
	require.Equal(t, "00000000000000000007", string(env.Key()))
}

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	calls  int
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { w.closed = true; return nil }

func TestKafkaPublish(t *testing.T) {
	w := &recordingWriter{}
	k := NewKafkaWithWriter(w)
	env := testEnvelope(t)
	require.NoError(t, k.Publish(context.Background(), env))

	require.Len(t, w.msgs, 1)
	require.Equal(t, env.Key(), w.msgs[0].Key)
	require.Equal(t, "kind", w.msgs[0].Headers[0].Key)
	var got Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, env.Height, got.Height)
	require.Equal(t, env.Seq, got.Seq)
	require.JSONEq(t, string(env.Event), string(got.Event))

	require.NoError(t, k.Close())
	require.True(t, w.closed)
}

type funcPublisher func(context.Context, Envelope) error

func (f funcPublisher) Publish(ctx context.Context, env Envelope) error { return f(ctx, env) }

func TestFanout(t *testing.T) {
	var got int
	ok := funcPublisher(func(context.Context, Envelope) error { got++; return nil })
	bad := funcPublisher(func(context.Context, Envelope) error { return errors.New("broker down") })

	require.NoError(t, NewFanout(nil).Publish(context.Background(), testEnvelope(t)))
	require.NoError(t, NewFanout(nil, bad, ok).Publish(context.Background(), testEnvelope(t)))
	require.Equal(t, 1, got)

	f := NewFanout(nil, bad)
	require.Error(t, f.Publish(context.Background(), testEnvelope(t)))
	f.Add(ok)
	require.NoError(t, f.Publish(context.Background(), testEnvelope(t)))
	require.Equal(t, 2, got)
}

func blockEnvelopes(t *testing.T, n int) []Envelope {
	envs := make([]Envelope, n)
	for i := range envs {
		envs[i] = testEnvelope(t)
		envs[i].Seq = i
	}
	return envs
}

func TestKafkaPublishBatchWritesOnce(t *testing.T) {
	w := &recordingWriter{}
	envs := blockEnvelopes(t, 5)
	require.NoError(t, PublishAll(context.Background(), NewKafkaWithWriter(w), envs))

	require.Equal(t, 1, w.calls)
	require.Len(t, w.msgs, len(envs))
	for i, m := range w.msgs {
		var got Envelope
		require.NoError(t, json.Unmarshal(m.Value, &got))
		require.Equal(t, i, got.Seq)
		require.Equal(t, envs[i].Key(), m.Key)
	}

	require.NoError(t, PublishAll(context.Background(), NewKafkaWithWriter(w), nil))
	require.Equal(t, 1, w.calls)
}

func TestFanoutPublishBatch(t *testing.T) {
	w := &recordingWriter{}
	var seqs []int
	plain := funcPublisher(func(_ context.Context, env Envelope) error { seqs = append(seqs, env.Seq); return nil })
	envs := blockEnvelopes(t, 3)

	f := NewFanout(nil, NewKafkaWithWriter(w), plain)
	require.NoError(t, PublishAll(context.Background(), f, envs))
	require.Equal(t, 1, w.calls)
	require.Len(t, w.msgs, 3)
	require.Equal(t, []int{0, 1, 2}, seqs)

	down := &recordingWriter{err: errors.New("broker down")}
	require.NoError(t, NewFanout(nil, NewKafkaWithWriter(down), plain).PublishBatch(context.Background(), envs))
	require.Error(t, NewFanout(nil, NewKafkaWithWriter(down)).PublishBatch(context.Background(), envs))
}

func TestGossipDelivers(t *testing.T) {
	if testing.Short() {
		t.Skip("starts libp2p hosts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a, err := NewGossip(ctx, GossipConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0", Topic: "hyperswap/test"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewGossip(ctx, GossipConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0", Topic: "hyperswap/test", Bootstrap: a.Addrs()})
	require.NoError(t, err)
	defer b.Close()

	received := make(chan Envelope, 16)
	require.NoError(t, b.Subscribe(ctx, func(env Envelope) { received <- env }))
	require.NoError(t, a.Subscribe(ctx, func(Envelope) {}))

	env := testEnvelope(t)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		// The mesh forms after a heartbeat or two; keep publishing until it does.
		require.NoError(t, a.Publish(ctx, env))
		select {
		case got := <-received:
			require.Equal(t, env.Height, got.Height)
			require.Equal(t, env.Kind, got.Kind)
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("no envelope received over gossip")
		}
	}
}
