package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	writer MessageWriter
}

func NewKafka(brokers []string, topic string) *Kafka {
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func NewKafkaWithWriter(w MessageWriter) *Kafka { return &Kafka{writer: w} }

func (k *Kafka) Publish(ctx context.Context, env Envelope) error {
	return k.PublishBatch(ctx, []Envelope{env})
}

// PublishBatch writes envs with a single WriteMessages call.
func (k *Kafka) PublishBatch(ctx context.Context, envs []Envelope) error {
	msgs := make([]kafka.Message, 0, len(envs))
	for _, env := range envs {
		value, err := json.Marshal(env)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   env.Key(),
			Value: value,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(env.Kind)},
			},
		})
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *Kafka) Close() error { return k.writer.Close() }

var _ BatchPublisher = (*Kafka)(nil)
