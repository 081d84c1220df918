package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes snapshot events keyed by period, so consumers see each
// period's snapshots in order.
type Kafka struct {
	w messageWriter
}

// NewKafka creates a publisher for topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// Notify implements Notifier.
func (k *Kafka) Notify(ctx context.Context, e SnapshotRefreshed) error {
	if e.Type == "" {
		e.Type = EventSnapshotRefreshed
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode snapshot event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Period),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish snapshot event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}

var _ Notifier = (*Kafka)(nil)
