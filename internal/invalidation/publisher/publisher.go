// Package publisher emits boundary release events to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/choropleth-cache/internal/invalidation"
)

type Publisher struct {
	topic string
	prod  sarama.SyncProducer
	log   *slog.Logger
	now   func() time.Time
}

// ProducerConfig returns the sarama settings used for release events. The
// partition is chosen by key hash so events for one source stay ordered.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Retry.Max = 3
	return cfg
}

func New(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	prod, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("publisher: create producer: %w", err)
	}
	return NewWithProducer(prod, topic, logger), nil
}

// NewWithProducer wraps an existing producer; the Publisher owns it from
// then on.
func NewWithProducer(prod sarama.SyncProducer, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{topic: topic, prod: prod, log: logger, now: time.Now}
}

// Publish fills in version and timestamp when unset, validates the event
// and sends it keyed by what it invalidates.
func (p *Publisher) Publish(ctx context.Context, ev invalidation.Event) (partition int32, offset int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.TS.IsZero() {
		ev.TS = p.now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return 0, 0, fmt.Errorf("publisher: invalid event: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("publisher: marshal: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.DedupeKey()),
		Value: sarama.ByteEncoder(b),
	}
	partition, offset, err = p.prod.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("publisher: send: %w", err)
	}
	p.log.Info("release event published",
		"key", ev.DedupeKey(), "op", ev.Op, "partition", partition, "offset", offset)
	return partition, offset, nil
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("publisher: close producer: %w", err)
	}
	return nil
}
