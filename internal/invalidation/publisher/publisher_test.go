package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	"github.com/mohammed-shakir/choropleth-cache/internal/invalidation"
	"github.com/mohammed-shakir/choropleth-cache/internal/logger"
)

func TestPublish_FillsDefaultsAndSends(t *testing.T) {
	prod := mocks.NewSyncProducer(t, ProducerConfig())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var got invalidation.Event
	prod.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		return json.Unmarshal(val, &got)
	})

	p := NewWithProducer(prod, "boundary-releases", logger.NopSlog())
	p.now = func() time.Time { return fixed }
	lvl := catalog.Level(1)
	if _, _, err := p.Publish(context.Background(), invalidation.Event{Op: invalidation.OpRelease, ISO3: "SWE", Level: &lvl}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got.Version != 1 || !got.TS.Equal(fixed) || got.ISO3 != "SWE" {
		t.Fatalf("sent event=%+v", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublish_RejectsInvalidEvent(t *testing.T) {
	prod := mocks.NewSyncProducer(t, ProducerConfig())
	p := NewWithProducer(prod, "t", logger.NopSlog())

	_, _, err := p.Publish(context.Background(), invalidation.Event{Op: "purge", SourceKey: "src:url:abc"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublish_SendFailure(t *testing.T) {
	prod := mocks.NewSyncProducer(t, ProducerConfig())
	prod.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	p := NewWithProducer(prod, "t", logger.NopSlog())

	_, _, err := p.Publish(context.Background(), invalidation.Event{Op: invalidation.OpWithdraw, SourceKey: "src:url:abc"})
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("err=%v", err)
	}
	_ = p.Close()
}

func TestPublish_CanceledContext(t *testing.T) {
	prod := mocks.NewSyncProducer(t, ProducerConfig())
	p := NewWithProducer(prod, "t", logger.NopSlog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := p.Publish(ctx, invalidation.Event{Op: invalidation.OpRelease, SourceKey: "src:url:abc"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	_ = p.Close()
}
