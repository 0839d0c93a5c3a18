// Package kafkaconsumer applies boundary release events from Kafka to the
// pipeline caches.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	obs "github.com/mohammed-shakir/choropleth-cache/internal/core/observability"
	"github.com/mohammed-shakir/choropleth-cache/internal/invalidation"
	mylog "github.com/mohammed-shakir/choropleth-cache/internal/logger"
)

// Invalidator drops cached sources. *pipeline.Service implements it.
type Invalidator interface {
	Invalidate(sourceKey string) bool
	InvalidateCatalog(release, iso3 string, level catalog.Level) bool
}

// SharedTier is the cross-process payload store. *redisstore.Client
// implements it.
type SharedTier interface {
	Del(ctx context.Context, keys ...string) error
}

type Option func(*Consumer)

func WithSharedTier(t SharedTier) Option { return func(c *Consumer) { c.shared = t } }

// WithZerolog sets the logger used for structured error events.
func WithZerolog(zl *zerolog.Logger) Option { return func(c *Consumer) { c.zlog = zl } }

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	svc    Invalidator
	shared SharedTier
	ver    *versionDedupe

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func New(cfg Config, logger *slog.Logger, svc Invalidator, opts ...Option) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		cfg:    cfg,
		logger: logger,
		svc:    svc,
		ver:    newVersionDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start joins the consumer group and consumes in the background until ctx
// ends or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.logger.Info("kafka invalidation consumer disabled")
		return nil
	}
	if c.svc == nil {
		return errors.New("kafkaconsumer: missing invalidator")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("create consumer group: %w", err)
	}

	handler := &groupHandler{setup: c.onAssign, cleanup: c.onRevoke, process: c.ProcessOne}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.logger.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				mylog.FromContext(mylog.WithComponent(ctx, "kafka_consumer"), c.zlog).Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			c.logger.Error("kafka group error", "err", err)
		}
	}()

	c.logger.Info("kafka invalidation consumer started",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("kafka invalidation consumer stopped")
}

// Readiness reports whether the group has assigned partitions to us.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (c *Consumer) onAssign(sess sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			c.assign[p] = struct{}{}
		}
	}
	c.assigned.Store(true)
}

func (c *Consumer) onRevoke(sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assigned.Store(false)
	c.assign = map[int32]struct{}{}
}

// ProcessOne applies one event. Undecodable or invalid events are logged
// and skipped; a failed shared tier delete is returned so the message is
// retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	if !msg.Timestamp.IsZero() {
		obs.SetInvalidationLag(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.reject(ctx, msg, "decode", err, start)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.reject(ctx, msg, "validate", err, start)
		return nil
	}

	key := ev.DedupeKey()
	ctx = mylog.WithSourceKey(ctx, key)
	version := ev.TS.UnixNano()
	if !c.ver.newer(key, version) {
		obs.ObserveInvalidation(ev.Op, "duplicate", time.Since(start).Seconds())
		c.logger.DebugContext(ctx, "stale or duplicate invalidation skipped", "op", ev.Op, "ts", ev.TS)
		return nil
	}

	if c.shared != nil && !ev.IsCatalog() {
		if err := c.shared.Del(ctx, ev.SourceKey); err != nil {
			obs.ObserveInvalidation(ev.Op, "error", time.Since(start).Seconds())
			mylog.FromContext(ctx, c.zlog).Error().
				Str("kind", "shared_del").
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Err(err).
				Msg("kafka error")
			return fmt.Errorf("shared tier del: %w", err)
		}
	}

	var removed bool
	if ev.IsCatalog() {
		removed = c.svc.InvalidateCatalog(ev.Release, ev.ISO3, *ev.Level)
	} else {
		removed = c.svc.Invalidate(ev.SourceKey)
	}
	c.ver.mark(key, version)

	obs.ObserveInvalidation(ev.Op, "applied", time.Since(start).Seconds())
	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Bool("removed", removed).
		Msg("invalidated source")
	return nil
}

func (c *Consumer) reject(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error, start time.Time) {
	obs.ObserveInvalidation("", "invalid", time.Since(start).Seconds())
	c.logger.WarnContext(ctx, "invalid invalidation event skipped", "kind", kind, "err", err, "offset", msg.Offset)
	mylog.FromContext(ctx, c.zlog).Error().
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Err(err).
		Msg("kafka error")
}
