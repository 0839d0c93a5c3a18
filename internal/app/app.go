// Package app assembles the choropleth service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/choropleth-cache/internal/api"
	"github.com/mohammed-shakir/choropleth-cache/internal/boundary/fetch"
	"github.com/mohammed-shakir/choropleth-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/config"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/health"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/server"
	"github.com/mohammed-shakir/choropleth-cache/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/choropleth-cache/internal/pipeline"
)

type App struct {
	cfg      config.Config
	log      *slog.Logger
	Pipeline *pipeline.Service
	consumer *kafkaconsumer.Consumer
	redis    *redisstore.Client
}

// New wires the fetcher, the optional shared tier, the pipeline and the
// invalidation consumer. Nothing is started.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, zl *zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: logger}

	fopts := []fetch.Option{
		fetch.WithClient(httpclient.NewOutbound(cfg.FetchTimeout)),
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithMaxBytes(cfg.FetchMaxBytes),
		fetch.WithLogger(logger),
	}
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithReadTimeout(cfg.CacheOpTimeout), redisstore.WithWriteTimeout(cfg.CacheOpTimeout))
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rc
		fopts = append(fopts, fetch.WithSharedTier(rc, cfg.RedisTTL))
		logger.Info("shared tier enabled", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
	}

	a.Pipeline = pipeline.New(fetch.New(fopts...), pipeline.ConfigFrom(cfg), logger)

	var copts []kafkaconsumer.Option
	if a.redis != nil {
		copts = append(copts, kafkaconsumer.WithSharedTier(a.redis))
	}
	if zl != nil {
		copts = append(copts, kafkaconsumer.WithZerolog(zl))
	}
	a.consumer = kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), logger, a.Pipeline, copts...)
	return a, nil
}

// Routes mounts the public API.
func (a *App) Routes(r chi.Router) { api.Register(r, a.Pipeline, a.log) }

// Ready gates /readyz on the consumer only when invalidation is enabled.
func (a *App) Ready() health.ReadinessReporter {
	if !a.cfg.Invalidation.Enabled {
		return health.AlwaysReady{}
	}
	return a.consumer
}

// Run starts the consumer and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.consumer.Start(ctx); err != nil {
		return fmt.Errorf("invalidation consumer: %w", err)
	}
	defer a.consumer.Stop()
	return server.Run(ctx, a.cfg, a.log, a.Routes, a.Ready())
}

func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
