package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/choropleth-cache/internal/app"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/config"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/observability"
	"github.com/mohammed-shakir/choropleth-cache/internal/logger"
	"github.com/mohammed-shakir/choropleth-cache/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	addr := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	config.LoadDotEnv(*envFile)
	cfg := config.FromEnv()
	if *addr != "" {
		cfg.Addr = *addr
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "server",
		Service:   "choropleth-cache",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting choropleth server",
		"addr", cfg.Addr,
		"version", Version,
		"shared_tier", cfg.RedisAddr != "",
		"invalidation", cfg.Invalidation.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.MetricsAddr,
			Path:    cfg.MetricsPath,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer(), true)
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	a, err := app.New(ctx, cfg, appLog, &zl)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	if err := a.Run(ctx); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
