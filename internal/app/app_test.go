package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/choropleth-cache/internal/core/config"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/health"
	"github.com/mohammed-shakir/choropleth-cache/internal/logger"
)

func TestNew_WiresSharedTierAndRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.FromEnv()
	cfg.RedisAddr = mr.Addr()
	cfg.Invalidation.Enabled = false

	a, err := New(context.Background(), cfg, logger.NopSlog(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if a.redis == nil {
		t.Fatalf("shared tier not wired")
	}
	if _, ok := a.Ready().(health.AlwaysReady); !ok {
		t.Fatalf("readiness must not gate on a disabled consumer")
	}

	r := chi.NewRouter()
	a.Routes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/lod?resolution=3000", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestNew_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.FromEnv()
	cfg.RedisAddr = addr
	if _, err := New(context.Background(), cfg, logger.NopSlog(), nil); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}

func TestReady_GatesOnConsumerWhenEnabled(t *testing.T) {
	cfg := config.FromEnv()
	cfg.RedisAddr = ""
	cfg.Invalidation.Enabled = true

	a, err := New(context.Background(), cfg, logger.NopSlog(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ready, _ := a.Ready().Readiness(); ready {
		t.Fatalf("consumer without assignment must not report ready")
	}
}
