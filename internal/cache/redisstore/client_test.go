package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetGetDel_HappyPath(t *testing.T) {
	rc, mr := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "src:a", []byte(`{"type":"FeatureCollection"}`), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("choropleth:src:a") {
		t.Fatalf("expected prefixed key in redis; keys=%v", mr.Keys())
	}

	got, ttl, ok, err := rc.Get(ctx, "src:a")
	if err != nil || !ok {
		t.Fatalf("Get ok=%v err=%v", ok, err)
	}
	if string(got) != `{"type":"FeatureCollection"}` {
		t.Fatalf("unexpected value %q", got)
	}
	if ttl <= 0 || ttl > 5*time.Minute {
		t.Fatalf("ttl=%v want (0,5m]", ttl)
	}

	if err := rc.Del(ctx, "src:a"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, _, ok, err := rc.Get(ctx, "src:a"); ok || err != nil {
		t.Fatalf("after Del ok=%v err=%v", ok, err)
	}
}

func TestGet_MissingIsNotAnError(t *testing.T) {
	rc, _ := newMini(t)
	_, _, ok, err := rc.Get(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
