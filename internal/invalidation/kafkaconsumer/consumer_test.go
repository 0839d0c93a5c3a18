package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	"github.com/mohammed-shakir/choropleth-cache/internal/invalidation"
)

type fakeService struct {
	mu       sync.Mutex
	keys     []string
	catalogs []string
}

func (f *fakeService) Invalidate(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return true
}

func (f *fakeService) InvalidateCatalog(release, iso3 string, level catalog.Level) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalogs = append(f.catalogs, release+"/"+iso3+"/"+level.String())
	return true
}

type fakeShared struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	seenDel   []string
}

func (f *fakeShared) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	f.seenDel = append(f.seenDel, keys...)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

type sess struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return s.claims }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "boundary-releases" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

const testKey = "src:url:https:-boundaries.example.org-adm1.geojson:h=00000000000000aa"

func keyEvent(ts time.Time) []byte {
	b, _ := json.Marshal(invalidation.Event{Version: 1, Op: invalidation.OpRelease, SourceKey: testKey, TS: ts})
	return b
}

func newConsumerForTest(svc Invalidator, shared *fakeShared) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "boundary-releases", GroupID: "g"}
	if shared == nil {
		return New(cfg, slog.Default(), svc)
	}
	return New(cfg, slog.Default(), svc, WithSharedTier(shared))
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	svc := &fakeService{}
	sh := &fakeShared{}
	c := newConsumerForTest(svc, sh)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	cl := &claim{part: 0, msgs: ch}

	t0 := time.Now().UTC()
	ch <- &sarama.ConsumerMessage{Topic: "boundary-releases", Partition: 0, Offset: 10, Value: keyEvent(t0)}
	ch <- &sarama.ConsumerMessage{Topic: "boundary-releases", Partition: 0, Offset: 11, Value: keyEvent(t0.Add(time.Second))}
	close(ch)

	if err := g.ConsumeClaim(s, cl); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(svc.keys) != 2 || svc.keys[0] != testKey {
		t.Fatalf("invalidated=%v", svc.keys)
	}
	if !slices.Equal(sh.seenDel, []string{testKey, testKey}) {
		t.Fatalf("shared deletes=%v", sh.seenDel)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	svc := &fakeService{}
	sh := &fakeShared{}
	sh.failFirst.Store(true)
	c := newConsumerForTest(svc, sh)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "boundary-releases", Partition: 0, Offset: 5, Value: keyEvent(time.Now().UTC())}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}
	if len(svc.keys) != 0 {
		t.Fatalf("service invalidated before shared tier delete succeeded")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("marked=%v want [5]", s.marked)
	}
	if len(svc.keys) != 1 {
		t.Fatalf("invalidated=%v want one call", svc.keys)
	}
}

func TestDuplicateAndOlderEventsAreSkipped(t *testing.T) {
	svc := &fakeService{}
	c := newConsumerForTest(svc, &fakeShared{})
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, ts := range []time.Time{t0, t0, t0.Add(-time.Minute), t0.Add(time.Minute)} {
		msg := &sarama.ConsumerMessage{Offset: int64(i), Value: keyEvent(ts)}
		if err := c.ProcessOne(ctx, msg); err != nil {
			t.Fatalf("ProcessOne %d: %v", i, err)
		}
	}
	if len(svc.keys) != 2 {
		t.Fatalf("applied %d events, want 2 (first and newest)", len(svc.keys))
	}
}

func TestCatalogEvent(t *testing.T) {
	svc := &fakeService{}
	sh := &fakeShared{}
	c := newConsumerForTest(svc, sh)

	body := []byte(`{"version":1,"op":"withdraw","release":"2024-06","iso3":"SWE","level":"ADM1","ts":"2025-06-01T00:00:00Z"}`)
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: body}); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(svc.catalogs) != 1 || svc.catalogs[0] != "2024-06/SWE/ADM1" {
		t.Fatalf("catalog invalidations=%v", svc.catalogs)
	}
	if len(sh.seenDel) != 0 {
		t.Fatalf("catalog events must not touch the shared tier, got %v", sh.seenDel)
	}
}

func TestPoisonMessagesAreSkippedAndMarked(t *testing.T) {
	svc := &fakeService{}
	c := newConsumerForTest(svc, &fakeShared{})

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`{not json`)}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`{"version":1,"op":"update","source_key":"src:x","ts":"2025-06-01T00:00:00Z"}`)}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 {
		t.Fatalf("marked=%v want both offsets", s.marked)
	}
	if len(svc.keys)+len(svc.catalogs) != 0 {
		t.Fatalf("invalid events must not invalidate anything")
	}
}

func TestReadinessFollowsAssignment(t *testing.T) {
	c := newConsumerForTest(&fakeService{}, nil)
	if ready, _ := c.Readiness(); ready {
		t.Fatalf("ready before assignment")
	}

	g := &groupHandler{setup: c.onAssign, cleanup: c.onRevoke}
	s := &sess{ctx: t.Context(), claims: map[string][]int32{"boundary-releases": {0, 2}}}
	_ = g.Setup(s)
	ready, parts := c.Readiness()
	slices.Sort(parts)
	if !ready || !slices.Equal(parts, []int32{0, 2}) {
		t.Fatalf("ready=%v parts=%v", ready, parts)
	}

	_ = g.Cleanup(s)
	if ready, _ := c.Readiness(); ready {
		t.Fatalf("ready after revoke")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	c := New(Config{}, nil, &fakeService{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Stop()
}
