package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/choropleth-cache/internal/cache/keys"
	"github.com/mohammed-shakir/choropleth-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/choropleth-cache/internal/normalize"
)

const fcBody = `{"type":"FeatureCollection","features":[]}`

func newTLS(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_OK(t *testing.T) {
	srv := newTLS(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=120")
		_, _ = w.Write([]byte(fcBody))
	})
	f := New(WithClient(srv.Client()))

	p, err := f.Fetch(context.Background(), srv.URL+"/adm1.geojson")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(p.Body) != fcBody {
		t.Fatalf("body=%q", p.Body)
	}
	if p.CacheControl != "public, max-age=120" {
		t.Fatalf("cache-control=%q", p.CacheControl)
	}
	if p.Shared {
		t.Fatalf("unexpected shared flag")
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := newTLS(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	f := New(WithClient(srv.Client()))

	_, err := f.Fetch(context.Background(), srv.URL+"/missing.json")
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindStatus || te.Status != http.StatusNotFound {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(te.URL, "/missing.json") {
		t.Fatalf("url not carried: %q", te.URL)
	}
}

func TestFetch_NonJSONBodyIsSchemaError(t *testing.T) {
	srv := newTLS(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>nope</html>"))
	})
	f := New(WithClient(srv.Client()))

	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, normalize.ErrSchema) {
		t.Fatalf("want schema error, got %v", err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		t.Fatalf("schema failure must not be a transport error")
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := newTLS(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	f := New(WithClient(srv.Client()), WithTimeout(50*time.Millisecond))

	_, err := f.Fetch(context.Background(), srv.URL)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("want timeout, got %v", err)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	srv := newTLS(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[` + strings.Repeat("1,", 100) + `1]`))
	})
	f := New(WithClient(srv.Client()), WithMaxBytes(32))

	if _, err := f.Fetch(context.Background(), srv.URL); !IsKind(err, KindTooLarge) {
		t.Fatalf("want too_large, got %v", err)
	}
}

func TestFetch_CrossHostRedirectRefused(t *testing.T) {
	srv := newTLS(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.invalid/data.json", http.StatusFound)
	})
	f := New(WithClient(srv.Client()))

	if _, err := f.Fetch(context.Background(), srv.URL); !IsKind(err, KindOpenRedirect) {
		t.Fatalf("want open_redirect, got %v", err)
	}
}

func TestFetch_SameHostRedirectFollowed(t *testing.T) {
	srv := newTLS(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte(fcBody))
	})
	f := New(WithClient(srv.Client()))

	if _, err := f.Fetch(context.Background(), srv.URL+"/old"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestFetch_RejectsBeforeDialing(t *testing.T) {
	f := New()
	cases := []struct {
		raw  string
		want Kind
	}{
		{"::not a url", KindInvalidURL},
		{"/relative/path.json", KindInvalidURL},
		{"http://example.org/a.json", KindInsecureScheme},
		{"https://example.org/a.json?next=https://evil.example.com/", KindOpenRedirect},
	}
	for _, tc := range cases {
		if _, err := f.Fetch(context.Background(), tc.raw); !IsKind(err, tc.want) {
			t.Errorf("%q: want %s, got %v", tc.raw, tc.want, err)
		}
	}
}

func TestFetch_SharedTierPopulatedAndServed(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	var hits atomic.Int32
	srv := newTLS(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write([]byte(fcBody))
	})
	f := New(WithClient(srv.Client()), WithSharedTier(rc, time.Hour))

	if _, err := f.Fetch(context.Background(), srv.URL+"/a.json"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	key, _ := keys.SourceKey(srv.URL + "/a.json")
	if ttl := mr.TTL("choropleth:" + key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("shared ttl=%v want capped to max-age 60s", ttl)
	}

	p, err := f.Fetch(context.Background(), srv.URL+"/a.json")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !p.Shared || hits.Load() != 1 {
		t.Fatalf("expected shared hit; shared=%v hits=%d", p.Shared, hits.Load())
	}
	if !strings.HasPrefix(p.CacheControl, "max-age=") {
		t.Fatalf("shared payload should carry remaining ttl, got %q", p.CacheControl)
	}
}
