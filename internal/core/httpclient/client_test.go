package httpclient

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func mustReq(t *testing.T, raw string) *http.Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return &http.Request{URL: u}
}

func TestSameHostRedirects(t *testing.T) {
	via := []*http.Request{mustReq(t, "https://data.example.org/a.json")}

	if err := SameHostRedirects(mustReq(t, "https://DATA.example.org/b.json"), via); err != nil {
		t.Fatalf("same host redirect refused: %v", err)
	}
	if err := SameHostRedirects(mustReq(t, "https://evil.example.com/b.json"), via); !errors.Is(err, ErrCrossHostRedirect) {
		t.Fatalf("cross host err=%v", err)
	}
	if err := SameHostRedirects(mustReq(t, "http://data.example.org/b.json"), via); !errors.Is(err, ErrCrossHostRedirect) {
		t.Fatalf("downgrade err=%v", err)
	}
}

func TestSameHostRedirects_Limit(t *testing.T) {
	via := make([]*http.Request, maxRedirects)
	for i := range via {
		via[i] = mustReq(t, "https://data.example.org/a.json")
	}
	if err := SameHostRedirects(mustReq(t, "https://data.example.org/b.json"), via); err == nil {
		t.Fatalf("expected redirect limit error")
	}
}

func TestNewOutbound_DefaultTimeout(t *testing.T) {
	c := NewOutbound(0)
	if c.Timeout != 15*time.Second {
		t.Fatalf("timeout=%v", c.Timeout)
	}
	if c.CheckRedirect == nil {
		t.Fatalf("redirect policy missing")
	}
}
