// Package fetch retrieves boundary payloads over HTTPS.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mohammed-shakir/choropleth-cache/internal/cache/keys"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/observability"
	"github.com/mohammed-shakir/choropleth-cache/internal/normalize"
	"github.com/mohammed-shakir/choropleth-cache/internal/resultcache"
)

const defaultMaxBytes = 64 << 20

// Payload is a fetched boundary document.
type Payload struct {
	Body         []byte
	CacheControl string
	URL          string
	Shared       bool
}

// SharedTier is a cross-process payload store consulted before the network.
type SharedTier interface {
	Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

func WithTimeout(d time.Duration) Option { return func(f *Fetcher) { f.timeout = d } }

func WithMaxBytes(n int64) Option { return func(f *Fetcher) { f.maxBytes = n } }

func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.log = l } }

// WithSharedTier enables the shared tier. Entries live for at most ttl and
// never longer than the upstream max-age.
func WithSharedTier(t SharedTier, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.shared = t
		f.sharedTTL = ttl
	}
}

type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	shared    SharedTier
	sharedTTL time.Duration
	log       *slog.Logger
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		timeout:  15 * time.Second,
		maxBytes: defaultMaxBytes,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		f.client = httpclient.NewOutbound(f.timeout)
	} else if f.client.CheckRedirect == nil {
		c := *f.client
		c.CheckRedirect = httpclient.SameHostRedirects
		f.client = &c
	}
	return f
}

// Fetch downloads rawURL and checks that the body looks like a JSON object
// or array.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Payload, error) {
	start := time.Now()
	u, err := Validate(rawURL)
	if err != nil {
		f.observe(err, start)
		return Payload{}, err
	}
	target := u.String()

	var sharedKey string
	if f.shared != nil {
		sharedKey, _ = keys.SourceKey(target)
		if p, ok := f.fromShared(ctx, sharedKey, target); ok {
			observability.ObserveFetch("shared_hit", time.Since(start).Seconds())
			return p, nil
		}
	}

	p, err := f.fetchHTTP(ctx, target)
	f.observe(err, start)
	if err != nil {
		return Payload{}, err
	}

	if f.shared != nil && sharedKey != "" {
		f.toShared(ctx, sharedKey, p)
	}
	return p, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, target string) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Payload{}, &TransportError{Kind: KindInvalidURL, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json, application/geo+json, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Payload{}, classify(target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Payload{}, &TransportError{Kind: KindStatus, URL: target, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Payload{}, classify(target, err)
	}
	if int64(len(body)) > f.maxBytes {
		return Payload{}, &TransportError{Kind: KindTooLarge, URL: target, Err: fmt.Errorf("body exceeds %d bytes", f.maxBytes)}
	}
	if !looksLikeJSONContainer(body) {
		return Payload{}, fmt.Errorf("%w: %s: body is not a JSON object or array", normalize.ErrSchema, target)
	}

	return Payload{
		Body:         body,
		CacheControl: resp.Header.Get("Cache-Control"),
		URL:          target,
	}, nil
}

func (f *Fetcher) fromShared(ctx context.Context, key, target string) (Payload, bool) {
	body, ttl, ok, err := f.shared.Get(ctx, key)
	if err != nil {
		f.log.WarnContext(ctx, "shared tier read failed", "err", err, "source_key", key)
		return Payload{}, false
	}
	if !ok || !looksLikeJSONContainer(body) {
		return Payload{}, false
	}
	cc := ""
	if ttl > 0 {
		cc = "max-age=" + strconv.FormatInt(int64(ttl/time.Second), 10)
	}
	return Payload{Body: body, CacheControl: cc, URL: target, Shared: true}, true
}

func (f *Fetcher) toShared(ctx context.Context, key string, p Payload) {
	ttl := resultcache.CapTTL(f.sharedTTL, p.CacheControl)
	if ttl <= 0 {
		return
	}
	if err := f.shared.Set(ctx, key, p.Body, ttl); err != nil {
		f.log.WarnContext(ctx, "shared tier write failed", "err", err, "source_key", key)
	}
}

func (f *Fetcher) observe(err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		var te *TransportError
		switch {
		case errors.As(err, &te):
			outcome = string(te.Kind)
		case errors.Is(err, normalize.ErrSchema):
			outcome = "schema"
		default:
			outcome = "error"
		}
	}
	observability.ObserveFetch(outcome, time.Since(start).Seconds())
}

func classify(target string, err error) error {
	if errors.Is(err, httpclient.ErrCrossHostRedirect) {
		return &TransportError{Kind: KindOpenRedirect, URL: target, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, URL: target, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransportError{Kind: KindTimeout, URL: target, Err: err}
	}
	return &TransportError{Kind: KindNetwork, URL: target, Err: err}
}

func looksLikeJSONContainer(b []byte) bool {
	b = bytes.TrimLeft(b, " \t\r\n\ufeff")
	return len(b) > 0 && (b[0] == '{' || b[0] == '[')
}
