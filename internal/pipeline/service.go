// Package pipeline turns a render request into a joined, classified and
// simplified FeatureCollection. It owns the payload cache, the built layers
// and the per-session palette state.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/choropleth-cache/internal/boundary/fetch"
	"github.com/mohammed-shakir/choropleth-cache/internal/cache/keys"
	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/config"
	"github.com/mohammed-shakir/choropleth-cache/internal/joinkey"
	"github.com/mohammed-shakir/choropleth-cache/internal/lod"
	"github.com/mohammed-shakir/choropleth-cache/internal/logger"
	"github.com/mohammed-shakir/choropleth-cache/internal/normalize"
	"github.com/mohammed-shakir/choropleth-cache/internal/resultcache"
	"github.com/mohammed-shakir/choropleth-cache/internal/spatialindex"
)

var (
	ErrInvalidSource = errors.New("source needs exactly one of url or catalog")
	ErrNoCatalog     = errors.New("catalog manifest url is not configured")
	ErrSuperseded    = errors.New("render superseded by a newer request")
)

const manifestKey = "catalog:manifest"

// Fetcher downloads a boundary payload. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Payload, error)
}

type Config struct {
	CacheTTL         time.Duration
	CacheMaxEntries  int
	RespectFreshness bool
	LayerCacheSize   int
	LODCacheSize     int
	SessionCacheSize int

	// SymbolRes fixes the H3 resolution of symbol overlays; negative picks
	// it from the level of detail.
	SymbolRes      int
	DefaultClasses int
	DefaultPalette string

	CatalogManifestURL string
	CatalogBaseURL     string
	JoinPolicy         joinkey.Policy
}

// ConfigFrom maps the service configuration onto the pipeline's.
func ConfigFrom(c config.Config) Config {
	return Config{
		CacheTTL:           c.CacheTTLDefault,
		CacheMaxEntries:    c.CacheMaxEntries,
		RespectFreshness:   c.CacheRespectFreshness,
		LayerCacheSize:     c.LayerCacheSize,
		LODCacheSize:       c.LODCacheSize,
		SymbolRes:          c.SymbolH3Res,
		DefaultClasses:     c.DefaultClasses,
		DefaultPalette:     c.DefaultPalette,
		CatalogManifestURL: c.Catalog.ManifestURL,
		CatalogBaseURL:     c.Catalog.BaseURL,
		JoinPolicy:         joinkey.Policy{MinMatches: c.JoinKey.MinMatches, MinMargin: c.JoinKey.MinMargin},
	}
}

type layer struct {
	payload *fetch.Payload
	norm    normalize.Result
	lod     *lod.Simplifier
	index   *spatialindex.Index
}

type Service struct {
	cfg     Config
	fetcher Fetcher
	log     *slog.Logger

	payloads  *resultcache.Cache[*fetch.Payload]
	manifests *resultcache.Cache[*catalog.Manifest]
	layers    *lru.Cache[string, *layer]
	sessions  *lru.Cache[string, *session]
	builds    singleflight.Group
	sessMu    sync.Mutex

	// composed runs between composing an output and committing it; tests
	// use it to start a newer render at that point.
	composed func()
}

func New(f Fetcher, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.LayerCacheSize <= 0 {
		cfg.LayerCacheSize = 16
	}
	if cfg.SessionCacheSize <= 0 {
		cfg.SessionCacheSize = 256
	}
	if cfg.DefaultClasses <= 0 {
		cfg.DefaultClasses = 5
	}
	if cfg.JoinPolicy.MinMatches <= 0 && cfg.JoinPolicy.MinMargin <= 0 {
		cfg.JoinPolicy = joinkey.DefaultPolicy()
	}

	s := &Service{
		cfg:     cfg,
		fetcher: f,
		log:     log,
		payloads: resultcache.New[*fetch.Payload](
			resultcache.WithName("boundary"),
			resultcache.WithMaxEntries(cfg.CacheMaxEntries),
			resultcache.WithDefaultTTL(cfg.CacheTTL),
			resultcache.WithLogger(log),
		),
		manifests: resultcache.New[*catalog.Manifest](
			resultcache.WithName("catalog"),
			resultcache.WithMaxEntries(1),
			resultcache.WithDefaultTTL(cfg.CacheTTL),
			resultcache.WithLogger(log),
		),
	}
	// sizes are positive here, so lru.New cannot fail
	s.layers, _ = lru.New[string, *layer](cfg.LayerCacheSize)
	s.sessions, _ = lru.New[string, *session](cfg.SessionCacheSize)
	return s
}

// SourceKey returns the cache key identifying src.
func SourceKey(src Source) (string, error) {
	switch {
	case src.URL != "" && src.Catalog == nil:
		return keys.SourceKey(src.URL)
	case src.URL == "" && src.Catalog != nil:
		c := src.Catalog
		if strings.TrimSpace(c.ISO3) == "" {
			return "", fmt.Errorf("%w: catalog iso3 is empty", ErrInvalidSource)
		}
		return keys.CatalogKey(c.Release, c.ISO3, int(c.Level)), nil
	}
	return "", ErrInvalidSource
}

func layerKey(sourceKey string, o normalize.Options) string {
	return sourceKey + "|" + o.PreferredName + "|" +
		strconv.FormatBool(o.PreferFirst) + "|" + strconv.FormatBool(o.HonorPreferredName)
}

// loadLayer returns the built layer for src, fetching through the payload
// cache. A layer is rebuilt whenever the cached payload changed.
func (s *Service) loadLayer(ctx context.Context, key string, src Source, opts normalize.Options) (*layer, error) {
	p, err := s.payloads.GetOrFetch(ctx, key, s.producer(src),
		resultcache.FetchOptions{RespectFreshness: s.cfg.RespectFreshness})
	if err != nil {
		return nil, err
	}

	lk := layerKey(key, opts)
	if ly, ok := s.layers.Get(lk); ok && ly.payload == p {
		return ly, nil
	}

	v, err, _ := s.builds.Do(lk, func() (any, error) {
		if ly, ok := s.layers.Get(lk); ok && ly.payload == p {
			return ly, nil
		}
		norm, err := normalize.Normalize(p.Body, opts)
		if err != nil {
			// keep a bad payload from being served until it expires
			s.payloads.Delete(key)
			return nil, err
		}
		if norm.Dropped > 0 {
			s.log.DebugContext(ctx, "dropped non-polygonal features", "count", norm.Dropped)
		}
		ly := &layer{
			payload: p,
			norm:    norm,
			lod:     lod.Build(norm.Features, lod.WithCacheSize(s.cfg.LODCacheSize), lod.WithLogger(s.log)),
			index:   spatialindex.Build(norm.Features),
		}
		s.layers.Add(lk, ly)
		return ly, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*layer), nil
}

func (s *Service) producer(src Source) resultcache.Producer[*fetch.Payload] {
	return func(ctx context.Context) (resultcache.Response[*fetch.Payload], error) {
		target, err := s.resolveURL(ctx, src)
		if err != nil {
			return resultcache.Response[*fetch.Payload]{}, err
		}
		p, err := s.fetcher.Fetch(ctx, target)
		if err != nil {
			return resultcache.Response[*fetch.Payload]{}, err
		}
		return resultcache.Response[*fetch.Payload]{Data: &p, Freshness: p.CacheControl}, nil
	}
}

func (s *Service) resolveURL(ctx context.Context, src Source) (string, error) {
	if src.Catalog == nil {
		return src.URL, nil
	}
	if s.cfg.CatalogManifestURL == "" {
		return "", ErrNoCatalog
	}
	m, err := s.manifests.GetOrFetch(ctx, manifestKey, s.manifestProducer(),
		resultcache.FetchOptions{RespectFreshness: s.cfg.RespectFreshness})
	if err != nil {
		return "", fmt.Errorf("load catalog manifest: %w", err)
	}
	c := src.Catalog
	_, u, err := m.Resolve(c.Release, c.ISO3, c.Level, s.cfg.CatalogBaseURL)
	if err != nil {
		return "", err
	}
	return u, nil
}

func (s *Service) manifestProducer() resultcache.Producer[*catalog.Manifest] {
	return func(ctx context.Context) (resultcache.Response[*catalog.Manifest], error) {
		p, err := s.fetcher.Fetch(ctx, s.cfg.CatalogManifestURL)
		if err != nil {
			return resultcache.Response[*catalog.Manifest]{}, err
		}
		m, err := catalog.ParseManifest(bytes.NewReader(p.Body))
		if err != nil {
			return resultcache.Response[*catalog.Manifest]{}, err
		}
		return resultcache.Response[*catalog.Manifest]{Data: &m, Freshness: p.CacheControl}, nil
	}
}

// HitTest returns the features of a source under a point or inside a box.
func (s *Service) HitTest(ctx context.Context, hr HitRequest) ([]Hit, error) {
	key, err := SourceKey(hr.Source)
	if err != nil {
		return nil, err
	}
	ly, err := s.loadLayer(logger.WithSourceKey(ctx, key), key, hr.Source, hr.Layer)
	if err != nil {
		return nil, err
	}

	var idx []int
	if hr.Point != nil {
		idx = ly.index.At(*hr.Point)
	} else {
		idx = ly.index.Query(hr.Bound)
	}
	hits := make([]Hit, 0, len(idx))
	for _, i := range idx {
		hits = append(hits, Hit{Index: i, Properties: ly.norm.Features.Features[i].Properties.Clone()})
	}
	return hits, nil
}

// Invalidate drops the cached payload and every layer built from it. It
// reports whether anything was removed.
func (s *Service) Invalidate(sourceKey string) bool {
	removed := s.payloads.Delete(sourceKey)
	prefix := sourceKey + "|"
	for _, k := range s.layers.Keys() {
		if strings.HasPrefix(k, prefix) && s.layers.Remove(k) {
			removed = true
		}
	}
	s.log.Info("source invalidated", "source_key", sourceKey, "removed", removed)
	return removed
}

// InvalidateCatalog drops a catalog release, the "latest" alias of the same
// country and level, and the cached manifest.
func (s *Service) InvalidateCatalog(release, iso3 string, level catalog.Level) bool {
	s.manifests.Delete(manifestKey)
	removed := s.Invalidate(keys.CatalogKey(release, iso3, int(level)))
	if release != "" && s.Invalidate(keys.CatalogKey("", iso3, int(level))) {
		removed = true
	}
	return removed
}
