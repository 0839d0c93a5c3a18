package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/choropleth-cache/internal/boundary/fetch"
	"github.com/mohammed-shakir/choropleth-cache/internal/classify"
	"github.com/mohammed-shakir/choropleth-cache/internal/joinkey"
	"github.com/mohammed-shakir/choropleth-cache/internal/lod"
	"github.com/mohammed-shakir/choropleth-cache/internal/logger"
)

const boundaryURL = "https://boundaries.example.org/adm1.geojson"

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[string][]byte{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, u string) (fetch.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[u]++
	if err := f.errs[u]; err != nil {
		return fetch.Payload{}, err
	}
	b, ok := f.bodies[u]
	if !ok {
		return fetch.Payload{}, &fetch.TransportError{Kind: fetch.KindStatus, URL: u, Status: 404}
	}
	return fetch.Payload{Body: b, URL: u}, nil
}

func (f *fakeFetcher) set(u string, body []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[u] = body
	f.errs[u] = err
}

func (f *fakeFetcher) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

// fiveRegions is a row of unit squares A..E along the equator.
func fiveRegions(t *testing.T) []byte {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for i, id := range []string{"A", "B", "C", "D", "E"} {
		x := float64(i)
		sq := orb.Polygon{{{x, 0}, {x + 1, 0}, {x + 1, 1}, {x, 1}, {x, 0}}}
		f := geojson.NewFeature(sq)
		f.Properties["shapeID"] = id
		f.Properties["shapeName"] = "Region " + id
		fc.Append(f)
	}
	b, err := json.Marshal(fc)
	require.NoError(t, err)
	return b
}

func newService(t *testing.T, f Fetcher, cfg Config) *Service {
	t.Helper()
	if cfg.SymbolRes == 0 {
		cfg.SymbolRes = -1
	}
	return New(f, cfg, logger.NopSlog())
}

func quantileRequest(src Source) Request {
	return Request{
		Source:     src,
		JoinKey:    "shapeID",
		Rows:       []Row{{Key: "A", Value: 10.0}, {Key: "C", Value: 30.0}, {Key: "E", Value: 50.0}},
		Method:     classify.Quantile,
		Classes:    3,
		Resolution: 100,
	}
}

func TestRender_EndToEnd(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	out, err := svc.Render(context.Background(), quantileRequest(Source{URL: boundaryURL}))
	require.NoError(t, err)

	assert.Equal(t, "shapeID", out.UsedKey)
	assert.Equal(t, joinkey.Kept, out.JoinDecision)
	assert.Equal(t, 3, out.Matched)
	assert.Equal(t, lod.Max, out.Bucket)
	assert.Equal(t, []float64{10, 30, 50}, out.Breaks.Values)
	require.Len(t, out.Colors, 3)
	assert.Equal(t, out.Colors[1], out.ColorFunc(30.0))
	assert.Len(t, out.Legend, 3)

	var ids []string
	for _, f := range out.Features.Features {
		ids = append(ids, f.Properties.MustString("shapeID"))
	}
	assert.Equal(t, []string{"A", "C", "E"}, ids)
	assert.Equal(t, 30.0, out.Features.Features[1].Properties[ValueProperty])

	wantMin := project.WGS84.ToMercator(orb.Point{0, 0})
	wantMax := project.WGS84.ToMercator(orb.Point{5, 1})
	assert.InDelta(t, wantMin[0], out.Extent.Min[0], 1e-6)
	assert.InDelta(t, wantMax[0], out.Extent.Max[0], 1e-6)
	assert.InDelta(t, wantMax[1], out.Extent.Max[1], 1e-6)
}

func TestRender_DoesNotMutateCachedLayer(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	_, err := svc.Render(context.Background(), quantileRequest(Source{URL: boundaryURL}))
	require.NoError(t, err)

	hits, err := svc.HitTest(context.Background(), HitRequest{
		Source: Source{URL: boundaryURL},
		Bound:  orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{10, 10}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 5)
	for _, h := range hits {
		_, has := h.Properties[ValueProperty]
		assert.False(t, has, "joined value leaked into layer properties")
	}
}

func TestRender_AdoptsDetectedKey(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	req := quantileRequest(Source{URL: boundaryURL})
	req.JoinKey = "region_code"
	req.Rows = []Row{{Key: "A", Value: 1.0}, {Key: "C", Value: 2.0}}

	out, err := svc.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "shapeID", out.UsedKey)
	assert.Equal(t, joinkey.Adopted, out.JoinDecision)
	assert.Equal(t, 2, out.Matched)
	assert.Contains(t, kinds(out.Warnings), "join_key_adopted")
}

func TestRender_NoMatch(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	req := quantileRequest(Source{URL: boundaryURL})
	req.Rows = []Row{{Key: "X", Value: 1.0}, {Key: "Y", Value: 2.0}}
	_, err := svc.Render(context.Background(), req)
	require.ErrorIs(t, err, joinkey.ErrNoMatch)
}

func TestRender_CachesPayloadUntilInvalidated(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})
	req := quantileRequest(Source{URL: boundaryURL})

	for range 3 {
		_, err := svc.Render(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ff.count(boundaryURL))

	key, err := SourceKey(req.Source)
	require.NoError(t, err)
	assert.True(t, svc.Invalidate(key))
	assert.False(t, svc.Invalidate(key))

	_, err = svc.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, ff.count(boundaryURL))
}

func TestRender_KeepsPreviousOutputForSameConfiguration(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})
	req := quantileRequest(Source{URL: boundaryURL})

	good, err := svc.Render(context.Background(), req)
	require.NoError(t, err)

	key, _ := SourceKey(req.Source)
	svc.Invalidate(key)
	ff.set(boundaryURL, nil, &fetch.TransportError{Kind: fetch.KindStatus, URL: boundaryURL, Status: 503})

	out, err := svc.Render(context.Background(), req)
	require.Error(t, err)
	var te *fetch.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 503, te.Status)
	assert.True(t, out.Stale)
	assert.Equal(t, good.Features, out.Features)
	assert.Contains(t, kinds(out.Warnings), "render_failed")

	// a failing new configuration removes the layer instead
	other := quantileRequest(Source{URL: "https://boundaries.example.org/missing.geojson"})
	out, err = svc.Render(context.Background(), other)
	require.Error(t, err)
	assert.Nil(t, out.Features)

	out, err = svc.Render(context.Background(), req)
	require.Error(t, err)
	assert.False(t, out.Stale)
	assert.Nil(t, out.Features)
}

func TestRender_SchemaErrorIsNotCached(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, []byte(`{"type":"Feature"}`), nil)
	svc := newService(t, ff, Config{})
	req := quantileRequest(Source{URL: boundaryURL})

	_, err := svc.Render(context.Background(), req)
	require.Error(t, err)

	ff.set(boundaryURL, fiveRegions(t), nil)
	out, err := svc.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Matched)
	assert.Equal(t, 2, ff.count(boundaryURL))
}

func TestRender_CategoricalColorsStayStable(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	req := Request{
		Source:     Source{URL: boundaryURL},
		JoinKey:    "shapeID",
		Method:     classify.Unique,
		Classes:    5,
		Resolution: 100,
		MeasureID:  "m1",
		SessionID:  "map-1",
	}
	req.Rows = []Row{{Key: "A", Value: 3.0}, {Key: "B", Value: 4.0}, {Key: "C", Value: 5.0}}
	first, err := svc.Render(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.Window)

	req.Rows = append(req.Rows, Row{Key: "D", Value: 6.0})
	second, err := svc.Render(context.Background(), req)
	require.NoError(t, err)

	for _, v := range []float64{3, 4, 5} {
		assert.Equal(t, first.ColorFunc(v), second.ColorFunc(v), "value %v", v)
	}
	assert.Equal(t, 3, second.Window.Start)
}

func TestRender_SupersededRenderLeavesPaletteUntouched(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	req := Request{
		Source:     Source{URL: boundaryURL},
		JoinKey:    "shapeID",
		Method:     classify.Unique,
		Classes:    5,
		Resolution: 100,
		MeasureID:  "m1",
		SessionID:  "map-1",
	}
	req.Rows = []Row{{Key: "A", Value: 3.0}, {Key: "B", Value: 4.0}, {Key: "C", Value: 5.0}}
	first, err := svc.Render(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 3, first.Window.Start)

	// A newer render starts while this one is composing.
	svc.composed = func() {
		svc.composed = nil
		svc.session("map-1").begin()
	}
	stale := req
	stale.Rows = []Row{{Key: "A", Value: 1.0}, {Key: "B", Value: 2.0}, {Key: "C", Value: 3.0}}
	_, err = svc.Render(context.Background(), stale)
	require.ErrorIs(t, err, ErrSuperseded)

	w, ok := svc.session("map-1").assigner.Window()
	require.True(t, ok)
	assert.Equal(t, 3, w.Start)

	req.Rows = append(req.Rows, Row{Key: "D", Value: 6.0})
	next, err := svc.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, next.Window.Start)
	for _, v := range []float64{3, 4, 5} {
		assert.Equal(t, first.ColorFunc(v), next.ColorFunc(v), "value %v", v)
	}
}

func TestRender_CatalogSource(t *testing.T) {
	const (
		manifestURL = "https://catalog.example.org/manifest.json"
		base        = "https://catalog.example.org/data"
	)
	ff := newFakeFetcher()
	ff.set(manifestURL, []byte(`[
		{"release":"2023-01","iso3":"SWE","level":"ADM1","path":"old/SWE1.geojson"},
		{"release":"2024-06","iso3":"SWE","level":"ADM1","path":"new/SWE1.geojson"}
	]`), nil)
	ff.set(base+"/new/SWE1.geojson", fiveRegions(t), nil)
	svc := newService(t, ff, Config{CatalogManifestURL: manifestURL, CatalogBaseURL: base})

	src := Source{Catalog: &CatalogRef{ISO3: "swe", Level: 1}}
	out, err := svc.Render(context.Background(), quantileRequest(src))
	require.NoError(t, err)
	assert.Equal(t, "src:cat:latest:SWE:adm1", out.SourceKey)
	assert.Equal(t, 3, out.Matched)
	assert.Equal(t, 1, ff.count(manifestURL))

	assert.True(t, svc.InvalidateCatalog("2024-06", "SWE", 1))
	_, err = svc.Render(context.Background(), quantileRequest(src))
	require.NoError(t, err)
	assert.Equal(t, 2, ff.count(manifestURL))
}

func TestRender_CatalogWithoutManifest(t *testing.T) {
	svc := newService(t, newFakeFetcher(), Config{})
	_, err := svc.Render(context.Background(), quantileRequest(Source{Catalog: &CatalogRef{ISO3: "SWE", Level: 1}}))
	require.ErrorIs(t, err, ErrNoCatalog)
}

func TestRender_InvalidSource(t *testing.T) {
	svc := newService(t, newFakeFetcher(), Config{})
	_, err := svc.Render(context.Background(), quantileRequest(Source{}))
	require.ErrorIs(t, err, ErrInvalidSource)

	both := Source{URL: boundaryURL, Catalog: &CatalogRef{ISO3: "SWE"}}
	_, err = svc.Render(context.Background(), quantileRequest(both))
	require.ErrorIs(t, err, ErrInvalidSource)
}

func TestRender_Symbols(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	req := quantileRequest(Source{URL: boundaryURL})
	req.Symbols = true
	out, err := svc.Render(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, out.Symbols)

	total := 0
	for _, s := range out.Symbols {
		total += s.Count
	}
	assert.Equal(t, 3, total)
}

func TestHitTest_Point(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	p := orb.Point{2.5, 0.5}
	hits, err := svc.HitTest(context.Background(), HitRequest{Source: Source{URL: boundaryURL}, Point: &p})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].Index)
	assert.Equal(t, "C", hits[0].Properties["shapeID"])
}

func TestRender_ConcurrentCallsShareOneFetch(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(boundaryURL, fiveRegions(t), nil)
	svc := newService(t, ff, Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := quantileRequest(Source{URL: boundaryURL})
			req.SessionID = fmt.Sprintf("s%d", i)
			_, err := svc.Render(context.Background(), req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ff.count(boundaryURL))
}

func kinds(ws []Warning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Kind)
	}
	return out
}
