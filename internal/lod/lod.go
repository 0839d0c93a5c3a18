// Package lod builds a topology-preserving simplification ladder for a
// polygon FeatureCollection and serves the level matching a map resolution.
package lod

import (
	"log/slog"
	"math"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/choropleth-cache/internal/core/observability"
)

const DefaultCacheSize = 8

// Result is what SimplifiedFor serves. Degraded results carry the original
// collection and the reason the topology could not be built.
type Result struct {
	Features *geojson.FeatureCollection
	Bucket   Bucket
	Cached   bool
	Degraded bool
	Reason   error
}

type Option func(*Simplifier)

// WithCacheSize bounds the number of memoized levels.
func WithCacheSize(n int) Option { return func(s *Simplifier) { s.size = n } }

func WithLogger(l *slog.Logger) Option { return func(s *Simplifier) { s.log = l } }

// Simplifier is immutable after Build apart from its level cache. Build a
// new one when the source collection changes.
type Simplifier struct {
	src  *geojson.FeatureCollection
	topo *topology

	weights    [][]float64
	thresholds map[Bucket]float64
	reason     error

	size  int
	log   *slog.Logger
	mu    sync.Mutex
	cache *lru.Cache[Bucket, *geojson.FeatureCollection]
}

// Build converts fc to a topology and presimplifies it. It never fails: on
// malformed input the simplifier is degraded and serves fc unchanged.
func Build(fc *geojson.FeatureCollection, opts ...Option) *Simplifier {
	s := &Simplifier{src: fc, size: DefaultCacheSize, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.size <= 0 {
		s.size = DefaultCacheSize
	}
	// lru only fails on a non-positive size
	s.cache, _ = lru.New[Bucket, *geojson.FeatureCollection](s.size)

	topo, err := buildTopology(fc)
	observability.IncLODBuild(err != nil)
	if err != nil {
		s.reason = err
		s.log.Warn("lod topology build failed, serving original geometry", "err", err)
		return s
	}
	s.topo = topo

	s.weights = make([][]float64, len(topo.arcs))
	var all []float64
	for i, arc := range topo.arcs {
		s.weights[i] = arcWeights(arc)
		for _, w := range s.weights[i] {
			if !math.IsInf(w, 1) {
				all = append(all, w)
			}
		}
	}
	slices.Sort(all)

	s.thresholds = make(map[Bucket]float64, len(Buckets))
	for _, b := range Buckets {
		s.thresholds[b] = percentile(all, percentiles[b])
	}
	return s
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 || p <= 0 {
		return 0
	}
	i := int(math.Floor(p / 100 * float64(len(sorted)-1)))
	return sorted[i]
}

// Degraded reports whether the topology failed to build and why.
func (s *Simplifier) Degraded() (bool, error) { return s.topo == nil, s.reason }

// Thresholds returns the importance cutoff of each bucket.
func (s *Simplifier) Thresholds() map[Bucket]float64 {
	out := make(map[Bucket]float64, len(s.thresholds))
	for k, v := range s.thresholds {
		out[k] = v
	}
	return out
}

// ArcCount is the number of distinct arcs in the topology.
func (s *Simplifier) ArcCount() int {
	if s.topo == nil {
		return 0
	}
	return len(s.topo.arcs)
}

// SimplifiedFor returns the collection for the bucket that resolution (in
// meters per pixel) falls into.
func (s *Simplifier) SimplifiedFor(resolution float64) Result {
	return s.ForBucket(BucketFor(resolution))
}

// ForBucket returns the memoized collection for b, building it on first use.
func (s *Simplifier) ForBucket(b Bucket) Result {
	if s.topo == nil {
		return Result{Features: s.src, Bucket: b, Degraded: true, Reason: s.reason}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if fc, ok := s.cache.Peek(b); ok {
		observability.IncLODCache(true)
		return Result{Features: fc, Bucket: b, Cached: true}
	}
	observability.IncLODCache(false)

	fc := s.simplify(s.thresholds[b])
	// Peek plus Add never refreshes recency, so eviction is oldest-inserted.
	s.cache.Add(b, fc)
	return Result{Features: fc, Bucket: b}
}

func (s *Simplifier) simplify(threshold float64) *geojson.FeatureCollection {
	kept := make([][]bool, len(s.topo.arcs))
	arcs := make([][]orb.Point, len(s.topo.arcs))
	for i, arc := range s.topo.arcs {
		kept[i] = make([]bool, len(arc))
		for j, w := range s.weights[i] {
			kept[i][j] = w >= threshold
		}
		arcs[i] = pick(arc, kept[i])
	}
	s.repair(kept, arcs)

	out := geojson.NewFeatureCollection()
	for i, fr := range s.topo.features {
		orig := s.src.Features[i]
		f := geojson.NewFeature(orig.Geometry)
		f.ID = orig.ID
		f.Properties = orig.Properties
		// nil only when a ring is degenerate even at full detail, in which
		// case its arcs were all restored and the original is what they hold.
		if g := assemble(fr, arcs); g != nil {
			f.Geometry = g
		}
		out.Append(f)
	}
	return out
}

// repair restores dropped points, most important first, into every ring that
// collapsed below a polygon. Points are restored on the arc, never on the
// ring, so every feature sharing that arc gets them too.
func (s *Simplifier) repair(kept [][]bool, arcs [][]orb.Point) {
	for _, fr := range s.topo.features {
		for _, pr := range fr.polygons {
			for _, rr := range pr {
				for !validRing(stitch(rr, arcs)) {
					a, ok := s.restore(rr, kept)
					if !ok {
						break
					}
					arcs[a] = pick(s.topo.arcs[a], kept[a])
				}
			}
		}
	}
}

// restore marks the heaviest dropped point on any arc of rr as kept and
// returns that arc.
func (s *Simplifier) restore(rr ringRef, kept [][]bool) (int, bool) {
	arc, idx, best := -1, -1, math.Inf(-1)
	for _, ref := range rr {
		for j, w := range s.weights[ref.arc] {
			if !kept[ref.arc][j] && w > best {
				arc, idx, best = ref.arc, j, w
			}
		}
	}
	if arc < 0 {
		return 0, false
	}
	kept[arc][idx] = true
	return arc, true
}

func pick(arc []orb.Point, kept []bool) []orb.Point {
	out := make([]orb.Point, 0, len(arc))
	for i, p := range arc {
		if kept[i] {
			out = append(out, p)
		}
	}
	return out
}

func validRing(r orb.Ring) bool { return len(r) >= 4 && planar.Area(r) != 0 }

// assemble rebuilds a feature geometry from simplified arcs. Degenerate holes
// are dropped, and so are polygons whose exterior degenerates. It returns nil
// when nothing is left.
func assemble(fr featureRef, arcs [][]orb.Point) orb.Geometry {
	var polys orb.MultiPolygon
	for _, pr := range fr.polygons {
		var poly orb.Polygon
		for r, rr := range pr {
			ring := stitch(rr, arcs)
			if !validRing(ring) {
				if r == 0 {
					poly = nil
					break
				}
				continue
			}
			poly = append(poly, ring)
		}
		if len(poly) > 0 {
			polys = append(polys, poly)
		}
	}
	switch {
	case len(polys) == 0:
		return nil
	case !fr.multi && len(polys) == 1:
		return polys[0]
	}
	return polys
}

func stitch(rr ringRef, arcs [][]orb.Point) orb.Ring {
	var ring orb.Ring
	for _, ref := range rr {
		a := arcs[ref.arc]
		if ref.reversed {
			a = slices.Clone(a)
			slices.Reverse(a)
		}
		if len(ring) > 0 && len(a) > 0 && ring[len(ring)-1] == a[0] {
			a = a[1:]
		}
		ring = append(ring, a...)
	}
	return ring
}
