package lod

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrMalformed is the degraded reason for geometry the topology cannot hold.
var ErrMalformed = errors.New("malformed geometry")

type arcRef struct {
	arc      int
	reversed bool
}

type ringRef []arcRef

type polygonRef []ringRef

type featureRef struct {
	polygons []polygonRef
	multi    bool
}

// topology stores each shared boundary once as an arc.
type topology struct {
	arcs     [][]orb.Point
	features []featureRef
}

type neighbors struct {
	a, b     orb.Point
	junction bool
}

func buildTopology(fc *geojson.FeatureCollection) (*topology, error) {
	if fc == nil {
		return nil, fmt.Errorf("%w: nil collection", ErrMalformed)
	}

	rings := make([][][][]orb.Point, len(fc.Features))
	multi := make([]bool, len(fc.Features))
	for i, f := range fc.Features {
		var polys orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polys = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			polys = g
			multi[i] = true
		default:
			return nil, fmt.Errorf("%w: feature %d has %T geometry", ErrMalformed, i, f.Geometry)
		}
		rings[i] = make([][][]orb.Point, len(polys))
		for p, poly := range polys {
			rings[i][p] = make([][]orb.Point, len(poly))
			for r, ring := range poly {
				pts, err := openRing(ring)
				if err != nil {
					return nil, fmt.Errorf("feature %d polygon %d ring %d: %w", i, p, r, err)
				}
				rings[i][p][r] = pts
			}
		}
	}

	junctions := findJunctions(rings)

	t := &topology{features: make([]featureRef, len(fc.Features))}
	index := map[uint64][]int{}
	for i := range rings {
		fr := featureRef{multi: multi[i], polygons: make([]polygonRef, len(rings[i]))}
		for p := range rings[i] {
			pr := make(polygonRef, len(rings[i][p]))
			for r, pts := range rings[i][p] {
				pr[r] = t.cut(pts, junctions, index)
			}
			fr.polygons[p] = pr
		}
		t.features[i] = fr
	}
	return t, nil
}

// openRing validates a closed ring and returns it without the closing point
// and without consecutive duplicates.
func openRing(r orb.Ring) ([]orb.Point, error) {
	if len(r) < 4 {
		return nil, fmt.Errorf("%w: ring has %d points", ErrMalformed, len(r))
	}
	if r[0] != r[len(r)-1] {
		return nil, fmt.Errorf("%w: ring is not closed", ErrMalformed)
	}
	out := make([]orb.Point, 0, len(r)-1)
	for _, p := range r[:len(r)-1] {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return nil, fmt.Errorf("%w: non-finite coordinate", ErrMalformed)
		}
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[len(out)-1] == out[0] {
		out = out[:len(out)-1]
	}
	if len(out) < 3 {
		return nil, fmt.Errorf("%w: ring collapses to %d distinct points", ErrMalformed, len(out))
	}
	return out, nil
}

// findJunctions marks points where rings stop sharing a boundary.
func findJunctions(rings [][][][]orb.Point) map[orb.Point]bool {
	seen := map[orb.Point]*neighbors{}
	for _, f := range rings {
		for _, p := range f {
			for _, pts := range p {
				n := len(pts)
				for i, pt := range pts {
					prev, next := pts[(i+n-1)%n], pts[(i+1)%n]
					rec, ok := seen[pt]
					if !ok {
						seen[pt] = &neighbors{a: prev, b: next}
						continue
					}
					if rec.junction {
						continue
					}
					if !(rec.a == prev && rec.b == next) && !(rec.a == next && rec.b == prev) {
						rec.junction = true
					}
				}
			}
		}
	}
	out := make(map[orb.Point]bool)
	for pt, rec := range seen {
		if rec.junction {
			out[pt] = true
		}
	}
	return out
}

// cut splits an open ring at junctions into arcs, reusing existing arcs.
func (t *topology) cut(pts []orb.Point, junctions map[orb.Point]bool, index map[uint64][]int) ringRef {
	start := -1
	for i, p := range pts {
		if junctions[p] {
			start = i
			break
		}
	}

	if start < 0 {
		ring := rotateToMin(pts)
		ring = append(ring, ring[0])
		return ringRef{t.intern(ring, index)}
	}

	n := len(pts)
	var ref ringRef
	arc := []orb.Point{pts[start]}
	for k := 1; k <= n; k++ {
		p := pts[(start+k)%n]
		arc = append(arc, p)
		if junctions[p] {
			ref = append(ref, t.intern(arc, index))
			arc = []orb.Point{p}
		}
	}
	return ref
}

func rotateToMin(pts []orb.Point) []orb.Point {
	m := 0
	for i, p := range pts {
		if p[0] < pts[m][0] || (p[0] == pts[m][0] && p[1] < pts[m][1]) {
			m = i
		}
	}
	out := make([]orb.Point, 0, len(pts)+1)
	out = append(out, pts[m:]...)
	return append(out, pts[:m]...)
}

func (t *topology) intern(arc []orb.Point, index map[uint64][]int) arcRef {
	h := hashPoints(arc, false)
	for _, id := range index[h] {
		if equalPoints(t.arcs[id], arc, false) {
			return arcRef{arc: id}
		}
	}
	hr := hashPoints(arc, true)
	for _, id := range index[hr] {
		if equalPoints(t.arcs[id], arc, true) {
			return arcRef{arc: id, reversed: true}
		}
	}
	id := len(t.arcs)
	t.arcs = append(t.arcs, append([]orb.Point(nil), arc...))
	index[h] = append(index[h], id)
	return arcRef{arc: id}
}

func hashPoints(pts []orb.Point, reversed bool) uint64 {
	d := xxhash.New()
	var buf [16]byte
	for i := range pts {
		p := pts[i]
		if reversed {
			p = pts[len(pts)-1-i]
		}
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(p[0]))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p[1]))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

func equalPoints(a, b []orb.Point, reversed bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		j := i
		if reversed {
			j = len(b) - 1 - i
		}
		if a[i] != b[j] {
			return false
		}
	}
	return true
}
