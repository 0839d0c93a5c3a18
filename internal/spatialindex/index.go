// Package spatialindex is a read-only R-tree over feature bounding boxes.
// Entries refer to features by their position in the source collection.
package spatialindex

import (
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"
)

type Index struct {
	tr     rtree.RTreeG[int]
	bounds []orb.Bound
	geoms  []orb.Geometry
	extent orb.Bound
	empty  bool
}

// Build indexes every feature with a geometry. Rebuild it when the
// collection changes.
func Build(fc *geojson.FeatureCollection) *Index {
	ix := &Index{empty: true}
	if fc == nil {
		return ix
	}
	ix.bounds = make([]orb.Bound, len(fc.Features))
	ix.geoms = make([]orb.Geometry, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		ix.bounds[i] = b
		ix.geoms[i] = f.Geometry
		ix.tr.Insert([2]float64(b.Min), [2]float64(b.Max), i)
		if ix.empty {
			ix.extent, ix.empty = b, false
		} else {
			ix.extent = ix.extent.Union(b)
		}
	}
	return ix
}

func (ix *Index) Len() int { return ix.tr.Len() }

// Extent is the union of all feature bounds; ok is false for an empty index.
func (ix *Index) Extent() (orb.Bound, bool) { return ix.extent, !ix.empty }

// Query returns the positions of features whose bounding box intersects b,
// in ascending order.
func (ix *Index) Query(b orb.Bound) []int {
	var out []int
	ix.tr.Search([2]float64(b.Min), [2]float64(b.Max), func(_, _ [2]float64, i int) bool {
		out = append(out, i)
		return true
	})
	slices.Sort(out)
	return out
}

// At returns the features whose polygon contains p.
func (ix *Index) At(p orb.Point) []int {
	var out []int
	for _, i := range ix.Query(orb.Bound{Min: p, Max: p}) {
		switch g := ix.geoms[i].(type) {
		case orb.Polygon:
			if planar.PolygonContains(g, p) {
				out = append(out, i)
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(g, p) {
				out = append(out, i)
			}
		}
	}
	return out
}
