// Package symbols bins point values into H3 cells for proportional-symbol
// overlays.
package symbols

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/choropleth-cache/internal/classify"
	"github.com/mohammed-shakir/choropleth-cache/internal/lod"
)

const DefaultMaxRadius = 24.0

type Point struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Value float64 `json:"value"`
}

// Symbol is one binned cell. Lat/Lng is the cell center.
type Symbol struct {
	Cell   string  `json:"cell"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Value  float64 `json:"value"`
	Count  int     `json:"count"`
	Radius float64 `json:"radius"`
}

// ResForBucket picks the H3 resolution matching a level of detail.
func ResForBucket(b lod.Bucket) int {
	switch b {
	case lod.Coarse:
		return 3
	case lod.Low:
		return 4
	case lod.Medium:
		return 5
	case lod.High:
		return 6
	default:
		return 7
	}
}

// Bin sums point values per H3 cell at res. Radii scale with the square root
// of the value so symbol area tracks value; the largest symbol gets
// maxRadius. Output is sorted by cell.
func Bin(points []Point, res int, maxRadius float64) ([]Symbol, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if maxRadius <= 0 {
		maxRadius = DefaultMaxRadius
	}

	byCell := make(map[h3.Cell]*Symbol, len(points))
	for _, p := range points {
		if math.IsNaN(p.Value) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			continue
		}
		c, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell for %v,%v: %w", p.Lat, p.Lng, err)
		}
		s, ok := byCell[c]
		if !ok {
			center, err := c.LatLng()
			if err != nil {
				return nil, fmt.Errorf("h3 cell center: %w", err)
			}
			s = &Symbol{Cell: c.String(), Lat: center.Lat, Lng: center.Lng}
			byCell[c] = s
		}
		s.Value += p.Value
		s.Count++
	}

	out := make([]Symbol, 0, len(byCell))
	var maxV float64
	for _, s := range byCell {
		maxV = math.Max(maxV, s.Value)
		out = append(out, *s)
	}
	for i := range out {
		if maxV > 0 && out[i].Value > 0 {
			out[i].Radius = maxRadius * math.Sqrt(out[i].Value/maxV)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out, nil
}

// FromFeatures turns each polygon feature with a numeric prop into a point
// at its area centroid.
func FromFeatures(fc *geojson.FeatureCollection, prop string) []Point {
	if fc == nil {
		return nil
	}
	out := make([]Point, 0, len(fc.Features))
	for _, f := range fc.Features {
		v, ok := classify.ToFloat(f.Properties[prop])
		if !ok {
			continue
		}
		var c orb.Point
		switch g := f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			c, _ = planar.CentroidArea(g)
		default:
			continue
		}
		out = append(out, Point{Lat: c[1], Lng: c[0], Value: v})
	}
	return out
}

var errInvalidRes = errors.New("invalid H3 resolution")

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("%w %d (must be 0..15)", errInvalidRes, res)
	}
	return nil
}
