package normalize

import "github.com/paulmach/orb"

// Flatten reduces g to its polygonal parts. It returns nil when nothing
// polygonal remains.
func Flatten(g orb.Geometry) orb.Geometry {
	var polys orb.MultiPolygon
	collectPolygons(g, &polys)
	switch len(polys) {
	case 0:
		return nil
	case 1:
		if _, ok := g.(orb.MultiPolygon); !ok {
			return polys[0]
		}
	}
	return polys
}

func collectPolygons(g orb.Geometry, out *orb.MultiPolygon) {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 {
			*out = append(*out, v)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			if len(p) > 0 {
				*out = append(*out, p)
			}
		}
	case orb.Collection:
		for _, m := range v {
			collectPolygons(m, out)
		}
	}
}

// IsPolygonal reports whether g is a Polygon or MultiPolygon.
func IsPolygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}
