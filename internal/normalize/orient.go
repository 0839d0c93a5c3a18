package normalize

import "github.com/paulmach/orb"

// Orient applies the right-hand rule: exterior rings counter-clockwise,
// holes clockwise. Rings are copied, never reversed in place.
func Orient(g orb.Geometry) orb.Geometry {
	switch v := g.(type) {
	case orb.Polygon:
		return orientPolygon(v)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = orientPolygon(p)
		}
		return out
	}
	return g
}

func orientPolygon(rings orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(rings))
	for i, r := range rings {
		want := orb.CW
		if i == 0 {
			want = orb.CCW
		}
		o := r.Orientation()
		if o == 0 || o == want {
			out[i] = r
			continue
		}
		c := r.Clone()
		c.Reverse()
		out[i] = c
	}
	return out
}
