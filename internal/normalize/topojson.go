package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type transform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

type topoGeometry struct {
	Type        string          `json:"type"`
	ID          any             `json:"id"`
	Properties  map[string]any  `json:"properties"`
	Arcs        json.RawMessage `json:"arcs"`
	Coordinates json.RawMessage `json:"coordinates"`
	Geometries  []topoGeometry  `json:"geometries"`
}

type namedObject struct {
	name string
	geom topoGeometry
}

func fromTopology(raw []byte, opts Options) (Result, error) {
	var topo struct {
		Transform *transform      `json:"transform"`
		Arcs      [][][]float64   `json:"arcs"`
		Objects   json.RawMessage `json:"objects"`
	}
	if err := json.Unmarshal(raw, &topo); err != nil {
		return Result{}, schemaErr("topojson: %v", err)
	}
	objects, err := decodeObjects(topo.Objects)
	if err != nil {
		return Result{}, err
	}
	if len(objects) == 0 {
		return Result{}, schemaErr("topology has no objects")
	}

	chosen := selectLayer(objects, opts)
	d := &decoder{arcs: decodeArcs(topo.Arcs, topo.Transform), tf: topo.Transform}

	members := []topoGeometry{chosen.geom}
	if chosen.geom.Type == "GeometryCollection" {
		members = chosen.geom.Geometries
	}

	out := geojson.NewFeatureCollection()
	dropped := 0
	for _, m := range members {
		g, err := d.geometry(m)
		if err != nil {
			return Result{}, schemaErr("object %q: %v", chosen.name, err)
		}
		g = Flatten(g)
		if g == nil {
			dropped++
			continue
		}
		f := geojson.NewFeature(Orient(g))
		f.ID = m.ID
		for k, v := range m.Properties {
			f.Properties[k] = v
		}
		out.Append(f)
	}
	if len(out.Features) == 0 {
		return Result{}, schemaErr("object %q has no polygonal geometry", chosen.name)
	}
	return Result{Features: out, Layer: chosen.name, Dropped: dropped}, nil
}

// decodeObjects keeps the declaration order of the objects map.
func decodeObjects(raw json.RawMessage) ([]namedObject, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, schemaErr("objects: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, schemaErr("objects must be an object")
	}

	var out []namedObject
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, schemaErr("objects: %v", err)
		}
		name, _ := tok.(string)
		var g topoGeometry
		if err := dec.Decode(&g); err != nil {
			return nil, schemaErr("object %q: %v", name, err)
		}
		out = append(out, namedObject{name: name, geom: g})
	}
	return out, nil
}

// selectLayer picks the preferred object when honored and present, else the
// first declared one when asked, else the one with the most polygons.
func selectLayer(objs []namedObject, opts Options) namedObject {
	if opts.HonorPreferredName && opts.PreferredName != "" {
		for _, o := range objs {
			if o.name == opts.PreferredName {
				return o
			}
		}
	}
	if opts.PreferFirst {
		return objs[0]
	}
	best, bestN := 0, -1
	for i, o := range objs {
		if n := polygonCount(o.geom); n > bestN {
			best, bestN = i, n
		}
	}
	return objs[best]
}

func polygonCount(g topoGeometry) int {
	switch g.Type {
	case "Polygon", "MultiPolygon":
		return 1
	case "GeometryCollection":
		n := 0
		for _, m := range g.Geometries {
			n += polygonCount(m)
		}
		return n
	}
	return 0
}

// decodeArcs applies delta decoding and the quantization transform.
func decodeArcs(arcs [][][]float64, tf *transform) [][]orb.Point {
	out := make([][]orb.Point, len(arcs))
	for i, arc := range arcs {
		pts := make([]orb.Point, 0, len(arc))
		var x, y float64
		for _, p := range arc {
			if len(p) < 2 {
				continue
			}
			if tf == nil {
				pts = append(pts, orb.Point{p[0], p[1]})
				continue
			}
			x += p[0]
			y += p[1]
			pts = append(pts, orb.Point{
				x*tf.Scale[0] + tf.Translate[0],
				y*tf.Scale[1] + tf.Translate[1],
			})
		}
		out[i] = pts
	}
	return out
}

type decoder struct {
	arcs [][]orb.Point
	tf   *transform
}

func (d *decoder) geometry(g topoGeometry) (orb.Geometry, error) {
	switch g.Type {
	case "Polygon":
		var rings [][]int
		if err := json.Unmarshal(g.Arcs, &rings); err != nil {
			return nil, fmt.Errorf("polygon arcs: %w", err)
		}
		return d.polygon(rings)
	case "MultiPolygon":
		var polys [][][]int
		if err := json.Unmarshal(g.Arcs, &polys); err != nil {
			return nil, fmt.Errorf("multipolygon arcs: %w", err)
		}
		mp := make(orb.MultiPolygon, 0, len(polys))
		for _, rings := range polys {
			p, err := d.polygon(rings)
			if err != nil {
				return nil, err
			}
			mp = append(mp, p)
		}
		return mp, nil
	case "LineString":
		var idx []int
		if err := json.Unmarshal(g.Arcs, &idx); err != nil {
			return nil, fmt.Errorf("linestring arcs: %w", err)
		}
		pts, err := d.line(idx)
		if err != nil {
			return nil, err
		}
		return orb.LineString(pts), nil
	case "MultiLineString":
		var lines [][]int
		if err := json.Unmarshal(g.Arcs, &lines); err != nil {
			return nil, fmt.Errorf("multilinestring arcs: %w", err)
		}
		ml := make(orb.MultiLineString, 0, len(lines))
		for _, idx := range lines {
			pts, err := d.line(idx)
			if err != nil {
				return nil, err
			}
			ml = append(ml, pts)
		}
		return ml, nil
	case "Point":
		var p []float64
		if err := json.Unmarshal(g.Coordinates, &p); err != nil {
			return nil, fmt.Errorf("point coordinates: %w", err)
		}
		if len(p) < 2 {
			return nil, fmt.Errorf("point needs two coordinates, got %d", len(p))
		}
		return d.position(p), nil
	case "MultiPoint":
		var ps [][]float64
		if err := json.Unmarshal(g.Coordinates, &ps); err != nil {
			return nil, fmt.Errorf("multipoint coordinates: %w", err)
		}
		mp := make(orb.MultiPoint, 0, len(ps))
		for _, p := range ps {
			if len(p) >= 2 {
				mp = append(mp, d.position(p))
			}
		}
		return mp, nil
	case "GeometryCollection":
		c := make(orb.Collection, 0, len(g.Geometries))
		for _, m := range g.Geometries {
			mg, err := d.geometry(m)
			if err != nil {
				return nil, err
			}
			if mg != nil {
				c = append(c, mg)
			}
		}
		return c, nil
	case "", "null":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown geometry type %q", g.Type)
}

func (d *decoder) position(p []float64) orb.Point {
	if d.tf == nil {
		return orb.Point{p[0], p[1]}
	}
	return orb.Point{
		p[0]*d.tf.Scale[0] + d.tf.Translate[0],
		p[1]*d.tf.Scale[1] + d.tf.Translate[1],
	}
}

func (d *decoder) polygon(rings [][]int) (orb.Polygon, error) {
	p := make(orb.Polygon, 0, len(rings))
	for _, idx := range rings {
		pts, err := d.line(idx)
		if err != nil {
			return nil, err
		}
		for len(pts) > 0 && len(pts) < 4 {
			pts = append(pts, pts[0])
		}
		p = append(p, orb.Ring(pts))
	}
	return p, nil
}

// line stitches arcs together, dropping the shared point between
// consecutive arcs. A negative index ~i means arc i reversed.
func (d *decoder) line(idx []int) ([]orb.Point, error) {
	var pts []orb.Point
	for _, i := range idx {
		j := i
		if j < 0 {
			j = ^j
		}
		if j >= len(d.arcs) {
			return nil, fmt.Errorf("arc index %d out of range", i)
		}
		arc := d.arcs[j]
		if len(pts) > 0 {
			pts = pts[:len(pts)-1]
		}
		if i < 0 {
			for k := len(arc) - 1; k >= 0; k-- {
				pts = append(pts, arc[k])
			}
		} else {
			pts = append(pts, arc...)
		}
	}
	return pts, nil
}
