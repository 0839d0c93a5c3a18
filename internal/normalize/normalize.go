// Package normalize turns GeoJSON and TopoJSON boundary payloads into a
// canonical polygon-only FeatureCollection.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// ErrSchema marks a payload that is not a usable FeatureCollection or Topology.
var ErrSchema = errors.New("invalid boundary payload")

// Options controls which object of a multi-object topology is used.
type Options struct {
	PreferredName      string
	PreferFirst        bool
	HonorPreferredName bool
}

// Result is the canonical collection plus what happened on the way.
type Result struct {
	Features *geojson.FeatureCollection

	// Layer is the chosen topology object, empty for GeoJSON input.
	Layer   string
	Dropped int
}

type envelope struct {
	Type     string          `json:"type"`
	Features json.RawMessage `json:"features"`
	Objects  json.RawMessage `json:"objects"`
	Arcs     json.RawMessage `json:"arcs"`
}

func schemaErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSchema}, args...)...)
}

// Normalize detects the payload kind and returns polygonal features only.
func Normalize(raw []byte, opts Options) (Result, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, schemaErr("decode: %v", err)
	}

	switch {
	case env.Type == "Topology" && isJSONObject(env.Objects) && isJSONArray(env.Arcs):
		return fromTopology(raw, opts)
	case env.Type == "FeatureCollection" && isJSONArray(env.Features):
		return fromFeatureCollection(raw)
	case env.Type == "Topology":
		return Result{}, schemaErr("topology requires objects and arcs")
	case env.Type == "FeatureCollection":
		return Result{}, schemaErr("feature collection without features array")
	default:
		return Result{}, schemaErr("unsupported top-level type %q", env.Type)
	}
}

func fromFeatureCollection(raw []byte) (Result, error) {
	in, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return Result{}, schemaErr("geojson: %v", err)
	}

	out := geojson.NewFeatureCollection()
	dropped := 0
	for _, f := range in.Features {
		g := Flatten(f.Geometry)
		if g == nil {
			dropped++
			continue
		}
		nf := geojson.NewFeature(Orient(g))
		nf.ID = f.ID
		if f.Properties != nil {
			nf.Properties = f.Properties
		}
		out.Append(nf)
	}
	return Result{Features: out, Dropped: dropped}, nil
}

func isJSONObject(b json.RawMessage) bool { return firstByte(b) == '{' }

func isJSONArray(b json.RawMessage) bool { return firstByte(b) == '[' }

func firstByte(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c
	}
	return 0
}
