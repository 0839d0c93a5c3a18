package pipeline

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	"github.com/mohammed-shakir/choropleth-cache/internal/classify"
	"github.com/mohammed-shakir/choropleth-cache/internal/classify/stable"
	"github.com/mohammed-shakir/choropleth-cache/internal/joinkey"
	"github.com/mohammed-shakir/choropleth-cache/internal/lod"
	"github.com/mohammed-shakir/choropleth-cache/internal/normalize"
	"github.com/mohammed-shakir/choropleth-cache/internal/symbols"
)

// ValueProperty is the feature property that carries the joined row value.
const ValueProperty = "value"

// Source names a boundary dataset: a custom URL or a catalog triple.
type Source struct {
	URL     string      `json:"url,omitempty"`
	Catalog *CatalogRef `json:"catalog,omitempty"`
}

type CatalogRef struct {
	Release string        `json:"release,omitempty"`
	ISO3    string        `json:"iso3"`
	Level   catalog.Level `json:"level"`
}

type Row struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type Request struct {
	Source  Source            `json:"source"`
	Layer   normalize.Options `json:"layer"`
	JoinKey string            `json:"join_key"`
	Rows    []Row             `json:"rows"`
	Method  classify.Method   `json:"method,omitempty"`
	Classes int               `json:"classes,omitempty"`
	Palette classify.Palette  `json:"palette"`
	Invert  bool              `json:"invert,omitempty"`

	// Resolution is the map scale in meters per pixel.
	Resolution float64 `json:"resolution"`
	MeasureID  string  `json:"measure_id,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	Symbols    bool    `json:"symbols,omitempty"`
}

// Warning is a non-fatal degradation reported with an output.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Output is everything the rendering side needs. It is inert data apart from
// ColorFunc, which is a pure function of Breaks and Colors.
type Output struct {
	Features  *geojson.FeatureCollection `json:"features"`
	SourceKey string                     `json:"source_key"`
	Layer     string                     `json:"layer,omitempty"`

	UsedKey      string           `json:"used_key"`
	JoinDecision joinkey.Decision `json:"join_decision"`
	Matched      int              `json:"matched"`

	Breaks classify.Breaks        `json:"breaks"`
	Colors []string               `json:"colors"`
	Legend []classify.LegendEntry `json:"legend"`
	Window *stable.Window         `json:"window,omitempty"`

	// Extent is in EPSG:3857 meters.
	Extent   orb.Bound        `json:"extent"`
	Bucket   lod.Bucket       `json:"lod"`
	Degraded bool             `json:"lod_degraded,omitempty"`
	Symbols  []symbols.Symbol `json:"symbols,omitempty"`

	// Stale marks a previous output returned because this render failed.
	Stale    bool      `json:"stale,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`

	ColorFunc func(any) string `json:"-"`
}

// HitRequest looks up features by bounding box or, when Point is set, by
// exact polygon containment.
type HitRequest struct {
	Source Source            `json:"source"`
	Layer  normalize.Options `json:"layer"`
	Bound  orb.Bound         `json:"bbox"`
	Point  *orb.Point        `json:"point,omitempty"`
}

type Hit struct {
	Index      int                `json:"index"`
	Properties geojson.Properties `json:"properties"`
}
