package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	"github.com/mohammed-shakir/choropleth-cache/internal/pipeline"
)

func parseSource(rawURL, iso3, level, release string) (pipeline.Source, error) {
	rawURL, iso3 = strings.TrimSpace(rawURL), strings.TrimSpace(iso3)
	switch {
	case rawURL != "" && iso3 != "":
		return pipeline.Source{}, errors.New("url and iso3 are mutually exclusive")
	case rawURL != "":
		return pipeline.Source{URL: rawURL}, nil
	case iso3 != "":
		lvl, err := catalog.ParseLevel(level)
		if err != nil {
			return pipeline.Source{}, err
		}
		return pipeline.Source{Catalog: &pipeline.CatalogRef{Release: strings.TrimSpace(release), ISO3: iso3, Level: lvl}}, nil
	}
	return pipeline.Source{}, errors.New("missing required parameter: url or iso3")
}

// parseBBOX reads x1,y1,x2,y2 with an optional fifth EPSG:4326 element.
func parseBBOX(bboxParam string) (orb.Bound, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return orb.Bound{}, errors.New("expected x1,y1,x2,y2[,EPSG:4326]")
	}
	if len(parts) == 5 {
		if srid := strings.ToUpper(strings.TrimSpace(parts[4])); srid != "EPSG:4326" {
			return orb.Bound{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
	}
	var v [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		f, err := parseFloat(parts[i])
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	xMin, yMin, xMax, yMax := v[0], v[1], v[2], v[3]

	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return orb.Bound{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return orb.Bound{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax <= xMin || yMax <= yMin {
		return orb.Bound{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return orb.Bound{Min: orb.Point{xMin, yMin}, Max: orb.Point{xMax, yMax}}, nil
}

func parsePoint(raw string) (orb.Point, error) {
	lon, lat, ok := strings.Cut(raw, ",")
	if !ok {
		return orb.Point{}, errors.New("expected lon,lat")
	}
	x, err := parseFloat(lon)
	if err != nil {
		return orb.Point{}, fmt.Errorf("lon: %w", err)
	}
	y, err := parseFloat(lat)
	if err != nil {
		return orb.Point{}, fmt.Errorf("lat: %w", err)
	}
	if x < -180 || x > 180 || y < -90 || y > 90 {
		return orb.Point{}, errors.New("point out of range")
	}
	return orb.Point{x, y}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
