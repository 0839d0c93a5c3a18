// Package joinkey finds the boundary property that best matches the join
// values supplied with the user's data.
package joinkey

import (
	"errors"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// ErrNoMatch is returned when no candidate property matches any join value.
var ErrNoMatch = errors.New("no boundary feature matches the join values")

// Conventional identifier properties found in common boundary releases.
var Conventional = []string{
	"shapeID", "shapeISO", "shapeName", "shapeGroup",
	"GID_0", "GID_1", "GID_2", "HASC_1", "HASC_2",
	"NAME_0", "NAME_1", "NAME_2",
	"ISO", "ISO_A2", "ISO_A3", "iso_3166_2", "iso_a2", "iso_a3",
	"ADM0_PCODE", "ADM1_PCODE", "ADM2_PCODE", "ADM1_EN", "ADM2_EN",
	"id", "code", "name", "NAME",
}

type Resolution struct {
	OriginalKey   string
	UsedKey       string
	BestCount     int
	OriginalCount int

	FilteredByUsedKey  []*geojson.Feature
	FilteredByOriginal []*geojson.Feature
}

// Candidates returns key followed by the conventional names, without
// duplicates.
func Candidates(key string) []string {
	out := make([]string, 0, len(Conventional)+1)
	seen := make(map[string]struct{}, len(Conventional)+1)
	for _, c := range append([]string{key}, Conventional...) {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Resolve scores every candidate by how many features carry a valid join
// value. Ties go to the earlier candidate, so the caller's key wins a tie.
func Resolve(fc *geojson.FeatureCollection, key string, valid []string) (Resolution, error) {
	set := ValueSet(valid)
	res := Resolution{OriginalKey: key, UsedKey: key}
	if fc == nil {
		return res, ErrNoMatch
	}

	best := -1
	for _, cand := range Candidates(key) {
		n := countMatches(fc.Features, cand, set)
		if cand == key {
			res.OriginalCount = n
		}
		if n > best {
			best = n
			res.UsedKey = cand
		}
	}
	res.BestCount = max(best, 0)
	res.FilteredByUsedKey = Filter(fc.Features, res.UsedKey, set)
	res.FilteredByOriginal = Filter(fc.Features, key, set)

	if res.BestCount == 0 {
		res.UsedKey = key
		return res, ErrNoMatch
	}
	return res, nil
}

func countMatches(fs []*geojson.Feature, key string, set map[string]struct{}) int {
	n := 0
	for _, f := range fs {
		if _, ok := set[PropertyValue(f, key)]; ok {
			n++
		}
	}
	return n
}

// Filter keeps the features whose key property is in set, preserving order.
func Filter(fs []*geojson.Feature, key string, set map[string]struct{}) []*geojson.Feature {
	var out []*geojson.Feature
	if key == "" {
		return out
	}
	for _, f := range fs {
		if _, ok := set[PropertyValue(f, key)]; ok {
			out = append(out, f)
		}
	}
	return out
}

// ValueSet builds the lookup set of trimmed, non-empty join values.
func ValueSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// PropertyValue returns the property as a trimmed string, or "" when it is
// missing or not a primitive.
func PropertyValue(f *geojson.Feature, key string) string {
	if f == nil || f.Properties == nil {
		return ""
	}
	v, ok := f.Properties[key]
	if !ok {
		return ""
	}
	return Normalize(v)
}

// Normalize renders a primitive join value the way it is compared.
func Normalize(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case interface{ String() string }:
		return strings.TrimSpace(x.String())
	}
	return ""
}
