package classify

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
)

// MaxCategories is the number of categories that receive ramp colors.
const MaxCategories = 7

// Categories returns the sorted distinct labels of values, capped to
// MaxCategories. Labels sort numerically when every value is numeric and
// case-insensitively otherwise.
func Categories(values []any) (cats []string, capped bool) {
	seen := make(map[string]struct{}, len(values))
	numeric := true
	for _, v := range values {
		l := Label(v)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		cats = append(cats, l)
		if _, ok := ToFloat(v); !ok {
			numeric = false
		}
	}
	SortLabels(cats, numeric)
	if len(cats) > MaxCategories {
		return cats[:MaxCategories], true
	}
	return cats, false
}

// SortLabels sorts in place, numerically or case-insensitively.
func SortLabels(labels []string, numeric bool) {
	if numeric {
		slices.SortFunc(labels, func(a, b string) int {
			fa, _ := strconv.ParseFloat(a, 64)
			fb, _ := strconv.ParseFloat(b, 64)
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return strings.Compare(a, b)
		})
		return
	}
	slices.SortFunc(labels, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
}

// Label renders a primitive value as a category label.
func Label(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		return strconv.FormatBool(x)
	}
	if f, ok := ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// ToFloat converts numeric values, including numeric strings, to float64.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
