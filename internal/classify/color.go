package classify

import (
	"math"
	"strconv"
)

// ColorFor maps a value onto colors. Numeric values below the first stop get
// the first color and values at or above the last stop get the last one.
// Unknown or capped categories get FallbackColor; values that cannot be read
// as numbers under a numeric method get DefaultColor.
func ColorFor(v any, b Breaks, colors []string) string {
	if len(colors) == 0 {
		return DefaultColor
	}
	if b.Method.Categorical() {
		l := Label(v)
		for i, c := range b.Categories {
			if c == l {
				if i < len(colors) {
					return colors[i]
				}
				break
			}
		}
		return FallbackColor
	}

	f, ok := ToFloat(v)
	if !ok || len(b.Values) == 0 {
		return DefaultColor
	}
	if f < b.Values[0] {
		return colors[0]
	}
	idx := 0
	for i := len(b.Values) - 1; i >= 0; i-- {
		if f >= b.Values[i] {
			idx = i
			break
		}
	}
	return colors[min(idx, len(colors)-1)]
}

// ColorFunc returns a pure value-to-color function over copies of its inputs.
func ColorFunc(b Breaks, colors []string) func(any) string {
	bb := Breaks{
		Method:     b.Method,
		Values:     append([]float64(nil), b.Values...),
		Categories: append([]string(nil), b.Categories...),
		Capped:     b.Capped,
	}
	cs := append([]string(nil), colors...)
	return func(v any) string { return ColorFor(v, bb, cs) }
}

type LegendEntry struct {
	Label    string  `json:"label"`
	Color    string  `json:"color"`
	From     float64 `json:"from,omitempty"`
	To       float64 `json:"to,omitempty"`
	Category string  `json:"category,omitempty"`
}

// Legend describes each color class in order. Capped categorical legends end
// with an "Other" entry in FallbackColor.
func Legend(b Breaks, colors []string) []LegendEntry {
	if b.Method.Categorical() {
		out := make([]LegendEntry, 0, len(b.Categories)+1)
		for i, c := range b.Categories {
			col := FallbackColor
			if i < len(colors) {
				col = colors[i]
			}
			out = append(out, LegendEntry{Label: c, Color: col, Category: c})
		}
		if b.Capped {
			out = append(out, LegendEntry{Label: "Other", Color: FallbackColor})
		}
		return out
	}

	if len(b.Values) == 0 || len(colors) == 0 {
		return nil
	}
	if b.collapsed() {
		v := b.Values[0]
		return []LegendEntry{{Label: formatNum(v), Color: colors[0], From: v, To: v}}
	}
	out := make([]LegendEntry, 0, len(b.Values))
	for i, from := range b.Values {
		col := colors[min(i, len(colors)-1)]
		if i == len(b.Values)-1 {
			out = append(out, LegendEntry{Label: formatNum(from), Color: col, From: from, To: from})
			continue
		}
		to := b.Values[i+1]
		out = append(out, LegendEntry{
			Label: formatNum(from) + " - " + formatNum(to),
			Color: col,
			From:  from,
			To:    to,
		})
	}
	return out
}

func formatNum(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
