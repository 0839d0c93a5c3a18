package classify

import (
	"math"
	"slices"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	// FallbackColor paints capped categories and pads short custom palettes.
	FallbackColor = "#000000"

	// DefaultColor paints values that cannot be classified.
	DefaultColor = "#cccccc"

	DefaultPalette = "Blues"

	// CategoryPalette is the base list for unique-value classification.
	CategoryPalette = "Category"
)

var ramps = map[string][]string{
	"Blues":    {"#f7fbff", "#deebf7", "#c6dbef", "#9ecae1", "#6baed6", "#4292c6", "#2171b5", "#08519c", "#08306b"},
	"Greens":   {"#f7fcf5", "#e5f5e0", "#c7e9c0", "#a1d99b", "#74c476", "#41ab5d", "#238b45", "#006d2c", "#00441b"},
	"Reds":     {"#fff5f0", "#fee0d2", "#fcbba1", "#fc9272", "#fb6a4a", "#ef3b2c", "#cb181d", "#a50f15", "#67000d"},
	"Oranges":  {"#fff5eb", "#fee6ce", "#fdd0a2", "#fdae6b", "#fd8d3c", "#f16913", "#d94801", "#a63603", "#7f2704"},
	"Purples":  {"#fcfbfd", "#efedf5", "#dadaeb", "#bcbddc", "#9e9ac8", "#807dba", "#6a51a3", "#54278f", "#3f007d"},
	"YlOrRd":   {"#ffffcc", "#ffeda0", "#fed976", "#feb24c", "#fd8d3c", "#fc4e2a", "#e31a1c", "#bd0026", "#800026"},
	"Viridis":  {"#440154", "#482878", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"},
	"Category": {"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd", "#8c564b", "#e377c2"},
}

// Palette selects a named ramp, or explicit colors when Colors is set.
type Palette struct {
	Name   string   `json:"name,omitempty"`
	Colors []string `json:"colors,omitempty"`
}

// PaletteNames returns the known ramp names sorted.
func PaletteNames() []string {
	out := make([]string, 0, len(ramps))
	for k := range ramps {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Ramp returns a copy of the named base ramp. Lookup is case-insensitive.
func Ramp(name string) ([]string, bool) {
	for k, v := range ramps {
		if strings.EqualFold(k, name) {
			return slices.Clone(v), true
		}
	}
	return nil, false
}

// ColorScale returns one color per break stop (or category).
func ColorScale(b Breaks, p Palette, invert bool) ([]string, []Warning) {
	n := b.ColorCount()
	if n == 0 {
		return nil, nil
	}
	var warns []Warning

	if len(p.Colors) > 0 {
		cs := slices.Clone(p.Colors)
		if invert {
			slices.Reverse(cs)
		}
		if len(cs) < n {
			warns = append(warns, warnf(WarnPalettePadded, "%d colors for %d classes, padding with %s", len(cs), n, FallbackColor))
			for len(cs) < n {
				cs = append(cs, FallbackColor)
			}
		}
		return cs[:n], warns
	}

	name := p.Name
	if name == "" {
		name = DefaultPalette
		if b.Method.Categorical() {
			name = CategoryPalette
		}
	}
	ramp, ok := Ramp(name)
	if !ok {
		warns = append(warns, warnf(WarnUnknownPalette, "palette %q not found, using %s", name, DefaultPalette))
		name = DefaultPalette
		ramp, _ = Ramp(name)
	}
	if invert {
		slices.Reverse(ramp)
	}

	if b.Method.Categorical() && strings.EqualFold(name, CategoryPalette) && n <= len(ramp) {
		return ramp[:n], warns
	}

	base := make([]colorful.Color, len(ramp))
	for i, h := range ramp {
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, append(warns, warnf(WarnUnknownPalette, "palette %q has invalid color %q", name, h))
		}
		base[i] = c
	}

	out := make([]string, n)
	for i, t := range positions(b, n) {
		out[i] = sample(base, ramp, t)
	}
	return out, warns
}

// positions maps each stop onto [0,1] using the break values as the domain.
func positions(b Breaks, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = 0.5
		return out
	}
	if !b.Method.Categorical() && len(b.Values) == n {
		lo, hi := b.Values[0], b.Values[n-1]
		if hi > lo {
			for i, v := range b.Values {
				out[i] = (v - lo) / (hi - lo)
			}
			return out
		}
	}
	for i := range out {
		out[i] = float64(i) / float64(n-1)
	}
	return out
}

// sample interpolates the ramp at t in CIE-LAB.
func sample(base []colorful.Color, hex []string, t float64) string {
	t = math.Max(0, math.Min(1, t))
	pos := t * float64(len(base)-1)
	i := int(math.Floor(pos))
	if i >= len(base)-1 {
		return strings.ToLower(hex[len(hex)-1])
	}
	frac := pos - float64(i)
	if frac == 0 {
		return strings.ToLower(hex[i])
	}
	return base[i].BlendLab(base[i+1], frac).Clamped().Hex()
}
