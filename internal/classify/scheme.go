package classify

// Options selects how a value array is classified and colored.
type Options struct {
	Method  Method  `json:"method"`
	Classes int     `json:"classes"`
	Palette Palette `json:"palette"`
	Invert  bool    `json:"invert"`
}

// Scheme is a complete classification: breaks, one color per class and any
// degradations hit on the way.
type Scheme struct {
	Breaks   Breaks
	Colors   []string
	Warnings []Warning
}

// Build classifies values and derives the color ramp. It never fails:
// degenerate inputs produce warnings instead.
func Build(values []any, o Options) Scheme {
	b, warns := Classify(values, o.Method, o.Classes)
	colors, cw := ColorScale(b, o.Palette, o.Invert)
	return Scheme{Breaks: b, Colors: colors, Warnings: append(warns, cw...)}
}

// Classify dispatches on the method. A single distinct numeric value
// collapses to the range [v, v].
func Classify(values []any, m Method, classes int) (Breaks, []Warning) {
	if m.Categorical() {
		cats, capped := Categories(values)
		b := Breaks{Method: m, Categories: cats, Capped: capped}
		if capped {
			return b, []Warning{warnf(WarnCategoriesCapped, "more than %d categories; the rest use %s", MaxCategories, FallbackColor)}
		}
		if len(cats) == 0 {
			return b, []Warning{warnf(WarnNoValues, "no categories to classify")}
		}
		return b, nil
	}

	var warns []Warning
	nums := make([]float64, 0, len(values))
	skipped := 0
	for _, v := range values {
		if f, ok := ToFloat(v); ok {
			nums = append(nums, f)
		} else if v != nil {
			skipped++
		}
	}
	if skipped > 0 {
		warns = append(warns, warnf(WarnNonNumeric, "%d non-numeric values ignored", skipped))
	}

	vals, bw := ClassBreaks(nums, m, classes)
	warns = append(warns, bw...)
	if len(vals) == 1 {
		warns = append(warns, warnf(WarnSingleValue, "single distinct value %g", vals[0]))
		vals = []float64{vals[0], vals[0]}
	}
	return Breaks{Method: m, Values: vals}, warns
}

func (s Scheme) ColorFor(v any) string { return ColorFor(v, s.Breaks, s.Colors) }

func (s Scheme) ColorFunc() func(any) string { return ColorFunc(s.Breaks, s.Colors) }

func (s Scheme) Legend() []LegendEntry { return Legend(s.Breaks, s.Colors) }
