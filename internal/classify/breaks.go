package classify

import (
	"math"
	"slices"
)

// Breaks is the outcome of a classification. Numeric breaks are ascending
// color stops: Values[i] is the lowest value painted with color i.
type Breaks struct {
	Method     Method    `json:"method"`
	Values     []float64 `json:"values,omitempty"`
	Categories []string  `json:"categories,omitempty"`

	// Capped is set when more than MaxCategories distinct categories existed.
	Capped bool `json:"capped,omitempty"`
}

// ColorCount is the number of ramp colors the breaks need.
func (b Breaks) ColorCount() int {
	if b.Method.Categorical() {
		return len(b.Categories)
	}
	if b.collapsed() {
		return 1
	}
	return len(b.Values)
}

func (b Breaks) collapsed() bool {
	return len(b.Values) == 2 && b.Values[0] == b.Values[1]
}

// ClassBreaks computes numeric breaks. With two or fewer distinct values the
// sorted distinct values are returned as is, whatever the method.
func ClassBreaks(values []float64, m Method, classes int) ([]float64, []Warning) {
	d := distinctSorted(values)
	var warns []Warning
	switch len(d) {
	case 0:
		return nil, []Warning{warnf(WarnNoValues, "no numeric values to classify")}
	case 1, 2:
		return d, []Warning{warnf(WarnFewValues, "%d distinct values, classification skipped", len(d))}
	}

	if classes > len(d) {
		warns = append(warns, warnf(WarnClassesClamped, "%d classes requested, %d distinct values", classes, len(d)))
		classes = len(d)
	}
	classes = max(classes, 2)

	var out []float64
	switch m {
	case Quantile:
		out = quantileStops(d, classes-1)
	case EqualInterval:
		out = equalStops(d[0], d[len(d)-1], classes-1)
	case Logarithmic:
		if d[0] <= 0 {
			warns = append(warns, warnf(WarnLogNonPositive, "logarithmic breaks need positive values, min is %g; using equal-interval", d[0]))
			out = equalStops(d[0], d[len(d)-1], classes-1)
		} else {
			out = logStops(d[0], d[len(d)-1], classes-1)
		}
	case KMeans:
		out = kmeansStops(d, classes-1)
	case Jenks:
		out = jenksStops(d, classes-1)
	default:
		warns = append(warns, warnf(WarnUnknownMethod, "method %q is not numeric; using quantile", m))
		out = quantileStops(d, classes-1)
	}
	return dedupe(out), warns
}

func distinctSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func dedupe(v []float64) []float64 {
	slices.Sort(v)
	return slices.Compact(v)
}

// quantileStops interpolates n+1 limits over the sorted values.
func quantileStops(d []float64, n int) []float64 {
	out := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		p := float64(len(d)-1) * float64(i) / float64(n)
		lo := int(math.Floor(p))
		if lo >= len(d)-1 {
			out[i] = d[len(d)-1]
			continue
		}
		out[i] = d[lo] + (p-float64(lo))*(d[lo+1]-d[lo])
	}
	return out
}

func equalStops(lo, hi float64, n int) []float64 {
	out := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		out[i] = lo + float64(i)*(hi-lo)/float64(n)
	}
	out[n] = hi
	return out
}

func logStops(lo, hi float64, n int) []float64 {
	a, b := math.Log10(lo), math.Log10(hi)
	out := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		out[i] = math.Pow(10, a+float64(i)*(b-a)/float64(n))
	}
	out[0], out[n] = lo, hi
	return out
}
