// Package classify computes class breaks and color ramps for choropleth
// values and maps individual values to colors.
package classify

import (
	"fmt"
	"strings"
)

type Method string

const (
	Quantile      Method = "quantile"
	EqualInterval Method = "equal-interval"
	Logarithmic   Method = "logarithmic"
	KMeans        Method = "k-means"
	Jenks         Method = "jenks"
	Unique        Method = "unique"
)

// Methods lists every supported method in a stable order.
var Methods = []Method{Quantile, EqualInterval, Logarithmic, KMeans, Jenks, Unique}

// ParseMethod accepts the canonical names plus a few common spellings.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "quantile", "q":
		return Quantile, nil
	case "equal-interval", "equal_interval", "equal", "e":
		return EqualInterval, nil
	case "logarithmic", "log", "l":
		return Logarithmic, nil
	case "k-means", "kmeans", "k":
		return KMeans, nil
	case "jenks", "natural-breaks", "natural_breaks":
		return Jenks, nil
	case "unique", "categorical", "category":
		return Unique, nil
	}
	return "", fmt.Errorf("unknown classification method %q", s)
}

func (m Method) Categorical() bool { return m == Unique }

func (m Method) String() string { return string(m) }
