package classify

import "fmt"

type WarningKind string

const (
	WarnNoValues         WarningKind = "no_values"
	WarnSingleValue      WarningKind = "single_value"
	WarnFewValues        WarningKind = "few_values"
	WarnClassesClamped   WarningKind = "classes_clamped"
	WarnNonNumeric       WarningKind = "non_numeric"
	WarnLogNonPositive   WarningKind = "log_non_positive"
	WarnCategoriesCapped WarningKind = "categories_capped"
	WarnUnknownPalette   WarningKind = "unknown_palette"
	WarnPalettePadded    WarningKind = "palette_padded"
	WarnUnknownMethod    WarningKind = "unknown_method"
)

// Warning is a non-fatal classification degradation.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

func (w Warning) String() string { return string(w.Kind) + ": " + w.Message }

func warnf(kind WarningKind, format string, args ...any) Warning {
	return Warning{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
