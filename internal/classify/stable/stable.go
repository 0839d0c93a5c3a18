// Package stable keeps categorical legend colors steady across data
// refreshes.
//
// Integer categories live in a sliding window of placeholders whose color is
// fixed by the placeholder value modulo the window size, so values that stay
// inside the window never change color when it slides. Text categories keep
// an append-only first-seen order.
package stable

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"

	"github.com/mohammed-shakir/choropleth-cache/internal/classify"
)

// Window is a run of Slots contiguous integer placeholders starting at Start.
type Window struct {
	Start int `json:"start"`
	Slots int `json:"slots"`
}

func (w Window) End() int { return w.Start + w.Slots - 1 }

func (w Window) Contains(v int) bool { return v >= w.Start && v <= w.End() }

// Assignment is the categorical classification produced for one refresh.
type Assignment struct {
	Breaks   classify.Breaks
	Colors   []string
	Window   *Window
	Reset    bool
	Warnings []classify.Warning
}

type Assigner struct {
	mu      sync.Mutex
	palette []string

	slots       int
	window      *Window
	order       []string
	categorical bool
	measure     string
}

// New returns an assigner painting from palette, which should hold at least
// classify.MaxCategories colors.
func New(palette []string) *Assigner {
	if len(palette) == 0 {
		palette, _ = classify.Ramp(classify.CategoryPalette)
	}
	return &Assigner{palette: append([]string(nil), palette...)}
}

// Clone returns an independent copy of the assigner. Callers classify
// against the copy and keep it only if the result is used.
func (a *Assigner) Clone() *Assigner {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := &Assigner{
		palette:     a.palette,
		slots:       a.slots,
		order:       slices.Clone(a.order),
		categorical: a.categorical,
		measure:     a.measure,
	}
	if a.window != nil {
		w := *a.window
		c.window = &w
	}
	return c
}

// Reset discards the window and the text order.
func (a *Assigner) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Assigner) resetLocked() {
	a.window = nil
	a.order = nil
	a.slots = 0
}

// Leave records a render under a numeric method, so the next categorical
// render starts from scratch.
func (a *Assigner) Leave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.categorical = false
}

// Window returns the current numeric window, if any.
func (a *Assigner) Window() (Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.window == nil {
		return Window{}, false
	}
	return *a.window, true
}

// ReserveWindow builds a fresh window anchored at lo.
func (a *Assigner) ReserveWindow(lo, slots int) Window {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserveLocked(lo, slots)
}

func (a *Assigner) reserveLocked(lo, slots int) Window {
	a.slots = slots
	a.window = &Window{Start: lo, Slots: slots}
	return *a.window
}

// SlideWindow moves the window as little as possible so it covers [lo, hi].
// When the span is wider than the window it anchors at lo.
func (a *Assigner) SlideWindow(lo, hi int) (Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slideLocked(lo, hi)
}

func (a *Assigner) slideLocked(lo, hi int) (Window, bool) {
	if a.window == nil {
		return a.reserveLocked(lo, max(a.slots, 1)), true
	}
	w := *a.window
	switch {
	case w.Contains(lo) && w.Contains(hi):
		return w, false
	case hi-lo+1 > w.Slots:
		w.Start = lo
	case lo < w.Start:
		w.Start = lo
	default:
		w.Start = hi - w.Slots + 1
	}
	a.window = &w
	return w, true
}

// Assign classifies values categorically, keeping earlier colors where the
// data allows. State is reset when the previous render was not categorical,
// the measure changed, or the number of slots changed.
func (a *Assigner) Assign(values []any, classes int, measureID string) Assignment {
	a.mu.Lock()
	defer a.mu.Unlock()

	slots := classes
	if slots <= 0 || slots > classify.MaxCategories {
		slots = classify.MaxCategories
	}
	slots = min(slots, len(a.palette))

	var out Assignment
	if !a.categorical || measureID != a.measure || slots != a.slots {
		a.resetLocked()
		out.Reset = true
	}
	a.categorical = true
	a.measure = measureID
	a.slots = slots

	if ints, ok := integers(values); ok && len(ints) > 0 {
		return a.assignNumericLocked(ints, out)
	}
	return a.assignTextLocked(values, out)
}

func (a *Assigner) assignNumericLocked(ints []int, out Assignment) Assignment {
	lo, hi := ints[0], ints[0]
	for _, v := range ints {
		lo, hi = min(lo, v), max(hi, v)
	}

	var w Window
	if a.window == nil {
		w = a.reserveLocked(lo, a.slots)
		if hi > w.End() {
			out.Warnings = append(out.Warnings, spanWarning(lo, hi, w))
		}
	} else {
		w, _ = a.slideLocked(lo, hi)
		if hi-lo+1 > w.Slots {
			out.Warnings = append(out.Warnings, spanWarning(lo, hi, w))
		}
	}
	a.order = nil

	cats := make([]string, w.Slots)
	colors := make([]string, w.Slots)
	for i := range cats {
		v := w.Start + i
		cats[i] = strconv.Itoa(v)
		colors[i] = a.colorForPlaceholder(v)
	}
	out.Breaks = classify.Breaks{Method: classify.Unique, Categories: cats}
	out.Colors = colors
	out.Window = &w
	return out
}

func (a *Assigner) colorForPlaceholder(v int) string {
	i := ((v % a.slots) + a.slots) % a.slots
	return a.palette[i]
}

func (a *Assigner) assignTextLocked(values []any, out Assignment) Assignment {
	a.window = nil

	known := make(map[string]struct{}, len(a.order))
	for _, c := range a.order {
		known[c] = struct{}{}
	}
	var fresh []string
	seen := map[string]struct{}{}
	for _, v := range values {
		l := classify.Label(v)
		if l == "" {
			continue
		}
		if _, ok := known[l]; ok {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		fresh = append(fresh, l)
	}
	classify.SortLabels(fresh, false)

	for _, l := range fresh {
		if len(a.order) >= a.slots {
			out.Warnings = append(out.Warnings, classify.Warning{
				Kind:    classify.WarnCategoriesCapped,
				Message: fmt.Sprintf("%d categories kept, %s and later use %s", a.slots, l, classify.FallbackColor),
			})
			break
		}
		a.order = append(a.order, l)
	}

	cats := append([]string(nil), a.order...)
	out.Breaks = classify.Breaks{Method: classify.Unique, Categories: cats, Capped: len(out.Warnings) > 0}
	out.Colors = append([]string(nil), a.palette[:len(cats)]...)
	return out
}

func spanWarning(lo, hi int, w Window) classify.Warning {
	return classify.Warning{
		Kind:    classify.WarnCategoriesCapped,
		Message: fmt.Sprintf("values %d..%d exceed window %d..%d", lo, hi, w.Start, w.End()),
	}
}

// integers reports whether every non-nil value is an integral number.
func integers(values []any) ([]int, bool) {
	out := make([]int, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		f, ok := classify.ToFloat(v)
		if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<31 {
			return nil, false
		}
		out = append(out, int(f))
	}
	return out, true
}
