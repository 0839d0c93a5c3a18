// Package invalidation defines the boundary release events that evict
// cached sources.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/choropleth-cache/internal/cache/keys"
	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
)

const (
	OpRelease  = "release"
	OpWithdraw = "withdraw"
)

// Event announces that a boundary source changed. It names either a source
// key directly or a catalog triple.
type Event struct {
	Version   int            `json:"version"`
	Op        string         `json:"op"`
	SourceKey string         `json:"source_key,omitempty"`
	Release   string         `json:"release,omitempty"`
	ISO3      string         `json:"iso3,omitempty"`
	Level     *catalog.Level `json:"level,omitempty"`
	TS        time.Time      `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case OpRelease, OpWithdraw:
	default:
		return errors.New("op must be release|withdraw")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	hasKey := strings.TrimSpace(e.SourceKey) != ""
	hasCatalog := strings.TrimSpace(e.ISO3) != ""
	if hasKey == hasCatalog {
		return errors.New("exactly one of source_key or iso3 is required")
	}
	if hasKey {
		if !strings.HasPrefix(e.SourceKey, "src:") {
			return fmt.Errorf("source_key %q is not a source key", e.SourceKey)
		}
		return nil
	}
	if len(strings.TrimSpace(e.ISO3)) != 3 {
		return fmt.Errorf("iso3 %q must have three letters", e.ISO3)
	}
	if e.Level == nil {
		return errors.New("level is required with iso3")
	}
	return nil
}

// IsCatalog reports whether the event names a catalog triple.
func (e Event) IsCatalog() bool { return e.SourceKey == "" && e.ISO3 != "" }

// DedupeKey identifies what the event invalidates, for ordering purposes.
func (e Event) DedupeKey() string {
	if !e.IsCatalog() {
		return e.SourceKey
	}
	var lvl int
	if e.Level != nil {
		lvl = int(*e.Level)
	}
	return keys.CatalogKey(e.Release, e.ISO3, lvl)
}
