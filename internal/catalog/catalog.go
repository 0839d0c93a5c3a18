// Package catalog resolves {release, country, admin level} to a boundary
// file URL using a release manifest.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

var ErrNotFound = errors.New("no catalog entry")

// Level is an administrative level. It decodes from 1, "1" or "ADM1".
type Level int

func (l *Level) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*l = Level(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("level must be a number or string: %w", err)
	}
	p, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = p
	return nil
}

// ParseLevel accepts "ADM1", "adm1" or "1".
func ParseLevel(s string) (Level, error) {
	t := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "ADM")
	n, err := strconv.Atoi(t)
	if err != nil || n < 0 || n > 5 {
		return 0, fmt.Errorf("invalid admin level %q", s)
	}
	return Level(n), nil
}

func (l Level) String() string { return "ADM" + strconv.Itoa(int(l)) }

type Entry struct {
	Release string `json:"release"`
	ISO3    string `json:"iso3"`
	Level   Level  `json:"level"`
	Path    string `json:"path"`
}

type Manifest struct {
	Entries []Entry `json:"entries"`
}

// ParseManifest reads either a bare entry array or {"entries": [...]}.
func ParseManifest(r io.Reader) (Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	raw = bytes.TrimSpace(raw)

	var m Manifest
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &m.Entries)
	} else {
		err = json.Unmarshal(raw, &m)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	for i, e := range m.Entries {
		if e.ISO3 == "" || e.Path == "" {
			return Manifest{}, fmt.Errorf("manifest entry %d: iso3 and path are required", i)
		}
	}
	return m, nil
}

// Resolve finds the entry for iso3 and level. An empty release picks the
// latest one, the lexicographically greatest tag. Relative paths are joined
// to baseURL.
func (m Manifest) Resolve(release, iso3 string, level Level, baseURL string) (Entry, string, error) {
	var (
		best  Entry
		found bool
	)
	for _, e := range m.Entries {
		if !strings.EqualFold(e.ISO3, iso3) || e.Level != level {
			continue
		}
		if release != "" {
			if e.Release == release {
				best, found = e, true
				break
			}
			continue
		}
		if !found || e.Release > best.Release {
			best, found = e, true
		}
	}
	if !found {
		return Entry{}, "", fmt.Errorf("%w for %s %s release %q", ErrNotFound, strings.ToUpper(iso3), level, release)
	}

	u, err := url.Parse(best.Path)
	if err != nil {
		return Entry{}, "", fmt.Errorf("catalog path %q: %w", best.Path, err)
	}
	if u.IsAbs() {
		return best, u.String(), nil
	}
	if baseURL == "" {
		return Entry{}, "", fmt.Errorf("catalog path %q is relative and no base URL is set", best.Path)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return Entry{}, "", fmt.Errorf("catalog base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return best, base.ResolveReference(u).String(), nil
}
