// Package keys builds the cache keys that identify boundary sources.
package keys

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxReadableLen = 160

// SourceKey identifies a custom boundary URL. Scheme and host are lowercased,
// the query string and fragment are stripped and a trailing slash is dropped,
// so cosmetic URL variants share one cache entry.
func SourceKey(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("source url %q has no host", rawURL)
	}
	norm := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimSuffix(u.EscapedPath(), "/")

	readable := sanitizeForKey(norm)
	if len(readable) > maxReadableLen {
		readable = readable[:maxReadableLen]
	}
	return fmt.Sprintf("src:url:%s:h=%016x", readable, xxhash.Sum64String(norm)), nil
}

// CatalogKey identifies a catalog-resolved source by release, country and
// admin level. An empty release means "latest".
func CatalogKey(release, iso3 string, level int) string {
	rel := sanitizeForKey(strings.TrimSpace(release))
	if rel == "" {
		rel = "latest"
	}
	return fmt.Sprintf("src:cat:%s:%s:adm%d", rel, strings.ToUpper(strings.TrimSpace(iso3)), level)
}

// ValueSetKey fingerprints a set of join values independent of order and
// surrounding whitespace.
func ValueSetKey(values []string) string {
	norm := make([]string, 0, len(values))
	for _, v := range values {
		norm = append(norm, strings.TrimSpace(v))
	}
	slices.Sort(norm)
	norm = slices.Compact(norm)

	d := xxhash.New()
	for _, v := range norm {
		_, _ = d.WriteString(v)
		_, _ = d.Write([]byte{0})
	}
	return fmt.Sprintf("vals:%d:%016x", len(norm), d.Sum64())
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// any other rune (including non-ASCII and '/') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
