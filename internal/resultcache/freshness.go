package resultcache

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxAge extracts the max-age directive from a Cache-Control style value.
func MaxAge(header string) (time.Duration, bool) {
	for part := range strings.SplitSeq(header, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"`)
		secs, err := strconv.ParseInt(val, 10, 64)
		if err != nil || secs < 0 {
			return 0, false
		}
		if secs > int64(math.MaxInt64/time.Second) {
			return math.MaxInt64, true
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// CapTTL returns min(ttl, max-age) when the header carries a max-age
// directive, and ttl unchanged otherwise.
func CapTTL(ttl time.Duration, header string) time.Duration {
	if ma, ok := MaxAge(header); ok && ma < ttl {
		return ma
	}
	return ttl
}
