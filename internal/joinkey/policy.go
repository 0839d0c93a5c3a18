package joinkey

// Decision labels what the caller did with a Resolution.
type Decision string

const (
	Kept     Decision = "kept"
	Adopted  Decision = "adopted"
	Fallback Decision = "fallback"
	NoMatch  Decision = "no_match"
)

// Policy holds the adoption thresholds. Both scale down to the number of
// valid join values.
type Policy struct {
	MinMatches int
	MinMargin  int
}

func DefaultPolicy() Policy { return Policy{MinMatches: 3, MinMargin: 2} }

// Decide reports whether the detected key should replace the original one.
// validCount is the number of distinct valid join values.
func (p Policy) Decide(r Resolution, validCount int) Decision {
	if r.BestCount == 0 {
		return NoMatch
	}
	if r.UsedKey == r.OriginalKey {
		return Kept
	}
	minMatches := min(p.MinMatches, validCount)
	minMargin := min(p.MinMargin, validCount)
	if r.BestCount >= minMatches && r.BestCount-r.OriginalCount >= minMargin {
		return Adopted
	}
	if r.OriginalCount == 0 {
		return Fallback
	}
	return Kept
}

// Key returns the key to join on for decision d.
func (r Resolution) Key(d Decision) string {
	if d == Adopted || d == Fallback {
		return r.UsedKey
	}
	return r.OriginalKey
}
