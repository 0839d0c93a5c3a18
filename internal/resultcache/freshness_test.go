package resultcache

import (
	"strconv"
	"testing"
	"time"
)

func TestMaxAge(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"max-age=600", 600 * time.Second, true},
		{"public, MAX-AGE=60, must-revalidate", time.Minute, true},
		{`max-age="120"`, 2 * time.Minute, true},
		{"max-age=0", 0, true},
		{"no-store", 0, false},
		{"max-age=-5", 0, false},
		{"max-age=abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := MaxAge(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("MaxAge(%q)=%v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCapTTL(t *testing.T) {
	const fallback = 10 * time.Minute
	for _, s := range []int{1, 60, 599, 600, 601, 3600} {
		header := "max-age=" + strconv.Itoa(s)
		got := CapTTL(fallback, header)
		want := min(fallback, time.Duration(s)*time.Second)
		if got != want {
			t.Fatalf("CapTTL(%v, %q)=%v want %v", fallback, header, got, want)
		}
	}
	if got := CapTTL(fallback, "private"); got != fallback {
		t.Fatalf("no directive: got %v want %v", got, fallback)
	}
	for _, header := range []string{"max-age=9223372037", "max-age=9223372036854775807"} {
		if got := CapTTL(time.Hour, header); got != time.Hour {
			t.Fatalf("CapTTL(1h, %q)=%v want 1h", header, got)
		}
	}
}

func TestMaxAge_HugeValueSaturates(t *testing.T) {
	got, ok := MaxAge("max-age=9223372037")
	if !ok || got <= 0 {
		t.Fatalf("MaxAge=%v,%v want a positive saturated duration", got, ok)
	}
}
