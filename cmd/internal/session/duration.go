package session

import (
	"math"
	"strings"
	"time"
)

// ParseCompactDuration parses compact duration strings of the form
// <integer><unit>, unit one of s, m, h, d ("90s", "10m", "1h", "7d").
//
// It is a total function over strings: any other shape (empty input, missing
// or unknown suffix, sign characters, overflow) yields 0. Callers must treat
// 0 as "no duration configured", never as a valid zero-length interval.
func ParseCompactDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0
	}

	var n int64
	for _, c := range s[:len(s)-1] {
		if c < '0' || c > '9' {
			return 0
		}
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0
		}
		n = n*10 + d
	}

	if n > math.MaxInt64/int64(unit) {
		return 0
	}
	return time.Duration(n) * unit
}
