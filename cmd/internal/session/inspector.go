package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeExpiry extracts the "exp" claim from a JWT-shaped access token
// without verifying its signature. Verification belongs to the API server;
// the client only needs the expiry to schedule rotation.
//
// Fails closed: a malformed token, an undecodable payload segment, or a
// missing claim reports ok=false and must be treated as already expired,
// never as "valid forever".
func DecodeExpiry(token string) (time.Time, bool) {
	if strings.TrimSpace(token) == "" {
		return time.Time{}, false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time.UTC(), true
}

// IsExpired reports whether the token's expiry is at or before now.
// Undecodable tokens are expired.
func IsExpired(token string, now time.Time) bool {
	exp, ok := DecodeExpiry(token)
	if !ok {
		return true
	}
	return !exp.After(now)
}

// TimeRemaining returns the token's remaining lifetime, floored at 0.
func TimeRemaining(token string, now time.Time) time.Duration {
	exp, ok := DecodeExpiry(token)
	if !ok {
		return 0
	}
	rem := exp.Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// IsAboutToExpire reports whether the token is still valid but within window
// of its expiry (0 < remaining <= window).
//
// An already expired token is NOT about to expire; the two conditions are
// mutually exclusive and callers are expected to test both.
func IsAboutToExpire(token string, now time.Time, window time.Duration) bool {
	rem := TimeRemaining(token, now)
	return rem > 0 && rem <= window
}
