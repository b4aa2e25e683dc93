package app

import (
	"errors"
	"fmt"
	"time"

	"pulse/cmd/internal/feed"

	"github.com/golang-jwt/jwt/v5"
)

const minJWTSecretBytes = 32

var errNoSubject = errors.New("token has no subject claim")

// ValidateSecurityConfig enforces the token verification policy at startup.
//
// Fail-fast is intentional: silently accepting unverified tokens in
// production is unacceptable. Claims-only verification stays available for
// local development where no signing secret exists.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("security policy: PULSE_JWT_SECRET is too short (min %d bytes)", minJWTSecretBytes)
	}
	if cfg.RequireJWTSecret && cfg.JWTSecret == "" {
		return errors.New("security policy: PULSE_REQUIRE_JWT_SECRET=true but PULSE_JWT_SECRET is missing")
	}
	return nil
}

// newVerifier picks the token verifier for the gateway and JSON API.
func newVerifier(cfg Config, log Logger) feed.TokenVerifier {
	if cfg.JWTSecret != "" {
		return hs256Verifier{secret: []byte(cfg.JWTSecret)}
	}
	log.Warn("security.verifier.claims_only", "reason", "PULSE_JWT_SECRET not set")
	return claimsVerifier{}
}

// hs256Verifier validates HS256 signatures and resolves the subject claim.
type hs256Verifier struct {
	secret []byte
}

// Verify implements feed.TokenVerifier.
func (v hs256Verifier) Verify(token string, now time.Time) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	tok, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !tok.Valid {
		return "", jwt.ErrTokenUnverifiable
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errNoSubject
	}
	return sub, nil
}

// claimsVerifier trusts token claims without checking the signature.
// Development only; expiry is still enforced so stale tokens never connect.
type claimsVerifier struct{}

// Verify implements feed.TokenVerifier.
func (claimsVerifier) Verify(token string, now time.Time) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", jwt.ErrTokenRequiredClaimMissing
	}
	if !exp.Time.After(now) {
		return "", jwt.ErrTokenExpired
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errNoSubject
	}
	return sub, nil
}
