package session

import "errors"

var (
	// ErrMalformedToken is returned when an access token cannot be decoded
	// structurally. Treated as already expired, never as valid.
	ErrMalformedToken = errors.New("malformed access token")

	// ErrRotationTransport is returned for network or timeout failures talking
	// to the rotation endpoint. Retried once before the session degrades.
	ErrRotationTransport = errors.New("rotation transport failure")

	// ErrRotationRejected is returned when the server explicitly invalidates
	// the refresh credential (revoked or expired). No retry; the session is
	// expired immediately.
	ErrRotationRejected = errors.New("rotation rejected")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
