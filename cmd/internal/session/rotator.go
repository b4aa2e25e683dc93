package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// RotationResult is the rotation endpoint's response surfaced to the Manager.
type RotationResult struct {
	AccessToken     string
	AccessExpiresAt time.Time

	// RefreshRemaining is how long the refresh credential stays valid as
	// reported by the server; RefreshKnown is false when the server omits it,
	// in which case the cutoff check stays server-side.
	RefreshRemaining time.Duration
	RefreshKnown     bool
}

// Rotator mints a new access token using the out-of-band refresh credential.
type Rotator interface {
	Rotate(ctx context.Context, extendSession bool) (RotationResult, error)
}

// HTTPRotator talks to the rotation endpoint over HTTP.
//
// The refresh credential is an HTTP-only cookie owned by the client's cookie
// jar. Application code never reads or sends it explicitly; it can only
// trigger its use.
type HTTPRotator struct {
	url    string
	client *http.Client
}

// NewHTTPRotator constructs an HTTPRotator. When client is nil, a default
// client with its own cookie jar and a 10s timeout is used.
func NewHTTPRotator(url string, client *http.Client) *HTTPRotator {
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Timeout: 10 * time.Second, Jar: jar}
	}
	return &HTTPRotator{url: url, client: client}
}

type rotateRequest struct {
	ExtendSession bool `json:"extend_session"`
}

type rotateResponse struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshRemaining *int64 `json:"refresh_remaining_s,omitempty"`
}

// Rotate implements Rotator.
//
// Error mapping: HTTP 401/403 mean the server invalidated the refresh
// credential and wrap ErrRotationRejected; everything else (network errors,
// timeouts, 5xx, undecodable bodies) wraps ErrRotationTransport.
func (r *HTTPRotator) Rotate(ctx context.Context, extendSession bool) (RotationResult, error) {
	body, err := json.Marshal(rotateRequest{ExtendSession: extendSession})
	if err != nil {
		return RotationResult{}, fmt.Errorf("%w: %v", ErrRotationTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return RotationResult{}, fmt.Errorf("%w: %v", ErrRotationTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return RotationResult{}, fmt.Errorf("%w: %v", ErrRotationTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return RotationResult{}, fmt.Errorf("%w: status %d", ErrRotationRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return RotationResult{}, fmt.Errorf("%w: status %d", ErrRotationTransport, resp.StatusCode)
	}

	var wire rotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return RotationResult{}, fmt.Errorf("%w: decode response: %v", ErrRotationTransport, err)
	}
	if wire.AccessToken == "" || wire.AccessExpiresAt <= 0 {
		return RotationResult{}, fmt.Errorf("%w: incomplete response", ErrRotationTransport)
	}

	res := RotationResult{
		AccessToken:     wire.AccessToken,
		AccessExpiresAt: time.Unix(wire.AccessExpiresAt, 0).UTC(),
	}
	if wire.RefreshRemaining != nil {
		res.RefreshRemaining = time.Duration(*wire.RefreshRemaining) * time.Second
		res.RefreshKnown = true
	}
	return res, nil
}
