// Package session implements Pulse's client-side session lifecycle.
//
// It tracks the short-lived access token's remaining lifetime, decides when to
// rotate it silently against the long-lived refresh credential, and when to
// stop rotating and ask the user instead, so the renew-session dialog always
// has room to appear before the refresh credential actually expires.
//
// The decision logic lives in a pure state machine (Machine) that only ever
// returns intended actions; the Manager executes them (rotation calls, the
// renew prompt, forced logout) and is the single writer of session state.
// Readers take immutable snapshots through the Reader capability, never a
// live reference.
//
// The refresh credential itself is opaque to this package: it rides an
// HTTP-only cookie owned by the rotator's http.Client and is only ever
// triggered, never read.
package session
