// Package feed implements real-time event delivery for Pulse.
//
// Server side: the Hub tracks connected WebSocket clients grouped by user and
// fans bus envelopes out to them; the Gateway upgrades HTTP requests,
// authenticating each connection with the caller's current access token; the
// Replay buffer keeps a bounded window of recent envelopes so clients can
// reconcile over plain HTTP after losing their socket.
//
// Client side: the Subscriber maintains one connection per session, always
// dialing with the latest token from its session Reader, and degrades to
// polling when the socket cannot be established. Envelopes are deduplicated
// by event id and by origin so a client that produced an event locally never
// applies the mirrored broadcast a second time.
package feed
