// Package bus implements Pulse's event fan-out: an in-process publish/subscribe
// registry plus a best-effort broadcast bridge to an external transport.
//
// Mutation handlers publish domain events to the Bus. Local listeners (feed
// hub, replay buffer) are invoked synchronously in publish order per topic.
// The Bridge then mirrors every publication onto external sinks (Redis
// pub/sub) so clients attached to other server instances receive it too.
//
// Delivery through the bridge is at-most-once and additive: a relay failure is
// a diagnostic, never an error for the mutation that produced the event.
// Correctness is preserved by pull (clients reconcile on their next query).
package bus
