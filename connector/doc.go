// Package connector binds a named worker to the message bus.
//
// A connector owns three independent sub-streams, addressed by routing
// keys derived from its name: <name>.inbound carries user messages from a
// transport toward applications, <name>.outbound carries user messages the
// other way, and <name>.event carries acknowledgement events. Each
// sub-stream can be consumed, published to, and paused independently;
// pausing is backpressure, not drop, with the bus buffering deliveries
// until the stream resumes.
//
// An ordered middleware chain wraps every sub-stream: middleware runs
// first-to-last on the consume side and last-to-first on the publish side,
// so a pair of transformations composed around the bus round-trips
// cleanly. A middleware returning a nil message swallows it (consume-side:
// acknowledged and dropped; publish-side: not sent).
package connector
