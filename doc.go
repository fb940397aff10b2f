// Package vumigo is a messaging middleware core: it routes messages between
// transports and applications over a NATS message bus, bounds concurrency
// toward slow stateful peers with a sliding-window admission controller, and
// implements at-least-once delivery with a durable failure ledger backed by
// Redis.
//
// # Architecture
//
// The platform is built from a small set of composable pieces:
//
//	┌──────────────────────────────────────┐
//	│            Dispatcher                │  routes between named
//	│   (static routing table, errbacks)   │  connectors
//	└──────────────────────────────────────┘
//	            ↓ publishes via
//	┌──────────────────────────────────────┐
//	│            Connectors                │  inbound / outbound / event
//	│  (middleware, pause/resume, bus)     │  sub-streams per connector
//	└──────────────────────────────────────┘
//	            ↓ communicate via
//	┌──────────────────────────────────────┐
//	│         NATS JetStream bus           │  at-least-once delivery,
//	│    (ack/nak, prefetch, durable)      │  consumer backpressure
//	└──────────────────────────────────────┘
//
// Reliable delivery toward a stateful wire protocol (SMPP and friends) adds
// three more pieces, all persisting their state in a Redis-compatible store
// so that multiple worker processes can share it:
//
//   - window: a sliding-window admission controller bounding the number of
//     in-flight submissions per remote peer, with expiry-based reclamation.
//   - sequence: a durable, rollover-safe sequence number generator.
//   - failures: a failure ledger with time-bucketed retry scheduling and
//     exponential backoff.
//
// The smpp package ties them together: it correlates asynchronous submit
// responses and delivery reports back to outbound messages via short-lived
// sequence numbers and remote-assigned message IDs, handles throttling
// backpressure by pausing the outbound connector, and funnels every failure
// into an ack, a nack, or a ledger entry.
//
// # Packages
//
// Core:
//   - message: transport message and event envelopes
//   - kvstore: Redis-backed (and in-memory) key-value store
//   - bus: JetStream-backed (and in-memory) message bus
//   - connector: named bidirectional message channels
//   - dispatcher: routing between connectors
//   - window: sliding-window flow control
//   - sequence: durable sequence numbers
//   - failures: failure ledger and retry scheduling
//   - smpp: outbound/inbound correlation engine
//
// Infrastructure:
//   - config: explicit configuration with validation
//   - errors: classified error handling
//   - metric: Prometheus metrics registry
//   - pkg/retry: backoff helpers
//   - pkg/worker: generic worker pools
package vumigo
