// Package kvstore defines the durable key-value store contract the messaging
// core persists its state in, with two implementations selected by dependency
// injection: RedisStore for production and MemoryStore for tests.
//
// The contract is deliberately Redis-shaped: string keys with TTL, atomic
// increment, lists, sets, sorted sets and hashes. Every operation is atomic
// per call; no multi-key transactions are assumed. All cross-process state
// (windows, sequence counters, retry buckets, correlation maps) lives here,
// which is what makes multiple worker processes safe against the same window
// or connection.
//
// Keys are namespaced with a per-deployment prefix supplied at construction,
// so several deployments can share one Redis instance.
package kvstore
