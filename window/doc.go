// Package window provides a sliding-window admission controller bounding
// the number of in-flight (sent-but-unacknowledged) items per remote peer.
//
// A window is a named, durable, FIFO-ish queue: items wait in a queue until
// a flight slot opens, move to the in-flight set when popped, and leave the
// window when acknowledged or when their flight exceeds a lifetime and is
// reclaimed. An external-ID mapping correlates remote-assigned identifiers
// back to internal keys for protocols where the peer names messages itself.
//
// All window state lives in the key-value store, so multiple manager
// instances may serve the same window concurrently: whoever wins the atomic
// pop owns the item. The room check before the pop is advisory: under
// concurrent managers the in-flight count can transiently exceed the window
// size, since the check and the pop are separate store calls. The bound is
// hard only for a single sequential caller. Fixing this would need a
// compare-and-pop server-side primitive; production experience with the
// advisory check has not justified one.
package window
