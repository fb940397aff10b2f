// Package smpp correlates outbound message submissions with the
// asynchronous responses an SMPP-style peer sends back.
//
// A submission is identified on the wire by a short-lived sequence number;
// once the peer accepts it, the peer assigns a longer-lived remote ID that
// later delivery reports refer to. The engine keeps both mappings in the
// key-value store under bounded TTLs, so correlation survives process
// restarts but cannot grow without bound. A lookup miss on a response is
// logged and dropped: with TTL'd state this is the one accepted gap in
// at-least-once delivery.
//
// Long messages may fan out into several wire submissions. The engine
// resolves the parent message only once every part has a response, using
// an atomic counter in the store so exactly one ack or nack is emitted
// even when part responses race across processes.
//
// When the peer signals throttling, the engine pauses the transport's
// outbound connector (backpressure, the bus buffers) and retries the
// throttled message itself after a fixed delay.
package smpp
