// Package worker provides a generic, bounded worker pool for concurrent task
// processing.
//
// The pool manages a fixed number of goroutines consuming from a bounded
// channel. Submit is non-blocking: when the queue is full the work item is
// rejected with ErrQueueFull, signalling overload to the caller rather than
// blocking the submission path. Statistics are always tracked with atomics;
// Prometheus metrics are optional and enabled by supplying a metrics
// registry.
//
// The retry delivery sweep in the failures package is the main consumer: due
// failure records are fanned out to a pool so one slow re-publish does not
// stall the sweep.
package worker
