// Package metric provides Prometheus metrics for the vumigo platform.
//
// A MetricsRegistry owns the process-wide Prometheus registry, the core
// platform metrics shared by all workers, and per-component registrations.
// Components accept an optional registry at construction; a nil registry
// disables metrics without changing any code path.
package metric
