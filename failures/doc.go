// Package failures records failed outbound operations durably and retries
// the temporary ones at a computed future time.
//
// Every failure is persisted as a hash in the key-value store under a
// lexicographically time-ordered key, and indexed in a global set for
// operator inspection. Failures classified temporary are additionally
// scheduled into per-timestamp retry buckets: the due time is now plus the
// message's current backoff delay, rounded up to the next granularity
// boundary, so that "what is due right now" is a single lookup against a
// sorted time index rather than a scan of the whole ledger.
//
// A periodic delivery sweep pops due keys and re-publishes the stored
// messages verbatim through a worker pool. Delivery is at-least-once and
// ordered only by bucket timestamp, not by insertion order within a bucket.
package failures
