// Package bus defines the message bus contract the messaging core publishes
// and consumes through, with a NATS JetStream implementation for production
// and an in-memory implementation for tests.
//
// Delivery is at-least-once with consumer-side acknowledgement: a handler
// returning nil acks the message, a handler returning an error naks it for
// redelivery. Consume takes a prefetch hint bounding unacknowledged
// deliveries where the backend supports it, and consumers support
// pause/resume. Pausing stops consumption without
// losing buffered messages, which is the backpressure primitive the
// connector layer builds on.
package bus
