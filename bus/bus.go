package bus

import (
	"context"
	"errors"
)

// Well-known bus errors
var (
	ErrNotConnected   = errors.New("bus: not connected")
	ErrConsumerClosed = errors.New("bus: consumer stopped")
	ErrClosed         = errors.New("bus: closed")
)

// Handler processes one delivered message. Returning nil acknowledges the
// message; returning an error naks it for redelivery.
type Handler func(ctx context.Context, data []byte) error

// Consumer is a handle on one subscription. Pausing stops delivery to the
// handler without discarding queued messages; unacknowledged messages are
// redelivered after connection loss or consumer restart.
type Consumer interface {
	// Pause stops delivering messages to the handler
	Pause()
	// Unpause resumes delivery
	Unpause()
	// Paused reports whether the consumer is currently paused
	Paused() bool
	// Stop permanently stops the consumer
	Stop() error
}

// Bus is the publish/subscribe contract consumed by connectors.
type Bus interface {
	// Publish sends a payload to a routing key. It returns once the bus
	// has accepted the message, not once any consumer has processed it.
	Publish(ctx context.Context, routingKey string, data []byte) error

	// Consume registers a handler for a routing key. prefetch bounds the
	// number of unacknowledged deliveries outstanding at once; zero means
	// the implementation default.
	Consume(routingKey string, handler Handler, prefetch int) (Consumer, error)

	// Close stops all consumers and releases the connection
	Close() error
}
