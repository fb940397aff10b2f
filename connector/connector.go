package connector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/praekeltfoundation/vumigo/bus"
	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/metric"
)

// MessageHandler processes one decoded user message. Returning an error
// naks the delivery for redelivery.
type MessageHandler func(ctx context.Context, msg *message.TransportMessage) error

// EventHandler processes one decoded transport event
type EventHandler func(ctx context.Context, ev *message.TransportEvent) error

// Config holds connector configuration
type Config struct {
	// Name of the connector; routing keys are derived from it
	Name string `json:"name"`
	// Prefetch bounds unacknowledged deliveries per sub-stream; zero uses
	// the bus default
	Prefetch int `json:"prefetch"`
	// Middleware chain applied to every sub-stream
	Middleware []Middleware `json:"-"`
}

// Validate checks the connector configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"connector.Config", "Validate", "name must be set")
	}
	if c.Prefetch < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"connector.Config", "Validate", "prefetch cannot be negative")
	}
	return nil
}

// Connector binds a named worker to its three bus sub-streams
type Connector struct {
	cfg    Config
	b      bus.Bus
	logger *slog.Logger

	metrics *metric.Metrics

	mu              sync.Mutex
	inboundHandler  MessageHandler
	outboundHandler MessageHandler
	eventHandler    EventHandler
	consumers       map[message.Direction]bus.Consumer
	started         bool
	paused          bool
}

// NewConnector creates a connector over the given bus
func NewConnector(b bus.Bus, cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connector{
		cfg:       cfg,
		b:         b,
		logger:    logger.With("connector", cfg.Name),
		consumers: make(map[message.Direction]bus.Consumer),
	}
	if registry != nil {
		c.metrics = registry.CoreMetrics()
	}
	return c, nil
}

// Name returns the connector's name
func (c *Connector) Name() string {
	return c.cfg.Name
}

// RoutingKey returns the bus routing key for one sub-stream
func (c *Connector) RoutingKey(direction message.Direction) string {
	return c.cfg.Name + "." + string(direction)
}

// SetInboundHandler registers the handler for the inbound sub-stream.
// Handlers must be registered before Start.
func (c *Connector) SetInboundHandler(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inboundHandler = h
}

// SetOutboundHandler registers the handler for the outbound sub-stream
func (c *Connector) SetOutboundHandler(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outboundHandler = h
}

// SetEventHandler registers the handler for the event sub-stream
func (c *Connector) SetEventHandler(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandler = h
}

// Start begins consuming every sub-stream that has a registered handler
func (c *Connector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	if c.inboundHandler != nil {
		if err := c.consume(message.DirectionInbound, c.messageHandler(message.DirectionInbound, c.inboundHandler)); err != nil {
			return err
		}
	}
	if c.outboundHandler != nil {
		if err := c.consume(message.DirectionOutbound, c.messageHandler(message.DirectionOutbound, c.outboundHandler)); err != nil {
			return err
		}
	}
	if c.eventHandler != nil {
		if err := c.consume(message.DirectionEvent, c.busEventHandler()); err != nil {
			return err
		}
	}

	c.started = true
	c.logger.Info("connector started", "streams", len(c.consumers))
	return nil
}

// consume subscribes one sub-stream; caller holds the lock
func (c *Connector) consume(direction message.Direction, handler bus.Handler) error {
	consumer, err := c.b.Consume(c.RoutingKey(direction), handler, c.cfg.Prefetch)
	if err != nil {
		return errors.WrapTransient(err, "Connector", "Start",
			"subscription to "+c.RoutingKey(direction))
	}
	c.consumers[direction] = consumer
	return nil
}

// messageHandler adapts a MessageHandler to the bus: decode, consume-side
// middleware, then the worker's handler. Undecodable payloads are logged
// and acknowledged so a poison message cannot wedge the stream.
func (c *Connector) messageHandler(direction message.Direction, h MessageHandler) bus.Handler {
	return func(ctx context.Context, data []byte) error {
		msg, err := message.DecodeMessage(data)
		if err != nil {
			c.logger.Error("dropping undecodable message",
				"direction", string(direction), "error", err)
			return nil
		}

		msg, err = applyMessage(ctx, c.cfg.Middleware, direction, msg, c.cfg.Name, true)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}

		if c.metrics != nil {
			c.metrics.MessagesReceived.WithLabelValues(c.cfg.Name, string(direction)).Inc()
		}
		return h(ctx, msg)
	}
}

func (c *Connector) busEventHandler() bus.Handler {
	return func(ctx context.Context, data []byte) error {
		ev, err := message.DecodeEvent(data)
		if err != nil {
			c.logger.Error("dropping undecodable event", "error", err)
			return nil
		}

		ev, err = applyEvent(ctx, c.cfg.Middleware, ev, c.cfg.Name, true)
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}

		if c.metrics != nil {
			c.metrics.MessagesReceived.WithLabelValues(c.cfg.Name, string(message.DirectionEvent)).Inc()
		}
		return c.eventHandler(ctx, ev)
	}
}

// PublishInbound sends a user message up the inbound sub-stream. It
// returns once the bus has accepted the message.
func (c *Connector) PublishInbound(ctx context.Context, msg *message.TransportMessage) error {
	return c.publishMessage(ctx, message.DirectionInbound, msg)
}

// PublishOutbound sends a user message down the outbound sub-stream
func (c *Connector) PublishOutbound(ctx context.Context, msg *message.TransportMessage) error {
	return c.publishMessage(ctx, message.DirectionOutbound, msg)
}

func (c *Connector) publishMessage(ctx context.Context, direction message.Direction, msg *message.TransportMessage) error {
	msg, err := applyMessage(ctx, c.cfg.Middleware, direction, msg, c.cfg.Name, false)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := c.b.Publish(ctx, c.RoutingKey(direction), data); err != nil {
		return errors.WrapTransient(err, "Connector", "publishMessage",
			"publish to "+c.RoutingKey(direction))
	}

	if c.metrics != nil {
		c.metrics.MessagesPublished.WithLabelValues(c.cfg.Name, string(direction)).Inc()
	}
	return nil
}

// PublishEvent sends a transport event up the event sub-stream
func (c *Connector) PublishEvent(ctx context.Context, ev *message.TransportEvent) error {
	ev, err := applyEvent(ctx, c.cfg.Middleware, ev, c.cfg.Name, false)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}

	data, err := ev.Encode()
	if err != nil {
		return err
	}
	if err := c.b.Publish(ctx, c.RoutingKey(message.DirectionEvent), data); err != nil {
		return errors.WrapTransient(err, "Connector", "PublishEvent",
			"publish to "+c.RoutingKey(message.DirectionEvent))
	}

	if c.metrics != nil {
		c.metrics.EventsPublished.WithLabelValues(c.cfg.Name, string(ev.EventType)).Inc()
	}
	return nil
}

// Pause stops delivery on every sub-stream without discarding buffered
// messages.
func (c *Connector) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		return
	}
	for direction, consumer := range c.consumers {
		consumer.Pause()
		if c.metrics != nil {
			c.metrics.ConnectorPaused.WithLabelValues(c.cfg.Name, string(direction)).Set(1)
		}
	}
	c.paused = true
	c.logger.Info("connector paused")
}

// Unpause resumes delivery on every sub-stream
func (c *Connector) Unpause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		return
	}
	for direction, consumer := range c.consumers {
		consumer.Unpause()
		if c.metrics != nil {
			c.metrics.ConnectorPaused.WithLabelValues(c.cfg.Name, string(direction)).Set(0)
		}
	}
	c.paused = false
	c.logger.Info("connector resumed")
}

// Paused reports whether the connector is currently paused
func (c *Connector) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stop permanently stops all consumers
func (c *Connector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, consumer := range c.consumers {
		if err := consumer.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.consumers = make(map[message.Direction]bus.Consumer)
	c.started = false
	return firstErr
}
