package dispatcher

import (
	"context"
	"log/slog"

	"github.com/praekeltfoundation/vumigo/bus"
	"github.com/praekeltfoundation/vumigo/connector"
	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/metric"
)

// Router decides where a message goes. Implementations receive the name
// of the connector the message arrived on and publish it onward through
// the dispatcher's connectors.
type Router interface {
	ProcessInbound(ctx context.Context, msg *message.TransportMessage, connectorName string) error
	ProcessOutbound(ctx context.Context, msg *message.TransportMessage, connectorName string) error
	ProcessEvent(ctx context.Context, ev *message.TransportEvent, connectorName string) error
}

// MessageErrback is invoked with an unroutable user message
type MessageErrback func(ctx context.Context, err error, msg *message.TransportMessage, connectorName string)

// EventErrback is invoked with an unroutable event
type EventErrback func(ctx context.Context, err error, ev *message.TransportEvent, connectorName string)

// Errback is the generic hook invoked after any specific errback
type Errback func(ctx context.Context, err error, connectorName string)

// Config holds dispatcher configuration
type Config struct {
	// ReceiveInboundConnectors face transports
	ReceiveInboundConnectors []string `json:"receive_inbound_connectors"`
	// ReceiveOutboundConnectors face applications
	ReceiveOutboundConnectors []string `json:"receive_outbound_connectors"`
	// Prefetch per connector sub-stream
	Prefetch int `json:"prefetch"`
	// Middleware applied on every connector
	Middleware []connector.Middleware `json:"-"`
}

// Validate checks the dispatcher configuration
func (c *Config) Validate() error {
	if len(c.ReceiveInboundConnectors) == 0 && len(c.ReceiveOutboundConnectors) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"dispatcher.Config", "Validate", "at least one connector required")
	}
	seen := make(map[string]bool)
	for _, name := range append(append([]string{}, c.ReceiveInboundConnectors...), c.ReceiveOutboundConnectors...) {
		if seen[name] {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"dispatcher.Config", "Validate", "duplicate connector "+name)
		}
		seen[name] = true
	}
	return nil
}

// Dispatcher wires a set of connectors to a routing policy
type Dispatcher struct {
	cfg    Config
	router Router
	logger *slog.Logger

	metrics *metric.Metrics

	receiveInbound  map[string]*connector.Connector
	receiveOutbound map[string]*connector.Connector

	// Errbacks receive messages no route matched. All optional; routing
	// failures are logged and dropped either way.
	ErrbackInbound  MessageErrback
	ErrbackOutbound MessageErrback
	ErrbackEvent    EventErrback
	DefaultErrback  Errback
}

// NewDispatcher creates a dispatcher and its connectors over the bus. The
// router is typically a RoutingTableDispatcher, but any Router works.
func NewDispatcher(b bus.Bus, cfg Config, router Router, logger *slog.Logger, registry *metric.MetricsRegistry) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if router == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Dispatcher", "NewDispatcher", "router presence")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:             cfg,
		router:          router,
		logger:          logger,
		receiveInbound:  make(map[string]*connector.Connector),
		receiveOutbound: make(map[string]*connector.Connector),
	}
	if registry != nil {
		d.metrics = registry.CoreMetrics()
	}

	for _, name := range cfg.ReceiveInboundConnectors {
		conn, err := connector.NewConnector(b, connector.Config{
			Name:       name,
			Prefetch:   cfg.Prefetch,
			Middleware: cfg.Middleware,
		}, logger, registry)
		if err != nil {
			return nil, err
		}
		d.receiveInbound[name] = conn
	}
	for _, name := range cfg.ReceiveOutboundConnectors {
		conn, err := connector.NewConnector(b, connector.Config{
			Name:       name,
			Prefetch:   cfg.Prefetch,
			Middleware: cfg.Middleware,
		}, logger, registry)
		if err != nil {
			return nil, err
		}
		d.receiveOutbound[name] = conn
	}
	return d, nil
}

// Connector returns a named connector from either category, or nil
func (d *Dispatcher) Connector(name string) *connector.Connector {
	if conn, ok := d.receiveInbound[name]; ok {
		return conn
	}
	return d.receiveOutbound[name]
}

// Start registers routing handlers on every connector and begins
// consuming. Transports feed inbound messages and events; applications
// feed outbound messages.
func (d *Dispatcher) Start() error {
	for name, conn := range d.receiveInbound {
		name := name
		conn.SetInboundHandler(func(ctx context.Context, msg *message.TransportMessage) error {
			d.dispatchInbound(ctx, msg, name)
			return nil
		})
		conn.SetEventHandler(func(ctx context.Context, ev *message.TransportEvent) error {
			d.dispatchEvent(ctx, ev, name)
			return nil
		})
		if err := conn.Start(); err != nil {
			return err
		}
	}
	for name, conn := range d.receiveOutbound {
		name := name
		conn.SetOutboundHandler(func(ctx context.Context, msg *message.TransportMessage) error {
			d.dispatchOutbound(ctx, msg, name)
			return nil
		})
		if err := conn.Start(); err != nil {
			return err
		}
	}
	d.logger.Info("dispatcher started",
		"receive_inbound", len(d.receiveInbound),
		"receive_outbound", len(d.receiveOutbound))
	return nil
}

// Stop stops all connectors
func (d *Dispatcher) Stop() error {
	var firstErr error
	for _, conn := range d.receiveInbound {
		if err := conn.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, conn := range d.receiveOutbound {
		if err := conn.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dispatchInbound routes one inbound message, isolating any failure to
// this message.
func (d *Dispatcher) dispatchInbound(ctx context.Context, msg *message.TransportMessage, connectorName string) {
	if err := d.router.ProcessInbound(ctx, msg, connectorName); err != nil {
		d.routingFailed(connectorName, string(message.DirectionInbound), err)
		if d.ErrbackInbound != nil {
			d.ErrbackInbound(ctx, err, msg, connectorName)
		}
		if d.DefaultErrback != nil {
			d.DefaultErrback(ctx, err, connectorName)
		}
	}
}

func (d *Dispatcher) dispatchOutbound(ctx context.Context, msg *message.TransportMessage, connectorName string) {
	if err := d.router.ProcessOutbound(ctx, msg, connectorName); err != nil {
		d.routingFailed(connectorName, string(message.DirectionOutbound), err)
		if d.ErrbackOutbound != nil {
			d.ErrbackOutbound(ctx, err, msg, connectorName)
		}
		if d.DefaultErrback != nil {
			d.DefaultErrback(ctx, err, connectorName)
		}
	}
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, ev *message.TransportEvent, connectorName string) {
	if err := d.router.ProcessEvent(ctx, ev, connectorName); err != nil {
		d.routingFailed(connectorName, string(message.DirectionEvent), err)
		if d.ErrbackEvent != nil {
			d.ErrbackEvent(ctx, err, ev, connectorName)
		}
		if d.DefaultErrback != nil {
			d.DefaultErrback(ctx, err, connectorName)
		}
	}
}

func (d *Dispatcher) routingFailed(connectorName, direction string, err error) {
	d.logger.Error("dropping unroutable message",
		"connector", connectorName, "direction", direction, "error", err)
	if d.metrics != nil {
		d.metrics.RoutingFailures.WithLabelValues(connectorName, direction).Inc()
	}
}
