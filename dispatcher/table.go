package dispatcher

import (
	"context"

	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/message"
)

// Target names the connector and endpoint a message is routed to
type Target struct {
	Connector string `json:"connector"`
	Endpoint  string `json:"endpoint"`
}

// RoutingTable maps (source connector, endpoint) to a target. A source
// endpoint absent from the table falls back to the connector's "default"
// entry.
type RoutingTable map[string]map[string]Target

// Lookup resolves a route, falling back to the default endpoint
func (rt RoutingTable) Lookup(connectorName, endpoint string) (Target, bool) {
	endpoints, ok := rt[connectorName]
	if !ok {
		return Target{}, false
	}
	if target, ok := endpoints[endpoint]; ok {
		return target, true
	}
	target, ok := endpoints[message.DefaultEndpoint]
	return target, ok
}

// TableConfig holds the per-direction routing tables. A nil Events table
// reuses the inbound one, which matches the common deployment where
// events follow the same transport-to-application paths as the user
// messages they acknowledge.
type TableConfig struct {
	Inbound  RoutingTable `json:"inbound"`
	Outbound RoutingTable `json:"outbound"`
	Events   RoutingTable `json:"events,omitempty"`
}

// Validate checks that both mandatory directions are present
func (c *TableConfig) Validate() error {
	if len(c.Inbound) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"dispatcher.TableConfig", "Validate", "inbound table must be set")
	}
	if len(c.Outbound) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"dispatcher.TableConfig", "Validate", "outbound table must be set")
	}
	return nil
}

// RoutingTableDispatcher routes by static table lookup. It implements
// Router; attach it to a Dispatcher whose connector set covers every
// target the tables name.
type RoutingTableDispatcher struct {
	cfg TableConfig

	// set by Attach
	d *Dispatcher
}

// NewRoutingTableDispatcher creates the table-driven routing policy
func NewRoutingTableDispatcher(cfg TableConfig) (*RoutingTableDispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Events == nil {
		cfg.Events = cfg.Inbound
	}
	return &RoutingTableDispatcher{cfg: cfg}, nil
}

// Attach binds the policy to the dispatcher whose connectors it publishes
// through. Must be called before Start.
func (r *RoutingTableDispatcher) Attach(d *Dispatcher) {
	r.d = d
}

// ProcessInbound routes a transport's inbound message to an application
func (r *RoutingTableDispatcher) ProcessInbound(ctx context.Context, msg *message.TransportMessage, connectorName string) error {
	target, ok := r.cfg.Inbound.Lookup(connectorName, msg.RoutingEndpoint())
	if !ok {
		return errors.WrapInvalid(errors.ErrUnroutable, "RoutingTableDispatcher", "ProcessInbound",
			"route for "+connectorName+" at "+msg.RoutingEndpoint())
	}

	conn := r.d.Connector(target.Connector)
	if conn == nil {
		return errors.WrapInvalid(errors.ErrUnroutable, "RoutingTableDispatcher", "ProcessInbound",
			"target connector "+target.Connector)
	}
	msg.SetRoutingEndpoint(target.Endpoint)
	return conn.PublishInbound(ctx, msg)
}

// ProcessOutbound routes an application's reply to a transport
func (r *RoutingTableDispatcher) ProcessOutbound(ctx context.Context, msg *message.TransportMessage, connectorName string) error {
	target, ok := r.cfg.Outbound.Lookup(connectorName, msg.RoutingEndpoint())
	if !ok {
		return errors.WrapInvalid(errors.ErrUnroutable, "RoutingTableDispatcher", "ProcessOutbound",
			"route for "+connectorName+" at "+msg.RoutingEndpoint())
	}

	conn := r.d.Connector(target.Connector)
	if conn == nil {
		return errors.WrapInvalid(errors.ErrUnroutable, "RoutingTableDispatcher", "ProcessOutbound",
			"target connector "+target.Connector)
	}
	msg.SetRoutingEndpoint(target.Endpoint)
	return conn.PublishOutbound(ctx, msg)
}

// ProcessEvent routes a transport event to the application that owns the
// acknowledged message.
func (r *RoutingTableDispatcher) ProcessEvent(ctx context.Context, ev *message.TransportEvent, connectorName string) error {
	target, ok := r.cfg.Events.Lookup(connectorName, ev.RoutingEndpoint())
	if !ok {
		return errors.WrapInvalid(errors.ErrUnroutable, "RoutingTableDispatcher", "ProcessEvent",
			"route for "+connectorName+" at "+ev.RoutingEndpoint())
	}

	conn := r.d.Connector(target.Connector)
	if conn == nil {
		return errors.WrapInvalid(errors.ErrUnroutable, "RoutingTableDispatcher", "ProcessEvent",
			"target connector "+target.Connector)
	}
	ev.SetRoutingEndpoint(target.Endpoint)
	return conn.PublishEvent(ctx, ev)
}
