package connector

import (
	"context"

	"github.com/praekeltfoundation/vumigo/message"
)

// Middleware transforms messages crossing a connector boundary. Nil hooks
// pass through untouched. A hook returning a nil message with a nil error
// swallows the message.
type Middleware struct {
	// Name identifies the middleware in logs
	Name string

	Inbound  func(ctx context.Context, msg *message.TransportMessage, connectorName string) (*message.TransportMessage, error)
	Outbound func(ctx context.Context, msg *message.TransportMessage, connectorName string) (*message.TransportMessage, error)
	Event    func(ctx context.Context, ev *message.TransportEvent, connectorName string) (*message.TransportEvent, error)
}

// applyMessage runs the message hooks for one direction over the chain.
// consume=false walks the chain in reverse, the publish-side convention.
func applyMessage(ctx context.Context, chain []Middleware, direction message.Direction, msg *message.TransportMessage, connectorName string, consume bool) (*message.TransportMessage, error) {
	for i := range chain {
		mw := &chain[i]
		if !consume {
			mw = &chain[len(chain)-1-i]
		}

		hook := mw.Inbound
		if direction == message.DirectionOutbound {
			hook = mw.Outbound
		}
		if hook == nil {
			continue
		}

		var err error
		msg, err = hook(ctx, msg, connectorName)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, nil
		}
	}
	return msg, nil
}

// applyEvent runs the event hooks over the chain
func applyEvent(ctx context.Context, chain []Middleware, ev *message.TransportEvent, connectorName string, consume bool) (*message.TransportEvent, error) {
	for i := range chain {
		mw := &chain[i]
		if !consume {
			mw = &chain[len(chain)-1-i]
		}
		if mw.Event == nil {
			continue
		}

		var err error
		ev, err = mw.Event(ctx, ev, connectorName)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, nil
		}
	}
	return ev, nil
}
