package smpp

import (
	"context"
	"log/slog"

	"github.com/praekeltfoundation/vumigo/connector"
	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/window"
)

// Pacer admits outbound messages through a delivery window before they
// reach the engine, bounding how many submissions can be awaiting a peer
// response at once. A message's flight slot is released when the engine
// publishes its terminal ack or nack; slots held by messages whose
// responses never arrive are reclaimed by the window's flight lifetime.
type Pacer struct {
	wm     *window.Manager
	engine *Engine
	conn   *connector.Connector
	name   string
	opts   window.MonitorOptions
	logger *slog.Logger
}

// NewPacer creates a pacer for the engine's transport. The window is keyed
// by the transport name.
func NewPacer(wm *window.Manager, engine *Engine, conn *connector.Connector, opts window.MonitorOptions, logger *slog.Logger) (*Pacer, error) {
	if wm == nil || engine == nil || conn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Pacer", "NewPacer", "window manager, engine and connector presence")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pacer{
		wm:     wm,
		engine: engine,
		conn:   conn,
		name:   engine.cfg.TransportName,
		opts:   opts,
		logger: logger.With("component", "Pacer", "transport", engine.cfg.TransportName),
	}, nil
}

// Start takes over the connector's outbound handler and begins consuming.
// It replaces Engine.Start: the engine's submit path is driven by the
// window sweep instead of directly by the bus. The monitor and reclamation
// loops run until ctx is cancelled.
func (p *Pacer) Start(ctx context.Context) error {
	if _, err := p.wm.CreateWindow(ctx, p.name, false); err != nil {
		return err
	}

	p.engine.SetResolvedHook(p.release)
	p.conn.SetOutboundHandler(p.enqueue)
	if err := p.conn.Start(); err != nil {
		return err
	}

	// Hold sweeps while the peer is throttling so queued messages stay
	// in the window instead of bouncing off the engine
	gate := p.opts.Gate
	p.opts.Gate = func() bool {
		if p.engine.Throttled() {
			return false
		}
		return gate == nil || gate()
	}

	go p.wm.Monitor(ctx, p.opts, p.deliver)
	go p.wm.RunGC(ctx)
	return nil
}

// Stop stops consuming. In-window messages stay queued in the store and
// are drained by the next process to run a monitor on this transport.
func (p *Pacer) Stop() error {
	return p.conn.Stop()
}

func (p *Pacer) enqueue(ctx context.Context, msg *message.TransportMessage) error {
	data, err := msg.Encode()
	if err != nil {
		p.logger.Warn("dropping unencodable outbound message",
			"message_id", msg.MessageID, "error", err)
		return nil
	}
	_, err = p.wm.Add(ctx, p.name, data, msg.MessageID)
	return err
}

func (p *Pacer) deliver(ctx context.Context, windowID, key string) {
	data, err := p.wm.GetData(ctx, windowID, key)
	if err != nil {
		p.logger.Error("window payload fetch failed", "key", key, "error", err)
		return
	}
	msg, err := message.DecodeMessage(data)
	if err != nil {
		p.logger.Warn("dropping undecodable window payload", "key", key, "error", err)
		if err := p.wm.RemoveKey(ctx, windowID, key); err != nil {
			p.logger.Error("window key removal failed", "key", key, "error", err)
		}
		return
	}
	if err := p.engine.HandleOutboundMessage(ctx, msg); err != nil {
		p.logger.Error("windowed submit failed", "message_id", msg.MessageID, "error", err)
	}
}

func (p *Pacer) release(ctx context.Context, messageID string) {
	if err := p.wm.RemoveKey(ctx, p.name, messageID); err != nil {
		p.logger.Error("flight slot release failed",
			"message_id", messageID, "error", err)
	}
}
