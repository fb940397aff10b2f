package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/praekeltfoundation/vumigo/errors"
)

// JetStreamConfig holds NATS JetStream connection configuration
type JetStreamConfig struct {
	URL        string `json:"url"`
	ClientName string `json:"client_name"`
	// StreamName is the JetStream stream backing all routing keys
	StreamName string `json:"stream_name"`
	// SubjectPrefix namespaces routing keys into NATS subjects
	SubjectPrefix string `json:"subject_prefix"`

	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReconnectWait  time.Duration `json:"reconnect_wait"`
	MaxReconnects  int           `json:"max_reconnects"`
	// AckWait is how long the server waits for an ack before redelivering
	AckWait time.Duration `json:"ack_wait"`
}

// Validate checks the JetStream configuration
func (c *JetStreamConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("jetstream: url is required")
	}
	if c.StreamName == "" {
		return fmt.Errorf("jetstream: stream_name is required")
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("jetstream: subject_prefix is required")
	}
	return nil
}

// DefaultJetStreamConfig returns sensible connection defaults
func DefaultJetStreamConfig(url string) JetStreamConfig {
	return JetStreamConfig{
		URL:            url,
		ClientName:     "vumigo",
		StreamName:     "VUMIGO",
		SubjectPrefix:  "vumigo",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		AckWait:        30 * time.Second,
	}
}

// JetStreamBus implements Bus over NATS JetStream. Each routing key maps to
// one subject under the configured prefix and one durable work-queue
// consumer, giving at-least-once delivery with explicit acknowledgement.
type JetStreamBus struct {
	cfg    JetStreamConfig
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger

	mu        sync.Mutex
	consumers []*jsConsumer
	closed    bool
}

// ConnectJetStream connects to NATS and ensures the backing stream exists
func ConnectJetStream(ctx context.Context, cfg JetStreamConfig, logger *slog.Logger) (*JetStreamBus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapFatal(err, "JetStreamBus", "ConnectJetStream", "config validation")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStreamBus", "ConnectJetStream", "nats connect")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapFatal(err, "JetStreamBus", "ConnectJetStream", "jetstream context")
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "JetStreamBus", "ConnectJetStream", "stream setup")
	}

	logger.Info("connected to jetstream",
		"url", cfg.URL, "stream", cfg.StreamName)

	return &JetStreamBus{
		cfg:    cfg,
		conn:   conn,
		js:     js,
		stream: stream,
		logger: logger,
	}, nil
}

// Ping reports whether the NATS connection is currently up.
func (b *JetStreamBus) Ping(ctx context.Context) error {
	if b.conn.IsConnected() {
		return nil
	}
	return errors.WrapTransient(nats.ErrDisconnected, "JetStreamBus", "Ping", "connection status")
}

func (b *JetStreamBus) subject(routingKey string) string {
	return b.cfg.SubjectPrefix + "." + routingKey
}

// Publish sends a payload to a routing key
func (b *JetStreamBus) Publish(ctx context.Context, routingKey string, data []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := b.js.Publish(ctx, b.subject(routingKey), data); err != nil {
		return errors.WrapTransient(err, "JetStreamBus", "Publish", "jetstream publish")
	}
	return nil
}

// Consume registers a durable consumer for a routing key. The durable name
// is derived from the routing key so restarts resume from unacknowledged
// messages.
func (b *JetStreamBus) Consume(routingKey string, handler Handler, prefetch int) (Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	if prefetch <= 0 {
		prefetch = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ConnectTimeout)
	defer cancel()

	cons, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableName(routingKey),
		FilterSubject: b.subject(routingKey),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxAckPending: prefetch,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStreamBus", "Consume", "consumer setup")
	}

	jc := &jsConsumer{
		bus:        b,
		routingKey: routingKey,
		consumer:   cons,
		handler:    handler,
		logger:     b.logger,
	}
	if err := jc.start(); err != nil {
		return nil, err
	}

	b.consumers = append(b.consumers, jc)
	return jc, nil
}

// Close stops all consumers and drains the connection
func (b *JetStreamBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumers
	b.mu.Unlock()

	for _, c := range consumers {
		_ = c.Stop()
	}
	return b.conn.Drain()
}

// durableName maps a routing key onto a valid JetStream durable name
func durableName(routingKey string) string {
	return strings.NewReplacer(".", "_", ">", "all", "*", "any").Replace(routingKey)
}

// jsConsumer is one durable subscription with pause/resume. Pausing stops
// the consume context; the server keeps queued and unacknowledged messages
// and redelivers them once consumption resumes.
type jsConsumer struct {
	bus        *JetStreamBus
	routingKey string
	consumer   jetstream.Consumer
	handler    Handler
	logger     *slog.Logger

	mu         sync.Mutex
	consumeCtx jetstream.ConsumeContext
	paused     bool
	stopped    bool
}

func (c *jsConsumer) start() error {
	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		if err := c.handler(context.Background(), msg.Data()); err != nil {
			c.logger.Warn("handler failed, naking message",
				"routing_key", c.routingKey, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Error("nak failed", "routing_key", c.routingKey, "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Error("ack failed", "routing_key", c.routingKey, "error", ackErr)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "JetStreamBus", "Consume", "consume start")
	}
	c.consumeCtx = consumeCtx
	return nil
}

// Pause stops delivering messages; queued messages stay on the server
func (c *jsConsumer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.stopped {
		return
	}
	c.consumeCtx.Stop()
	c.consumeCtx = nil
	c.paused = true
}

// Unpause resumes delivery from where the server left off
func (c *jsConsumer) Unpause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused || c.stopped {
		return
	}
	if err := c.start(); err != nil {
		c.logger.Error("failed to resume consumer",
			"routing_key", c.routingKey, "error", err)
		return
	}
	c.paused = false
}

// Paused reports whether the consumer is paused
func (c *jsConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stop permanently stops the consumer
func (c *jsConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	if c.consumeCtx != nil {
		c.consumeCtx.Stop()
		c.consumeCtx = nil
	}
	c.stopped = true
	return nil
}

// Interface guards
var (
	_ Bus      = (*JetStreamBus)(nil)
	_ Consumer = (*jsConsumer)(nil)
)
