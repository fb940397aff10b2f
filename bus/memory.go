package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus for tests and single-process deployments.
// Semantics match the JetStream implementation where the core depends on
// them: per-consumer FIFO delivery, at-least-once with redelivery on handler
// error, pause without loss, and backlog retention for keys published before
// any consumer subscribes.
type MemoryBus struct {
	mu        sync.Mutex
	consumers map[string][]*memConsumer
	backlog   map[string][][]byte
	closed    bool

	// RedeliveryDelay spaces out redeliveries after a handler error so a
	// permanently failing handler does not spin. Tests may lower it.
	RedeliveryDelay time.Duration
}

// NewMemoryBus creates an empty in-memory bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		consumers:       make(map[string][]*memConsumer),
		backlog:         make(map[string][][]byte),
		RedeliveryDelay: 10 * time.Millisecond,
	}
}

// Publish delivers a payload to every consumer of the routing key, or holds
// it in the backlog until the first consumer subscribes.
func (b *MemoryBus) Publish(_ context.Context, routingKey string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	consumers := b.consumers[routingKey]
	if len(consumers) == 0 {
		// Copy so callers can reuse their buffer
		buf := make([]byte, len(data))
		copy(buf, data)
		b.backlog[routingKey] = append(b.backlog[routingKey], buf)
		return nil
	}
	for _, c := range consumers {
		c.enqueue(data)
	}
	return nil
}

// Consume registers a handler for a routing key. The first consumer on a
// key inherits its backlog. The prefetch hint is ignored: delivery is
// serial, so at most one message is unacknowledged at a time.
func (b *MemoryBus) Consume(routingKey string, handler Handler, _ int) (Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	c := &memConsumer{
		bus:     b,
		handler: handler,
	}
	c.cond = sync.NewCond(&c.mu)

	if backlog := b.backlog[routingKey]; len(backlog) > 0 {
		c.queue = append(c.queue, backlog...)
		delete(b.backlog, routingKey)
	}

	b.consumers[routingKey] = append(b.consumers[routingKey], c)
	go c.loop()
	return c, nil
}

// Close stops all consumers
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memConsumer
	for _, consumers := range b.consumers {
		all = append(all, consumers...)
	}
	b.mu.Unlock()

	for _, c := range all {
		_ = c.Stop()
	}
	return nil
}

// memConsumer delivers queued messages to its handler one at a time,
// preserving per-consumer order.
type memConsumer struct {
	bus     *MemoryBus
	handler Handler

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	paused  bool
	stopped bool
}

func (c *memConsumer) enqueue(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	c.mu.Lock()
	c.queue = append(c.queue, buf)
	c.mu.Unlock()
	c.cond.Signal()
}

func (c *memConsumer) loop() {
	for {
		c.mu.Lock()
		for (len(c.queue) == 0 || c.paused) && !c.stopped {
			c.cond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return
		}
		data := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.handler(context.Background(), data); err != nil {
			// Nak: requeue at the tail after a short delay
			time.Sleep(c.bus.RedeliveryDelay)
			c.mu.Lock()
			if !c.stopped {
				c.queue = append(c.queue, data)
			}
			c.mu.Unlock()
			c.cond.Signal()
		}
	}
}

// Pause stops delivery; queued messages are retained
func (c *memConsumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Unpause resumes delivery of retained messages
func (c *memConsumer) Unpause() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.cond.Signal()
}

// Paused reports whether the consumer is paused
func (c *memConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stop permanently stops the consumer
func (c *memConsumer) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

// QueueDepth returns the number of undelivered messages. Test helper.
func (c *memConsumer) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Interface guards
var (
	_ Bus      = (*MemoryBus)(nil)
	_ Consumer = (*memConsumer)(nil)
)
