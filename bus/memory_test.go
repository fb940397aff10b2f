package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered payloads for assertions
type collector struct {
	mu       sync.Mutex
	received []string
}

func (c *collector) handler(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, string(data))
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.received))
	copy(out, c.received)
	return out
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	col := &collector{}
	_, err := b.Consume("transport1.inbound", col.handler, 0)
	require.NoError(t, err)

	ctx := context.Background()
	for _, payload := range []string{"one", "two", "three"} {
		require.NoError(t, b.Publish(ctx, "transport1.inbound", []byte(payload)))
	}

	require.Eventually(t, func() bool {
		return len(col.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"one", "two", "three"}, col.snapshot())
}

func TestMemoryBusBacklogBeforeConsumer(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "app1.outbound", []byte("early")))

	col := &collector{}
	_, err := b.Consume("app1.outbound", col.handler, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(col.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"early"}, col.snapshot())
}

func TestMemoryBusPauseRetainsMessages(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	col := &collector{}
	consumer, err := b.Consume("transport1.outbound", col.handler, 0)
	require.NoError(t, err)

	consumer.Pause()
	assert.True(t, consumer.Paused())

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "transport1.outbound", []byte("held")))

	// Nothing delivered while paused
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, col.snapshot())

	consumer.Unpause()
	assert.False(t, consumer.Paused())

	require.Eventually(t, func() bool {
		return len(col.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"held"}, col.snapshot())
}

func TestMemoryBusRedeliveryOnError(t *testing.T) {
	b := NewMemoryBus()
	b.RedeliveryDelay = time.Millisecond
	defer b.Close()

	var mu sync.Mutex
	attempts := 0
	handler := func(_ context.Context, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient handler failure")
		}
		return nil
	}

	_, err := b.Consume("retry.key", handler, 0)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "retry.key", []byte("m")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, time.Second, time.Millisecond)
}

func TestMemoryBusDeliversSerially(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	inFlight, maxInFlight, handled := 0, 0, 0
	handler := func(_ context.Context, _ []byte) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		inFlight--
		handled++
		mu.Unlock()
		return nil
	}

	// A large prefetch hint must not allow concurrent handler calls
	_, err := b.Consume("serial.key", handler, 64)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(ctx, "serial.key", []byte("m")))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 10
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "k", []byte("m"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = b.Consume("k", func(context.Context, []byte) error { return nil }, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBusStopConsumer(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	col := &collector{}
	consumer, err := b.Consume("k", col.handler, 0)
	require.NoError(t, err)
	require.NoError(t, consumer.Stop())

	// Published messages after stop stay queued on the stopped consumer
	require.NoError(t, b.Publish(context.Background(), "k", []byte("late")))
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, col.snapshot())
}
