package smpp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praekeltfoundation/vumigo/bus"
	"github.com/praekeltfoundation/vumigo/connector"
	"github.com/praekeltfoundation/vumigo/failures"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/sequence"
)

// fakeWire assigns sequence numbers from a shared generator, splitting
// every submission into a fixed number of parts.
type fakeWire struct {
	mu      sync.Mutex
	gen     *sequence.Generator
	parts   int
	submits []SubmitPayload
	err     error
}

func (w *fakeWire) Submit(ctx context.Context, payload SubmitPayload, record func(ctx context.Context, seq uint32) error) ([]uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	w.submits = append(w.submits, payload)

	parts := w.parts
	if parts == 0 {
		parts = 1
	}
	seqs := make([]uint32, 0, parts)
	for i := 0; i < parts; i++ {
		seq, err := w.gen.Next(ctx)
		if err != nil {
			return nil, err
		}
		if record != nil {
			if err := record(ctx, uint32(seq)); err != nil {
				return nil, err
			}
		}
		seqs = append(seqs, uint32(seq))
	}
	return seqs, nil
}

func (w *fakeWire) submissions() []SubmitPayload {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]SubmitPayload{}, w.submits...)
}

type testEngine struct {
	engine *Engine
	wire   *fakeWire
	store  *kvstore.MemoryStore
	b      *bus.MemoryBus
	ledger *failures.Ledger
	events chan *message.TransportEvent
	timers []func()
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := kvstore.NewMemoryStore()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	conn, err := connector.NewConnector(b, connector.Config{Name: "smpp_transport"}, nil, nil)
	require.NoError(t, err)

	ledger, err := failures.NewLedger(store, failures.DefaultConfig("smpp_transport"), nil, nil, nil)
	require.NoError(t, err)

	te := &testEngine{
		wire:   &fakeWire{gen: sequence.NewGenerator(store, "smpp_transport", 0)},
		store:  store,
		b:      b,
		ledger: ledger,
		events: make(chan *message.TransportEvent, 10),
	}

	cfg := DefaultConfig("smpp_transport")
	cfg.ThrottleDelay = time.Millisecond
	te.engine, err = NewEngine(store, cfg, te.wire, conn, ledger, nil, nil)
	require.NoError(t, err)

	// Capture throttle-retry callbacks instead of running real timers
	te.engine.afterFunc = func(d time.Duration, f func()) *time.Timer {
		te.timers = append(te.timers, f)
		return time.NewTimer(time.Hour)
	}

	_, err = b.Consume("smpp_transport.event", func(ctx context.Context, data []byte) error {
		ev, err := message.DecodeEvent(data)
		require.NoError(t, err)
		te.events <- ev
		return nil
	}, 0)
	require.NoError(t, err)

	require.NoError(t, te.engine.Start())
	t.Cleanup(func() { te.engine.Stop() })
	return te
}

func (te *testEngine) nextEvent(t *testing.T) *message.TransportEvent {
	t.Helper()
	select {
	case ev := <-te.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return nil
	}
}

func (te *testEngine) assertNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-te.events:
		t.Fatalf("unexpected event %s for %s", ev.EventType, ev.UserMessageID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmitAckDeliveryReportCorrelation(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	msg := message.NewTransportMessage("+27831234567", "+27837654321", "hello")
	require.NoError(t, te.engine.HandleOutboundMessage(ctx, msg))

	subs := te.wire.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "+27837654321", subs[0].Destination)

	// Exactly one sequence number was mapped
	_, err := te.store.Get(ctx, sequenceKey(1))
	require.NoError(t, err)

	require.NoError(t, te.engine.OnSubmitResponse(ctx, 1, "R1", SubmitOK))

	ack := te.nextEvent(t)
	assert.Equal(t, message.EventAck, ack.EventType)
	assert.Equal(t, msg.MessageID, ack.UserMessageID)
	assert.Equal(t, "R1", ack.SentMessageID)
	te.assertNoEvent(t)

	require.NoError(t, te.engine.OnDeliveryReport(ctx, "R1", "DELIVRD"))

	report := te.nextEvent(t)
	assert.Equal(t, message.EventDeliveryReport, report.EventType)
	assert.Equal(t, msg.MessageID, report.UserMessageID)
	assert.Equal(t, message.DeliveryStatusDelivered, report.DeliveryStatus)
}

func TestSubmitResponseCorrelationMiss(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	require.NoError(t, te.engine.OnSubmitResponse(ctx, 999, "R9", SubmitOK))
	te.assertNoEvent(t)
}

func TestDeliveryReportCorrelationMiss(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	require.NoError(t, te.engine.OnDeliveryReport(ctx, "unknown", "DELIVRD"))
	te.assertNoEvent(t)
}

func TestInvalidOutboundMessageNacked(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	msg := message.NewTransportMessage("+100", "", "no destination")
	require.NoError(t, te.engine.HandleOutboundMessage(ctx, msg))

	nack := te.nextEvent(t)
	assert.Equal(t, message.EventNack, nack.EventType)
	assert.Equal(t, msg.MessageID, nack.UserMessageID)
	assert.Empty(t, te.wire.submissions())
}

func TestSubmissionErrorNackedAndLedgered(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	te.wire.err = assert.AnError

	msg := message.NewTransportMessage("+100", "+200", "doomed")
	require.NoError(t, te.engine.HandleOutboundMessage(ctx, msg))

	nack := te.nextEvent(t)
	assert.Equal(t, message.EventNack, nack.EventType)

	keys, err := te.ledger.FailureKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestMultipartAllPartsAckedOnce(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	te.wire.parts = 3

	msg := message.NewTransportMessage("+100", "+200", "long message")
	require.NoError(t, te.engine.HandleOutboundMessage(ctx, msg))

	require.NoError(t, te.engine.OnSubmitResponse(ctx, 1, "R1", SubmitOK))
	te.assertNoEvent(t)
	require.NoError(t, te.engine.OnSubmitResponse(ctx, 2, "R2", SubmitOK))
	te.assertNoEvent(t)
	require.NoError(t, te.engine.OnSubmitResponse(ctx, 3, "R3", SubmitOK))

	ack := te.nextEvent(t)
	assert.Equal(t, message.EventAck, ack.EventType)
	assert.Equal(t, msg.MessageID, ack.UserMessageID)
	te.assertNoEvent(t)

	// Cache cleared once all parts resolved
	_, err := te.store.Get(ctx, messageKey(msg.MessageID))
	assert.Error(t, err)
}

func TestMultipartAllOrNothingNack(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	te.wire.parts = 4

	msg := message.NewTransportMessage("+100", "+200", "long message")
	require.NoError(t, te.engine.HandleOutboundMessage(ctx, msg))

	require.NoError(t, te.engine.OnSubmitResponse(ctx, 1, "R1", SubmitOK))
	require.NoError(t, te.engine.OnSubmitResponse(ctx, 2, "R2", "ESME_RINVDSTADR"))
	require.NoError(t, te.engine.OnSubmitResponse(ctx, 3, "R3", SubmitOK))
	te.assertNoEvent(t)
	require.NoError(t, te.engine.OnSubmitResponse(ctx, 4, "R4", SubmitOK))

	// Exactly one nack for the parent, not four separate events
	nack := te.nextEvent(t)
	assert.Equal(t, message.EventNack, nack.EventType)
	assert.Equal(t, msg.MessageID, nack.UserMessageID)
	te.assertNoEvent(t)

	// Failure recorded, cache cleared
	keys, err := te.ledger.FailureKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	_, err = te.store.Get(ctx, messageKey(msg.MessageID))
	assert.Error(t, err)
}

func TestThrottlingPausesAndRetries(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	msg := message.NewTransportMessage("+100", "+200", "throttle me")
	require.NoError(t, te.engine.HandleOutboundMessage(ctx, msg))
	require.Len(t, te.wire.submissions(), 1)

	require.NoError(t, te.engine.OnSubmitResponse(ctx, 1, "", SubmitThrottled))
	assert.True(t, te.engine.Throttled())
	te.assertNoEvent(t)

	// The scheduled retry re-submits the same message
	require.Len(t, te.timers, 1)
	te.timers[0]()
	subs := te.wire.submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, "throttle me", subs[1].Content)

	// A successful response ends throttling and acks as usual
	require.NoError(t, te.engine.OnSubmitResponse(ctx, 2, "R1", SubmitOK))
	assert.False(t, te.engine.Throttled())

	ack := te.nextEvent(t)
	assert.Equal(t, message.EventAck, ack.EventType)
	assert.Equal(t, msg.MessageID, ack.UserMessageID)
}

func TestQueueFullTreatedAsThrottling(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	msg := message.NewTransportMessage("+100", "+200", "m")
	require.NoError(t, te.engine.HandleOutboundMessage(ctx, msg))

	require.NoError(t, te.engine.OnSubmitResponse(ctx, 1, "", SubmitQueueFull))
	assert.True(t, te.engine.Throttled())
}

func TestLongMessageStrategyValidation(t *testing.T) {
	cfg := DefaultConfig("t")
	cfg.SendLongMessages = true
	cfg.SendMultipartSAR = true
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig("t")
	cfg.SendMultipartUDH = true
	require.NoError(t, cfg.Validate())
	assert.Equal(t, LongMessageUDH, cfg.Strategy())

	cfg = DefaultConfig("t")
	assert.Equal(t, LongMessageNone, cfg.Strategy())
}

// racingWire answers every submission inline, before Submit returns,
// like a gateway that responds faster than the submitter finishes.
type racingWire struct {
	gen     *sequence.Generator
	parts   int
	respond func(ctx context.Context, seq uint32)
}

func (w *racingWire) Submit(ctx context.Context, payload SubmitPayload, record func(ctx context.Context, seq uint32) error) ([]uint32, error) {
	parts := w.parts
	if parts == 0 {
		parts = 1
	}
	seqs := make([]uint32, 0, parts)
	for i := 0; i < parts; i++ {
		n, err := w.gen.Next(ctx)
		if err != nil {
			return nil, err
		}
		seq := uint32(n)
		if record != nil {
			if err := record(ctx, seq); err != nil {
				return nil, err
			}
		}
		w.respond(ctx, seq)
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

func TestResponseRacingSubmission(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	conn, err := connector.NewConnector(b, connector.Config{Name: "smpp_transport"}, nil, nil)
	require.NoError(t, err)
	ledger, err := failures.NewLedger(store, failures.DefaultConfig("smpp_transport"), nil, nil, nil)
	require.NoError(t, err)

	wire := &racingWire{gen: sequence.NewGenerator(store, "smpp_transport", 0), parts: 2}
	engine, err := NewEngine(store, DefaultConfig("smpp_transport"), wire, conn, ledger, nil, nil)
	require.NoError(t, err)
	wire.respond = func(ctx context.Context, seq uint32) {
		require.NoError(t, engine.OnSubmitResponse(ctx, seq, "R1", SubmitOK))
	}

	events := make(chan *message.TransportEvent, 10)
	_, err = b.Consume("smpp_transport.event", func(ctx context.Context, data []byte) error {
		ev, err := message.DecodeEvent(data)
		require.NoError(t, err)
		events <- ev
		return nil
	}, 0)
	require.NoError(t, err)

	require.NoError(t, engine.Start())
	t.Cleanup(func() { engine.Stop() })

	msg := message.NewTransportMessage("+100", "+200", "answered before Submit returned")
	require.NoError(t, engine.HandleOutboundMessage(ctx, msg))

	// Exactly one ack even though both responses landed mid-submission
	select {
	case ev := <-events:
		assert.Equal(t, message.EventAck, ev.EventType)
		assert.Equal(t, msg.MessageID, ev.UserMessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack published")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %s", ev.EventType)
	case <-time.After(50 * time.Millisecond):
	}

	// Cache cleared once the race settled
	_, err = store.Get(ctx, messageKey(msg.MessageID))
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestInboundMessagePublished(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	inbound := make(chan *message.TransportMessage, 1)
	_, err := te.b.Consume("smpp_transport.inbound", func(ctx context.Context, data []byte) error {
		msg, err := message.DecodeMessage(data)
		require.NoError(t, err)
		inbound <- msg
		return nil
	}, 0)
	require.NoError(t, err)

	require.NoError(t, te.engine.OnInboundMessage(ctx, "+27831234567", "12345", "USSD hello"))

	select {
	case msg := <-inbound:
		assert.Equal(t, "+27831234567", msg.From)
		assert.Equal(t, "12345", msg.To)
		assert.Equal(t, "smpp_transport", msg.TransportName)
	case <-time.After(time.Second):
		t.Fatal("inbound message not published")
	}
}
