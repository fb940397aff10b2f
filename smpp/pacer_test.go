package smpp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praekeltfoundation/vumigo/bus"
	"github.com/praekeltfoundation/vumigo/connector"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/sequence"
	"github.com/praekeltfoundation/vumigo/window"
)

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestPacerBoundsInFlightSubmissions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := kvstore.NewMemoryStore()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	conn, err := connector.NewConnector(b, connector.Config{Name: "smpp_transport"}, nil, nil)
	require.NoError(t, err)

	wire := &fakeWire{gen: sequence.NewGenerator(store, "smpp_transport", 0)}
	engine, err := NewEngine(store, DefaultConfig("smpp_transport"), wire, conn, nil, nil, nil)
	require.NoError(t, err)

	wm, err := window.NewManager(store, window.Config{
		WindowSize:     2,
		FlightLifetime: time.Minute,
	}, nil, nil)
	require.NoError(t, err)

	pacer, err := NewPacer(wm, engine, conn, window.MonitorOptions{Interval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, pacer.Start(ctx))
	t.Cleanup(func() { pacer.Stop() })

	msgs := make([]*message.TransportMessage, 4)
	for i := range msgs {
		msgs[i] = message.NewTransportMessage("+27831230000", "+27837650000", "queued")
		data, err := msgs[i].Encode()
		require.NoError(t, err)
		require.NoError(t, b.Publish(ctx, "smpp_transport.outbound", data))
	}

	// Only the window size reaches the wire
	waitForCondition(t, func() bool { return len(wire.submissions()) == 2 })
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, wire.submissions(), 2)

	// Resolving one message frees a flight slot for the next
	require.NoError(t, engine.OnSubmitResponse(ctx, 1, "R1", SubmitOK))
	waitForCondition(t, func() bool { return len(wire.submissions()) == 3 })
}

func TestPacerHoldsWindowWhileThrottled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := kvstore.NewMemoryStore()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	conn, err := connector.NewConnector(b, connector.Config{Name: "smpp_transport"}, nil, nil)
	require.NoError(t, err)

	wire := &fakeWire{gen: sequence.NewGenerator(store, "smpp_transport", 0)}
	engine, err := NewEngine(store, DefaultConfig("smpp_transport"), wire, conn, nil, nil, nil)
	require.NoError(t, err)

	var timers []func()
	engine.afterFunc = func(d time.Duration, f func()) *time.Timer {
		timers = append(timers, f)
		return time.NewTimer(time.Hour)
	}

	wm, err := window.NewManager(store, window.Config{
		WindowSize:     2,
		FlightLifetime: time.Minute,
	}, nil, nil)
	require.NoError(t, err)

	pacer, err := NewPacer(wm, engine, conn, window.MonitorOptions{Interval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, pacer.Start(ctx))
	t.Cleanup(func() { pacer.Stop() })

	msg := message.NewTransportMessage("+27831230000", "+27837650000", "held")
	data, err := msg.Encode()
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "smpp_transport.outbound", data))

	waitForCondition(t, func() bool { return len(wire.submissions()) == 1 })

	require.NoError(t, engine.OnSubmitResponse(ctx, 1, "", SubmitThrottled))
	require.True(t, engine.Throttled())

	// Another process feeds the shared window while this one is throttled
	queued := message.NewTransportMessage("+27831230000", "+27837650000", "queued behind throttle")
	data, err = queued.Encode()
	require.NoError(t, err)
	_, err = wm.Add(ctx, "smpp_transport", data, queued.MessageID)
	require.NoError(t, err)

	// Sweeps keep ticking but admit nothing until throttling ends
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, wire.submissions(), 1)

	// The scheduled retry resubmits only the throttled message
	require.Len(t, timers, 1)
	timers[0]()
	waitForCondition(t, func() bool { return len(wire.submissions()) == 2 })
	assert.Equal(t, "held", wire.submissions()[1].Content)

	// A successful response lifts the hold and the queued message drains
	require.NoError(t, engine.OnSubmitResponse(ctx, 2, "R1", SubmitOK))
	assert.False(t, engine.Throttled())
	waitForCondition(t, func() bool { return len(wire.submissions()) == 3 })
	assert.Equal(t, "queued behind throttle", wire.submissions()[2].Content)
}

func TestPacerReleasesSlotOnNack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := kvstore.NewMemoryStore()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	conn, err := connector.NewConnector(b, connector.Config{Name: "smpp_transport"}, nil, nil)
	require.NoError(t, err)

	wire := &fakeWire{gen: sequence.NewGenerator(store, "smpp_transport", 0)}
	engine, err := NewEngine(store, DefaultConfig("smpp_transport"), wire, conn, nil, nil, nil)
	require.NoError(t, err)

	wm, err := window.NewManager(store, window.Config{
		WindowSize:     1,
		FlightLifetime: time.Minute,
	}, nil, nil)
	require.NoError(t, err)

	pacer, err := NewPacer(wm, engine, conn, window.MonitorOptions{Interval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, pacer.Start(ctx))
	t.Cleanup(func() { pacer.Stop() })

	for i := 0; i < 2; i++ {
		msg := message.NewTransportMessage("+27831230000", "+27837650000", "queued")
		data, err := msg.Encode()
		require.NoError(t, err)
		require.NoError(t, b.Publish(ctx, "smpp_transport.outbound", data))
	}

	waitForCondition(t, func() bool { return len(wire.submissions()) == 1 })

	// A permanent rejection is terminal too and must free the slot
	require.NoError(t, engine.OnSubmitResponse(ctx, 1, "", SubmitStatus("ESME_RINVDSTADR")))
	waitForCondition(t, func() bool { return len(wire.submissions()) == 2 })
}
