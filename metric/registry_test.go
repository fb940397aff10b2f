package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_submissions_total",
		Help: "test counter",
	})

	require.NoError(t, registry.RegisterCounter("smpp_tx1", "submissions", counter))

	// Duplicate registration under the same key fails
	err := registry.RegisterCounter("smpp_tx1", "submissions", counter)
	assert.Error(t, err)
}

func TestRegisterGaugeAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_window_depth",
		Help: "test gauge",
	})

	require.NoError(t, registry.RegisterGauge("window_monitor", "depth", gauge))
	assert.True(t, registry.Unregister("window_monitor", "depth"))
	assert.False(t, registry.Unregister("window_monitor", "depth"))

	// Can re-register after unregister
	require.NoError(t, registry.RegisterGauge("window_monitor", "depth", gauge))
}

func TestCoreMetricsUsable(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.MessagesReceived.WithLabelValues("smpp_tx1", "inbound").Inc()
	core.WindowInFlight.WithLabelValues("smpp_tx1").Set(3)
	core.RetriesDelivered.Inc()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["vumigo_messages_received_total"])
	assert.True(t, names["vumigo_window_in_flight"])
	assert.True(t, names["vumigo_failures_retries_delivered_total"])
}
