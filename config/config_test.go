package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vumigo.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDispatcherConfig(t *testing.T) {
	path := writeConfigFile(t, `{
		"worker": {"name": "router1", "role": "dispatcher"},
		"dispatcher": {
			"receive_inbound_connectors": ["transport1"],
			"receive_outbound_connectors": ["app1"],
			"routing_table": {
				"inbound": {"transport1": {"default": {"connector": "app1", "endpoint": "default"}}},
				"outbound": {"app1": {"default": {"connector": "transport1", "endpoint": "default"}}}
			}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "router1", cfg.Worker.Name)
	assert.Equal(t, RoleDispatcher, cfg.Worker.Role)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"transport1"}, cfg.Dispatcher.ReceiveInboundConnectors)

	target, ok := cfg.Dispatcher.Table.Inbound.Lookup("transport1", "anything")
	require.True(t, ok)
	assert.Equal(t, "app1", target.Connector)
}

func TestLoadSMPPConfigFillsDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"worker": {"name": "smsc1", "role": "smpp"},
		"smpp": {"transport_name": "smpp_transport"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.SMPP)
	assert.Equal(t, "smpp_transport", cfg.SMPP.TransportName)
	assert.Positive(t, cfg.SMPP.SubmitTTL)
	assert.Positive(t, cfg.SMPP.Window.WindowSize)
	assert.Equal(t, "smpp_transport", cfg.SMPP.Failures.Name)
	assert.Positive(t, cfg.SMPP.Failures.Backoff.InitialDelay)
}

func TestLoadMissingRoleSection(t *testing.T) {
	path := writeConfigFile(t, `{"worker": {"name": "w", "role": "dispatcher"}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadUnknownRole(t *testing.T) {
	path := writeConfigFile(t, `{"worker": {"name": "w", "role": "transporter"}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `{
		"worker": {"name": "smsc1", "role": "smpp"},
		"smpp": {"transport_name": "smpp_transport"}
	}`)

	t.Setenv(EnvPrefix+"_REDIS_ADDR", "redis.internal:6380")
	t.Setenv(EnvPrefix+"_NATS_URL", "nats://nats.internal:4222")
	t.Setenv(EnvPrefix+"_LOG_LEVEL", "DEBUG")
	t.Setenv(EnvPrefix+"_METRICS_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Worker.LogLevel)
	assert.Equal(t, 9999, cfg.Metrics.Port)
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"_WORKER_NAME", "w1")
	t.Setenv(EnvPrefix+"_WORKER_ROLE", "dispatcher")

	// Defaults alone cannot satisfy the dispatcher role; the error comes
	// from validation, not file handling.
	_, err := Load("")
	require.Error(t, err)
}
