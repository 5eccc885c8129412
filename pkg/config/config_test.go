package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:50051", cfg.Worker.HostAddress)
	assert.Equal(t, "1", cfg.Worker.ProtocolVersion)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker:
  hostAddress: "10.0.0.5:7000"
  workerId: "w-42"
  protocolVersion: "1"
  heartbeatInterval: 5s
  drainTimeout: 1m
telemetry:
  logging:
    level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:7000", cfg.Worker.HostAddress)
	assert.Equal(t, "w-42", cfg.Worker.WorkerID)
	assert.Equal(t, 5*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, time.Minute, cfg.Worker.DrainTimeout)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker:
  hostAddress: "10.0.0.5:7000"
  protocolVersion: "1"
`), 0o644))

	t.Setenv("FNWORKER_HOST_ADDRESS", "192.168.1.1:9000")
	t.Setenv("FNWORKER_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("FNWORKER_METRICS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1:9000", cfg.Worker.HostAddress)
	assert.Equal(t, 2*time.Second, cfg.Worker.HeartbeatInterval)
	assert.True(t, cfg.Telemetry.Metrics.Enabled)
}

func TestLoadRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker:
  hostAddress: "not an address"
  protocolVersion: "1"
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/worker.yaml")
	require.Error(t, err)
}
