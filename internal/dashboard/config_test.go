package dashboard

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
relay_jpeg_quality: 60
session:
  backend_url: http://detector:5000
  poll_interval: 500ms
  log_interval: 0s
  alerts:
    broker: tcp://broker:1883
`), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, LoadFile(path, &cfg))

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 60, cfg.RelayJPEGQuality)
	assert.Equal(t, "http://detector:5000", cfg.Session.BackendURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.PollInterval)
	assert.Zero(t, cfg.Session.LogInterval)
	assert.Equal(t, "tcp://broker:1883", cfg.Session.Alerts.Broker)

	assert.Equal(t, DefaultConfig().KeepaliveInterval, cfg.KeepaliveInterval)
	assert.Equal(t, DefaultConfig().Session.HealthInterval, cfg.Session.HealthInterval)
	assert.Equal(t, 30*time.Second, cfg.Session.StartTimeout)
}

func TestLoadFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unterminated"), 0o644))
	assert.Error(t, LoadFile(path, &cfg))
}

func TestApplyEnvOverridesBackend(t *testing.T) {
	t.Setenv(BackendURLEnv, "http://10.0.0.2:5000")
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "http://10.0.0.2:5000", cfg.Session.BackendURL)
}
