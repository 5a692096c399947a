package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, int64(64*1024), cfg.ReadLimit)
	assert.Equal(t, 64, cfg.SendBuffer)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nmode: debug\nsend_buffer: 8\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MESH_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 8, cfg.SendBuffer)
}

func TestLoadRejectsPingAfterPong(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MESH_PING_PERIOD", "2m")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadClient(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := LoadClient(NewClientViper())
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/ws/signal", cfg.SignalingURL)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	assert.Equal(t, 15*time.Second, cfg.NegotiationTimeout)

	v := NewClientViper()
	v.Set("signaling_url", "http://example.com")
	_, err = LoadClient(v)
	require.Error(t, err)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, Level("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, Level(""))
	assert.Equal(t, zerolog.InfoLevel, Level("nonsense"))
}
