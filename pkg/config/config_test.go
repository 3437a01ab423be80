package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1400, cfg.Protocol.MSS)
	assert.Equal(t, 200, cfg.Protocol.AckTimeoutMS)
	assert.Equal(t, 8192, cfg.Protocol.WindowSize)
	assert.Equal(t, 3, cfg.Protocol.InitCwndSegments)
	assert.Equal(t, 10, cfg.Protocol.MaxRetries)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microtcp.yaml")
	content := []byte(`
protocol:
  mss: 500
  ackTimeoutMS: 50
  windowSize: 4096
transport:
  listenAddr: "127.0.0.1:7700"
  ttl: 32
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg := DefaultConfig()
	require.NoError(t, LoadFromFile(path, cfg))
	assert.Equal(t, 500, cfg.Protocol.MSS)
	assert.Equal(t, 50, cfg.Protocol.AckTimeoutMS)
	assert.Equal(t, 4096, cfg.Protocol.WindowSize)
	assert.Equal(t, "127.0.0.1:7700", cfg.Transport.ListenAddr)
	assert.Equal(t, 32, cfg.Transport.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched fields keep their defaults
	assert.Equal(t, 10, cfg.Protocol.MaxRetries)
}

func TestLoadFromFileUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microtcp.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))
	assert.Error(t, LoadFromFile(path, DefaultConfig()))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MICROTCP_MSS", "700")
	t.Setenv("MICROTCP_ACK_TIMEOUT_MS", "100")
	t.Setenv("MICROTCP_LISTEN_ADDR", "127.0.0.1:7800")
	t.Setenv("LOGGING_LEVEL", "warn")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	assert.Equal(t, 700, cfg.Protocol.MSS)
	assert.Equal(t, 100, cfg.Protocol.AckTimeoutMS)
	assert.Equal(t, "127.0.0.1:7800", cfg.Transport.ListenAddr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero mss", func(c *Config) { c.Protocol.MSS = 0 }},
		{"window below mss", func(c *Config) { c.Protocol.WindowSize = 100 }},
		{"zero timeout", func(c *Config) { c.Protocol.AckTimeoutMS = 0 }},
		{"zero cwnd", func(c *Config) { c.Protocol.InitCwndSegments = 0 }},
		{"zero retries", func(c *Config) { c.Protocol.MaxRetries = 0 }},
		{"bad ttl", func(c *Config) { c.Transport.TTL = 300 }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "microtcp.json")

	cfg := DefaultConfig()
	cfg.Protocol.MSS = 900
	require.NoError(t, cfg.SaveToFile(path))

	got := DefaultConfig()
	require.NoError(t, LoadFromFile(path, got))
	assert.Equal(t, 900, got.Protocol.MSS)
}
