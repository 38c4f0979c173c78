package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/msip/internal/core/observability/log"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Shards)
	assert.Empty(t, cfg.WebSocketAddr)
	assert.Zero(t, cfg.MaxPayloadBytes)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "yaml",
			file: "msipd.yaml",
			body: `
listen_addr: "0.0.0.0:9000"
websocket_addr: "127.0.0.1:9001"
log_level: debug
shards: 8
max_payload_bytes: 65536
drain_timeout: 500ms
reuse_port: true
`,
		},
		{
			name: "toml",
			file: "msipd.toml",
			body: `
listen_addr = "0.0.0.0:9000"
websocket_addr = "127.0.0.1:9001"
log_level = "debug"
shards = 8
max_payload_bytes = 65536
drain_timeout = "500ms"
reuse_port = true
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.body))
			require.NoError(t, err)

			assert.Equal(t, Config{
				ListenAddr:      "0.0.0.0:9000",
				WebSocketAddr:   "127.0.0.1:9001",
				LogLevel:        log.LevelDebug,
				Shards:          8,
				MaxPayloadBytes: 65536,
				DrainTimeout:    500 * time.Millisecond,
				ReusePort:       true,
			}, cfg)
		})
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Load(writeFile(t, "partial.yml", "shards: 4\n"))
	require.NoError(t, err)

	want := Default()
	want.Shards = 4
	assert.Equal(t, want, cfg)
}

func TestLoadEmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		is   error
	}{
		{name: "unknown extension", file: "cfg.json", body: "{}", is: ErrUnsupportedFormat},
		{name: "unknown toml key", file: "cfg.toml", body: "bogus = 1\n", is: ErrInvalidConfig},
		{name: "zero shards", file: "cfg.yaml", body: "shards: 0\n", is: ErrInvalidConfig},
		{name: "bad listen addr", file: "cfg.toml", body: "listen_addr = \"nope\"\n", is: ErrInvalidConfig},
		{name: "unknown yaml key", file: "cfg.yaml", body: "bogus: 1\n"},
		{name: "bad duration", file: "cfg.yaml", body: "drain_timeout: soon\n"},
		{name: "zero drain timeout", file: "cfg.yaml", body: "drain_timeout: 0s\n", is: ErrInvalidConfig},
		{name: "negative drain timeout", file: "cfg.toml", body: "drain_timeout = \"-1s\"\n", is: ErrInvalidConfig},
		{name: "bad level", file: "cfg.toml", body: "log_level = \"loud\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvListenAddr:    " 10.0.0.1:7000 ",
		EnvLogLevel:      "warn",
		EnvWebSocketAddr: "10.0.0.1:7001",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "10.0.0.1:7000", cfg.ListenAddr)
	assert.Equal(t, log.LevelWarn, cfg.LogLevel)
	assert.Equal(t, "10.0.0.1:7001", cfg.WebSocketAddr)

	env[EnvLogLevel] = "shouting"
	assert.Error(t, cfg.ApplyEnv(lookup))
}

func TestLoadAppliesEnvOverFile(t *testing.T) {
	t.Setenv(EnvListenAddr, "127.0.0.1:6000")
	cfg, err := Load(writeFile(t, "cfg.yaml", "listen_addr: \"127.0.0.1:5000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.ListenAddr)
}
