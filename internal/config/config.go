// Package config loads the broker configuration from YAML or TOML files and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/msip/internal/core/observability/log"
)

const (
	EnvListenAddr    = "MSIP_LISTEN_ADDR"
	EnvLogLevel      = "MSIP_LOG_LEVEL"
	EnvWebSocketAddr = "MSIP_WEBSOCKET_ADDR"
)

var (
	ErrInvalidConfig     = errors.New("config: invalid configuration")
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
)

type Config struct {
	// ListenAddr is the TCP host:port the broker accepts MSIP clients on.
	ListenAddr string
	// WebSocketAddr enables the WebSocket gateway when not empty.
	WebSocketAddr string
	LogLevel      log.Level
	// Shards partitions the topic index. 1 keeps a single lock.
	Shards int
	// MaxPayloadBytes rejects frames announcing a larger payload. 0 = no limit.
	MaxPayloadBytes uint32
	// DrainTimeout bounds how long queued frames are flushed after a
	// connection starts terminating.
	DrainTimeout time.Duration
	// ReusePort sets SO_REUSEPORT on the TCP listener where supported.
	ReusePort bool
}

func Default() Config {
	return Config{
		ListenAddr:   "127.0.0.1:7070",
		LogLevel:     log.LevelInfo,
		Shards:       1,
		DrainTimeout: 2 * time.Second,
	}
}

// fileConfig mirrors Config with optional fields so that keys missing from
// the file keep their defaults.
type fileConfig struct {
	ListenAddr      *string `yaml:"listen_addr" toml:"listen_addr"`
	WebSocketAddr   *string `yaml:"websocket_addr" toml:"websocket_addr"`
	LogLevel        *string `yaml:"log_level" toml:"log_level"`
	Shards          *int    `yaml:"shards" toml:"shards"`
	MaxPayloadBytes *uint32 `yaml:"max_payload_bytes" toml:"max_payload_bytes"`
	DrainTimeout    *string `yaml:"drain_timeout" toml:"drain_timeout"`
	ReusePort       *bool   `yaml:"reuse_port" toml:"reuse_port"`
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result. The format follows the extension:
// .yaml/.yml or .toml.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := raw.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var raw fileConfig

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return raw, fmt.Errorf("load %s: %w", path, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return raw, fmt.Errorf("load %s: %w", path, err)
		}

	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return raw, fmt.Errorf("load %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return raw, fmt.Errorf("load %s: %w: unknown key %q", path, ErrInvalidConfig, undecoded[0].String())
		}

	default:
		return raw, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}

	return raw, nil
}

func (r fileConfig) apply(cfg *Config) error {
	if r.ListenAddr != nil {
		cfg.ListenAddr = strings.TrimSpace(*r.ListenAddr)
	}
	if r.WebSocketAddr != nil {
		cfg.WebSocketAddr = strings.TrimSpace(*r.WebSocketAddr)
	}
	if r.LogLevel != nil {
		lvl, err := log.ParseLevel(*r.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = lvl
	}
	if r.Shards != nil {
		cfg.Shards = *r.Shards
	}
	if r.MaxPayloadBytes != nil {
		cfg.MaxPayloadBytes = *r.MaxPayloadBytes
	}
	if r.DrainTimeout != nil {
		d, err := time.ParseDuration(strings.TrimSpace(*r.DrainTimeout))
		if err != nil {
			return fmt.Errorf("parse drain_timeout: %w", err)
		}
		cfg.DrainTimeout = d
	}
	if r.ReusePort != nil {
		cfg.ReusePort = *r.ReusePort
	}
	return nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvListenAddr); ok && strings.TrimSpace(v) != "" {
		c.ListenAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvWebSocketAddr); ok {
		c.WebSocketAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		lvl, err := log.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		c.LogLevel = lvl
	}
	return nil
}

func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen_addr %q: %v", ErrInvalidConfig, c.ListenAddr, err)
	}
	if c.WebSocketAddr != "" {
		if _, _, err := net.SplitHostPort(c.WebSocketAddr); err != nil {
			return fmt.Errorf("%w: websocket_addr %q: %v", ErrInvalidConfig, c.WebSocketAddr, err)
		}
	}
	if c.Shards < 1 {
		return fmt.Errorf("%w: shards must be at least 1, got %d", ErrInvalidConfig, c.Shards)
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("%w: drain_timeout must be positive, got %s", ErrInvalidConfig, c.DrainTimeout)
	}
	return nil
}
