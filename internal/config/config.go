// Package config provides configuration loading for webbridge.
//
// Configuration is read from a YAML or TOML file and overridden by
// WEBBRIDGE_* environment variables. Sections owned by other packages
// (logging, telemetry) are decoded on demand with Config.Section so this
// package does not depend on them.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config holds the complete webbridge configuration.
type Config struct {
	Bridge    BridgeConfig    `koanf:"bridge"`
	Transport TransportConfig `koanf:"transport"`
	Host      HostConfig      `koanf:"host"`
	State     StateConfig     `koanf:"state"`
	Server    ServerConfig    `koanf:"server"`

	k *koanf.Koanf
}

// BridgeConfig holds correlation engine settings.
type BridgeConfig struct {
	// DefaultTimeout applies to requests sent without an explicit timeout.
	// Zero waits forever.
	DefaultTimeout Duration `koanf:"default_timeout"`
	// RateLimit caps inbound commands per second. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
	// Inline runs commands on the receiving goroutine.
	Inline bool `koanf:"inline"`
}

// TransportConfig selects how envelopes reach the peer.
type TransportConfig struct {
	Kind  string     `koanf:"kind"`  // stdio | nats
	Codec string     `koanf:"codec"` // json | msgpack
	NATS  NATSConfig `koanf:"nats"`
}

// NATSConfig holds NATS transport settings.
type NATSConfig struct {
	URL              string `koanf:"url"`
	Name             string `koanf:"name"`
	PublishSubject   string `koanf:"publish_subject"`
	SubscribeSubject string `koanf:"subscribe_subject"`
	PendingLimit     int    `koanf:"pending_limit"`
}

// HostConfig describes the environment exposed through the host API.
type HostConfig struct {
	Name                string   `koanf:"name"`
	ExtensionPath       string   `koanf:"extension_path"`
	StoragePath         string   `koanf:"storage_path"`
	WorkspaceFolders    []string `koanf:"workspace_folders"`
	RestrictToWorkspace bool     `koanf:"restrict_to_workspace"`
	RequestTimeout      Duration `koanf:"request_timeout"`
}

// StateConfig selects the backend of the global, workspace and webview
// stores.
type StateConfig struct {
	Backend string      `koanf:"backend"` // memory | file | redis
	Dir     string      `koanf:"dir"`
	Format  string      `koanf:"format"` // yaml | json | toml
	Watch   bool        `koanf:"watch"`
	Redis   RedisConfig `koanf:"redis"`
}

// RedisConfig holds Redis store settings.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  Secret `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			DefaultTimeout: Duration(30 * time.Second),
			RateBurst:      100,
		},
		Transport: TransportConfig{
			Kind:  "stdio",
			Codec: "json",
			NATS: NATSConfig{
				URL:              "nats://127.0.0.1:4222",
				Name:             "webbridge",
				PublishSubject:   "webbridge.peer",
				SubscribeSubject: "webbridge.host",
				PendingLimit:     1024,
			},
		},
		Host: HostConfig{
			Name:           "webbridge",
			RequestTimeout: Duration(30 * time.Second),
		},
		State: StateConfig{
			Backend: "memory",
			Format:  "yaml",
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "webbridge",
			},
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Bridge.RateLimit < 0 {
		return fmt.Errorf("bridge.rate_limit must be >= 0, got %v", c.Bridge.RateLimit)
	}
	if c.Bridge.RateLimit > 0 && c.Bridge.RateBurst < 1 {
		return errors.New("bridge.rate_burst must be positive when rate_limit is set")
	}

	switch c.Transport.Kind {
	case "stdio":
	case "nats":
		if c.Transport.NATS.URL == "" {
			return errors.New("transport.nats.url is required for the nats transport")
		}
		if c.Transport.NATS.PublishSubject == "" || c.Transport.NATS.SubscribeSubject == "" {
			return errors.New("transport.nats publish_subject and subscribe_subject are required")
		}
		if c.Transport.NATS.PublishSubject == c.Transport.NATS.SubscribeSubject {
			return errors.New("transport.nats publish_subject and subscribe_subject must differ")
		}
	default:
		return fmt.Errorf("invalid transport.kind %q (must be stdio or nats)", c.Transport.Kind)
	}

	switch c.Transport.Codec {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("invalid transport.codec %q (must be json or msgpack)", c.Transport.Codec)
	}

	switch c.State.Backend {
	case "memory":
	case "file":
		if c.State.Dir == "" {
			return errors.New("state.dir is required for the file backend")
		}
		switch c.State.Format {
		case "yaml", "json", "toml":
		default:
			return fmt.Errorf("invalid state.format %q (must be yaml, json or toml)", c.State.Format)
		}
	case "redis":
		if c.State.Redis.Addr == "" {
			return errors.New("state.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid state.backend %q (must be memory, file or redis)", c.State.Backend)
	}

	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
		}
		if c.Server.ShutdownTimeout.Duration() <= 0 {
			return errors.New("server.shutdown_timeout must be positive")
		}
	}

	return nil
}

// Section decodes the subtree at path onto out, leaving fields that are not
// set untouched. It is a no-op for configurations built without Load.
func (c *Config) Section(path string, out any) error {
	if c.k == nil || !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
