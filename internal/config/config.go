// Package config loads server configuration with file > env > defaults
// precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Directory *DirectoryConfig `json:"directory"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Keypair   *KeypairConfig   `json:"keypair"`
}

// DirectoryConfig points at the SQLite bookkeeping database.
type DirectoryConfig struct {
	Path string `json:"path"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// WebSocketConfig sizes each ClientSession's pendingInbox. PingInterval
// is loaded and validated but not passed to the transport, whose
// heartbeat uses its own fixed 30-second interval.
type WebSocketConfig struct {
	BufferSize   int           `json:"buffer_size"`
	PingInterval time.Duration `json:"ping_interval"`
}

// KeypairConfig names the path to the server's signed-generation-params
// RSA keypair. Never derived from the binary's own directory (spec.md
// §9 design note).
type KeypairConfig struct {
	Path string `json:"path"`
}

// IdentityConfig configures the JWT bearer-token resolver.
type IdentityConfig struct {
	SigningKey string `json:"signing_key"`
	Issuer     string `json:"issuer"`
}

func DefaultConfig() *Config {
	return &Config{
		Directory: &DirectoryConfig{
			Path: "./contexts.db",
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			BufferSize:   100,
			PingInterval: 30 * time.Second,
		},
		Keypair: &KeypairConfig{
			Path: "./.uuid_keypair",
		},
	}
}

func (c *Config) Validate() error {
	if c.Directory == nil || c.Directory.Path == "" {
		return fmt.Errorf("directory path cannot be empty")
	}
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.Keypair == nil || c.Keypair.Path == "" {
		return fmt.Errorf("keypair path cannot be empty")
	}
	return nil
}

// LoadFromEnv overlays REDUX_* environment variables on top of the
// defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("REDUX_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("REDUX_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("REDUX_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("REDUX_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}
	if v := os.Getenv("REDUX_DIRECTORY_PATH"); v != "" {
		cfg.Directory.Path = v
	}
	if v := os.Getenv("REDUX_WEBSOCKET_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WebSocket.BufferSize = n
		}
	}
	if v := os.Getenv("REDUX_WEBSOCKET_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("REDUX_KEYPAIR_PATH"); v != "" {
		cfg.Keypair.Path = v
	}

	return cfg
}

// fileConfig mirrors Config but with duration fields as strings, so the
// JSON on disk stays human-writable ("30s" rather than a nanosecond int).
type fileConfig struct {
	Directory *DirectoryConfig `json:"directory"`
	HTTP      *httpFileConfig  `json:"http"`
	WebSocket *wsFileConfig    `json:"websocket"`
	Keypair   *KeypairConfig   `json:"keypair"`
}

type httpFileConfig struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type wsFileConfig struct {
	BufferSize   int    `json:"buffer_size"`
	PingInterval string `json:"ping_interval"`
}

// LoadFromFile parses a JSON config file, overlaying it on top of the
// defaults, and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if fc.Directory != nil && fc.Directory.Path != "" {
		cfg.Directory.Path = fc.Directory.Path
	}
	if fc.HTTP != nil {
		if fc.HTTP.Port > 0 {
			cfg.HTTP.Port = fc.HTTP.Port
		}
		if fc.HTTP.Host != "" {
			cfg.HTTP.Host = fc.HTTP.Host
		}
		if fc.HTTP.ReadTimeout != "" {
			if d, err := time.ParseDuration(fc.HTTP.ReadTimeout); err == nil {
				cfg.HTTP.ReadTimeout = d
			}
		}
		if fc.HTTP.WriteTimeout != "" {
			if d, err := time.ParseDuration(fc.HTTP.WriteTimeout); err == nil {
				cfg.HTTP.WriteTimeout = d
			}
		}
	}
	if fc.WebSocket != nil {
		if fc.WebSocket.BufferSize > 0 {
			cfg.WebSocket.BufferSize = fc.WebSocket.BufferSize
		}
		if fc.WebSocket.PingInterval != "" {
			if d, err := time.ParseDuration(fc.WebSocket.PingInterval); err == nil {
				cfg.WebSocket.PingInterval = d
			}
		}
	}
	if fc.Keypair != nil && fc.Keypair.Path != "" {
		cfg.Keypair.Path = fc.Keypair.Path
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithPrecedence resolves configuration as file > env > defaults.
// A missing or unreadable file at path is silently ignored so env/
// defaults still apply; path == "" skips the file layer entirely.
func LoadWithPrecedence(path string) *Config {
	cfg := LoadFromEnv()

	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}

	return cfg
}
