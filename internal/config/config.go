// Package config loads the daemon's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ServerConfig is the top-level sipd configuration file.
type ServerConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	AdminAddr   string `toml:"admin_addr"`
	MaxConns    int    `toml:"max_conns"`
	Institution string `toml:"institution"`

	ReadTimeoutSec  int `toml:"read_timeout_sec"`
	WriteTimeoutSec int `toml:"write_timeout_sec"`

	Backend  BackendConfig  `toml:"backend"`
	TLS      TLSFileConfig  `toml:"tls"`
	Admin    AdminConfig    `toml:"admin"`
	Mediator MediatorConfig `toml:"mediator"`
}

// BackendConfig selects which Backend answers requests.
type BackendConfig struct {
	// Kind is "demo" or "mediator".
	Kind string `toml:"kind"`
}

// TLSFileConfig wraps the protocol listener in TLS when enabled.
type TLSFileConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// AdminConfig controls the admin HTTP surface.
type AdminConfig struct {
	CORSOrigins []string `toml:"cors_origins"`
}

// MediatorConfig configures the HTTP relay backend.
type MediatorConfig struct {
	URL                string `toml:"url"`
	RequestTimeoutSec  int    `toml:"request_timeout_sec"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

const (
	BackendDemo     = "demo"
	BackendMediator = "mediator"
)

func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	cfg = cfg.WithDefaults()
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) WithDefaults() ServerConfig {
	if c.ListenAddr == "" {
		c.ListenAddr = ":6001"
	}
	if c.AdminAddr == "" {
		c.AdminAddr = "127.0.0.1:6080"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 150
	}
	if c.Institution == "" {
		c.Institution = "example"
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendDemo
	}
	if c.Mediator.RequestTimeoutSec <= 0 {
		c.Mediator.RequestTimeoutSec = 30
	}
	return c
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSec) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSec) * time.Second
}

func (c ServerConfig) MediatorRequestTimeout() time.Duration {
	return time.Duration(c.Mediator.RequestTimeoutSec) * time.Second
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("server config missing listen_addr")
	}
	switch cfg.Backend.Kind {
	case BackendDemo:
	case BackendMediator:
		if strings.TrimSpace(cfg.Mediator.URL) == "" {
			return fmt.Errorf("mediator backend requires mediator.url")
		}
	default:
		return fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
	if cfg.TLS.Enabled && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	return nil
}
