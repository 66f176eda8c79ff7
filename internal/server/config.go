package server

import (
	"errors"
	"strings"
	"time"

	"github.com/circkit/sip2/internal/sip/frame"
)

var (
	ErrNoListenAddr = errors.New("server: listen address is empty")
	ErrNoBackend    = errors.New("server: backend is nil")
	ErrTLSKeyPair   = errors.New("server: tls requires both cert file and key file")
)

// TLSConfig controls the listener's transport wrapping.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// Config describes one server endpoint.
type Config struct {
	ListenAddr string

	// MaxConns bounds the number of connections handled at once. Accepts
	// beyond the bound block until a slot frees; no connection is refused.
	MaxConns int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Limits frame.Limits
	TLS    TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":6001",
		MaxConns:     150,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 15 * time.Second,
		Limits:       frame.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.MaxConns <= 0 {
		c.MaxConns = def.MaxConns
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Limits.MaxMessageBytes <= 0 {
		c.Limits = frame.DefaultLimits()
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrNoListenAddr
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return ErrTLSKeyPair
	}
	return nil
}
