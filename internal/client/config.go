package client

import "time"

// TLSConfig controls optional transport wrapping of the raw socket.
//
// InsecureSkipVerify disables certificate and hostname validation for the
// server. That leaves the session open to interception and must only be
// used against test fixtures; every dial with it set logs a warning.
type TLSConfig struct {
	Enabled            bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// Config describes one client session. A Session is single-owner: it must
// not be shared across goroutines, and each independent connection needs
// its own Session.
type Config struct {
	Addr string

	// Institution is the default AO value attached to requests when the
	// per-call options leave it blank.
	Institution string
	// TerminalPwd, when set, is attached as the AC field on requests
	// that carry one.
	TerminalPwd string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	TLS TLSConfig
}

func (c Config) WithDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	return c
}
