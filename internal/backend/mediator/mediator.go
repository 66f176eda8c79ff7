// Package mediator relays protocol requests to an HTTP service that owns
// the real circulation logic. Each request travels as a JSON envelope in a
// form-encoded POST; the response body is the answer's JSON envelope.
package mediator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/circkit/sip2/internal/server"
	"github.com/circkit/sip2/internal/sip"
)

var ErrNoURL = errors.New("mediator: endpoint url is empty")

// Config describes the mediator endpoint.
type Config struct {
	// URL is the full endpoint, e.g. "https://ils.example.org/sip2-mediator".
	URL string

	RequestTimeout time.Duration

	// InsecureSkipVerify disables certificate validation toward the
	// mediator. Test fixtures only; every client build with it set logs
	// loudly.
	InsecureSkipVerify bool
}

func (c Config) WithDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// Connections share one HTTP client per verification mode so the mediator
// sees a single pool. Keeping the modes apart means a later Backend with a
// different InsecureSkipVerify setting never inherits the wrong transport.
var (
	verifyingOnce   sync.Once
	verifyingClient *http.Client
	insecureOnce    sync.Once
	insecureClient  *http.Client
)

func sharedHTTPClient(insecure bool) *http.Client {
	if insecure {
		insecureOnce.Do(func() {
			transport := http.DefaultTransport.(*http.Transport).Clone()
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
			insecureClient = &http.Client{Transport: transport}
		})
		return insecureClient
	}
	verifyingOnce.Do(func() {
		verifyingClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	})
	return verifyingClient
}

// Backend forwards every request to the mediator. The terminal connection's
// identity rides along as the session key, so the mediator can keep
// per-connection state (login, institution) across requests.
type Backend struct {
	cfg      Config
	client   *http.Client
	registry *sip.Registry
}

func New(cfg Config) (*Backend, error) {
	cfg = cfg.WithDefaults()
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrNoURL
	}
	if cfg.InsecureSkipVerify {
		log.Warn().
			Str("url", cfg.URL).
			Msg("mediator: certificate verification disabled; traffic is open to interception")
	}
	return &Backend{
		cfg:      cfg,
		client:   sharedHTTPClient(cfg.InsecureSkipVerify),
		registry: sip.Default(),
	}, nil
}

func (b *Backend) Handle(ctx context.Context, req *sip.Message) (*sip.Message, error) {
	payload, err := sip.MarshalEnvelope(req)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("session", b.sessionKey(ctx))
	form.Set("message", string(payload))

	reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(
		reqCtx, http.MethodPost, b.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mediator: endpoint returned status %d", httpResp.StatusCode)
	}
	log.Debug().Str("code", req.Spec.Code).Int("bytes", len(body)).Msg("mediator answered")

	return b.registry.UnmarshalEnvelope(body)
}

// sessionKey derives the mediator session identifier from the server's
// connection identity, so one terminal connection maps to one mediator
// session for its whole lifetime.
func (b *Backend) sessionKey(ctx context.Context) string {
	id := server.ConnID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	return strings.ReplaceAll(id, "-", "")
}

var _ server.Backend = (*Backend)(nil)
