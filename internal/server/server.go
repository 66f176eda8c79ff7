// Package server runs the circulation-system side of the protocol: a TCP
// accept loop feeding terminator-framed messages through a pluggable
// Backend, one goroutine per terminal connection.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/circkit/sip2/internal/observability"
	"github.com/circkit/sip2/internal/sip"
	"github.com/circkit/sip2/internal/sip/frame"
)

// ConnInfo is one active connection as seen by the admin surface.
type ConnInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Messages    uint64    `json:"messages"`
}

type connState struct {
	conn        net.Conn
	id          string
	remote      string
	connectedAt time.Time
	messages    atomic.Uint64
}

// Server accepts terminal connections and relays each parsed request to
// its Backend.
type Server struct {
	cfg      Config
	backend  Backend
	registry *sip.Registry

	connsMu sync.Mutex
	conns   map[net.Conn]*connState

	activeCount atomic.Int64

	// slots is the admission gate: accepted connections park here until a
	// handling slot frees. Saturation is logged once per saturation episode.
	slots        chan struct{}
	saturatedLog atomic.Bool
}

func New(cfg Config, backend Backend) (*Server, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, ErrNoBackend
	}
	return &Server{
		cfg:      cfg,
		backend:  backend,
		registry: sip.Default(),
		conns:    make(map[net.Conn]*connState),
		slots:    make(chan struct{}, cfg.MaxConns),
	}, nil
}

// Run listens on the configured address and serves until SIGINT/SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.ListenAndServe(ctx)
}

// ListenAndServe opens the configured listener and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) listen() (net.Listener, error) {
	if !s.cfg.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve runs the accept loop on an existing listener until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	listener := ln.Addr().String()
	log.Info().Str("addr", listener).Int("max_conns", s.cfg.MaxConns).Msg("listening")

	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.admit(ctx, listener, conn)
	}
}

// admit parks the connection until a handling slot frees, then hands it
// to its own goroutine.
func (s *Server) admit(ctx context.Context, listener string, conn net.Conn) {
	select {
	case s.slots <- struct{}{}:
	default:
		if s.saturatedLog.CompareAndSwap(false, true) {
			log.Warn().
				Str("listener", listener).
				Int("max_conns", s.cfg.MaxConns).
				Msg("connection limit reached; new connections will wait")
		}
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
	s.saturatedLog.Store(false)

	go func() {
		defer func() { <-s.slots }()
		s.handleConn(ctx, listener, conn)
	}()
}

func (s *Server) handleConn(ctx context.Context, listener string, conn net.Conn) {
	defer conn.Close()

	st := s.trackConn(conn)
	defer s.untrackConn(conn)

	active := s.activeCount.Add(1)
	observability.RecordConnectionOpened(listener)
	clog := log.With().Str("conn_id", st.id).Str("remote", st.remote).Logger()
	clog.Info().Int64("active", active).Msg("client connected")
	defer func() {
		remaining := s.activeCount.Add(-1)
		observability.RecordConnectionClosed(listener)
		clog.Info().Int64("active", remaining).Msg("client disconnected")
	}()

	ctx = WithConnID(ctx, st.id)
	reader := frame.NewReader(conn, s.cfg.Limits)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		text, err := reader.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, frame.ErrPeerClosed):
			case errors.Is(err, io.ErrUnexpectedEOF):
				clog.Warn().Msg("connection dropped mid-message")
			default:
				if ctx.Err() == nil {
					clog.Warn().Err(err).Msg("read failed")
				}
			}
			return
		}
		st.messages.Add(1)
		clog.Debug().Str("text", text).Msg("inbound")

		req, err := s.registry.Parse(text)
		if err != nil {
			var unknown *sip.UnknownMessageError
			if errors.As(err, &unknown) {
				// Unknown request type: drop the message, keep the line.
				clog.Warn().Str("code", unknown.Code).Msg("unknown message code; dropping message")
				observability.RecordMessage(listener, unknown.Code, "unknown")
				continue
			}
			// Anything else means the stream is misaligned; the only safe
			// recovery is a fresh connection.
			clog.Warn().Err(err).Msg("malformed message; closing connection")
			observability.RecordMessage(listener, "", "malformed")
			return
		}

		start := time.Now()
		resp, err := s.backend.Handle(ctx, req)
		observability.RecordBackendRequest(listener, req.Spec.Code, time.Since(start))
		if err != nil {
			clog.Error().Err(err).Str("code", req.Spec.Code).Msg("backend failed; request unanswered")
			observability.RecordMessage(listener, req.Spec.Code, "backend_error")
			continue
		}
		if resp == nil {
			observability.RecordMessage(listener, req.Spec.Code, "unanswered")
			continue
		}

		out, err := resp.Render()
		if err != nil {
			clog.Error().Err(err).Str("code", resp.Spec.Code).Msg("response render failed; request unanswered")
			observability.RecordMessage(listener, req.Spec.Code, "render_error")
			continue
		}
		clog.Debug().Str("text", out).Msg("outbound")
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := frame.WriteMessage(conn, out); err != nil {
			clog.Warn().Err(err).Msg("write failed")
			observability.RecordMessage(listener, req.Spec.Code, "write_error")
			return
		}
		observability.RecordMessage(listener, req.Spec.Code, "ok")
	}
}

// SnapshotConns returns the currently handled connections.
func (s *Server) SnapshotConns() []ConnInfo {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	out := make([]ConnInfo, 0, len(s.conns))
	for _, st := range s.conns {
		out = append(out, ConnInfo{
			ID:          st.id,
			RemoteAddr:  st.remote,
			ConnectedAt: st.connectedAt,
			Messages:    st.messages.Load(),
		})
	}
	return out
}

func (s *Server) trackConn(conn net.Conn) *connState {
	st := &connState{
		conn:        conn,
		id:          uuid.NewString(),
		remote:      conn.RemoteAddr().String(),
		connectedAt: time.Now(),
	}
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = st
	return st
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
