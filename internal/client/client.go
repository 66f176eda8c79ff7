// Package client implements the terminal side of the circulation
// protocol: one Session per connection, one method per request type.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/circkit/sip2/internal/sip"
	"github.com/circkit/sip2/internal/sip/frame"
)

var (
	ErrNotConnected = errors.New("client: not connected")
	// ErrDisconnected reports that the server closed the connection while
	// a response was expected.
	ErrDisconnected = errors.New("client: server closed the connection")
	// ErrTooManySummaryItems reports a patron-info summary selecting more
	// than one category. Caught locally, before any network I/O.
	ErrTooManySummaryItems = errors.New("client: patron info summary selects more than one category")
)

const blankSummary = "          "

// Session owns one connection to a server. It is not safe for concurrent
// use; requests and responses are strictly paired on the wire.
type Session struct {
	cfg      Config
	registry *sip.Registry

	conn   net.Conn
	reader *frame.Reader
	msglog *MsgLog
}

func New(cfg Config) *Session {
	return &Session{
		cfg:      cfg.WithDefaults(),
		registry: sip.Default(),
		msglog:   NewMsgLog(),
	}
}

// MsgLog exposes the session's accumulated round-trip timings.
func (s *Session) MsgLog() *MsgLog {
	return s.msglog
}

// Dial opens the transport, wrapping it in TLS when configured.
func (s *Session) Dial(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if !s.cfg.TLS.Enabled {
		s.attach(rawConn)
		return nil
	}

	tlsCfg, err := s.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return err
	}
	if tlsCfg.InsecureSkipVerify {
		log.Warn().
			Str("addr", s.cfg.Addr).
			Msg("certificate verification disabled for this session; connection is open to interception")
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return err
	}
	s.attach(conn)
	return nil
}

func (s *Session) attach(conn net.Conn) {
	s.conn = conn
	s.reader = frame.NewReader(conn, frame.DefaultLimits())
	log.Debug().Str("addr", s.cfg.Addr).Msg("connected")
}

func (s *Session) clientTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.cfg.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(s.cfg.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(s.cfg.Addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(s.cfg.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("client: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if s.cfg.TLS.CertFile != "" || s.cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Close tears down the session's socket.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	return err
}

// roundTrip sends one request and blocks for its response, recording the
// exchange duration under the request's message code.
func (s *Session) roundTrip(msg *sip.Message) (*sip.Message, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}

	text, err := msg.Render()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log.Debug().Str("text", text).Msg("outbound")
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := frame.WriteMessage(s.conn, text); err != nil {
		return nil, err
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	respText, err := s.reader.ReadMessage()
	if err != nil {
		if errors.Is(err, frame.ErrPeerClosed) {
			// Best-effort local cleanup before surfacing the condition.
			_ = s.Close()
			return nil, ErrDisconnected
		}
		return nil, err
	}
	log.Debug().Str("text", respText).Msg("inbound")

	resp, err := s.registry.Parse(respText)
	if err != nil {
		return nil, err
	}
	s.msglog.Record(msg.Spec.Code, msg.Spec.Label, time.Since(start))
	return resp, nil
}

func (s *Session) institution(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.cfg.Institution
}

// StatusOptions carries the optional SC status parameters. Zero values
// take the protocol defaults.
type StatusOptions struct {
	StatusCode      string // default "0"
	MaxPrintWidth   string // default "100"
	ProtocolVersion string // default "2.00"
}

// SCStatus sends an SC status request (99) and returns the ACS status
// response.
func (s *Session) SCStatus(opts StatusOptions) (*sip.Message, error) {
	if opts.StatusCode == "" {
		opts.StatusCode = "0"
	}
	if opts.MaxPrintWidth == "" {
		opts.MaxPrintWidth = "100"
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = sip.ProtocolVersion
	}

	msg, err := sip.NewMessage(sip.MsgSCStatus,
		opts.StatusCode, opts.MaxPrintWidth, opts.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	return s.roundTrip(msg)
}

// Login authenticates the session. The algorithm fields are fixed at "0"
// (no hashing); credentials travel as plain fields. Returns true iff the
// response's ok field is "1" — any other value is a normal login failure,
// not an error.
func (s *Session) Login(username, password, location string) (bool, error) {
	log.Debug().Str("username", username).Str("location", location).Msg("logging in")

	msg, err := sip.NewMessage(sip.MsgLogin, "0", "0")
	if err != nil {
		return false, err
	}
	if err := msg.AddField(sip.FieldLoginUID, username); err != nil {
		return false, err
	}
	if err := msg.AddField(sip.FieldLoginPwd, password); err != nil {
		return false, err
	}
	if err := msg.AddField(sip.FieldLocationCode, location); err != nil {
		return false, err
	}

	resp, err := s.roundTrip(msg)
	if err != nil {
		return false, err
	}
	if len(resp.FixedFields) > 0 && resp.FixedFields[0].Value == "1" {
		return true, nil
	}
	log.Info().Str("username", username).Msg("login failed")
	return false, nil
}

// ItemInfoOptions carries the optional item-info parameters.
type ItemInfoOptions struct {
	Institution string
}

// ItemInfo requests item information (17) for one item barcode.
func (s *Session) ItemInfo(itemID string, opts ItemInfoOptions) (*sip.Message, error) {
	msg, err := sip.NewMessage(sip.MsgItemInfo, sip.Timestamp())
	if err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldInstitutionID, s.institution(opts.Institution)); err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldItemID, itemID); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldTerminalPwd, s.cfg.TerminalPwd); err != nil {
		return nil, err
	}
	return s.roundTrip(msg)
}

// PatronStatusOptions carries the optional patron-status parameters.
type PatronStatusOptions struct {
	Institution string
	PatronPwd   string
}

// PatronStatus requests a patron status (23) for one patron barcode.
func (s *Session) PatronStatus(patronID string, opts PatronStatusOptions) (*sip.Message, error) {
	msg, err := sip.NewMessage(sip.MsgPatronStatus, "000", sip.Timestamp())
	if err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldInstitutionID, s.institution(opts.Institution)); err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldPatronID, patronID); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldTerminalPwd, s.cfg.TerminalPwd); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldPatronPwd, opts.PatronPwd); err != nil {
		return nil, err
	}
	return s.roundTrip(msg)
}

// PatronInfoOptions carries the optional patron-info parameters. Summary
// is the 10-character category selector; at most one position may be "Y".
type PatronInfoOptions struct {
	Institution string
	Summary     string
	PatronPwd   string
	StartItem   string
	EndItem     string
}

// PatronInfo requests patron information (63) for one patron barcode.
// A summary selecting more than one category is rejected locally with
// ErrTooManySummaryItems before anything is sent.
func (s *Session) PatronInfo(patronID string, opts PatronInfoOptions) (*sip.Message, error) {
	summary := opts.Summary
	if summary == "" {
		summary = blankSummary
	}
	if strings.Count(summary, "Y") > 1 {
		return nil, ErrTooManySummaryItems
	}

	msg, err := sip.NewMessage(sip.MsgPatronInfo, "000", sip.Timestamp(), summary)
	if err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldInstitutionID, s.institution(opts.Institution)); err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldPatronID, patronID); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldTerminalPwd, s.cfg.TerminalPwd); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldPatronPwd, opts.PatronPwd); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldStartItem, opts.StartItem); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldEndItem, opts.EndItem); err != nil {
		return nil, err
	}
	return s.roundTrip(msg)
}

// CheckoutOptions carries the optional checkout parameters.
type CheckoutOptions struct {
	Institution     string
	SCRenewalPolicy string // default "N"
	NoBlock         string // default "N"
	NBDueDate       string // default: transaction date
	ItemProperties  string
	PatronPwd       string
	FeeAcknowledged string
	Cancel          string
}

// Checkout requests a checkout (11) of one item to one patron.
func (s *Session) Checkout(itemID, patronID string, opts CheckoutOptions) (*sip.Message, error) {
	if opts.SCRenewalPolicy == "" {
		opts.SCRenewalPolicy = "N"
	}
	if opts.NoBlock == "" {
		opts.NoBlock = "N"
	}
	now := sip.Timestamp()
	if opts.NBDueDate == "" {
		opts.NBDueDate = now
	}

	msg, err := sip.NewMessage(sip.MsgCheckout,
		opts.SCRenewalPolicy, opts.NoBlock, now, opts.NBDueDate)
	if err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldInstitutionID, s.institution(opts.Institution)); err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldPatronID, patronID); err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldItemID, itemID); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldTerminalPwd, s.cfg.TerminalPwd); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldItemProperties, opts.ItemProperties); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldPatronPwd, opts.PatronPwd); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldFeeAcknowledged, opts.FeeAcknowledged); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldCancel, opts.Cancel); err != nil {
		return nil, err
	}
	return s.roundTrip(msg)
}

// CheckinOptions carries the optional checkin parameters.
type CheckinOptions struct {
	Institution    string
	NoBlock        string // default "N"
	ReturnDate     string // default: transaction date
	ItemProperties string
	Cancel         string
}

// Checkin requests a checkin (09) of one item at a location.
func (s *Session) Checkin(itemID, currentLocation string, opts CheckinOptions) (*sip.Message, error) {
	if opts.NoBlock == "" {
		opts.NoBlock = "N"
	}
	now := sip.Timestamp()
	if opts.ReturnDate == "" {
		opts.ReturnDate = now
	}

	msg, err := sip.NewMessage(sip.MsgCheckin, opts.NoBlock, now, opts.ReturnDate)
	if err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldInstitutionID, s.institution(opts.Institution)); err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldCurrentLocation, currentLocation); err != nil {
		return nil, err
	}
	if err := msg.AddField(sip.FieldItemID, itemID); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldTerminalPwd, s.cfg.TerminalPwd); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldItemProperties, opts.ItemProperties); err != nil {
		return nil, err
	}
	if err := msg.MaybeAddField(sip.FieldCancel, opts.Cancel); err != nil {
		return nil, err
	}
	return s.roundTrip(msg)
}
