package server_test

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/circkit/sip2/internal/backend/demo"
	"github.com/circkit/sip2/internal/client"
	"github.com/circkit/sip2/internal/server"
	"github.com/circkit/sip2/internal/sip"
	"github.com/circkit/sip2/internal/sip/frame"
	"github.com/circkit/sip2/internal/testutil/testlog"
	"github.com/circkit/sip2/internal/testutil/tlstest"
)

func startServer(t *testing.T, cfg server.Config, backend server.Backend) string {
	t.Helper()
	srv, err := server.New(cfg, backend)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return serveOn(t, srv, ln)
}

func serveOn(t *testing.T, srv *server.Server, ln net.Listener) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func TestEndToEndWithDemoBackend(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, server.Config{ListenAddr: ":0"}, demo.New("example"))

	s := client.New(client.Config{Addr: addr})
	if err := s.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()

	status, err := s.SCStatus(client.StatusOptions{})
	if err != nil {
		t.Fatalf("sc status: %v", err)
	}
	if status.Spec.Code != sip.MsgACSStatus.Code {
		t.Fatalf("unexpected response code: %q", status.Spec.Code)
	}
	if got := status.FixedValue("protocol version"); got != "2.00" {
		t.Fatalf("unexpected version: %q", got)
	}
	if got := status.FieldValue(sip.FieldInstitutionID.Code); got != "example" {
		t.Fatalf("unexpected institution: %q", got)
	}

	ok, err := s.Login("alice", "secret", "branch1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !ok {
		t.Fatalf("demo backend should accept every login")
	}

	patron, err := s.PatronInfo("patron1", client.PatronInfoOptions{})
	if err != nil {
		t.Fatalf("patron info: %v", err)
	}
	if got := patron.FieldValue(sip.FieldPatronName.Code); got != "Storm Trooper 12" {
		t.Fatalf("unexpected patron name: %q", got)
	}
	if got := patron.FieldValue(sip.FieldPatronID.Code); got != "patron1" {
		t.Fatalf("patron id not echoed: %q", got)
	}

	item, err := s.ItemInfo("item1", client.ItemInfoOptions{})
	if err != nil {
		t.Fatalf("item info: %v", err)
	}
	if got := item.FieldValue(sip.FieldItemID.Code); got != "item1" {
		t.Fatalf("item id not echoed: %q", got)
	}
}

func TestUnknownMessageCodeKeepsConnection(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, server.Config{ListenAddr: ":0"}, demo.New("example"))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := frame.NewReader(conn, frame.DefaultLimits())

	// Unknown type code: the server drops the message and answers nothing.
	if err := frame.WriteMessage(conn, "XZnope"); err != nil {
		t.Fatalf("write unknown: %v", err)
	}
	// The connection must still answer a valid request afterwards.
	if err := frame.WriteMessage(conn, "9901002.00"); err != nil {
		t.Fatalf("write status: %v", err)
	}
	text, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if text[:2] != sip.MsgACSStatus.Code {
		t.Fatalf("unexpected response: %q", text)
	}
}

func TestTruncatedMessageDropsConnection(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, server.Config{ListenAddr: ":0"}, demo.New("example"))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := frame.NewReader(conn, frame.DefaultLimits())

	// Known code, fixed region too short: the stream cannot be trusted.
	if err := frame.WriteMessage(conn, "990"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := r.ReadMessage(); !errors.Is(err, frame.ErrPeerClosed) {
		t.Fatalf("expected server to close the connection, got %v", err)
	}
}

func TestUnansweredRequestKeepsConnection(t *testing.T) {
	testlog.Start(t)

	// The demo backend leaves checkin unanswered; the line must stay up.
	addr := startServer(t, server.Config{ListenAddr: ":0"}, demo.New("example"))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := frame.NewReader(conn, frame.DefaultLimits())

	now := sip.Timestamp()
	if err := frame.WriteMessage(conn, "09N"+now+now+"AOexample|APBR1|ABitem1|"); err != nil {
		t.Fatalf("write checkin: %v", err)
	}
	if err := frame.WriteMessage(conn, "9901002.00"); err != nil {
		t.Fatalf("write status: %v", err)
	}
	text, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if text[:2] != sip.MsgACSStatus.Code {
		t.Fatalf("unexpected response: %q", text)
	}
}

func TestBackendErrorKeepsConnection(t *testing.T) {
	testlog.Start(t)

	calls := 0
	backend := server.BackendFunc(func(ctx context.Context, req *sip.Message) (*sip.Message, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return sip.NewMessage(sip.MsgLoginResp, "1")
	})
	addr := startServer(t, server.Config{ListenAddr: ":0"}, backend)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := frame.NewReader(conn, frame.DefaultLimits())

	if err := frame.WriteMessage(conn, "9300CNa|COb|"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := frame.WriteMessage(conn, "9300CNa|COb|"); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read after backend error: %v", err)
	}
	if text != "941" {
		t.Fatalf("unexpected response: %q", text)
	}
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	testlog.Start(t)

	backend := server.BackendFunc(func(ctx context.Context, req *sip.Message) (*sip.Message, error) {
		resp, err := sip.NewMessage(sip.MsgLoginResp, "1")
		if err != nil {
			return nil, err
		}
		// Echo the connection identity so each session can check it gets
		// the same one back for its whole lifetime.
		if err := resp.AddField(sip.FieldTransactionID, server.ConnID(ctx)); err != nil {
			return nil, err
		}
		return resp, nil
	})
	addr := startServer(t, server.Config{ListenAddr: ":0"}, backend)

	const sessions = 8
	var wg sync.WaitGroup
	errCh := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errCh <- err
				return
			}
			defer conn.Close()
			r := frame.NewReader(conn, frame.DefaultLimits())

			var connID string
			for j := 0; j < 5; j++ {
				if err := frame.WriteMessage(conn, "9300CNa|COb|"); err != nil {
					errCh <- err
					return
				}
				text, err := r.ReadMessage()
				if err != nil {
					errCh <- err
					return
				}
				msg, err := sip.Default().Parse(text)
				if err != nil {
					errCh <- err
					return
				}
				id := msg.FieldValue(sip.FieldTransactionID.Code)
				if id == "" {
					errCh <- errors.New("missing connection identity")
					return
				}
				if connID == "" {
					connID = id
				} else if id != connID {
					errCh <- errors.New("connection identity changed mid-session")
					return
				}
			}
			errCh <- nil
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("session error: %v", err)
		}
	}
}

func TestAdmissionGateBlocksUntilSlotFrees(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, server.Config{ListenAddr: ":0", MaxConns: 1}, demo.New("example"))

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	r1 := frame.NewReader(first, frame.DefaultLimits())
	if err := frame.WriteMessage(first, "9901002.00"); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if _, err := r1.ReadMessage(); err != nil {
		t.Fatalf("first connection not serviced: %v", err)
	}

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	r2 := frame.NewReader(second, frame.DefaultLimits())
	if err := frame.WriteMessage(second, "9901002.00"); err != nil {
		t.Fatalf("write second: %v", err)
	}

	// The only handling slot is held by the first connection, so the second
	// must sit parked with its request unanswered.
	_ = second.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, err = r2.ReadMessage()
	if err == nil {
		t.Fatalf("second connection serviced while the slot was held")
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}

	// Releasing the first connection frees the slot; the parked connection's
	// buffered request must then be answered.
	_ = first.Close()
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	text, err := r2.ReadMessage()
	if err != nil {
		t.Fatalf("read after slot freed: %v", err)
	}
	if text[:2] != sip.MsgACSStatus.Code {
		t.Fatalf("unexpected response: %q", text)
	}
}

func TestSnapshotConnsTracksActiveConnections(t *testing.T) {
	testlog.Start(t)

	srv, err := server.New(server.Config{ListenAddr: ":0"}, demo.New("example"))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := serveOn(t, srv, ln)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(srv.SnapshotConns()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("connection never tracked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	info := srv.SnapshotConns()[0]
	if info.ID == "" || info.RemoteAddr == "" {
		t.Fatalf("incomplete conn info: %+v", info)
	}
}

func TestServeTLSEndToEnd(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-ca")
	certFile, keyFile := ca.IssueServerCert(t, dir, "localhost",
		[]string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("load key pair: %v", err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	})
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}

	srv, err := server.New(server.Config{ListenAddr: ":0"}, demo.New("example"))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	addr := serveOn(t, srv, ln)

	s := client.New(client.Config{
		Addr: addr,
		TLS: client.TLSConfig{
			Enabled:    true,
			ServerName: "localhost",
			CAFile:     ca.CAFile(),
		},
	})
	if err := s.Dial(context.Background()); err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	defer s.Close()

	resp, err := s.SCStatus(client.StatusOptions{})
	if err != nil {
		t.Fatalf("sc status over tls: %v", err)
	}
	if resp.Spec.Code != sip.MsgACSStatus.Code {
		t.Fatalf("unexpected response code: %q", resp.Spec.Code)
	}
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := server.Config{}.WithDefaults()
	if cfg.MaxConns != 150 {
		t.Fatalf("unexpected max conns: %d", cfg.MaxConns)
	}
	if cfg.ListenAddr == "" {
		t.Fatalf("expected default listen addr")
	}
	if cfg.Limits.MaxMessageBytes != frame.DefaultLimits().MaxMessageBytes {
		t.Fatalf("unexpected limits: %+v", cfg.Limits)
	}

	bad := server.Config{ListenAddr: ":6001", TLS: server.TLSConfig{Enabled: true, CertFile: "only-cert"}}
	if err := bad.Validate(); !errors.Is(err, server.ErrTLSKeyPair) {
		t.Fatalf("expected ErrTLSKeyPair, got %v", err)
	}

	if _, err := server.New(server.Config{ListenAddr: ":6001"}, nil); !errors.Is(err, server.ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}
