package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/circkit/sip2/internal/server"
	"github.com/circkit/sip2/internal/sip"
	"github.com/circkit/sip2/internal/testutil/testlog"
)

type recordedRequest struct {
	session string
	message string
}

func TestHandleRelaysRequestAndDecodesAnswer(t *testing.T) {
	testlog.Start(t)

	requests := make(chan recordedRequest, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		requests <- recordedRequest{
			session: r.PostFormValue("session"),
			message: r.PostFormValue("message"),
		}
		_, _ = w.Write([]byte(`{"code":"94","fixed_fields":["1"],"fields":[{"AO":"example"}]}`))
	}))
	defer srv.Close()

	b, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	req, err := sip.NewMessage(sip.MsgLogin, "0", "0")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if err := req.AddField(sip.FieldLoginUID, "alice"); err != nil {
		t.Fatalf("add field: %v", err)
	}

	ctx := server.WithConnID(context.Background(), "11111111-2222-3333-4444-555555555555")
	resp, err := b.Handle(ctx, req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Spec.Code != sip.MsgLoginResp.Code {
		t.Fatalf("unexpected response code: %q", resp.Spec.Code)
	}
	if got := resp.FixedValue("ok"); got != "1" {
		t.Fatalf("unexpected ok: %q", got)
	}
	if got := resp.FieldValue(sip.FieldInstitutionID.Code); got != "example" {
		t.Fatalf("unexpected institution: %q", got)
	}

	rec := <-requests
	if rec.session != "11111111222233334444555555555555" {
		t.Fatalf("unexpected session key: %q", rec.session)
	}
	var env struct {
		Code        string              `json:"code"`
		FixedFields []string            `json:"fixed_fields"`
		Fields      []map[string]string `json:"fields"`
	}
	if err := json.Unmarshal([]byte(rec.message), &env); err != nil {
		t.Fatalf("message is not an envelope: %v", err)
	}
	if env.Code != sip.MsgLogin.Code {
		t.Fatalf("unexpected envelope code: %q", env.Code)
	}
	if len(env.Fields) != 1 || env.Fields[0]["CN"] != "alice" {
		t.Fatalf("unexpected envelope fields: %+v", env.Fields)
	}
}

func TestSessionKeyStableAcrossRequests(t *testing.T) {
	testlog.Start(t)

	sessions := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessions <- r.PostFormValue("session")
		_, _ = w.Write([]byte(`{"code":"94","fixed_fields":["1"],"fields":[]}`))
	}))
	defer srv.Close()

	b, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	ctx := server.WithConnID(context.Background(), "aaaa-bbbb")

	for i := 0; i < 2; i++ {
		req, err := sip.NewMessage(sip.MsgLogin, "0", "0")
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if _, err := b.Handle(ctx, req); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	first, second := <-sessions, <-sessions
	if first == "" || first != second {
		t.Fatalf("session key not stable: %q vs %q", first, second)
	}
}

func TestNonSuccessStatusIsAnError(t *testing.T) {
	testlog.Start(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	b, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	req, err := sip.NewMessage(sip.MsgLogin, "0", "0")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := b.Handle(context.Background(), req); err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}

func TestBadEnvelopeIsAnError(t *testing.T) {
	testlog.Start(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"??","fixed_fields":[],"fields":[]}`))
	}))
	defer srv.Close()

	b, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	req, err := sip.NewMessage(sip.MsgLogin, "0", "0")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	_, err = b.Handle(context.Background(), req)
	var unknown *sip.UnknownMessageError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownMessageError, got %v", err)
	}
}

func TestVerificationModesUseSeparateTransports(t *testing.T) {
	testlog.Start(t)

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"94","fixed_fields":["1"],"fields":[]}`))
	}))
	defer srv.Close()

	// Construction order matters here: the insecure backend comes first, and
	// the verifying one built after it must still refuse the self-signed
	// certificate rather than reuse the relaxed transport.
	insecure, err := New(Config{URL: srv.URL, InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("new insecure backend: %v", err)
	}
	verifying, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("new verifying backend: %v", err)
	}

	req, err := sip.NewMessage(sip.MsgLogin, "0", "0")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := insecure.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("insecure handle: %v", err)
	}
	if got := resp.FixedValue("ok"); got != "1" {
		t.Fatalf("unexpected ok: %q", got)
	}

	if _, err := verifying.Handle(context.Background(), req); err == nil {
		t.Fatalf("verifying backend accepted a self-signed certificate")
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
}
