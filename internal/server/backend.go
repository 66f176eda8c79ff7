package server

import (
	"context"

	"github.com/circkit/sip2/internal/sip"
)

// Backend answers protocol requests. One Backend instance serves every
// connection, so implementations must be safe for concurrent use.
//
// Handle returns the response to send, or (nil, nil) to leave the request
// unanswered while keeping the connection open. Session state, when a
// backend needs any, is keyed off the context values installed by the
// server (see ConnID).
type Backend interface {
	Handle(ctx context.Context, req *sip.Message) (*sip.Message, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req *sip.Message) (*sip.Message, error)

func (f BackendFunc) Handle(ctx context.Context, req *sip.Message) (*sip.Message, error) {
	return f(ctx, req)
}

type connIDKey struct{}

// WithConnID installs the server's connection identifier on a context.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnID returns the connection identifier installed by the server, or ""
// when the context did not come from a server connection.
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}
