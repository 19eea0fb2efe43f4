// Package auth is the authorization gate: every outgoing authenticated request passes through it
// to get a fresh bearer token attached before it is sent.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Freshener produces a usable token set, refreshing first when needed.
type Freshener interface {
	EnsureFresh(ctx context.Context) (token.Set, error)
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(l zerolog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = l
	}
}

// WithTimeout sets the timeout of the client returned by Client.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		g.timeout = d
	}
}

// Gate attaches bearer credentials to requests.
type Gate struct {
	source  Freshener
	logger  zerolog.Logger
	timeout time.Duration
}

// NewGate creates a gate drawing tokens from source.
func NewGate(source Freshener, opts ...GateOption) *Gate {
	g := &Gate{source: source, logger: log.Logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize returns a copy of req carrying "Authorization: Bearer <access token>". When no
// token can be produced the error is returned and nothing should be sent; a
// session.SessionExpiredError means the caller must send the user to login.
func (g *Gate) Authorize(req *http.Request) (*http.Request, error) {
	if req == nil {
		return nil, NilRequestErr
	}
	tokens, err := g.source.EnsureFresh(req.Context())
	if err != nil {
		g.logger.Debug().Err(err).Str("url", req.URL.Redacted()).Msg("Request not authorized")
		return nil, err
	}

	authorized := req.Clone(req.Context())
	authorized.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	return authorized, nil
}

// Transport wraps base so every request is authorized before it is sent. A 401 response is
// returned as is; the token is never swapped and the request never re-sent.
func (g *Gate) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{gate: g, base: base}
}

// Client returns an http.Client whose requests all pass through the gate.
func (g *Gate) Client() *http.Client {
	return &http.Client{Transport: g.Transport(nil), Timeout: g.timeout}
}

type transport struct {
	gate *Gate
	base http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	authorized, err := t.gate.Authorize(req)
	if err != nil {
		if req != nil && req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return t.base.RoundTrip(authorized)
}
