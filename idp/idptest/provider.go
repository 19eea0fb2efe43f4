// Package idptest is an in-process identity provider for tests. It mints HS256 JWTs with a
// real exp claim, rotates refresh tokens on every use and rejects reuse, the way a production
// provider arbitrates racing refreshes.
package idptest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/token"
	"k8s.io/utils/clock"
)

// ErrInvalidGrant is returned for an unknown, reused or revoked refresh token.
var ErrInvalidGrant = errors.New("invalid_grant")

const (
	DefaultAccessTokenTTL = 5 * time.Minute
	DefaultClientID       = "session-test-client"
	DefaultSubject        = "test-user"
	refreshTokenBytes     = 32
)

type grant struct {
	subject string
}

// Provider holds the server-side state of the fake identity provider.
type Provider struct {
	mu       sync.Mutex
	clock    clock.PassiveClock
	ttl      time.Duration
	secret   []byte
	issuer   string
	clientID string
	grants   map[string]grant
	revoked  map[string]struct{}
	calls    int
	hold     chan struct{}
	failNext error
	issued   []token.Set
	ended    []string
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock mints tokens against c instead of the real clock.
func WithClock(c clock.PassiveClock) Option {
	return func(p *Provider) {
		p.clock = c
	}
}

// WithAccessTokenTTL sets the lifetime of minted access tokens.
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		p.ttl = ttl
	}
}

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(p *Provider) {
		p.issuer = issuer
	}
}

// New creates a provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		clock:    clock.RealClock{},
		ttl:      DefaultAccessTokenTTL,
		secret:   []byte("idptest-signing-secret"),
		issuer:   "https://idp.test",
		clientID: DefaultClientID,
		grants:   make(map[string]grant),
		revoked:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Issuer returns the iss claim of minted tokens.
func (p *Provider) Issuer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issuer
}

// ClientID returns the audience of minted ID tokens.
func (p *Provider) ClientID() string {
	return p.clientID
}

// Login mints a fresh set for subject, as the login redirect would return it.
func (p *Provider) Login(subject string) (token.Set, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mintLocked(subject)
}

// Refresh redeems a refresh token. The token is single use; the returned set carries its
// replacement.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (token.Set, error) {
	p.mu.Lock()
	p.calls++
	hold := p.hold
	p.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return token.Set{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failNext; err != nil {
		p.failNext = nil
		return token.Set{}, err
	}
	g, ok := p.grants[refreshToken]
	if !ok {
		return token.Set{}, fmt.Errorf("%w: refresh token not recognised", ErrInvalidGrant)
	}
	delete(p.grants, refreshToken)
	if _, revoked := p.revoked[g.subject]; revoked {
		return token.Set{}, fmt.Errorf("%w: session revoked", ErrInvalidGrant)
	}
	return p.mintLocked(g.subject)
}

// Calls counts Refresh invocations, including rejected ones.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Issued returns every set minted so far, oldest first.
func (p *Provider) Issued() []token.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]token.Set(nil), p.issued...)
}

// Hold blocks refresh calls until the returned release func is called.
func (p *Provider) Hold() (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.hold = ch
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.hold = nil
			p.mu.Unlock()
			close(ch)
		})
	}
}

// FailNext makes the next refresh call return err.
func (p *Provider) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// Revoke rejects every further refresh for subject.
func (p *Provider) Revoke(subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[subject] = struct{}{}
}

// EndedSessions returns the id_token_hint values received by the end-session endpoint.
func (p *Provider) EndedSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ended...)
}

func (p *Provider) mintLocked(subject string) (token.Set, error) {
	now := p.clock.Now()

	access, err := p.signLocked(jwtlib.MapClaims{
		"iss":       p.issuer,
		"sub":       subject,
		"client_id": p.clientID,
		"iat":       now.Unix(),
		"exp":       now.Add(p.ttl).Unix(),
		"jti":       uuid.New().String(),
	})
	if err != nil {
		return token.Set{}, err
	}
	id, err := p.signLocked(jwtlib.MapClaims{
		"iss": p.issuer,
		"sub": subject,
		"aud": p.clientID,
		"iat": now.Unix(),
		"exp": now.Add(p.ttl).Unix(),
		"jti": uuid.New().String(),
	})
	if err != nil {
		return token.Set{}, err
	}

	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return token.Set{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	refresh := hex.EncodeToString(b)
	p.grants[refresh] = grant{subject: subject}

	set := token.Set{AccessToken: access, RefreshToken: refresh, IDToken: id}
	p.issued = append(p.issued, set)
	return set, nil
}

func (p *Provider) signLocked(claims jwtlib.MapClaims) (string, error) {
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signed, nil
}
