// Package session runs the authentication session lifecycle of one agent: it restores tokens
// from the shared store, renews them before they expire, follows changes made by sibling agents
// and ends the session on logout, refresh failure or invalidation.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

// Refresher exchanges a refresh token for a new token set.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (token.Set, error)
}

// IdentityChecker confirms the account behind the current token is still valid.
type IdentityChecker interface {
	Check(ctx context.Context) (*identity.Principal, error)
}

// EndSessioner builds the identity provider's end-session URL.
type EndSessioner interface {
	EndSessionURL(idToken string) string
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithClock replaces the real clock, mainly for tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

// WithLeadTime sets how long before expiry a token is renewed. Non-positive values are ignored.
func WithLeadTime(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.lead = d
		}
	}
}

// WithMetrics reports to m instead of an unregistered set of collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithIdentityChecker sets the identity check run after login and by Verify.
func WithIdentityChecker(c IdentityChecker) Option {
	return func(s *Supervisor) {
		s.identity = c
	}
}

// WithEndSession sets the builder for the URL returned by Logout.
func WithEndSession(e EndSessioner) Option {
	return func(s *Supervisor) {
		s.endSession = e
	}
}

// Supervisor owns the session state machine of one agent.
type Supervisor struct {
	store      store.Store
	clock      clock.WithDelayedExecution
	expiry     token.ExpiryClock
	lead       time.Duration
	logger     zerolog.Logger
	metrics    *Metrics
	identity   IdentityChecker
	endSession EndSessioner

	state        state
	events       *bus
	coordinator  *Coordinator
	synchronizer *Synchronizer

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a supervisor for the agent owning st. It starts Anonymous; call Start to restore
// a stored session and follow sibling agents.
func New(st store.Store, refresher Refresher, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:  st,
		clock:  clock.RealClock{},
		lead:   token.DefaultRenewalLeadTime,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}

	s.logger = s.logger.With().Str("origin", st.Origin()).Logger()
	s.expiry = token.ExpiryClock{Lead: s.lead, Clock: s.clock}
	s.events = newBus(s.logger)
	s.coordinator = &Coordinator{s: s, refresher: refresher}
	s.synchronizer = &Synchronizer{s: s}
	return s
}

// SetIdentityChecker sets the identity check after construction, for checkers whose HTTP client
// is itself authorized by this supervisor. It must be called before Start.
func (s *Supervisor) SetIdentityChecker(c IdentityChecker) {
	s.identity = c
}

// Coordinator returns the agent's refresh coordinator.
func (s *Supervisor) Coordinator() *Coordinator {
	return s.coordinator
}

// Synchronizer returns the agent's cross-agent synchronizer.
func (s *Supervisor) Synchronizer() *Synchronizer {
	return s.synchronizer
}

// EnsureFresh returns a usable token set, refreshing it first when stale.
func (s *Supervisor) EnsureFresh(ctx context.Context) (token.Set, error) {
	return s.coordinator.EnsureFresh(ctx)
}

// State returns a snapshot of the session.
func (s *Supervisor) State() State {
	snap, _ := s.current()
	return snap
}

// Subscribe delivers session events until the returned cancel func is called or the
// supervisor is closed. A subscriber that falls buffer events behind misses events.
func (s *Supervisor) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// Start restores a stored session and follows changes made by other agents until ctx is done
// or Close is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)

	// Subscribe before reading so no change between the two is missed.
	changes, err := s.store.Subscribe(runCtx)
	if err != nil {
		if !errors.Is(err, store.ErrPersistence) {
			cancel()
			return err
		}
		s.storeFailed("subscribe", err)
	}

	stored, err := s.store.Read(ctx)
	switch {
	case err != nil:
		s.storeFailed("read", err)
	case stored != nil:
		s.resume(*stored)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if changes != nil {
			s.synchronizer.consume(runCtx, changes)
		}
	}(s.done)

	s.logger.Info().Stringer("status", s.State().Status).Msg("Session agent started")
	return nil
}

// Close stops following other agents, cancels the renewal timer and closes event subscriptions.
// The stored session is left untouched.
func (s *Supervisor) Close() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.coordinator.shutdown()
	s.events.close()
}

// Login starts a session from the tokens returned by the login redirect. From LoggedOut it resets
// first, and from Authenticating it replaces the session whose identity check is still pending.
// The tokens are persisted, then the identity check decides whether the agent becomes
// Authenticated. A failed check that is not an invalidation leaves the agent Authenticating; the
// check is retried by Verify and after every proactive renewal.
func (s *Supervisor) Login(ctx context.Context, tokens token.Set) error {
	if err := tokens.Validate(); err != nil {
		return err
	}
	expiresAt := s.expiresAt(tokens.AccessToken)

	s.state.mu.Lock()
	from := s.state.status
	if from != Anonymous && from != LoggedOut && from != Authenticating {
		s.state.mu.Unlock()
		return invalidTransition("login", from)
	}
	s.state.generation++
	gen := s.state.generation
	t := tokens
	s.state.status = Authenticating
	s.state.tokens = &t
	s.state.expiresAt = expiresAt
	s.state.persisted = false
	s.state.mu.Unlock()

	s.publish(EventStatusChanged, Authenticating, ReasonNone)

	if err := s.store.Write(ctx, tokens); err != nil {
		s.storeFailed("write", err)
	} else {
		s.markPersisted(gen)
	}
	s.coordinator.schedule(tokens.AccessToken)

	return s.Verify(ctx)
}

// Verify runs the identity check. It promotes an Authenticating agent to Authenticated and ends
// the session on an invalidation signal.
func (s *Supervisor) Verify(ctx context.Context) error {
	snap, gen := s.current()
	if !snap.Status.HasSession() {
		return expired(ErrNoSession)
	}

	if s.identity != nil {
		principal, err := s.identity.Check(ctx)
		if err != nil {
			if s.HandleError(ctx, err) {
				return expired(err)
			}
			s.logger.Warn().Err(err).Msg("Identity check failed")
			return err
		}
		s.logger.Debug().Str("principal", principal.ID).Msg("Identity confirmed")
	}

	s.state.mu.Lock()
	promoted := s.state.matches(gen) && s.state.status == Authenticating
	if promoted {
		s.state.status = Authenticated
	}
	s.state.mu.Unlock()

	if promoted {
		s.logger.Info().Msg("Signed in")
		s.publish(EventSignedIn, Authenticated, ReasonNone)
	}
	return nil
}

// Logout ends the session on every agent sharing the store and returns the identity provider's
// end-session URL, or "" when no end-session builder is configured.
func (s *Supervisor) Logout(ctx context.Context) (string, error) {
	snap, gen := s.current()
	if !snap.Status.HasSession() || snap.Tokens == nil {
		return "", expired(ErrNoSession)
	}
	if !s.end(ctx, ReasonUserLogout, true, gen) {
		return "", expired(ErrNoSession)
	}
	if s.endSession == nil {
		return "", nil
	}
	return s.endSession.EndSessionURL(snap.Tokens.IDToken), nil
}

// HandleError ends the session when err carries an invalidation signal from any API call and
// reports whether it was one. The store is cleared at most once per session.
func (s *Supervisor) HandleError(ctx context.Context, err error) bool {
	var invalid *identity.InvalidationError
	if !errors.As(err, &invalid) {
		return false
	}

	reason := ReasonTokenValidation
	if invalid.Signal == identity.SignalUserDeleted {
		reason = ReasonUserDeleted
	}
	s.end(ctx, reason, true, anyGeneration)
	return true
}

// Reset moves a LoggedOut agent back to Anonymous.
func (s *Supervisor) Reset() error {
	s.state.mu.Lock()
	if s.state.status != LoggedOut {
		from := s.state.status
		s.state.mu.Unlock()
		return invalidTransition("reset", from)
	}
	s.state.status = Anonymous
	s.state.mu.Unlock()

	s.publish(EventStatusChanged, Anonymous, ReasonNone)
	return nil
}

func (s *Supervisor) current() (State, uint64) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.snapshotLocked(), s.state.generation
}

func (s *Supervisor) isPersisted(gen uint64) bool {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.matches(gen) && s.state.persisted
}

func (s *Supervisor) markPersisted(gen uint64) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if s.state.matches(gen) {
		s.state.persisted = true
	}
}

func (s *Supervisor) sameSession(gen uint64) bool {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.matches(gen) && s.state.status.HasSession()
}

func (s *Supervisor) expiresAt(accessToken string) *time.Time {
	exp, err := s.expiry.ExpiryOf(accessToken)
	if err != nil {
		return nil
	}
	return &exp
}

// resume starts a session from a set found in the store while Anonymous.
func (s *Supervisor) resume(tokens token.Set) bool {
	expiresAt := s.expiresAt(tokens.AccessToken)

	s.state.mu.Lock()
	if s.state.status != Anonymous {
		s.state.mu.Unlock()
		return false
	}
	s.state.generation++
	t := tokens
	s.state.status = Authenticated
	s.state.tokens = &t
	s.state.expiresAt = expiresAt
	s.state.persisted = true
	s.state.mu.Unlock()

	s.coordinator.schedule(tokens.AccessToken)
	s.logger.Info().Msg("Session restored from store")
	s.publish(EventSignedIn, Authenticated, ReasonNone)
	return true
}

// adopt replaces the tokens of session gen. A Refreshing agent becomes Authenticated; an
// Authenticating one stays so until its identity check passes.
func (s *Supervisor) adopt(tokens token.Set, gen uint64, persisted bool) bool {
	expiresAt := s.expiresAt(tokens.AccessToken)

	s.state.mu.Lock()
	if !s.state.matches(gen) || !s.state.status.HasSession() {
		s.state.mu.Unlock()
		return false
	}
	changed := s.state.tokens == nil || !s.state.tokens.Equal(tokens)
	prev := s.state.status
	if prev == Refreshing {
		s.state.status = Authenticated
	}
	status := s.state.status
	t := tokens
	s.state.tokens = &t
	s.state.expiresAt = expiresAt
	s.state.persisted = persisted
	s.state.mu.Unlock()

	s.coordinator.schedule(tokens.AccessToken)
	switch {
	case changed:
		s.publish(EventTokensUpdated, status, ReasonNone)
	case prev != status:
		s.publish(EventStatusChanged, status, ReasonNone)
	}
	return true
}

// beginRefresh marks an Authenticated agent as Refreshing.
func (s *Supervisor) beginRefresh(gen uint64) {
	s.state.mu.Lock()
	changed := s.state.matches(gen) && s.state.status == Authenticated
	if changed {
		s.state.status = Refreshing
	}
	s.state.mu.Unlock()

	if changed {
		s.publish(EventStatusChanged, Refreshing, ReasonNone)
	}
}

// end moves session gen to LoggedOut and optionally clears the store. Only the first caller
// for a session gets true, so the store is cleared at most once.
func (s *Supervisor) end(ctx context.Context, reason Reason, clearStore bool, gen uint64) bool {
	s.state.mu.Lock()
	if !s.state.matches(gen) || !s.state.status.HasSession() {
		s.state.mu.Unlock()
		return false
	}
	s.state.status = LoggedOut
	s.state.tokens = nil
	s.state.expiresAt = nil
	s.state.persisted = false
	s.state.generation++
	s.state.mu.Unlock()

	s.coordinator.stop()
	s.metrics.Logouts.WithLabelValues(string(reason)).Inc()
	if clearStore {
		if err := s.store.Clear(ctx); err != nil {
			s.storeFailed("clear", err)
		}
	}

	s.logger.Info().Str("reason", string(reason)).Msg("Signed out")
	s.publish(EventSignedOut, LoggedOut, reason)
	return true
}

// storeFailed records a store failure. The session carries on in memory.
func (s *Supervisor) storeFailed(op string, err error) {
	s.metrics.StoreErrors.WithLabelValues(op).Inc()
	if op == "write" {
		s.state.mu.Lock()
		s.state.persisted = false
		s.state.mu.Unlock()
	}
	s.logger.Warn().Err(err).Str("op", op).Msg("Token store unavailable, session kept in memory")
}

func (s *Supervisor) publish(kind EventKind, status Status, reason Reason) {
	s.events.publish(Event{Kind: kind, Status: status, Reason: reason, At: s.clock.Now()})
}
