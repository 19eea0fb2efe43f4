package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/idp/idptest"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/store/memory"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

const (
	lead    = 30 * time.Second
	ttl     = idptest.DefaultAccessTokenTTL
	subject = "user-1"
	wait    = 3 * time.Second
	tick    = 5 * time.Millisecond
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock *clocktesting.FakeClock
	idp   *idptest.Provider
	ns    *memory.Namespace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clocktesting.NewFakeClock(epoch)
	return &fixture{
		clock: c,
		idp:   idptest.New(idptest.WithClock(c)),
		ns:    memory.NewNamespace(),
	}
}

// agent opens a new handle on the shared namespace, like opening a tab.
func (f *fixture) agent(t *testing.T, opts ...session.Option) *session.Supervisor {
	t.Helper()
	return f.agentOn(t, f.ns.Open(), opts...)
}

func (f *fixture) agentOn(t *testing.T, st store.Store, opts ...session.Option) *session.Supervisor {
	t.Helper()
	return f.agentWith(t, st, f.idp, opts...)
}

func (f *fixture) agentWith(t *testing.T, st store.Store, refresher session.Refresher, opts ...session.Option) *session.Supervisor {
	t.Helper()
	base := []session.Option{
		session.WithClock(f.clock),
		session.WithLeadTime(lead),
		session.WithLogger(zerolog.Nop()),
	}
	sup := session.New(st, refresher, append(base, opts...)...)
	t.Cleanup(sup.Close)
	return sup
}

func (f *fixture) started(t *testing.T, opts ...session.Option) *session.Supervisor {
	t.Helper()
	sup := f.agent(t, opts...)
	require.NoError(t, sup.Start(context.Background()))
	return sup
}

func (f *fixture) login(t *testing.T, sup *session.Supervisor) token.Set {
	t.Helper()
	tokens, err := f.idp.Login(subject)
	require.NoError(t, err)
	require.NoError(t, sup.Login(context.Background(), tokens))
	return tokens
}

// advanceToRenewal moves the fake clock to the instant the given access token becomes stale.
func (f *fixture) advanceToRenewal(t *testing.T, accessToken string) time.Time {
	t.Helper()
	exp, err := token.ExpiryOf(accessToken)
	require.NoError(t, err)
	at := exp.Add(-lead)
	f.clock.SetTime(at)
	return at
}

// issued waits until the provider has minted set n (0 is the login set) and returns it.
func (f *fixture) issued(t *testing.T, n int) token.Set {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.idp.Issued()) > n }, wait, tick)
	return f.idp.Issued()[n]
}

func (f *fixture) stored(t *testing.T) *token.Set {
	t.Helper()
	set, err := f.ns.Open().Read(context.Background())
	require.NoError(t, err)
	return set
}

func requireStatus(t *testing.T, sup *session.Supervisor, want session.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sup.State().Status == want
	}, wait, tick, "want status %s, have %s", want, sup.State().Status)
}

func requireAccessToken(t *testing.T, sup *session.Supervisor, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := sup.State()
		return s.Tokens != nil && s.Tokens.AccessToken == want
	}, wait, tick)
}

func nextEvent(t *testing.T, events <-chan session.Event, kind session.EventKind) session.Event {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "event channel closed")
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func noEvent(t *testing.T, events <-chan session.Event, kind session.EventKind, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case e := <-events:
			require.NotEqual(t, kind, e.Kind, "unexpected %s event", kind)
		case <-deadline:
			return
		}
	}
}

// countingStore counts Clear calls.
type countingStore struct {
	store.Store
	clears atomic.Int32
}

func (c *countingStore) Clear(ctx context.Context) error {
	c.clears.Add(1)
	return c.Store.Clear(ctx)
}

// mutedStore never delivers notifications, like a tab whose change event did not fire.
type mutedStore struct {
	store.Store
}

func (m mutedStore) Subscribe(ctx context.Context) (<-chan store.Change, error) {
	ch := make(chan store.Change)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type refresherFunc func(ctx context.Context, refreshToken string) (token.Set, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (token.Set, error) {
	return f(ctx, refreshToken)
}

// fakeIdentity returns queued errors in order, then succeeds.
type fakeIdentity struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeIdentity) Check(context.Context) (*identity.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &identity.Principal{ID: subject, Email: "user-1@example.com"}, nil
}

func (f *fakeIdentity) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
