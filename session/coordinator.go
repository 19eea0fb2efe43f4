package session

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-auth-session/token"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

const refreshKey = "refresh"

// ErrStaleRefresh is returned when the identity provider answers with a token that is already
// inside the renewal window, which would otherwise renew in a loop.
var ErrStaleRefresh = errors.New("refreshed token is already stale")

// Coordinator keeps at most one refresh in flight per agent and renews tokens before they expire.
type Coordinator struct {
	s         *Supervisor
	refresher Refresher
	group     singleflight.Group

	timerMu sync.Mutex
	timer   clock.Timer
	closed  bool
}

// EnsureFresh returns the current set when it is not stale. Otherwise it joins the in-flight
// refresh, starting one if needed. Abandoning ctx returns early without cancelling the shared
// refresh.
func (c *Coordinator) EnsureFresh(ctx context.Context) (token.Set, error) {
	snap, _ := c.s.current()
	if snap.Tokens == nil {
		return token.Set{}, expired(ErrNoSession)
	}
	if usable(snap) && !c.s.expiry.IsStale(snap.Tokens.AccessToken) {
		return *snap.Tokens, nil
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.s.metrics.RefreshCoalesced.Inc()
		}
		if res.Err != nil {
			return token.Set{}, res.Err
		}
		return res.Val.(token.Set), nil
	case <-ctx.Done():
		return token.Set{}, ctx.Err()
	}
}

func usable(snap State) bool {
	return snap.Status == Authenticated || snap.Status == Authenticating
}

func (c *Coordinator) refresh(ctx context.Context) (token.Set, error) {
	snap, gen := c.s.current()
	if snap.Tokens == nil {
		return token.Set{}, expired(ErrNoSession)
	}
	// A caller that saw the stale set may arrive after the previous attempt finished.
	if usable(snap) && !c.s.expiry.IsStale(snap.Tokens.AccessToken) {
		return *snap.Tokens, nil
	}
	base := *snap.Tokens

	stored, err := c.s.store.Read(ctx)
	switch {
	case err != nil:
		c.s.storeFailed("read", err)
	case stored == nil:
		if c.s.isPersisted(gen) {
			c.s.end(ctx, ReasonRemoteLogout, false, gen)
			return token.Set{}, expired(ErrNoSession)
		}
	case !stored.Equal(base) && !c.s.expiry.IsStale(stored.AccessToken):
		if !c.s.adopt(*stored, gen, true) {
			return token.Set{}, expired(ErrNoSession)
		}
		c.s.metrics.RefreshAdopted.Inc()
		c.s.logger.Debug().Msg("Adopted token set refreshed by another agent")
		return *stored, nil
	case !stored.Equal(base):
		base = *stored
	}

	c.s.beginRefresh(gen)
	c.s.metrics.RefreshAttempts.Inc()

	fresh, err := c.refresher.Refresh(ctx, base.RefreshToken)
	if err == nil {
		fresh = fresh.Merge(base)
		err = fresh.Validate()
	}
	if err == nil && c.s.expiry.IsStale(fresh.AccessToken) {
		err = ErrStaleRefresh
	}
	if err != nil {
		return c.recover(ctx, gen, base, err)
	}

	if !c.s.sameSession(gen) {
		return token.Set{}, expired(ErrNoSession)
	}
	persisted := true
	if err := c.s.store.Write(ctx, fresh); err != nil {
		c.s.storeFailed("write", err)
		persisted = false
	}
	if !c.s.adopt(fresh, gen, persisted) {
		return token.Set{}, expired(ErrNoSession)
	}
	c.s.logger.Info().Msg("Token set refreshed")
	return fresh, nil
}

// recover resolves a failed refresh with a newer set written by another agent, which rotated the
// refresh token this attempt used. Without one the session ends.
func (c *Coordinator) recover(ctx context.Context, gen uint64, used token.Set, cause error) (token.Set, error) {
	latest, err := c.s.store.Read(ctx)
	if err == nil && latest != nil &&
		latest.RefreshToken != used.RefreshToken &&
		!c.s.expiry.IsStale(latest.AccessToken) {
		if c.s.adopt(*latest, gen, true) {
			c.s.metrics.RefreshAdopted.Inc()
			c.s.logger.Debug().Err(cause).Msg("Refresh lost the race to another agent, adopted its token set")
			return *latest, nil
		}
	}

	c.s.metrics.RefreshFailures.Inc()
	c.s.logger.Warn().Err(cause).Msg("Token refresh failed")
	c.s.end(ctx, ReasonRefreshFailed, true, gen)
	return token.Set{}, expired(cause)
}

// ScheduleProactiveRefresh arms the renewal timer for the current set, replacing any armed one.
func (c *Coordinator) ScheduleProactiveRefresh() {
	snap, _ := c.s.current()
	if snap.Tokens == nil {
		c.stop()
		return
	}
	c.schedule(snap.Tokens.AccessToken)
}

func (c *Coordinator) schedule(accessToken string) {
	delay, err := c.s.expiry.Until(accessToken)
	if err != nil {
		c.s.logger.Debug().Err(err).Msg("Cannot read token expiry, refreshing now")
		delay = 0
	}

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.closed {
		return
	}
	if delay <= 0 {
		go c.fire()
		return
	}
	c.timer = c.s.clock.AfterFunc(delay, func() {
		go c.fire()
	})
}

func (c *Coordinator) stop() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// shutdown stops the timer for good; a refresh finishing later cannot arm it again.
func (c *Coordinator) shutdown() {
	c.timerMu.Lock()
	c.closed = true
	c.timerMu.Unlock()
	c.stop()
}

// fire renews the session and, while the login identity check is still pending, retries it with
// the renewed token.
func (c *Coordinator) fire() {
	ctx := context.Background()
	if _, err := c.EnsureFresh(ctx); err != nil {
		c.s.logger.Debug().Err(err).Msg("Proactive refresh did not renew the session")
		return
	}
	if c.s.State().Status != Authenticating {
		return
	}
	if err := c.s.Verify(ctx); err != nil {
		c.s.logger.Debug().Err(err).Msg("Identity check still failing after renewal")
	}
}
