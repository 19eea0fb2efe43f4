package session

import (
	"context"

	"github.com/jrsteele09/go-auth-session/store"
)

// Synchronizer keeps an agent consistent with changes other agents make to the shared store.
// Every change is applied by re-reading the store, so duplicate or reordered notifications
// converge on the same state.
type Synchronizer struct {
	s *Supervisor
}

// Run applies changes until ctx is done. Start already runs it; use Run only for a supervisor
// that was not started.
func (y *Synchronizer) Run(ctx context.Context) error {
	changes, err := y.s.store.Subscribe(ctx)
	if err != nil {
		return err
	}
	y.consume(ctx, changes)
	return nil
}

func (y *Synchronizer) consume(ctx context.Context, changes <-chan store.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := y.Apply(ctx, change); err != nil {
				y.s.logger.Warn().Err(err).Str("from", change.Origin).Msg("Could not apply store change")
			}
		}
	}
}

// Apply reconciles the agent with the store after change. A cleared store signs the agent out;
// a different set is adopted without a refresh call. A LoggedOut agent ignores new sets until
// Reset, and an Anonymous one picks up a session signed in elsewhere.
func (y *Synchronizer) Apply(ctx context.Context, change store.Change) error {
	stored, err := y.s.store.Read(ctx)
	if err != nil {
		y.s.storeFailed("read", err)
		return err
	}

	snap, gen := y.s.current()
	y.s.logger.Debug().
		Str("from", change.Origin).
		Str("op", string(change.Op)).
		Stringer("status", snap.Status).
		Msg("Store changed")

	switch {
	case stored == nil:
		if snap.Status.HasSession() {
			y.s.end(ctx, ReasonRemoteLogout, false, gen)
		}
	case snap.Status == Anonymous:
		y.s.resume(*stored)
	case snap.Status == LoggedOut:
	case snap.Tokens != nil && snap.Tokens.Equal(*stored):
	default:
		y.s.adopt(*stored, gen, true)
	}
	return nil
}
