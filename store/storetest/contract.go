// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/stretchr/testify/require"
)

// Opener returns two handles on one fresh namespace, standing in for two tabs.
type Opener func(t *testing.T) (store.Store, store.Store)

// WaitTimeout bounds how long a contract test waits for a notification.
var WaitTimeout = 3 * time.Second

// Tokens returns a complete set whose values carry the given suffix.
func Tokens(suffix string) token.Set {
	return token.Set{
		AccessToken:  "access-" + suffix,
		RefreshToken: "refresh-" + suffix,
		IDToken:      "id-" + suffix,
	}
}

// Run exercises a backend against the store contract.
func Run(t *testing.T, open Opener) {
	t.Run("read empty", func(t *testing.T) {
		a, _ := open(t)
		got, err := a.Read(context.Background())
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("write then read from both handles", func(t *testing.T) {
		a, b := open(t)
		ctx := context.Background()
		require.NoError(t, a.Write(ctx, Tokens("1")))

		got, err := a.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, Tokens("1"), *got)

		got, err = b.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, Tokens("1"), *got)
	})

	t.Run("write replaces the whole set", func(t *testing.T) {
		a, b := open(t)
		ctx := context.Background()
		require.NoError(t, a.Write(ctx, Tokens("1")))
		require.NoError(t, b.Write(ctx, Tokens("2")))

		got, err := a.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, Tokens("2"), *got)
	})

	t.Run("incomplete set is rejected", func(t *testing.T) {
		a, _ := open(t)
		err := a.Write(context.Background(), token.Set{AccessToken: "a"})
		require.ErrorIs(t, err, token.ErrIncompleteTokenSet)
	})

	t.Run("clear removes the set", func(t *testing.T) {
		a, b := open(t)
		ctx := context.Background()
		require.NoError(t, a.Write(ctx, Tokens("1")))
		require.NoError(t, b.Clear(ctx))

		got, err := a.Read(ctx)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("other handle is notified, writer is not", func(t *testing.T) {
		a, b := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		aChanges, err := a.Subscribe(ctx)
		require.NoError(t, err)
		bChanges, err := b.Subscribe(ctx)
		require.NoError(t, err)

		require.NoError(t, a.Write(ctx, Tokens("1")))
		change := Next(t, bChanges)
		require.Equal(t, a.Origin(), change.Origin)
		require.Equal(t, store.OpWrite, change.Op)

		require.NoError(t, a.Clear(ctx))
		change = NextOp(t, bChanges, store.OpClear)
		require.Equal(t, a.Origin(), change.Origin)

		NoChange(t, aChanges, 200*time.Millisecond)
	})

	t.Run("subscription closes with its context", func(t *testing.T) {
		a, _ := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		changes, err := a.Subscribe(ctx)
		require.NoError(t, err)
		cancel()

		require.Eventually(t, func() bool {
			select {
			case _, ok := <-changes:
				return !ok
			default:
				return false
			}
		}, WaitTimeout, 10*time.Millisecond)
	})
}

// Next waits for the next change.
func Next(t *testing.T, changes <-chan store.Change) store.Change {
	t.Helper()
	select {
	case c, ok := <-changes:
		require.True(t, ok, "change channel closed")
		return c
	case <-time.After(WaitTimeout):
		t.Fatal("timed out waiting for change")
	}
	return store.Change{}
}

// NextOp skips duplicate notifications until a change with the given op arrives.
func NextOp(t *testing.T, changes <-chan store.Change, op store.Op) store.Change {
	t.Helper()
	deadline := time.After(WaitTimeout)
	for {
		select {
		case c, ok := <-changes:
			require.True(t, ok, "change channel closed")
			if c.Op == op {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s change", op)
		}
	}
}

// NoChange asserts nothing is delivered within the window.
func NoChange(t *testing.T, changes <-chan store.Change, window time.Duration) {
	t.Helper()
	select {
	case c := <-changes:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(window):
	}
}
