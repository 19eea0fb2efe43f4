// Package store defines the TokenStore: durable storage of the current token set that every
// session agent sharing a namespace can observe. It is the only writer of persisted session state.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-session/token"
)

// DefaultNamespace is the storage namespace used when none is configured.
const DefaultNamespace = "auth"

// Persisted key names, one string value each.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyIDToken      = "id_token"
)

// Keys lists the three persisted values of a session.
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyIDToken}

// ErrPersistence is the sentinel matched by every PersistenceError.
var ErrPersistence = errors.New("token storage unavailable")

// PersistenceError reports that the underlying storage could not be used.
// Callers degrade to a memory-only session rather than failing.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence.Error(), e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Op is the kind of mutation a Change reports.
type Op string

const (
	OpWrite Op = "write"
	OpClear Op = "clear"
)

// Change is a notification that another handle mutated the namespace.
// Receivers must re-read the store; a Change never carries tokens.
type Change struct {
	Origin string    `json:"origin"`
	Op     Op        `json:"op"`
	At     time.Time `json:"at"`
}

// Store is one agent's handle on a shared token namespace.
//
// Write and Clear are full replacements and emit a Change to every other handle of the namespace.
// A handle never receives its own changes; callers update local state at the call site.
type Store interface {
	// Write persists a complete token set.
	Write(ctx context.Context, tokens token.Set) error

	// Read returns the persisted set, or nil when any of the three values is absent.
	Read(ctx context.Context) (*token.Set, error)

	// Clear removes all three values.
	Clear(ctx context.Context) error

	// Subscribe delivers changes made through other handles until ctx is done.
	Subscribe(ctx context.Context) (<-chan Change, error)

	// Origin identifies this handle in the changes it emits.
	Origin() string
}

// Assemble builds a set from the three stored values, returning nil unless all are present.
func Assemble(values map[string]string) *token.Set {
	set := token.Set{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		IDToken:      values[KeyIDToken],
	}
	if !set.Complete() {
		return nil
	}
	return &set
}

// Values splits a set into its three stored values.
func Values(tokens token.Set) map[string]string {
	return map[string]string{
		KeyAccessToken:  tokens.AccessToken,
		KeyRefreshToken: tokens.RefreshToken,
		KeyIDToken:      tokens.IDToken,
	}
}
