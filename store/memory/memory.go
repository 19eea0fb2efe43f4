// Package memory is an in-process token store. A Namespace plays the role of shared browser
// storage and every handle opened on it plays the role of one tab.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/token"
)

// ErrUnavailable is the cause reported while a namespace is marked unavailable.
var ErrUnavailable = errors.New("storage disabled")

// ExternalOrigin marks changes made directly on the namespace rather than through a handle.
const ExternalOrigin = "external"

const subscriberBuffer = 32

type subscriber struct {
	origin string
	ch     chan store.Change
	done   <-chan struct{}
}

// Namespace holds the shared values and fans changes out to every open handle.
type Namespace struct {
	mu          sync.RWMutex
	values      map[string]string
	unavailable bool

	subMu       sync.RWMutex
	subscribers map[*subscriber]struct{}

	now func() time.Time
}

// NewNamespace creates an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{
		values:      make(map[string]string),
		subscribers: make(map[*subscriber]struct{}),
		now:         time.Now,
	}
}

// Open returns a new handle with its own origin.
func (n *Namespace) Open() *Store {
	return &Store{ns: n, origin: uuid.New().String()}
}

// SetUnavailable simulates storage that rejects every operation (quota exceeded, disabled).
func (n *Namespace) SetUnavailable(unavailable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unavailable = unavailable
}

// Get returns a single stored value.
func (n *Namespace) Get(key string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.values[key]
	return v, ok
}

// RemoveKey deletes one value the way an outside actor would and notifies every handle.
func (n *Namespace) RemoveKey(key string) {
	n.mu.Lock()
	delete(n.values, key)
	n.mu.Unlock()

	n.publish(store.Change{Origin: ExternalOrigin, Op: store.OpClear, At: n.now()})
}

func (n *Namespace) publish(change store.Change) {
	n.subMu.RLock()
	defer n.subMu.RUnlock()

	for sub := range n.subscribers {
		if sub.origin == change.Origin {
			continue
		}
		select {
		case sub.ch <- change:
		case <-sub.done:
		}
	}
}

func (n *Namespace) subscribe(ctx context.Context, origin string) <-chan store.Change {
	sub := &subscriber{
		origin: origin,
		ch:     make(chan store.Change, subscriberBuffer),
		done:   ctx.Done(),
	}

	n.subMu.Lock()
	n.subscribers[sub] = struct{}{}
	n.subMu.Unlock()

	go func() {
		<-ctx.Done()
		n.subMu.Lock()
		delete(n.subscribers, sub)
		close(sub.ch)
		n.subMu.Unlock()
	}()

	return sub.ch
}

var _ store.Store = (*Store)(nil)

// Store is one handle on a Namespace.
type Store struct {
	ns     *Namespace
	origin string
}

func (s *Store) Origin() string {
	return s.origin
}

func (s *Store) Write(_ context.Context, tokens token.Set) error {
	if err := tokens.Validate(); err != nil {
		return err
	}

	s.ns.mu.Lock()
	if s.ns.unavailable {
		s.ns.mu.Unlock()
		return &store.PersistenceError{Op: "write", Err: ErrUnavailable}
	}
	for k, v := range store.Values(tokens) {
		s.ns.values[k] = v
	}
	s.ns.mu.Unlock()

	s.ns.publish(store.Change{Origin: s.origin, Op: store.OpWrite, At: s.ns.now()})
	return nil
}

func (s *Store) Read(_ context.Context) (*token.Set, error) {
	s.ns.mu.RLock()
	defer s.ns.mu.RUnlock()
	if s.ns.unavailable {
		return nil, &store.PersistenceError{Op: "read", Err: ErrUnavailable}
	}
	return store.Assemble(s.ns.values), nil
}

func (s *Store) Clear(_ context.Context) error {
	s.ns.mu.Lock()
	if s.ns.unavailable {
		s.ns.mu.Unlock()
		return &store.PersistenceError{Op: "clear", Err: ErrUnavailable}
	}
	for _, k := range store.Keys {
		delete(s.ns.values, k)
	}
	s.ns.mu.Unlock()

	s.ns.publish(store.Change{Origin: s.origin, Op: store.OpClear, At: s.ns.now()})
	return nil
}

func (s *Store) Subscribe(ctx context.Context) (<-chan store.Change, error) {
	return s.ns.subscribe(ctx, s.origin), nil
}
