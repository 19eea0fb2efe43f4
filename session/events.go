package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultEventBuffer is used when Subscribe is called with a non-positive buffer.
const DefaultEventBuffer = 16

// EventKind says what happened to the session.
type EventKind int

const (
	// EventStatusChanged reports an intermediate transition (authenticating, refreshing, reset).
	EventStatusChanged EventKind = iota
	// EventSignedIn reports that the agent became authenticated.
	EventSignedIn
	// EventTokensUpdated reports a new token set, refreshed here or adopted from another agent.
	EventTokensUpdated
	// EventSignedOut reports that the session ended; Reason says why.
	EventSignedOut
)

func (k EventKind) String() string {
	switch k {
	case EventStatusChanged:
		return "status_changed"
	case EventSignedIn:
		return "signed_in"
	case EventTokensUpdated:
		return "tokens_updated"
	case EventSignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Reason explains a sign-out.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUserLogout      Reason = "user_logout"
	ReasonRefreshFailed   Reason = "refresh_failed"
	ReasonRemoteLogout    Reason = "remote_logout"
	ReasonUserDeleted     Reason = "user_deleted"
	ReasonTokenValidation Reason = "token_validation"
)

// Event is published on every observable session change.
type Event struct {
	Kind   EventKind
	Status Status
	Reason Reason
	At     time.Time
}

// bus fans events out to subscribers. A subscriber whose buffer is full misses the event;
// State always reports the current truth.
type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	logger zerolog.Logger
}

func newBus(logger zerolog.Logger) *bus {
	return &bus{subs: make(map[int]chan Event), logger: logger}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn().Int("subscriber", id).Stringer("kind", e.Kind).Msg("Session event dropped, subscriber is full")
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
