package session

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/token"
)

// State is a snapshot of an agent's session. Tokens and ExpiresAt are copies.
type State struct {
	Status    Status
	Tokens    *token.Set
	ExpiresAt *time.Time
}

// anyGeneration matches whatever session the agent currently holds.
const anyGeneration = ^uint64(0)

// state is the mutable view of one agent. generation changes whenever a session begins or ends,
// so work started for one session cannot land on the next.
type state struct {
	mu         sync.Mutex
	status     Status
	tokens     *token.Set
	expiresAt  *time.Time
	generation uint64
	persisted  bool
}

func (st *state) snapshotLocked() State {
	snap := State{Status: st.status}
	if st.tokens != nil {
		t := *st.tokens
		snap.Tokens = &t
	}
	if st.expiresAt != nil {
		e := *st.expiresAt
		snap.ExpiresAt = &e
	}
	return snap
}

func (st *state) matches(gen uint64) bool {
	return gen == anyGeneration || gen == st.generation
}
