package client

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ConnectionState says who may use the client's connection.
type ConnectionState int

const (
	READY  ConnectionState = iota // idle; a statement or a load may take it
	BUSY                          // owned by a statement or a bulk load
	CLOSED                        // closed by the caller or lost
)

func (cs ConnectionState) String() string {
	switch cs {
	case READY:
		return "READY"
	case BUSY:
		return "BUSY"
	case CLOSED:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// errIllegalTransition is returned by TransitionTo for a move the table
// below does not allow.
var errIllegalTransition = errors.New("illegal connection state transition")

// nextStates lists the legal moves. Only READY may become BUSY, which is what
// makes ownership exclusive; CLOSED is final.
var nextStates = map[ConnectionState][]ConnectionState{
	READY: {BUSY, CLOSED},
	BUSY:  {READY, CLOSED},
}

// StateTransition records one state change. Metadata conventionally holds
// "owner" (the statement marker or a bulk load session ID) on the way to BUSY
// and "reason" ("user_initiated", "connection_lost", "attention_failed") on
// the way to CLOSED.
type StateTransition struct {
	From      ConnectionState
	To        ConnectionState
	Timestamp time.Time
	Error     error
	Duration  time.Duration // time spent in From
	Metadata  map[string]interface{}
}

type StateChangeHandler func(transition StateTransition)

// StateManager guards the connection state and its current owner.
type StateManager struct {
	mu       sync.RWMutex
	current  ConnectionState
	owner    string
	last     StateTransition
	handlers []StateChangeHandler
}

func NewStateManager() *StateManager {
	now := time.Now()
	return &StateManager{
		current: READY,
		last:    StateTransition{From: READY, To: READY, Timestamp: now},
	}
}

// TransitionTo moves to newState and notifies handlers outside the lock.
// Entering BUSY records metadata["owner"]; leaving BUSY clears it.
func (sm *StateManager) TransitionTo(newState ConnectionState, err error, metadata map[string]interface{}) error {
	sm.mu.Lock()
	from := sm.current
	if !legal(from, newState) {
		sm.mu.Unlock()
		return errors.Wrapf(errIllegalTransition, "%s to %s", from, newState)
	}

	now := time.Now()
	tr := StateTransition{
		From:      from,
		To:        newState,
		Timestamp: now,
		Error:     err,
		Duration:  now.Sub(sm.last.Timestamp),
		Metadata:  metadata,
	}
	sm.current = newState
	sm.last = tr
	sm.owner = ""
	if newState == BUSY {
		sm.owner, _ = metadata["owner"].(string)
	}
	handlers := append([]StateChangeHandler(nil), sm.handlers...)
	sm.mu.Unlock()

	for _, h := range handlers {
		h(tr)
	}
	return nil
}

func legal(from, to ConnectionState) bool {
	for _, s := range nextStates[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (sm *StateManager) OnStateChange(handler StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handler)
}

func (sm *StateManager) GetState() ConnectionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Owner returns who holds a BUSY connection, or "" otherwise.
func (sm *StateManager) Owner() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.owner
}

// GetLastTransition returns the most recent change, with Duration updated to
// how long the current state has been held.
func (sm *StateManager) GetLastTransition() StateTransition {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	tr := sm.last
	tr.Duration = time.Since(tr.Timestamp)
	return tr
}
