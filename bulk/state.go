package bulk

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// State is the lifecycle state of a bulk load. Completed, Canceled, Errored
// and TimedOut are terminal.
type State int

const (
	Idle         State = iota // accepting column definitions
	SchemaFixed               // rows added or a sink opened; columns are final
	Transmitting              // rows are being encoded and sent
	Completed                 // the server acknowledged every row
	Canceled
	Errored
	TimedOut
)

var stateNames = [...]string{
	Idle:         "IDLE",
	SchemaFixed:  "SCHEMA_FIXED",
	Transmitting: "TRANSMITTING",
	Completed:    "COMPLETED",
	Canceled:     "CANCELED",
	Errored:      "ERRORED",
	TimedOut:     "TIMED_OUT",
}

func (s State) String() string {
	if s < Idle || s > TimedOut {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= Completed
}

type stateSet uint8

func setOf(states ...State) stateSet {
	var set stateSet
	for _, s := range states {
		set |= 1 << s
	}
	return set
}

func (set stateSet) has(s State) bool { return set&(1<<s) != 0 }

// next holds the legal moves out of each non-terminal state. A load may be
// canceled or fail from any of them; only a transmitting load completes or
// times out.
var next = [...]stateSet{
	Idle:         setOf(SchemaFixed, Canceled, Errored),
	SchemaFixed:  setOf(Transmitting, Canceled, Errored),
	Transmitting: setOf(Completed, Canceled, Errored, TimedOut),
}

func legalTransition(from, to State) bool {
	return from >= Idle && int(from) < len(next) && next[from].has(to)
}

// StateTransition describes one state change.
type StateTransition struct {
	From      State
	To        State
	Timestamp time.Time
	Error     error         // the outcome of a failed terminal state
	Duration  time.Duration // time spent in From
}

type StateChangeHandler func(transition StateTransition)

type stateManager struct {
	mu       sync.RWMutex
	current  State
	since    time.Time
	handlers []StateChangeHandler
}

func newStateManager() *stateManager {
	return &stateManager{current: Idle, since: time.Now()}
}

// transitionTo moves to newState. The returned func runs the handlers; the
// caller invokes it once its own locks are released.
func (sm *stateManager) transitionTo(newState State, err error) (func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !legalTransition(sm.current, newState) {
		return func() {}, errors.Newf("illegal state transition: %s to %s", sm.current, newState)
	}

	now := time.Now()
	tr := StateTransition{
		From:      sm.current,
		To:        newState,
		Timestamp: now,
		Error:     err,
		Duration:  now.Sub(sm.since),
	}
	sm.current, sm.since = newState, now

	handlers := append([]StateChangeHandler(nil), sm.handlers...)
	return func() {
		for _, h := range handlers {
			h(tr)
		}
	}, nil
}

func (sm *stateManager) onStateChange(handler StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handler)
}

func (sm *stateManager) get() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}
