package client

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "READY", READY.String())
	assert.Equal(t, "BUSY", BUSY.String())
	assert.Equal(t, "CLOSED", CLOSED.String())
	assert.Equal(t, "UNKNOWN", ConnectionState(42).String())
}

func TestStateTransitionTable(t *testing.T) {
	states := []ConnectionState{READY, BUSY, CLOSED}
	allowed := map[[2]ConnectionState]bool{
		{READY, BUSY}:   true,
		{READY, CLOSED}: true,
		{BUSY, READY}:   true,
		{BUSY, CLOSED}:  true,
	}
	// Shortest path from READY to each starting state.
	path := map[ConnectionState][]ConnectionState{
		READY:  nil,
		BUSY:   {BUSY},
		CLOSED: {CLOSED},
	}

	for _, from := range states {
		for _, to := range states {
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				sm := NewStateManager()
				for _, s := range path[from] {
					require.NoError(t, sm.TransitionTo(s, nil, nil))
				}

				err := sm.TransitionTo(to, nil, nil)
				if allowed[[2]ConnectionState{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, sm.GetState())
					return
				}
				require.Error(t, err)
				assert.True(t, errors.Is(err, errIllegalTransition))
				assert.Equal(t, from, sm.GetState(), "a refused move changes nothing")
			})
		}
	}
}

func TestStateManagerTracksOwner(t *testing.T) {
	sm := NewStateManager()
	assert.Empty(t, sm.Owner())

	require.NoError(t, sm.TransitionTo(BUSY, nil, map[string]interface{}{"owner": "load-7"}))
	assert.Equal(t, "load-7", sm.Owner())

	// A second taker is refused and the owner stays.
	assert.Error(t, sm.TransitionTo(BUSY, nil, map[string]interface{}{"owner": "statement"}))
	assert.Equal(t, "load-7", sm.Owner())

	require.NoError(t, sm.TransitionTo(READY, nil, nil))
	assert.Empty(t, sm.Owner())
}

func TestStateChangeHandlers(t *testing.T) {
	sm := NewStateManager()

	var got []StateTransition
	sm.OnStateChange(func(tr StateTransition) {
		// Handlers run outside the lock.
		assert.Equal(t, tr.To, sm.GetState())
		got = append(got, tr)
	})

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, sm.TransitionTo(BUSY, nil, map[string]interface{}{"owner": "statement"}))
	cause := errors.New("connection reset")
	require.NoError(t, sm.TransitionTo(CLOSED, cause, map[string]interface{}{"reason": "connection_lost"}))

	require.Len(t, got, 2)
	assert.Equal(t, READY, got[0].From)
	assert.Equal(t, BUSY, got[0].To)
	assert.GreaterOrEqual(t, got[0].Duration, 5*time.Millisecond)
	assert.Equal(t, "statement", got[0].Metadata["owner"])
	assert.Same(t, cause, got[1].Error)

	last := sm.GetLastTransition()
	assert.Equal(t, CLOSED, last.To)
	assert.Equal(t, "connection_lost", last.Metadata["reason"])
	assert.Equal(t, got[1].Timestamp, last.Timestamp)
}

func TestOnlyOneOwner(t *testing.T) {
	sm := NewStateManager()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sm.TransitionTo(BUSY, nil, nil) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}
