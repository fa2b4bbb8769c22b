package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateStarting, "starting"},
		{StateExtracting, "extracting"},
		{StateCreating, "creating"},
		{StateAppending, "appending"},
		{StateReading, "reading"},
		{StateMerging, "merging"},
		{StateAdvancing, "advancing"},
		{StateDone, "done"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestStateMachine_InitialState(t *testing.T) {
	sm := NewStateMachine()
	assert.Equal(t, StateStarting, sm.State())
	assert.False(t, sm.IsTerminal())
}

func TestStateMachine_HappyPathCreate(t *testing.T) {
	sm := NewStateMachine()
	for _, s := range []State{StateExtracting, StateCreating, StateReading, StateMerging, StateAdvancing, StateDone} {
		require.NoError(t, sm.Transition(s))
	}
	assert.True(t, sm.IsTerminal())
}

func TestStateMachine_HappyPathAppend(t *testing.T) {
	sm := NewStateMachine()
	for _, s := range []State{StateExtracting, StateAppending, StateReading, StateMerging, StateAdvancing, StateDone} {
		require.NoError(t, sm.Transition(s))
	}
	assert.True(t, sm.IsTerminal())
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"starting to merging", StateStarting, StateMerging},
		{"starting to done", StateStarting, StateDone},
		{"extracting to done", StateExtracting, StateDone},
		{"creating to appending", StateCreating, StateAppending},
		{"merging to done", StateMerging, StateDone},
		{"done is terminal", StateDone, StateExtracting},
		{"failed is terminal", StateFailed, StateExtracting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := &StateMachine{state: tt.from}
			assert.Error(t, sm.Transition(tt.to))
		})
	}
}

func TestStateMachine_FailedReachableFromEveryNonTerminalState(t *testing.T) {
	for _, from := range []State{StateStarting, StateExtracting, StateCreating, StateAppending, StateReading, StateMerging, StateAdvancing} {
		t.Run(from.String(), func(t *testing.T) {
			sm := &StateMachine{state: from}
			require.NoError(t, sm.Transition(StateFailed))
			assert.True(t, sm.IsTerminal())
		})
	}
}

func TestStateMachine_Listener(t *testing.T) {
	sm := NewStateMachine()

	var fromState, toState State
	sm.AddListener(func(from, to State) {
		fromState = from
		toState = to
	})

	require.NoError(t, sm.Transition(StateExtracting))
	assert.Equal(t, StateStarting, fromState)
	assert.Equal(t, StateExtracting, toState)
}

func TestStateMachine_FailNeverErrors(t *testing.T) {
	sm := NewStateMachine()
	sm.fail()
	assert.Equal(t, StateFailed, sm.State())

	// fail on an already-done run must not clobber the terminal success
	done := &StateMachine{state: StateDone}
	done.fail()
	assert.Equal(t, StateDone, done.State())
}
