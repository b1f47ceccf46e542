// Package session exposes the recording state machine: idle → recording ⇄
// paused → idle, with serialized transitions, duration accounting, and
// interruption handling.
package session

import (
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// StateChange represents one state transition.
type StateChange struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
}

// StateListener observes recording state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// stateMachine validates and serializes recording state transitions.
type stateMachine struct {
	mu      sync.RWMutex
	current State

	listeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// transitionValid checks a transition against the recording lifecycle (must
// be called with the lock held).
func (m *stateMachine) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:      {StateRecording},
		StateRecording: {StatePaused, StateIdle},
		StatePaused:    {StateRecording, StateIdle},
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation and notifies listeners
// with the lock released.
func (m *stateMachine) Transition(state State, reason string) error {
	m.mu.Lock()
	if !m.transitionValid(m.current, state) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: m.current, To: state}
	}
	old := m.current
	m.current = state
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	event := StateChange{From: old, To: state, Timestamp: time.Now(), Reason: reason}
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

func (m *stateMachine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
