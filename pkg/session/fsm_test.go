package session

import (
	"errors"
	"sync"
	"testing"
)

type recordingListener struct {
	mu     sync.Mutex
	events []StateChange
}

func (l *recordingListener) OnStateChange(event StateChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) snapshot() []StateChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StateChange, len(l.events))
	copy(out, l.events)
	return out
}

func TestStateMachineValidPath(t *testing.T) {
	m := newStateMachine()
	if got := m.State(); got != StateIdle {
		t.Fatalf("initial state = %v, want %v", got, StateIdle)
	}

	path := []State{StateRecording, StatePaused, StateRecording, StateIdle}
	for _, next := range path {
		if err := m.Transition(next, "test"); err != nil {
			t.Fatalf("Transition(%v): %v", next, err)
		}
		if got := m.State(); got != next {
			t.Fatalf("state after transition = %v, want %v", got, next)
		}
	}
}

func TestStateMachineInvalidTransitions(t *testing.T) {
	cases := []struct {
		name string
		prep []State
		to   State
	}{
		{name: "idle to paused", to: StatePaused},
		{name: "idle to idle", to: StateIdle},
		{name: "recording to recording", prep: []State{StateRecording}, to: StateRecording},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newStateMachine()
			for _, s := range tc.prep {
				if err := m.Transition(s, "prep"); err != nil {
					t.Fatalf("prep transition: %v", err)
				}
			}
			before := m.State()
			err := m.Transition(tc.to, "test")
			if err == nil {
				t.Fatalf("Transition(%v) succeeded, want error", tc.to)
			}
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("error type = %T, want *InvalidTransitionError", err)
			}
			if ite.From != before || ite.To != tc.to {
				t.Fatalf("error = %v -> %v, want %v -> %v", ite.From, ite.To, before, tc.to)
			}
			if got := m.State(); got != before {
				t.Fatalf("failed transition changed state to %v", got)
			}
		})
	}
}

func TestStateMachineNotifiesListeners(t *testing.T) {
	m := newStateMachine()
	l := &recordingListener{}
	m.AddListener(l)

	if err := m.Transition(StateRecording, "start"); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StateIdle, "stop"); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StatePaused, "bogus"); err == nil {
		t.Fatal("invalid transition succeeded")
	}

	events := l.snapshot()
	if len(events) != 2 {
		t.Fatalf("listener saw %d events, want 2", len(events))
	}
	if events[0].From != StateIdle || events[0].To != StateRecording || events[0].Reason != "start" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].From != StateRecording || events[1].To != StateIdle || events[1].Reason != "stop" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("event timestamp not set")
	}
}
