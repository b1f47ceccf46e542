package session

import "time"

// EventKind names the discrete state-change events a UI layer subscribes to,
// replacing implicit property observation with an explicit channel.
type EventKind string

const (
	EventStateChanged      EventKind = "state_changed"
	EventLevelChanged      EventKind = "level_changed"
	EventTranscriptChanged EventKind = "transcript_changed"
	EventDurationChanged   EventKind = "duration_changed"
)

// Event carries one observable change. Only the field matching Kind is
// meaningful; the rest hold their previous values.
type Event struct {
	Kind       EventKind
	State      State
	Level      float32
	Transcript string
	Duration   time.Duration
	At         time.Time
}

// Listener receives controller events. Callbacks run on the controller's
// worker goroutine and must return promptly.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event Event)

func (f ListenerFunc) OnEvent(event Event) { f(event) }

// Interruption is a device-level audio interruption notification, such as an
// incoming call taking over the input route.
type Interruption struct {
	Kind InterruptionKind
}

type InterruptionKind int

const (
	InterruptionBegan InterruptionKind = iota
	InterruptionEnded
)
