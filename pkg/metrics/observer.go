// Package metrics provides a lightweight observer fan-out for capture
// pipeline counters (blocks written, conversion drops, write errors).
package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Count records a named counter increment against an observer. Nil observers
// are tolerated so callers can skip wiring metrics entirely.
func Count(obs Observer, name string, n float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: n, Tags: tags})
}
