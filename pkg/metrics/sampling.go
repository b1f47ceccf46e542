package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards roughly one in every 1/rate events. Level and
// block counters fire dozens of times a second; sampling keeps artifact
// files readable over long recordings.
type SamplingObserver struct {
	inner       Observer
	sampleEvery uint64
	counter     uint64
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var every uint64
	switch {
	case rate <= 0:
		every = 0
	case rate >= 1:
		every = 1
	default:
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	return &SamplingObserver{inner: inner, sampleEvery: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	switch s.sampleEvery {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
	default:
		if atomic.AddUint64(&s.counter, 1)%s.sampleEvery == 0 {
			s.inner.RecordEvent(ev)
		}
	}
}
