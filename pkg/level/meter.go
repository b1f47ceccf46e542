// Package level computes a smoothed loudness signal for UI display.
package level

import (
	"math"
	"time"

	"github.com/harunnryd/voxnote/pkg/frames"
)

const (
	// DefaultGain compensates for typical microphone RMS of 0.01-0.1.
	DefaultGain = 10.0
	// DefaultMinInterval bounds UI update pressure to ~30 emissions/s.
	DefaultMinInterval = 33 * time.Millisecond
)

// Meter turns an audio block into a loudness value in [0,1]. Apart from the
// timestamp of the last emitted value it is stateless; the same block always
// yields the same value.
type Meter struct {
	gain        float64
	minInterval time.Duration
	lastEmit    time.Time
	now         func() time.Time
}

type Option func(*Meter)

// WithGain overrides the RMS gain factor.
func WithGain(gain float64) Option {
	return func(m *Meter) {
		if gain > 0 {
			m.gain = gain
		}
	}
}

// WithMinInterval overrides the emission throttle interval.
func WithMinInterval(d time.Duration) Option {
	return func(m *Meter) {
		if d >= 0 {
			m.minInterval = d
		}
	}
}

// WithClock overrides the wall clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

func NewMeter(opts ...Option) *Meter {
	m := &Meter{
		gain:        DefaultGain,
		minInterval: DefaultMinInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Measure computes the gained, clamped RMS of the block's first channel.
// The second return value is false when the wall-clock throttle suppressed
// this emission; the level is still returned for callers that want it.
func (m *Meter) Measure(block frames.AudioBlock) (float32, bool) {
	v := Compute(block, m.gain)
	now := m.now()
	if !m.lastEmit.IsZero() && now.Sub(m.lastEmit) < m.minInterval {
		return v, false
	}
	m.lastEmit = now
	return v, true
}

// Compute is the pure measurement: RMS over channel 0, multiplied by gain,
// clamped to [0,1].
func Compute(block frames.AudioBlock, gain float64) float32 {
	samples := block.Samples()
	channels := block.Format().Channels
	if len(samples) == 0 || channels <= 0 {
		return 0
	}
	var sum float64
	var n int
	for i := 0; i < len(samples); i += channels {
		s := float64(samples[i])
		sum += s * s
		n++
	}
	if n == 0 {
		return 0
	}
	v := math.Sqrt(sum/float64(n)) * gain
	if v > 1 {
		v = 1
	}
	return float32(v)
}
