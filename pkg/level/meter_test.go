package level

import (
	"math"
	"testing"
	"time"

	"github.com/harunnryd/voxnote/pkg/frames"
)

func sineBlock(frameCount int, amp float64) frames.AudioBlock {
	samples := make([]float32, frameCount)
	for i := range samples {
		samples[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return frames.NewBlock(1, samples, frames.Format{SampleRate: 16000, Channels: 1})
}

func TestComputeSilenceIsZero(t *testing.T) {
	b := frames.NewBlock(1, make([]float32, 1024), frames.Format{SampleRate: 16000, Channels: 1})
	if got := Compute(b, DefaultGain); got != 0 {
		t.Fatalf("silent block level = %v, want 0", got)
	}
}

func TestComputeIsPureAndClamped(t *testing.T) {
	b := sineBlock(1024, 0.05)
	first := Compute(b, DefaultGain)
	second := Compute(b, DefaultGain)
	if first != second {
		t.Fatalf("same block produced different levels: %v vs %v", first, second)
	}
	if first <= 0 || first > 1 {
		t.Fatalf("level %v outside (0,1]", first)
	}
	loud := sineBlock(1024, 1.0)
	if got := Compute(loud, DefaultGain); got != 1 {
		t.Fatalf("loud block level = %v, want clamp to 1", got)
	}
}

func TestComputeFirstChannelOnly(t *testing.T) {
	// Channel 0 silent, channel 1 loud: the meter must ignore channel 1.
	samples := make([]float32, 512)
	for i := 1; i < len(samples); i += 2 {
		samples[i] = 0.9
	}
	b := frames.NewBlock(1, samples, frames.Format{SampleRate: 16000, Channels: 2})
	if got := Compute(b, DefaultGain); got != 0 {
		t.Fatalf("level = %v, want 0 from silent first channel", got)
	}
}

func TestMeterThrottleIsWallClock(t *testing.T) {
	clock := time.Unix(0, 0)
	m := NewMeter(WithClock(func() time.Time { return clock }))
	b := sineBlock(1024, 0.05)

	if _, ok := m.Measure(b); !ok {
		t.Fatalf("first measurement should emit")
	}
	// Many blocks within the throttle window emit nothing.
	for i := 0; i < 10; i++ {
		clock = clock.Add(time.Millisecond)
		if _, ok := m.Measure(b); ok {
			t.Fatalf("measurement %d emitted inside throttle window", i)
		}
	}
	clock = clock.Add(DefaultMinInterval)
	if _, ok := m.Measure(b); !ok {
		t.Fatalf("measurement after interval should emit")
	}
}
