package convert

import (
	"math"
	"testing"

	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
)

func sineBlock(pts int64, frameCount int, format frames.Format) frames.AudioBlock {
	samples := make([]float32, frameCount*format.Channels)
	for f := 0; f < frameCount; f++ {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(f)/float64(format.SampleRate)))
		for c := 0; c < format.Channels; c++ {
			samples[f*format.Channels+c] = v
		}
	}
	return frames.NewBlock(pts, samples, format)
}

func TestConvertSameFormatIsIdentity(t *testing.T) {
	c := NewConverter()
	format := frames.Format{SampleRate: 16000, Channels: 1}
	in := sineBlock(1, 1024, format)
	out, err := c.Convert(in, format)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if &out.Samples()[0] != &in.Samples()[0] {
		t.Fatalf("same-format conversion copied the block")
	}
}

func TestConvertFrameCountRatios(t *testing.T) {
	pairs := []struct {
		in, out int
	}{
		{44100, 16000},
		{48000, 16000},
		{16000, 44100},
		{8000, 16000},
		{22050, 16000},
	}
	for _, p := range pairs {
		c := NewConverter()
		inFormat := frames.Format{SampleRate: p.in, Channels: 1}
		outFormat := frames.Format{SampleRate: p.out, Channels: 1}

		const blocks = 20
		const frameCount = 1024
		var got int
		for i := 0; i < blocks; i++ {
			out, err := c.Convert(sineBlock(int64(i), frameCount, inFormat), outFormat)
			if err != nil {
				t.Fatalf("%d->%d convert: %v", p.in, p.out, err)
			}
			got += out.Frames()
		}
		want := float64(blocks*frameCount) * float64(p.out) / float64(p.in)
		// One input frame per stream is held back as interpolation carry.
		tol := float64(p.out)/float64(p.in) + float64(blocks)
		if math.Abs(float64(got)-want) > tol {
			t.Fatalf("%d->%d: %d frames out, want %.0f±%.0f", p.in, p.out, got, want, tol)
		}
	}
}

func TestConvertDownmixesToMono(t *testing.T) {
	c := NewConverter()
	in := sineBlock(1, 512, frames.Format{SampleRate: 16000, Channels: 2})
	out, err := c.Convert(in, frames.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.Format().Channels != 1 {
		t.Fatalf("channels = %d, want 1", out.Format().Channels)
	}
	if out.Frames() == 0 {
		t.Fatalf("no frames produced")
	}
}

func TestConvertRebuildsOnTargetChange(t *testing.T) {
	c := NewConverter()
	in := sineBlock(1, 1024, frames.Format{SampleRate: 44100, Channels: 1})
	if _, err := c.Convert(in, frames.Format{SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("first convert: %v", err)
	}
	first := c.rs
	if _, err := c.Convert(in, frames.Format{SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("second convert: %v", err)
	}
	if c.rs == first {
		t.Fatalf("resampler not rebuilt after target change")
	}
	if _, err := c.Convert(in, frames.Format{SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("third convert: %v", err)
	}
	if c.rs == first {
		t.Fatalf("unexpected reuse of stale resampler")
	}
	second := c.rs
	if _, err := c.Convert(in, frames.Format{SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("fourth convert: %v", err)
	}
	if c.rs != second {
		t.Fatalf("resampler rebuilt despite unchanged formats")
	}
}

func TestConvertUnsupportedChannelPair(t *testing.T) {
	c := NewConverter()
	in := sineBlock(1, 64, frames.Format{SampleRate: 16000, Channels: 2})
	_, err := c.Convert(in, frames.Format{SampleRate: 16000, Channels: 3})
	if err == nil {
		t.Fatalf("expected error for 2->3 channel conversion")
	}
	if !errorsx.HasReason(err, errorsx.ReasonConvert) {
		t.Fatalf("expected convert reason, got %s", errorsx.Reason(err))
	}
}

func TestOneShotSourceSentinel(t *testing.T) {
	src := &oneShotSource{samples: []float32{1, 2, 3}}
	if _, err := src.Pull(); err != nil {
		t.Fatalf("first pull: %v", err)
	}
	if _, err := src.Pull(); err == nil {
		t.Fatalf("second pull must return the end sentinel")
	}
}
