// Package convert turns captured audio blocks into the sample format a
// recognition backend expects.
package convert

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
)

// Converter converts audio blocks between PCM formats. The underlying
// resampler is built lazily, cached, and rebuilt only when the input or the
// requested target format changes, so filter state stays continuous across
// consecutive blocks of one stream.
type Converter struct {
	mu sync.Mutex
	rs *resampler
}

func NewConverter() *Converter {
	return &Converter{}
}

// Convert returns a block in the target format. When the block already
// matches the target the identical block is returned with no copy. A failed
// conversion means the block is unusable for transcription; capture and
// file-writing are unaffected.
func (c *Converter) Convert(block frames.AudioBlock, target frames.Format) (frames.AudioBlock, error) {
	if block.Format() == target {
		return block, nil
	}
	if !target.Valid() || !block.Format().Valid() {
		return frames.AudioBlock{}, errorsx.Wrap(
			fmt.Errorf("cannot convert %s to %s", block.Format(), target), errorsx.ReasonConvert)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rs == nil || c.rs.in != block.Format() || c.rs.out != target {
		rs, err := newResampler(block.Format(), target)
		if err != nil {
			return frames.AudioBlock{}, errorsx.Wrap(err, errorsx.ReasonConvert)
		}
		c.rs = rs
	}

	out, err := c.rs.resample(&oneShotSource{samples: block.Samples()})
	if err != nil {
		return frames.AudioBlock{}, errorsx.Wrap(err, errorsx.ReasonConvert)
	}
	return frames.NewBlock(block.PTS(), out, target), nil
}

// oneShotSource grants a block's samples on the first pull and io.EOF on
// every pull after that, so the resampler can never block waiting for more
// input or re-read stale data within one conversion call.
type oneShotSource struct {
	samples []float32
	drained bool
}

func (s *oneShotSource) Pull() ([]float32, error) {
	if s.drained {
		return nil, io.EOF
	}
	s.drained = true
	return s.samples, nil
}

// resampler performs linear-interpolation rate conversion with channel
// up/down mixing. It carries the fractional read position and the previous
// block's final frame so block boundaries do not introduce discontinuities.
type resampler struct {
	in, out frames.Format
	ratio   float64 // input frames consumed per output frame
	work    int     // channel count used during interpolation

	pos    float64
	last   []float32
	primed bool

	scratch []float32
}

func newResampler(in, out frames.Format) (*resampler, error) {
	work := out.Channels
	if in.Channels != out.Channels {
		if in.Channels != 1 && out.Channels != 1 {
			return nil, fmt.Errorf("do not know how to convert %d channels to %d", in.Channels, out.Channels)
		}
		work = 1
	}
	return &resampler{
		in:    in,
		out:   out,
		ratio: float64(in.SampleRate) / float64(out.SampleRate),
		work:  work,
		last:  make([]float32, work),
	}, nil
}

func (r *resampler) resample(src *oneShotSource) ([]float32, error) {
	input, err := src.Pull()
	if err != nil {
		return nil, fmt.Errorf("pulling input block: %w", err)
	}
	if len(input)%r.in.Channels != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d channels", len(input), r.in.Channels)
	}
	// The cycle is single-shot: the only further grant is the end sentinel.
	if _, err := src.Pull(); err != io.EOF {
		return nil, fmt.Errorf("source granted input twice within one conversion")
	}

	inFrames := len(input) / r.in.Channels
	if inFrames == 0 {
		return nil, nil
	}

	work := r.mixToWork(input, inFrames)

	outCap := int(math.Ceil(float64(inFrames) * float64(r.out.SampleRate) / float64(r.in.SampleRate)))
	out := make([]float32, 0, outCap*r.work)

	// Interpolate between the carried last frame (index 0 when primed) and
	// the frames of this block.
	total := inFrames
	base := work
	if r.primed {
		total = inFrames + 1
		r.scratch = append(append(r.scratch[:0], r.last...), work...)
		base = r.scratch
	}
	for {
		i := int(r.pos)
		if i+1 >= total {
			break
		}
		frac := float32(r.pos - float64(i))
		for c := 0; c < r.work; c++ {
			a := base[i*r.work+c]
			b := base[(i+1)*r.work+c]
			out = append(out, a+(b-a)*frac)
		}
		r.pos += r.ratio
	}

	consumed := total - 1
	r.pos -= float64(consumed)
	copy(r.last, base[consumed*r.work:])
	r.primed = true

	return r.expandChannels(out), nil
}

// mixToWork reduces the interleaved input to the working channel count:
// identical channel counts pass through, multi-channel input averages down
// to mono when the work layout is mono.
func (r *resampler) mixToWork(input []float32, inFrames int) []float32 {
	if r.in.Channels == r.work {
		return input
	}
	mono := make([]float32, inFrames)
	ch := r.in.Channels
	for f := 0; f < inFrames; f++ {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += input[f*ch+c]
		}
		mono[f] = sum / float32(ch)
	}
	return mono
}

// expandChannels repeats mono work samples across the target channel count.
func (r *resampler) expandChannels(work []float32) []float32 {
	if r.work == r.out.Channels {
		return work
	}
	out := make([]float32, 0, len(work)*r.out.Channels)
	for _, s := range work {
		for c := 0; c < r.out.Channels; c++ {
			out = append(out, s)
		}
	}
	return out
}
