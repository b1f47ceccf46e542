package frames

import (
	"fmt"
	"sync"
)

// Format describes the layout of PCM samples inside a block.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Valid reports whether the format can describe real audio.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// AudioBlock is an immutable view over one callback's worth of interleaved
// float32 samples. Blocks are consumed synchronously by the capture pipeline
// and must not be mutated after creation; consumers that need to retain
// samples past the callback must copy them.
type AudioBlock struct {
	pts     int64
	samples []float32
	format  Format
	pooled  bool
}

// NewBlock wraps samples without copying. The caller gives up ownership of
// the slice.
func NewBlock(pts int64, samples []float32, format Format) AudioBlock {
	return AudioBlock{pts: pts, samples: samples, format: format}
}

// NewBlockFromPool copies samples into pooled storage. Intended for the
// realtime device callback, where the input buffer is reused by the driver.
func NewBlockFromPool(pts int64, samples []float32, format Format) AudioBlock {
	buf := acquireSampleBuf(len(samples))
	copy(buf, samples)
	return AudioBlock{pts: pts, samples: buf, format: format, pooled: true}
}

func (b AudioBlock) PTS() int64 { return b.pts }

// Samples returns the backing sample slice. Read-only by convention.
func (b AudioBlock) Samples() []float32 { return b.samples }

func (b AudioBlock) Format() Format { return b.format }

// Frames returns the number of sample frames (samples per channel).
func (b AudioBlock) Frames() int {
	if b.format.Channels == 0 {
		return 0
	}
	return len(b.samples) / b.format.Channels
}

// Duration returns the block length in seconds.
func (b AudioBlock) Duration() float64 {
	if b.format.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.format.SampleRate)
}

// ReleaseBlock returns pooled storage to the pool. It reports whether the
// block was pool-backed. The block must not be used afterwards.
func ReleaseBlock(b AudioBlock) bool {
	if !b.pooled {
		return false
	}
	releaseSampleBuf(b.samples)
	return true
}

// PTSGen issues monotonically increasing presentation timestamps per stream.
type PTSGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewPTSGen() *PTSGen {
	return &PTSGen{value: make(map[string]int64)}
}

func (g *PTSGen) Next(streamID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[streamID] + 1
	g.value[streamID] = v
	return v
}

var sampleBufPool = sync.Pool{
	New: func() any {
		return make([]float32, 0, 2048)
	},
}

func acquireSampleBuf(size int) []float32 {
	b := sampleBufPool.Get().([]float32)
	if cap(b) < size {
		return make([]float32, size)
	}
	return b[:size]
}

func releaseSampleBuf(b []float32) {
	sampleBufPool.Put(b[:0])
}
