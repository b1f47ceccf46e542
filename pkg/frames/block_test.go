package frames

import "testing"

func TestBlockFrameCount(t *testing.T) {
	b := NewBlock(1, make([]float32, 2048), Format{SampleRate: 16000, Channels: 2})
	if got := b.Frames(); got != 1024 {
		t.Fatalf("frames = %d, want 1024", got)
	}
	if d := b.Duration(); d != 0.064 {
		t.Fatalf("duration = %v, want 0.064", d)
	}
}

func TestBlockFromPoolCopies(t *testing.T) {
	src := []float32{0.1, 0.2, 0.3, 0.4}
	b := NewBlockFromPool(1, src, Format{SampleRate: 8000, Channels: 1})
	src[0] = 0.9
	if b.Samples()[0] != 0.1 {
		t.Fatalf("pooled block shares storage with source slice")
	}
	if !ReleaseBlock(b) {
		t.Fatalf("expected pooled block to be releasable")
	}
	plain := NewBlock(2, src, Format{SampleRate: 8000, Channels: 1})
	if ReleaseBlock(plain) {
		t.Fatalf("non-pooled block reported as pooled")
	}
}

func TestPTSGenMonotonicPerStream(t *testing.T) {
	g := NewPTSGen()
	if a, b := g.Next("s1"), g.Next("s1"); b <= a {
		t.Fatalf("pts not increasing: %d then %d", a, b)
	}
	if g.Next("s2") != 1 {
		t.Fatalf("streams should not share counters")
	}
}
