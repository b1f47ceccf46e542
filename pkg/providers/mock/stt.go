// Package mock provides a scripted recognizer for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/transcribe"
)

type STTConfig struct {
	// Script is emitted in order on the first fed block.
	Script []transcribe.Update
	// FlushOnClose is emitted after end-of-input, before Results closes.
	FlushOnClose []transcribe.Update
	// FailStart makes Start return an error, simulating bring-up failure.
	FailStart bool
	// FailFeed makes every Feed return an error.
	FailFeed bool
}

// Recognizer is a scripted transcribe.Recognizer. It records every block it
// is fed so tests can assert on the converted stream.
type Recognizer struct {
	cfg STTConfig

	mu       sync.Mutex
	started  bool
	closed   bool
	emitted  bool
	fed      []frames.AudioBlock
	out      chan transcribe.Update
	closeOut sync.Once
}

func NewRecognizer(cfg STTConfig) *Recognizer {
	return &Recognizer{cfg: cfg, out: make(chan transcribe.Update, 64)}
}

func (r *Recognizer) Name() string { return "mock_stt" }

func (r *Recognizer) Start(ctx context.Context) error {
	if r.cfg.FailStart {
		return errors.New("mock stt start failure")
	}
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) Feed(block frames.AudioBlock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.closed {
		return errors.New("not started")
	}
	if r.cfg.FailFeed {
		return errors.New("mock stt feed failure")
	}
	r.fed = append(r.fed, block)
	if !r.emitted {
		r.emitted = true
		for _, u := range r.cfg.Script {
			r.out <- u
		}
	}
	return nil
}

func (r *Recognizer) Results() <-chan transcribe.Update { return r.out }

func (r *Recognizer) Close() error {
	r.mu.Lock()
	r.closed = true
	flush := r.cfg.FlushOnClose
	r.mu.Unlock()

	r.closeOut.Do(func() {
		for _, u := range flush {
			r.out <- u
		}
		close(r.out)
	})
	return nil
}

// FedBlocks returns a snapshot of the blocks fed so far.
func (r *Recognizer) FedBlocks() []frames.AudioBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]frames.AudioBlock, len(r.fed))
	copy(out, r.fed)
	return out
}

var _ transcribe.Recognizer = (*Recognizer)(nil)
