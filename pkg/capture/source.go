// Package capture owns the physical audio input: device streams, the
// per-block callback pipeline, and the durable capture file.
package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/voxnote/pkg/frames"
)

// ErrSourceBusy is returned when opening a source that is already open.
var ErrSourceBusy = errors.New("capture source already open")

// StreamConfig describes the stream a session wants from its source.
type StreamConfig struct {
	Format         frames.Format
	FramesPerBlock int
}

// BlockFunc receives one captured block. It runs on the source's delivery
// thread and must return before the next block arrives; implementations must
// not block and must copy samples they intend to retain.
type BlockFunc func(block frames.AudioBlock)

// Source abstracts a device input stream so sessions can run against real
// hardware or synthetic audio. Open installs the callback, Start/Stop toggle
// delivery without tearing anything down, Close releases the device.
type Source interface {
	Open(cfg StreamConfig, fn BlockFunc) error
	Start() error
	Stop() error
	Close() error
	// Probe cheaply checks that an input device is reachable.
	Probe() error
}

// SyntheticSource delivers pre-built or generated blocks on a fixed cadence.
// It backs tests and the demo CLI on machines without an input device.
type SyntheticSource struct {
	Interval time.Duration
	// Blocks are delivered in order; delivery stops when they run out.
	Blocks []frames.AudioBlock

	mu     sync.Mutex
	fn     BlockFunc
	opened bool
	active bool
	next   int
	quit   chan struct{}
	wg     sync.WaitGroup
}

func (s *SyntheticSource) Open(cfg StreamConfig, fn BlockFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return ErrSourceBusy
	}
	if s.Interval <= 0 {
		s.Interval = time.Millisecond
	}
	s.opened = true
	s.fn = fn
	s.next = 0
	return nil
}

func (s *SyntheticSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.New("synthetic source not open")
	}
	if s.active {
		return nil
	}
	s.active = true
	s.quit = make(chan struct{})
	s.wg.Add(1)
	go s.deliver(s.quit)
	return nil
}

func (s *SyntheticSource) deliver(quit chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.next >= len(s.Blocks) {
				s.mu.Unlock()
				return
			}
			block := s.Blocks[s.next]
			s.next++
			fn := s.fn
			s.mu.Unlock()
			fn(block)
		}
	}
}

func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	close(s.quit)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *SyntheticSource) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	s.opened = false
	s.fn = nil
	s.mu.Unlock()
	return nil
}

func (s *SyntheticSource) Probe() error { return nil }

// Delivered reports how many blocks have been delivered so far.
func (s *SyntheticSource) Delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

var _ Source = (*SyntheticSource)(nil)
