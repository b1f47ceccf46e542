// Package transcribe wraps streaming speech recognition behind a single
// duplex contract: audio blocks in, incremental transcript updates out.
package transcribe

import (
	"context"

	"github.com/harunnryd/voxnote/pkg/frames"
)

// Update is one incremental recognition result. A partial may be revised by
// later updates; a final is immutable once emitted.
type Update struct {
	Text  string
	Final bool
}

// Recognizer is the contract every recognition backend implements.
//
// Close signals end-of-input: the backend stops accepting audio, flushes any
// pending finals to Results, then closes the channel.
type Recognizer interface {
	// Name returns the backend name for logging/metrics.
	Name() string
	// Start opens the recognition stream.
	Start(ctx context.Context) error
	// Feed pushes one converted audio block into the stream.
	Feed(block frames.AudioBlock) error
	// Results returns the stream of incremental updates.
	Results() <-chan Update
	// Close ends the input side and flushes remaining results.
	Close() error
}

// Config carries backend-agnostic recognizer configuration.
type Config struct {
	SessionID string
	Locale    string
	// Keywords are domain vocabulary hints that bias recognition toward
	// expected terms without constraining the output.
	Keywords   []string
	SampleRate int
	Channels   int
}

// Format returns the sample format the recognizer expects to be fed.
func (c Config) Format() frames.Format {
	rate := c.SampleRate
	if rate == 0 {
		rate = 16000
	}
	ch := c.Channels
	if ch == 0 {
		ch = 1
	}
	return frames.Format{SampleRate: rate, Channels: ch}
}
