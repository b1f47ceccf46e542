// Package deepgram implements the cloud fallback recognizer. It is the path
// of last resort: always reachable, lower fidelity, and it reports results as
// cumulative full-transcript snapshots rather than partial/final pairs.
package deepgram

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/logging"
	"github.com/harunnryd/voxnote/pkg/resilience"
	"github.com/harunnryd/voxnote/pkg/transcribe"
)

type Config struct {
	APIKey     string
	Model      string
	Language   string
	Keywords   []string
	SampleRate int
	SessionID  string
}

// Recognizer streams S16LE audio to Deepgram over its live websocket API and
// republishes transcripts as cumulative snapshots: committed utterances plus
// the current interim, joined into one string per update.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger
	retry  resilience.RetryPolicy

	dgClient   *client.WSCallback
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	out        chan transcribe.Update
	closeOut   sync.Once
	metaLogged bool

	mu        sync.Mutex
	closed    bool
	committed []string
	interim   string

	scratch []byte
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
		retry:  resilience.NewRetryPolicy(3, 200*time.Millisecond),
		out:    make(chan transcribe.Update, 256),
	}
}

func (r *Recognizer) Name() string { return "deepgram_streaming" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.pipeReader, r.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       "linear16",
		SampleRate:     r.cfg.SampleRate,
		Channels:       1,
		InterimResults: true,
		SmartFormat:    true,
		Keywords:       r.cfg.Keywords,
	}

	r.logger.Info("initializing deepgram connection",
		slog.String("session_id", r.cfg.SessionID),
		slog.String("model", r.cfg.Model),
		slog.String("language", r.cfg.Language),
		slog.Int("keywords", len(r.cfg.Keywords)),
		slog.Int("sample_rate", r.cfg.SampleRate))

	cb := &callback{parent: r}
	dgClient, err := client.NewWSUsingCallback(ctx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		r.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("session_id", r.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	r.dgClient = dgClient

	err = r.retry.DoContext(ctx, func() error {
		if connected := r.dgClient.Connect(); !connected {
			return errors.New("deepgram connection failed")
		}
		return nil
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}

	r.logger.Info("deepgram_connected",
		slog.String("session_id", r.cfg.SessionID),
		slog.String("model", r.cfg.Model))

	go func() {
		if err := r.dgClient.Stream(r.pipeReader); err != nil && ctx.Err() == nil {
			r.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("session_id", r.cfg.SessionID))
		}
	}()
	return nil
}

// Feed converts one mono block to S16LE and pushes it down the pipe. The
// scratch buffer is reused across calls; Feed is never called concurrently.
func (r *Recognizer) Feed(block frames.AudioBlock) error {
	if r.pipeWriter == nil {
		return errorsx.Wrap(errors.New("not started"), errorsx.ReasonSTTSend)
	}

	samples := block.Samples()
	need := len(samples) * 2
	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	buf := r.scratch[:need]
	for i, s := range samples {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v*math.MaxInt16)))
	}

	if _, err := r.pipeWriter.Write(buf); err != nil {
		r.logger.Error("failed to send audio to deepgram",
			slog.String("error", err.Error()),
			slog.String("session_id", r.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (r *Recognizer) Results() <-chan transcribe.Update { return r.out }

// Close signals end-of-input. Deepgram flushes pending results during Stop;
// the results channel closes once the connection is fully down.
func (r *Recognizer) Close() error {
	r.logger.Info("closing deepgram connection",
		slog.String("session_id", r.cfg.SessionID))

	if r.pipeWriter != nil {
		_ = r.pipeWriter.Close()
	}
	if r.dgClient != nil {
		r.dgClient.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.closeOutput()
	return nil
}

// closeOutput closes the results channel exactly once. The closed flag is
// flipped under the same mutex publish holds while sending, so a late SDK
// callback can never send on a closed channel.
func (r *Recognizer) closeOutput() {
	r.closeOut.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.out)
		r.mu.Unlock()
	})
}

// publish recomputes the cumulative snapshot and emits it. Every update
// carries the whole transcript so far; consumers replace, never append.
func (r *Recognizer) publish(text string, isFinal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if isFinal {
		r.committed = append(r.committed, text)
		r.interim = ""
	} else {
		r.interim = text
	}
	parts := make([]string, 0, len(r.committed)+1)
	parts = append(parts, r.committed...)
	if r.interim != "" {
		parts = append(parts, r.interim)
	}
	snapshot := strings.Join(parts, " ")

	select {
	case r.out <- transcribe.Update{Text: snapshot, Final: isFinal}:
	default:
		r.logger.Warn("deepgram_out_channel_full",
			slog.String("session_id", r.cfg.SessionID))
	}
}

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.logger.Debug("transcript_received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.Bool("is_final", isFinal))

	c.parent.publish(transcript, isFinal)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.parent.metaLogged {
		c.parent.metaLogged = true
		c.parent.logger.Info("deepgram_metadata_received",
			slog.String("session_id", c.parent.cfg.SessionID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.closeOutput()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("data", string(byData)))
	return nil
}

var _ transcribe.Recognizer = (*Recognizer)(nil)
