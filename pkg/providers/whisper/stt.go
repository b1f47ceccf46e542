// Package whisper implements the high-quality recognizer: a duplex websocket
// client for a local whisper streaming server backed by an installed model
// file. Partials replace each other until the server commits a final segment.
package whisper

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/logging"
	"github.com/harunnryd/voxnote/pkg/resilience"
	"github.com/harunnryd/voxnote/pkg/transcribe"
)

type Config struct {
	// ServerURL is the ws:// endpoint of the local whisper server.
	ServerURL string
	// ModelPath points at the installed ggml model for the session locale.
	ModelPath  string
	Locale     string
	Keywords   []string
	SampleRate int
	SessionID  string
}

// handshake is the first frame sent after connecting; it binds the socket to
// a model, language, and bias prompt for the rest of the session.
type handshake struct {
	Type       string `json:"type"`
	Model      string `json:"model"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
	Prompt     string `json:"prompt,omitempty"`
}

// serverMessage is one inbound frame from the whisper server.
type serverMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Error string `json:"error"`
}

// Recognizer speaks the whisper server's duplex protocol: one JSON handshake,
// then binary S16LE audio out and JSON transcript frames in.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger
	retry  resilience.RetryPolicy

	conn     *websocket.Conn
	writeMu  sync.Mutex
	out      chan transcribe.Update
	closeOut sync.Once
	cancel   context.CancelFunc
	readWG   sync.WaitGroup

	scratch []byte
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "whisper_stt"),
		retry:  resilience.NewRetryPolicy(2, 200*time.Millisecond),
		out:    make(chan transcribe.Update, 256),
	}
}

func (r *Recognizer) Name() string { return "whisper_local" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, r.cancel = context.WithCancel(ctx)

	var conn *websocket.Conn
	err := r.retry.DoContext(ctx, func() error {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, r.cfg.ServerURL, nil)
		return err
	})
	if err != nil {
		r.logger.Error("whisper_dial_failed",
			slog.String("url", r.cfg.ServerURL),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	r.conn = conn

	hs := handshake{
		Type:       "config",
		Model:      r.cfg.ModelPath,
		Language:   r.cfg.Locale,
		SampleRate: r.cfg.SampleRate,
		Prompt:     strings.Join(r.cfg.Keywords, ", "),
	}
	if err := conn.WriteJSON(hs); err != nil {
		_ = conn.Close()
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}

	r.logger.Info("whisper_connected",
		slog.String("session_id", r.cfg.SessionID),
		slog.String("url", r.cfg.ServerURL),
		slog.String("language", r.cfg.Locale),
		slog.Int("keywords", len(r.cfg.Keywords)))

	// Context cancellation must unblock the read loop.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	r.readWG.Add(1)
	go r.readLoop(ctx)
	return nil
}

func (r *Recognizer) readLoop(ctx context.Context) {
	defer r.readWG.Done()
	defer r.closeOut.Do(func() { close(r.out) })
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.logger.Warn("whisper_read_error",
					slog.String("session_id", r.cfg.SessionID),
					slog.String("error", err.Error()))
			}
			return
		}
		update, done, err := parseMessage(data)
		if err != nil {
			r.logger.Warn("whisper_bad_message",
				slog.String("session_id", r.cfg.SessionID),
				slog.String("error", err.Error()))
			continue
		}
		if done {
			return
		}
		if update == nil {
			continue
		}
		select {
		case r.out <- *update:
		case <-ctx.Done():
			return
		}
	}
}

// parseMessage decodes one server frame. A nil update with done=false means
// the frame carried nothing to surface (e.g. an empty transcript).
func parseMessage(data []byte) (*transcribe.Update, bool, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("unable to parse whisper output '%s': %w", data, err)
	}
	switch msg.Type {
	case "transcript":
		if msg.Text == "" && !msg.Final {
			return nil, false, nil
		}
		return &transcribe.Update{Text: msg.Text, Final: msg.Final}, false, nil
	case "done":
		return nil, true, nil
	case "error":
		return nil, false, fmt.Errorf("whisper server error: %s", msg.Error)
	default:
		return nil, false, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// Feed converts one mono block to S16LE and ships it as a binary frame. The
// scratch buffer is reused; Feed is never called concurrently.
func (r *Recognizer) Feed(block frames.AudioBlock) error {
	if r.conn == nil {
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

	r.writeMu.Lock()
	err := r.conn.WriteMessage(websocket.BinaryMessage, buf)
	r.writeMu.Unlock()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (r *Recognizer) Results() <-chan transcribe.Update { return r.out }

// Close signals end-of-input and waits for the server to flush its last
// segments. The results channel closes when the read loop drains.
func (r *Recognizer) Close() error {
	if r.conn == nil {
		r.closeOut.Do(func() { close(r.out) })
		return nil
	}

	r.writeMu.Lock()
	err := r.conn.WriteJSON(map[string]string{"type": "end"})
	r.writeMu.Unlock()
	if err != nil {
		r.logger.Warn("whisper_end_write_error",
			slog.String("session_id", r.cfg.SessionID),
			slog.String("error", err.Error()))
		if r.cancel != nil {
			r.cancel()
		}
	}

	r.readWG.Wait()
	if r.cancel != nil {
		r.cancel()
	}
	return r.conn.Close()
}

var _ transcribe.Recognizer = (*Recognizer)(nil)
