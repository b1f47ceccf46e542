package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/voxnote/pkg/capture"
	"github.com/harunnryd/voxnote/pkg/convert"
	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/level"
	"github.com/harunnryd/voxnote/pkg/logging"
	"github.com/harunnryd/voxnote/pkg/metrics"
	"github.com/harunnryd/voxnote/pkg/transcribe"
)

// ErrClosed is returned for operations on a closed controller.
var ErrClosed = errors.New("session controller closed")

const (
	defaultTick      = 100 * time.Millisecond
	defaultStopGrace = 2 * time.Second
)

// Config wires a Controller.
type Config struct {
	// Path is the fixed capture-file location; each start truncates it.
	Path           string
	Format         frames.Format
	EngineFormat   frames.Format
	FramesPerBlock int

	// NewSource builds a fresh device source per session.
	NewSource func() capture.Source
	// NewEngine builds a fresh transcription engine per session. Nil
	// disables transcription entirely.
	NewEngine  func(sessionID string, keywords []string) *transcribe.Engine
	Authorizer capture.Authorizer

	// Interruptions delivers device-level interruption notifications.
	Interruptions <-chan Interruption

	Tick      time.Duration
	StopGrace time.Duration

	Observer metrics.Observer
	Logger   *slog.Logger
}

// Result is what a finished recording hands back to its caller.
type Result struct {
	Asset      *capture.RecordingAsset
	Transcript string
	Duration   time.Duration
}

// Controller is the public-facing recording state machine. All mutating
// operations are serialized onto one worker goroutine; observable fields are
// published only from that goroutine, with the audio and engine threads
// staging raw values into lock-free hand-off cells that the worker
// reconciles on its tick.
type Controller struct {
	cfg    Config
	fsm    *stateMachine
	logger *slog.Logger

	cmds chan func()
	quit chan struct{}
	wg   sync.WaitGroup

	mu        sync.RWMutex
	live      string
	levelVal  float32
	duration  time.Duration
	listeners []Listener

	// Worker-owned session state. Fresh instances per start; nothing here
	// survives a stop.
	accumulated   time.Duration
	resumedAt     time.Time
	sess          *capture.Session
	eng           *transcribe.Engine
	cancelSession context.CancelFunc

	pendingLevel atomic.Uint32
	levelDirty   atomic.Bool
	pendingLive  atomic.Value
	liveDirty    atomic.Bool
}

func NewController(cfg Config) *Controller {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if !cfg.EngineFormat.Valid() {
		cfg.EngineFormat = frames.Format{SampleRate: 16000, Channels: 1}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewComponentLogger(slog.Default(), "session_controller")
	}
	c := &Controller{
		cfg:    cfg,
		fsm:    newStateMachine(),
		logger: logger,
		cmds:   make(chan func()),
		quit:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// AddListener subscribes to controller events.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) IsRecording() bool { return c.fsm.State() == StateRecording }
func (c *Controller) IsPaused() bool    { return c.fsm.State() == StatePaused }

func (c *Controller) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.duration
}

func (c *Controller) AudioLevel() float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.levelVal
}

func (c *Controller) LiveTranscript() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// Start begins a recording session. Keywords bias recognition toward the
// caller's domain vocabulary. Fatal errors carry a reason code and leave the
// controller idle.
func (c *Controller) Start(ctx context.Context, keywords []string) error {
	errc := make(chan error, 1)
	if !c.enqueue(func() { errc <- c.start(ctx, keywords) }) {
		return ErrClosed
	}
	return <-errc
}

// Pause suspends capture. A pause while not recording is a no-op.
func (c *Controller) Pause() {
	c.dispatch(func() { c.pause("pause requested") })
}

// Resume restarts capture after a pause. A resume while not paused is a
// no-op; in particular the controller never auto-resumes after an
// interruption ends.
func (c *Controller) Resume() {
	c.dispatch(func() { c.resume() })
}

// Stop finishes the session and returns the asset and final transcript, or
// nil when nothing was recording. Idempotent.
func (c *Controller) Stop() *Result {
	resc := make(chan *Result, 1)
	if !c.enqueue(func() { resc <- c.stop() }) {
		return nil
	}
	return <-resc
}

// Close stops any active session and shuts the worker down.
func (c *Controller) Close() {
	c.Stop()
	close(c.quit)
	c.wg.Wait()
}

func (c *Controller) enqueue(fn func()) bool {
	select {
	case <-c.quit:
		return false
	case c.cmds <- fn:
		return true
	}
}

// dispatch queues a command and waits for the worker to run it, keeping the
// caller's view of state consistent with the serialized transition order.
func (c *Controller) dispatch(fn func()) {
	done := make(chan struct{})
	if !c.enqueue(func() { fn(); close(done) }) {
		return
	}
	<-done
}

func (c *Controller) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case cmd := <-c.cmds:
			cmd()
		case <-ticker.C:
			c.tick()
		case intr, ok := <-c.interruptions():
			if !ok {
				c.cfg.Interruptions = nil
				continue
			}
			c.onInterruption(intr)
		}
	}
}

func (c *Controller) interruptions() <-chan Interruption {
	return c.cfg.Interruptions
}

func (c *Controller) start(ctx context.Context, keywords []string) error {
	if state := c.fsm.State(); state != StateIdle {
		return fmt.Errorf("cannot start while %s", state)
	}

	if c.cfg.Authorizer != nil {
		ok, err := c.cfg.Authorizer.Authorized(ctx)
		if !ok {
			if err == nil {
				err = errors.New("microphone not authorized")
			}
			c.logger.Warn("start_denied", slog.String("error", err.Error()))
			return errorsx.Wrap(err, errorsx.ReasonPermissionDenied)
		}
	}

	sessionID := uuid.New().String()
	sctx, cancel := context.WithCancel(context.Background())

	// Every session gets fresh instances; nothing is reused across starts.
	var eng *transcribe.Engine
	if c.cfg.NewEngine != nil {
		eng = c.cfg.NewEngine(sessionID, keywords)
		eng.OnLiveTranscript(c.stageTranscript)
		if err := eng.Start(sctx); err != nil {
			// Capture is the primary guarantee: record without transcription.
			c.logger.Warn("engine_bringup_failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			metrics.Count(c.cfg.Observer, "engine_bringup_failure", 1, nil)
			eng = nil
		}
	}

	sess := capture.NewSession(capture.SessionConfig{
		SessionID:      sessionID,
		Path:           c.cfg.Path,
		Format:         c.cfg.Format,
		FramesPerBlock: c.cfg.FramesPerBlock,
		Source:         c.cfg.NewSource(),
		Converter:      convert.NewConverter(),
		Engine:         eng,
		EngineFormat:   c.cfg.EngineFormat,
		Meter:          level.NewMeter(),
		OnLevel:        c.stageLevel,
		Observer:       c.cfg.Observer,
	})
	if _, err := sess.Start(sctx); err != nil {
		if eng != nil {
			eng.Stop(0)
		}
		cancel()
		return err
	}

	c.sess = sess
	c.eng = eng
	c.cancelSession = cancel
	c.accumulated = 0
	c.resumedAt = time.Now()
	c.pendingLive.Store("")
	c.liveDirty.Store(false)
	c.levelDirty.Store(false)

	c.mu.Lock()
	c.live = ""
	c.levelVal = 0
	c.duration = 0
	c.mu.Unlock()

	if err := c.fsm.Transition(StateRecording, "start"); err != nil {
		return err
	}
	c.logger.Info("session_started",
		slog.String("session_id", sessionID),
		slog.Int("keywords", len(keywords)))
	c.emit(EventStateChanged)
	return nil
}

func (c *Controller) pause(reason string) {
	if c.fsm.State() != StateRecording {
		return
	}
	if err := c.sess.Pause(); err != nil {
		c.logger.Warn("pause_error", slog.String("error", err.Error()))
	}
	if !c.resumedAt.IsZero() {
		c.accumulated += time.Since(c.resumedAt)
		c.resumedAt = time.Time{}
	}
	c.mu.Lock()
	c.duration = c.accumulated
	c.mu.Unlock()
	if err := c.fsm.Transition(StatePaused, reason); err != nil {
		return
	}
	c.emit(EventStateChanged)
}

func (c *Controller) resume() {
	if c.fsm.State() != StatePaused {
		return
	}
	if err := c.sess.Resume(); err != nil {
		c.logger.Warn("resume_error", slog.String("error", err.Error()))
	}
	c.resumedAt = time.Now()
	if err := c.fsm.Transition(StateRecording, "resume"); err != nil {
		return
	}
	c.emit(EventStateChanged)
}

func (c *Controller) stop() *Result {
	if c.fsm.State() == StateIdle {
		return nil
	}
	if !c.resumedAt.IsZero() {
		c.accumulated += time.Since(c.resumedAt)
		c.resumedAt = time.Time{}
	}

	asset := c.sess.Stop()
	transcript := c.LiveTranscript()
	if c.eng != nil {
		transcript = c.eng.Stop(c.cfg.StopGrace)
	}
	c.cancelSession()
	c.sess = nil
	c.eng = nil

	c.mu.Lock()
	c.duration = c.accumulated
	c.live = transcript
	c.mu.Unlock()

	if err := c.fsm.Transition(StateIdle, "stop"); err != nil {
		c.logger.Warn("stop_transition_error", slog.String("error", err.Error()))
	}
	c.emit(EventTranscriptChanged)
	c.emit(EventStateChanged)

	res := &Result{Asset: asset, Transcript: transcript, Duration: c.accumulated}
	c.logger.Info("session_stopped",
		slog.Duration("duration", res.Duration),
		slog.Int("transcript_len", len(transcript)))
	return res
}

func (c *Controller) onInterruption(intr Interruption) {
	switch intr.Kind {
	case InterruptionBegan:
		if c.fsm.State() == StateRecording {
			c.logger.Info("interruption_pause")
			c.pause("audio interruption")
		}
	case InterruptionEnded:
		// The caller decides when to resume.
		c.logger.Info("interruption_ended")
	}
}

// tick recomputes the published duration while recording and flushes staged
// level/transcript values handed off by the pipeline threads.
func (c *Controller) tick() {
	if c.fsm.State() == StateRecording && !c.resumedAt.IsZero() {
		c.mu.Lock()
		c.duration = c.accumulated + time.Since(c.resumedAt)
		c.mu.Unlock()
		c.emit(EventDurationChanged)
	}
	if c.levelDirty.Swap(false) {
		v := math.Float32frombits(c.pendingLevel.Load())
		c.mu.Lock()
		c.levelVal = v
		c.mu.Unlock()
		c.emit(EventLevelChanged)
	}
	if c.liveDirty.Swap(false) {
		s, _ := c.pendingLive.Load().(string)
		c.mu.Lock()
		c.live = s
		c.mu.Unlock()
		c.emit(EventTranscriptChanged)
	}
}

// stageLevel runs on the audio delivery thread: single writer, no locks.
func (c *Controller) stageLevel(v float32) {
	c.pendingLevel.Store(math.Float32bits(v))
	c.levelDirty.Store(true)
}

// stageTranscript runs on the engine consumer goroutine.
func (c *Controller) stageTranscript(s string) {
	c.pendingLive.Store(s)
	c.liveDirty.Store(true)
}

func (c *Controller) emit(kind EventKind) {
	c.mu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	ev := Event{
		Kind:       kind,
		State:      c.fsm.State(),
		Level:      c.levelVal,
		Transcript: c.live,
		Duration:   c.duration,
		At:         time.Now(),
	}
	c.mu.RUnlock()
	for _, l := range listeners {
		l.OnEvent(ev)
	}
}
