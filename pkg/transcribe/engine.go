package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/logging"
	"github.com/harunnryd/voxnote/pkg/metrics"
)

// BackendKind identifies which recognition path a session ended up on.
type BackendKind string

const (
	BackendHighQuality BackendKind = "high_quality"
	BackendFallback    BackendKind = "fallback"
	BackendNone        BackendKind = "none"
)

// Factory builds a recognizer for a session. Keywords are the caller's bias
// vocabulary for this session.
type Factory func(cfg Config) (Recognizer, error)

// EngineOptions wires an Engine. HighQuality and Fallback are both optional;
// a session with neither (or whose selected backend fails to start) records
// audio with transcription idle.
type EngineOptions struct {
	Config      Config
	Catalog     ModelCatalog
	Installer   Installer
	HighQuality Factory
	Fallback    Factory
	Observer    metrics.Observer
	Logger      *slog.Logger
}

// Engine owns one session's recognition stream: backend selection, the
// result-consumption loop, and transcript accumulation. Engines are
// single-use; every capture session constructs a fresh one.
type Engine struct {
	cfg       Config
	catalog   ModelCatalog
	installer Installer
	hq        Factory
	fb        Factory
	obs       metrics.Observer
	logger    *slog.Logger

	rec     Recognizer
	kind    BackendKind
	onLive  func(string)
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	mu        sync.Mutex
	finalized []string
	volatile  string

	installOnce sync.Once
	installWG   sync.WaitGroup
}

func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewComponentLogger(slog.Default(), "transcribe_engine")
	}
	return &Engine{
		cfg:       opts.Config,
		catalog:   opts.Catalog,
		installer: opts.Installer,
		hq:        opts.HighQuality,
		fb:        opts.Fallback,
		obs:       opts.Observer,
		logger:    logger,
		kind:      BackendNone,
		done:      make(chan struct{}),
	}
}

// OnLiveTranscript registers the single consumer of live-transcript updates.
// Must be called before Start; the callback runs on the engine's consumer
// goroutine.
func (e *Engine) OnLiveTranscript(fn func(string)) { e.onLive = fn }

// Backend reports which recognition path was selected.
func (e *Engine) Backend() BackendKind { return e.kind }

// Start resolves the backend, opens its stream, and launches the consumer
// loop. The returned error carries ReasonEngineBringup; callers treat it as
// degradation, not failure. Capture must proceed regardless.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	factory := e.selectBackend(ctx)
	if factory == nil {
		close(e.done)
		return errorsx.Wrap(errNoBackend, errorsx.ReasonEngineBringup)
	}

	rec, err := factory(e.cfg)
	if err != nil {
		e.kind = BackendNone
		close(e.done)
		return errorsx.Wrap(err, errorsx.ReasonEngineBringup)
	}
	if err := rec.Start(ctx); err != nil {
		e.kind = BackendNone
		close(e.done)
		return errorsx.Wrap(err, errorsx.ReasonEngineBringup)
	}
	e.rec = rec

	e.logger.Info("engine_started",
		slog.String("session_id", e.cfg.SessionID),
		slog.String("backend", string(e.kind)),
		slog.String("recognizer", rec.Name()),
		slog.String("locale", e.cfg.Locale),
		slog.Int("keywords", len(e.cfg.Keywords)))

	go e.consume(ctx)
	return nil
}

// selectBackend picks high-quality when its model is installed for the
// locale, otherwise the fallback; when the locale is supported but the model
// is missing, an install is kicked off in the background so a future session
// can upgrade. The install request is issued at most once per engine.
func (e *Engine) selectBackend(ctx context.Context) Factory {
	avail := ModelAvailability{}
	if e.catalog != nil {
		var err error
		avail, err = e.catalog.Availability(e.cfg.Locale)
		if err != nil {
			e.logger.Warn("model_catalog_error",
				slog.String("locale", e.cfg.Locale),
				slog.String("error", err.Error()))
		}
	}

	if avail.Supported && avail.Installed && e.hq != nil {
		e.kind = BackendHighQuality
		return e.hq
	}

	if avail.Supported && !avail.Installed && e.installer != nil {
		e.installOnce.Do(func() {
			e.installWG.Add(1)
			locale := e.cfg.Locale
			go func() {
				defer e.installWG.Done()
				if err := e.installer.Install(ctx, locale); err != nil {
					// Install failures never reach the session's error path.
					e.logger.Warn("model_install_failed",
						slog.String("locale", locale),
						slog.String("error", err.Error()))
				}
			}()
		})
	}

	if e.fb != nil {
		e.kind = BackendFallback
		return e.fb
	}
	return nil
}

// Feed pushes a converted block into the recognizer. A degraded engine
// swallows blocks silently.
func (e *Engine) Feed(block frames.AudioBlock) error {
	if e.rec == nil {
		return nil
	}
	if err := e.rec.Feed(block); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

// Live returns the current live transcript: finalized segments space-joined,
// followed by the volatile tail.
func (e *Engine) Live() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveLocked()
}

func (e *Engine) liveLocked() string {
	parts := e.finalized
	if e.volatile != "" {
		parts = append(append([]string(nil), e.finalized...), e.volatile)
	}
	return strings.Join(parts, " ")
}

// Stop signals end-of-input and waits up to grace for remaining finals to
// flush, then cancels and keeps whatever was finalized. Safe to call more
// than once. Returns the final transcript text.
func (e *Engine) Stop(grace time.Duration) string {
	if !e.stopped {
		e.stopped = true
		if e.rec != nil {
			go func() {
				if err := e.rec.Close(); err != nil {
					e.logger.Warn("recognizer_close_error", slog.String("error", err.Error()))
				}
			}()
			select {
			case <-e.done:
			case <-time.After(grace):
				e.logger.Warn("engine_drain_timeout",
					slog.String("session_id", e.cfg.SessionID),
					slog.Duration("grace", grace))
			}
		}
		if e.cancel != nil {
			e.cancel()
		}
		e.installWG.Wait()
	}
	return e.Live()
}

// consume reads recognizer output until the stream closes or the session is
// cancelled. Accumulation differs by backend on purpose: the high-quality
// path distinguishes partials (replace the volatile tail) from finals
// (append immutably), while the fallback emits cumulative full-transcript
// replacements with no partial/final distinction.
func (e *Engine) consume(ctx context.Context) {
	defer close(e.done)
	results := e.rec.Results()
	for {
		select {
		case u, ok := <-results:
			if !ok {
				return
			}
			e.apply(u)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) apply(u Update) {
	e.mu.Lock()
	switch e.kind {
	case BackendFallback:
		e.finalized = e.finalized[:0]
		e.volatile = u.Text
	default:
		if u.Final {
			if u.Text != "" {
				e.finalized = append(e.finalized, u.Text)
			}
			e.volatile = ""
		} else {
			e.volatile = u.Text
		}
	}
	live := e.liveLocked()
	e.mu.Unlock()

	metrics.Count(e.obs, "transcript_update", 1, map[string]string{
		"session_id": e.cfg.SessionID,
		"backend":    string(e.kind),
	})
	if e.onLive != nil {
		e.onLive(live)
	}
}

var errNoBackend = errors.New("no recognition backend available")
