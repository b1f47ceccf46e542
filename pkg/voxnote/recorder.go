// Package voxnote assembles the recording pipeline behind one facade: config,
// provider registry, observability, and the session controller.
package voxnote

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/harunnryd/voxnote/pkg/capture"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/logging"
	"github.com/harunnryd/voxnote/pkg/metrics"
	"github.com/harunnryd/voxnote/pkg/redact"
	"github.com/harunnryd/voxnote/pkg/session"
	"github.com/harunnryd/voxnote/pkg/transcribe"
)

// Recorder is the embedder-facing surface. One Recorder owns one controller;
// recordings run one at a time.
type Recorder struct {
	cfg      Config
	logger   *slog.Logger
	registry *ProviderRegistry
	ctrl     *session.Controller

	hq       transcribe.Factory
	fb       transcribe.Factory
	redactor *redact.Redactor

	async *metrics.AsyncObserver
	sink  *os.File
}

type Option func(*recorderOptions)

type recorderOptions struct {
	registry      *ProviderRegistry
	sourceFactory func() capture.Source
	authorizer    capture.Authorizer
	interruptions <-chan session.Interruption
	observer      metrics.Observer
	logger        *slog.Logger
}

// WithRegistry substitutes the provider registry.
func WithRegistry(r *ProviderRegistry) Option {
	return func(o *recorderOptions) { o.registry = r }
}

// WithSourceFactory substitutes the device source, e.g. a SyntheticSource.
func WithSourceFactory(fn func() capture.Source) Option {
	return func(o *recorderOptions) { o.sourceFactory = fn }
}

func WithAuthorizer(a capture.Authorizer) Option {
	return func(o *recorderOptions) { o.authorizer = a }
}

func WithInterruptions(ch <-chan session.Interruption) Option {
	return func(o *recorderOptions) { o.interruptions = ch }
}

func WithObserver(obs metrics.Observer) Option {
	return func(o *recorderOptions) { o.observer = obs }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *recorderOptions) { o.logger = l }
}

func New(cfg Config, opts ...Option) (*Recorder, error) {
	var o recorderOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := logging.NewComponentLogger(o.logger, "recorder")

	r := &Recorder{
		cfg:      cfg,
		logger:   logger,
		registry: o.registry,
		redactor: redact.New(cfg.Privacy.RedactPII),
	}

	// The high-quality path is an upgrade, never a requirement. A missing or
	// misconfigured provider degrades to fallback-only operation.
	if cfg.Recognizers.HighQuality.Provider != "" {
		hq, err := o.registry.Build(cfg.Recognizers.HighQuality.Provider, cfg, cfg.Recognizers.HighQuality.Settings)
		if err != nil {
			logger.Warn("high_quality_recognizer_unavailable",
				slog.String("provider", cfg.Recognizers.HighQuality.Provider),
				slog.String("error", err.Error()))
		} else {
			r.hq = hq
		}
	}
	fb, err := o.registry.Build(cfg.Recognizers.Fallback.Provider, cfg, cfg.Recognizers.Fallback.Settings)
	if err != nil {
		return nil, fmt.Errorf("fallback recognizer: %w", err)
	}
	r.fb = fb

	observer, err := r.buildObserver(o.observer)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Capture.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture dir: %w", err)
	}

	catalog := transcribe.NewFileCatalog(cfg.Transcription.Models.Dir, cfg.Transcription.Models.Locales)
	installer := transcribe.NewHTTPInstaller(cfg.Transcription.Models.BaseURL, cfg.Transcription.Models.Dir, nil)

	sourceFactory := o.sourceFactory
	if sourceFactory == nil {
		sourceFactory = func() capture.Source { return capture.NewPortAudioSource() }
	}
	authorizer := o.authorizer
	if authorizer == nil {
		authorizer = capture.DeviceAuthorizer(sourceFactory())
	}

	r.ctrl = session.NewController(session.Config{
		Path:           cfg.Capture.Path(),
		Format:         cfg.Capture.Format(),
		EngineFormat:   cfg.Transcription.Format(),
		FramesPerBlock: cfg.Capture.FramesPerBlock,
		NewSource:      sourceFactory,
		NewEngine: func(sessionID string, keywords []string) *transcribe.Engine {
			return transcribe.NewEngine(transcribe.EngineOptions{
				Config: transcribe.Config{
					SessionID:  sessionID,
					Locale:     cfg.Transcription.Locale,
					Keywords:   keywords,
					SampleRate: cfg.Transcription.SampleRate,
				},
				Catalog:     catalog,
				Installer:   installer,
				HighQuality: r.hq,
				Fallback:    r.fb,
				Observer:    observer,
				Logger:      logging.NewComponentLogger(o.logger, "transcribe_engine"),
			})
		},
		Authorizer:    authorizer,
		Interruptions: o.interruptions,
		Observer:      observer,
		Logger:        logging.NewComponentLogger(o.logger, "session_controller"),
	})
	return r, nil
}

// buildObserver layers the metrics stack: an explicit observer wins;
// otherwise a sampled JSONL file in the artifacts dir mirrored to debug
// logs; otherwise debug logs alone.
func (r *Recorder) buildObserver(explicit metrics.Observer) (metrics.Observer, error) {
	if explicit != nil {
		return explicit, nil
	}
	if dir := r.cfg.Observability.ArtifactsDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("artifacts dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "metrics.jsonl"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("metrics file: %w", err)
		}
		r.sink = f
		var inner metrics.Observer = metrics.NewJSONLObserver(f)
		if rate := r.cfg.Observability.MetricsSampleRate; rate > 0 && rate < 1 {
			inner = metrics.NewSamplingObserver(inner, rate)
		}
		r.async = metrics.NewAsyncObserver(inner, 1024)
		return metrics.NewMultiObserver(
			r.async,
			metrics.NewLoggerObserver(logging.NewComponentLogger(r.logger, "metrics")),
		), nil
	}
	return metrics.NewLoggerObserver(logging.NewComponentLogger(r.logger, "metrics")), nil
}

// StartRecording begins a session with optional bias keywords.
func (r *Recorder) StartRecording(ctx context.Context, keywords []string) error {
	return r.ctrl.Start(ctx, keywords)
}

func (r *Recorder) PauseRecording()  { r.ctrl.Pause() }
func (r *Recorder) ResumeRecording() { r.ctrl.Resume() }

// StopRecording finishes the session. Returns nil when nothing was active.
func (r *Recorder) StopRecording() *session.Result {
	res := r.ctrl.Stop()
	if res != nil {
		res.Transcript = r.redactor.Text(res.Transcript)
	}
	return res
}

// AddListener subscribes to controller events. Transcripts pass through the
// redactor before reaching the listener.
func (r *Recorder) AddListener(l session.Listener) {
	r.ctrl.AddListener(session.ListenerFunc(func(ev session.Event) {
		ev.Transcript = r.redactor.Text(ev.Transcript)
		l.OnEvent(ev)
	}))
}

func (r *Recorder) IsRecording() bool            { return r.ctrl.IsRecording() }
func (r *Recorder) IsPaused() bool               { return r.ctrl.IsPaused() }
func (r *Recorder) Duration() time.Duration      { return r.ctrl.Duration() }
func (r *Recorder) AudioLevel() float32          { return r.ctrl.AudioLevel() }
func (r *Recorder) LiveTranscript() string       { return r.redactor.Text(r.ctrl.LiveTranscript()) }
func (r *Recorder) CaptureFormat() frames.Format { return r.cfg.Capture.Format() }

// Close stops any active session and releases the metrics pipeline.
func (r *Recorder) Close() {
	r.ctrl.Close()
	if r.async != nil {
		r.async.Close()
	}
	if r.sink != nil {
		_ = r.sink.Close()
	}
}
