package capture

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/voxnote/pkg/convert"
	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/level"
	"github.com/harunnryd/voxnote/pkg/logging"
	"github.com/harunnryd/voxnote/pkg/metrics"
	"github.com/harunnryd/voxnote/pkg/transcribe"
)

// RecordingAsset references one session's durable capture file. Exactly one
// asset exists per session; it is handed to the caller on stop.
type RecordingAsset struct {
	ID        uuid.UUID
	Path      string
	Format    frames.Format
	StartedAt time.Time
}

// SessionConfig wires one capture session. Engine may be nil, in which case
// audio is recorded with transcription idle.
type SessionConfig struct {
	SessionID      string
	Path           string
	Format         frames.Format
	FramesPerBlock int

	Source       Source
	Converter    *convert.Converter
	Engine       *transcribe.Engine
	EngineFormat frames.Format
	Meter        *level.Meter

	// OnLevel receives throttled loudness values on the delivery thread.
	OnLevel func(float32)

	Observer metrics.Observer
	Logger   *slog.Logger
}

// Session owns the device stream and the per-block fan-out: durable file
// write first, then format conversion + engine feed, then level
// measurement, synchronously per block.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	sink    *WAVSink
	asset   *RecordingAsset
	started bool
	stopped bool
	active  atomic.Bool

	writeErrs   atomic.Int64
	convertErrs atomic.Int64
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewComponentLogger(slog.Default(), "capture_session")
	}
	if cfg.FramesPerBlock <= 0 {
		cfg.FramesPerBlock = 1024
	}
	return &Session{cfg: cfg, logger: logger}
}

// Start opens the device stream and the capture file, installs the block
// callback, and begins delivery. Fatal errors carry a reason code
// (device_session, file_create) and leave nothing held.
func (s *Session) Start(ctx context.Context) (*RecordingAsset, error) {
	if err := s.cfg.Source.Open(StreamConfig{
		Format:         s.cfg.Format,
		FramesPerBlock: s.cfg.FramesPerBlock,
	}, s.handleBlock); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonDeviceSession)
	}

	sink, err := NewWAVSink(s.cfg.Path, s.cfg.Format)
	if err != nil {
		_ = s.cfg.Source.Close()
		return nil, err
	}
	s.sink = sink

	if err := s.cfg.Source.Start(); err != nil {
		_ = s.sink.Close()
		_ = s.cfg.Source.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonDeviceSession)
	}

	s.asset = &RecordingAsset{
		ID:        uuid.New(),
		Path:      s.cfg.Path,
		Format:    s.cfg.Format,
		StartedAt: time.Now(),
	}
	s.started = true
	s.active.Store(true)

	s.logger.Info("capture_started",
		slog.String("session_id", s.cfg.SessionID),
		slog.String("asset_id", s.asset.ID.String()),
		slog.String("path", s.cfg.Path),
		slog.String("format", s.cfg.Format.String()))
	return s.asset, nil
}

// Pause suspends block delivery. The file handle, converter, and engine
// stay intact; audio is simply not produced while paused.
func (s *Session) Pause() error {
	if !s.started || s.stopped {
		return nil
	}
	return s.cfg.Source.Stop()
}

// Resume restarts block delivery after a pause.
func (s *Session) Resume() error {
	if !s.started || s.stopped {
		return nil
	}
	return s.cfg.Source.Start()
}

// Stop halts the stream, closes the file, and returns the asset if capture
// had started. Idempotent; a stop without a successful start returns nil.
func (s *Session) Stop() *RecordingAsset {
	if s.stopped {
		if s.started {
			return s.asset
		}
		return nil
	}
	s.stopped = true
	s.active.Store(false)

	if err := s.cfg.Source.Stop(); err != nil {
		s.logger.Warn("source_stop_error", slog.String("error", err.Error()))
	}
	if err := s.cfg.Source.Close(); err != nil {
		s.logger.Warn("source_close_error", slog.String("error", err.Error()))
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("sink_close_error",
				slog.String("session_id", s.cfg.SessionID),
				slog.String("error", err.Error()))
		}
		metrics.Count(s.cfg.Observer, "capture_blocks_written", float64(s.sink.Blocks),
			map[string]string{"session_id": s.cfg.SessionID})
		metrics.Count(s.cfg.Observer, "capture_bytes_written", float64(s.sink.Bytes),
			map[string]string{"session_id": s.cfg.SessionID})
	}

	if !s.started {
		return nil
	}
	s.logger.Info("capture_stopped",
		slog.String("session_id", s.cfg.SessionID),
		slog.String("asset_id", s.asset.ID.String()),
		slog.Int64("blocks", s.sink.Blocks),
		slog.Int64("write_errors", s.writeErrs.Load()),
		slog.Int64("convert_drops", s.convertErrs.Load()))
	return s.asset
}

// handleBlock runs on the source's delivery thread. Order matters: the
// durable write happens before anything that can fail for other reasons.
// Per-block failures are logged and counted, never propagated: one bad
// block must not abort an otherwise healthy session.
func (s *Session) handleBlock(block frames.AudioBlock) {
	if !s.active.Load() {
		return
	}

	if err := s.sink.WriteBlock(block); err != nil {
		// Losing the durable backup for one block is less severe than
		// losing the live transcript, so capture continues.
		s.writeErrs.Add(1)
		s.logger.Warn("block_write_failed",
			slog.String("session_id", s.cfg.SessionID),
			slog.String("error", err.Error()))
		metrics.Count(s.cfg.Observer, "capture_write_error", 1,
			map[string]string{"session_id": s.cfg.SessionID})
	}

	if s.cfg.Engine != nil {
		converted, err := s.cfg.Converter.Convert(block, s.cfg.EngineFormat)
		if err != nil {
			s.convertErrs.Add(1)
			metrics.Count(s.cfg.Observer, "capture_convert_drop", 1,
				map[string]string{"session_id": s.cfg.SessionID})
		} else if err := s.cfg.Engine.Feed(converted); err != nil {
			s.logger.Debug("engine_feed_error",
				slog.String("session_id", s.cfg.SessionID),
				slog.String("error", err.Error()))
		}
	}

	if s.cfg.Meter != nil {
		if v, ok := s.cfg.Meter.Measure(block); ok && s.cfg.OnLevel != nil {
			s.cfg.OnLevel(v)
		}
	}
}
