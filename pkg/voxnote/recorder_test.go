package voxnote

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/voxnote/pkg/capture"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/metrics"
)

func testRecorderConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Capture.Dir = t.TempDir()
	cfg.Capture.SampleRate = 16000
	cfg.Transcription.Models.Dir = filepath.Join(t.TempDir(), "models")
	cfg.Recognizers.HighQuality = RecognizerConfig{}
	cfg.Recognizers.Fallback = RecognizerConfig{
		Provider: "mock",
		Settings: map[string]any{"script": []any{"team sync notes"}},
	}
	return cfg
}

func syntheticFactory(format frames.Format) func() capture.Source {
	blocks := make([]frames.AudioBlock, 200)
	gen := frames.NewPTSGen()
	for i := range blocks {
		samples := make([]float32, 320)
		for j := range samples {
			samples[j] = 0.3 * float32(math.Sin(2*math.Pi*220*float64(j)/float64(format.SampleRate)))
		}
		blocks[i] = frames.NewBlock(gen.Next("tone"), samples, format)
	}
	return func() capture.Source {
		return &capture.SyntheticSource{Interval: 2 * time.Millisecond, Blocks: blocks}
	}
}

func TestRecorderEndToEnd(t *testing.T) {
	cfg := testRecorderConfig(t)
	mem := metrics.NewMemoryObserver()
	rec, err := New(cfg,
		WithSourceFactory(syntheticFactory(cfg.Capture.Format())),
		WithObserver(mem),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rec.Close()

	if err := rec.StartRecording(context.Background(), []string{"sync"}); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !rec.IsRecording() {
		t.Fatal("recorder not recording")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rec.LiveTranscript() == "" {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.LiveTranscript() != "team sync notes" {
		t.Fatalf("live transcript = %q", rec.LiveTranscript())
	}

	rec.PauseRecording()
	if !rec.IsPaused() {
		t.Fatal("recorder not paused")
	}
	rec.ResumeRecording()
	if !rec.IsRecording() {
		t.Fatal("recorder not recording after resume")
	}

	res := rec.StopRecording()
	if res == nil || res.Asset == nil {
		t.Fatal("StopRecording returned no asset")
	}
	if res.Asset.Path != cfg.Capture.Path() {
		t.Fatalf("asset path = %q, want %q", res.Asset.Path, cfg.Capture.Path())
	}
	if _, err := os.Stat(res.Asset.Path); err != nil {
		t.Fatalf("capture file: %v", err)
	}
	if res.Transcript != "team sync notes" {
		t.Fatalf("transcript = %q", res.Transcript)
	}
	if len(mem.Events()) == 0 {
		t.Fatal("no metrics recorded")
	}
}

func TestRecorderReusesCapturePath(t *testing.T) {
	cfg := testRecorderConfig(t)
	rec, err := New(cfg, WithSourceFactory(syntheticFactory(cfg.Capture.Format())))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rec.Close()

	for i := 0; i < 2; i++ {
		if err := rec.StartRecording(context.Background(), nil); err != nil {
			t.Fatalf("StartRecording #%d: %v", i+1, err)
		}
		time.Sleep(50 * time.Millisecond)
		res := rec.StopRecording()
		if res == nil || res.Asset == nil {
			t.Fatalf("StopRecording #%d returned no asset", i+1)
		}
		if res.Asset.Path != cfg.Capture.Path() {
			t.Fatalf("recording #%d wrote to %q", i+1, res.Asset.Path)
		}
	}
}

func TestRecorderRedactsTranscripts(t *testing.T) {
	cfg := testRecorderConfig(t)
	cfg.Privacy.RedactPII = true
	cfg.Recognizers.Fallback.Settings = map[string]any{
		"script": []any{"call me at +62 812 3456 7890 ok"},
	}
	rec, err := New(cfg, WithSourceFactory(syntheticFactory(cfg.Capture.Format())))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rec.Close()

	if err := rec.StartRecording(context.Background(), nil); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rec.LiveTranscript() == "" {
		time.Sleep(5 * time.Millisecond)
	}
	res := rec.StopRecording()
	if res == nil {
		t.Fatal("StopRecording returned nil")
	}
	if res.Transcript != "call me at [REDACTED_PHONE] ok" {
		t.Fatalf("transcript = %q", res.Transcript)
	}
}

func TestRecorderDeniedByAuthorizer(t *testing.T) {
	cfg := testRecorderConfig(t)
	rec, err := New(cfg,
		WithSourceFactory(syntheticFactory(cfg.Capture.Format())),
		WithAuthorizer(capture.AuthorizerFunc(func(ctx context.Context) (bool, error) {
			return false, nil
		})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rec.Close()

	if err := rec.StartRecording(context.Background(), nil); err == nil {
		t.Fatal("StartRecording succeeded without authorization")
	}
}
