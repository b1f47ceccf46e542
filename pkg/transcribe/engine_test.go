package transcribe_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/providers/mock"
	"github.com/harunnryd/voxnote/pkg/transcribe"
)

type staticCatalog struct {
	avail transcribe.ModelAvailability
}

func (c staticCatalog) Availability(string) (transcribe.ModelAvailability, error) {
	return c.avail, nil
}

type countingInstaller struct {
	mu    sync.Mutex
	calls int
}

func (i *countingInstaller) Install(context.Context, string) error {
	i.mu.Lock()
	i.calls++
	i.mu.Unlock()
	return nil
}

func (i *countingInstaller) Calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

func testBlock() frames.AudioBlock {
	return frames.NewBlock(1, make([]float32, 1024), frames.Format{SampleRate: 16000, Channels: 1})
}

func factoryFor(rec *mock.Recognizer) transcribe.Factory {
	return func(transcribe.Config) (transcribe.Recognizer, error) { return rec, nil }
}

func waitLive(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for live transcript %q", want)
		}
	}
}

func TestEngineSelectsHighQualityWhenInstalled(t *testing.T) {
	hq := mock.NewRecognizer(mock.STTConfig{Script: []transcribe.Update{
		{Text: "hello", Final: false},
		{Text: "hello world", Final: true},
		{Text: "and", Final: false},
	}})
	installer := &countingInstaller{}
	eng := transcribe.NewEngine(transcribe.EngineOptions{
		Config:      transcribe.Config{SessionID: "s1", Locale: "en-US"},
		Catalog:     staticCatalog{transcribe.ModelAvailability{Supported: true, Installed: true}},
		Installer:   installer,
		HighQuality: factoryFor(hq),
		Fallback:    factoryFor(mock.NewRecognizer(mock.STTConfig{})),
	})
	lives := make(chan string, 16)
	eng.OnLiveTranscript(func(s string) { lives <- s })
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if eng.Backend() != transcribe.BackendHighQuality {
		t.Fatalf("backend = %s, want high_quality", eng.Backend())
	}
	if err := eng.Feed(testBlock()); err != nil {
		t.Fatalf("feed: %v", err)
	}
	// Finals append immutably; the trailing partial replaces only the tail.
	waitLive(t, lives, "hello world and")
	if installer.Calls() != 0 {
		t.Fatalf("install requested despite model being installed")
	}
	if got := eng.Stop(time.Second); got != "hello world and" {
		t.Fatalf("final transcript = %q", got)
	}
}

func TestEngineFallbackWhenNotInstalled(t *testing.T) {
	fb := mock.NewRecognizer(mock.STTConfig{Script: []transcribe.Update{
		{Text: "dear diary"},
		{Text: "dear diary today was"},
	}})
	installer := &countingInstaller{}
	eng := transcribe.NewEngine(transcribe.EngineOptions{
		Config:      transcribe.Config{SessionID: "s2", Locale: "en-US"},
		Catalog:     staticCatalog{transcribe.ModelAvailability{Supported: true, Installed: false}},
		Installer:   installer,
		HighQuality: factoryFor(mock.NewRecognizer(mock.STTConfig{})),
		Fallback:    factoryFor(fb),
	})
	lives := make(chan string, 16)
	eng.OnLiveTranscript(func(s string) { lives <- s })
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if eng.Backend() != transcribe.BackendFallback {
		t.Fatalf("backend = %s, want fallback", eng.Backend())
	}
	for i := 0; i < 5; i++ {
		if err := eng.Feed(testBlock()); err != nil {
			t.Fatalf("feed %d: %v", i, err)
		}
	}
	// Every fallback update replaces the whole live transcript.
	waitLive(t, lives, "dear diary today was")
	eng.Stop(time.Second)
	// One install request per start, regardless of how many blocks flowed.
	if got := installer.Calls(); got != 1 {
		t.Fatalf("install calls = %d, want 1", got)
	}
}

func TestEngineUnsupportedLocaleSkipsInstall(t *testing.T) {
	installer := &countingInstaller{}
	eng := transcribe.NewEngine(transcribe.EngineOptions{
		Config:      transcribe.Config{SessionID: "s3", Locale: "xx"},
		Catalog:     staticCatalog{transcribe.ModelAvailability{}},
		Installer:   installer,
		HighQuality: factoryFor(mock.NewRecognizer(mock.STTConfig{})),
		Fallback:    factoryFor(mock.NewRecognizer(mock.STTConfig{})),
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if eng.Backend() != transcribe.BackendFallback {
		t.Fatalf("backend = %s, want fallback", eng.Backend())
	}
	eng.Stop(time.Second)
	if installer.Calls() != 0 {
		t.Fatalf("install requested for unsupported locale")
	}
}

func TestEngineBringupFailureLeavesEngineIdle(t *testing.T) {
	eng := transcribe.NewEngine(transcribe.EngineOptions{
		Config:   transcribe.Config{SessionID: "s4", Locale: "en"},
		Catalog:  staticCatalog{transcribe.ModelAvailability{}},
		Fallback: factoryFor(mock.NewRecognizer(mock.STTConfig{FailStart: true})),
	})
	err := eng.Start(context.Background())
	if err == nil {
		t.Fatalf("expected bring-up error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonEngineBringup) {
		t.Fatalf("reason = %s, want engine_bringup", errorsx.Reason(err))
	}
	// A degraded engine swallows blocks and yields an empty transcript.
	if err := eng.Feed(testBlock()); err != nil {
		t.Fatalf("feed on idle engine: %v", err)
	}
	if got := eng.Stop(time.Second); got != "" {
		t.Fatalf("transcript = %q, want empty", got)
	}
}

func TestEngineStopFlushesPendingFinals(t *testing.T) {
	hq := mock.NewRecognizer(mock.STTConfig{
		Script:       []transcribe.Update{{Text: "first part", Final: true}},
		FlushOnClose: []transcribe.Update{{Text: "last words", Final: true}},
	})
	eng := transcribe.NewEngine(transcribe.EngineOptions{
		Config:      transcribe.Config{SessionID: "s5", Locale: "en"},
		Catalog:     staticCatalog{transcribe.ModelAvailability{Supported: true, Installed: true}},
		HighQuality: factoryFor(hq),
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.Feed(testBlock()); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if got := eng.Stop(2 * time.Second); got != "first part last words" {
		t.Fatalf("final transcript = %q, want finals flushed during grace", got)
	}
}
