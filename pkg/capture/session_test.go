package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/voxnote/pkg/convert"
	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/level"
)

func syntheticBlocks(n, frameCount int, format frames.Format) []frames.AudioBlock {
	out := make([]frames.AudioBlock, n)
	for i := range out {
		out[i] = sineBlock(int64(i+1), frameCount, format)
	}
	return out
}

func TestSessionCaptureToFile(t *testing.T) {
	format := frames.Format{SampleRate: 16000, Channels: 1}
	src := &SyntheticSource{
		Interval: time.Millisecond,
		Blocks:   syntheticBlocks(50, 1024, format),
	}
	var levels []float32
	sess := NewSession(SessionConfig{
		SessionID: "test",
		Path:      filepath.Join(t.TempDir(), "note.wav"),
		Format:    format,
		Source:    src,
		Converter: convert.NewConverter(),
		Meter:     level.NewMeter(level.WithMinInterval(0)),
		OnLevel:   func(v float32) { levels = append(levels, v) },
	})

	asset, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if asset == nil {
		t.Fatalf("start returned nil asset")
	}

	deadline := time.After(2 * time.Second)
	for src.Delivered() < 50 {
		select {
		case <-deadline:
			t.Fatalf("delivered %d/50 blocks before timeout", src.Delivered())
		case <-time.After(5 * time.Millisecond):
		}
	}

	got := sess.Stop()
	if got == nil || got.ID != asset.ID {
		t.Fatalf("stop returned %v, want asset %v", got, asset.ID)
	}
	if _, err := os.Stat(got.Path); err != nil {
		t.Fatalf("capture file missing: %v", err)
	}
	if len(levels) == 0 {
		t.Fatalf("no level values published")
	}
	// Stop stays idempotent and keeps returning the same asset.
	if again := sess.Stop(); again == nil || again.ID != asset.ID {
		t.Fatalf("second stop returned %v", again)
	}
}

func TestSessionStopWithoutStart(t *testing.T) {
	sess := NewSession(SessionConfig{
		SessionID: "test",
		Path:      filepath.Join(t.TempDir(), "note.wav"),
		Format:    frames.Format{SampleRate: 16000, Channels: 1},
		Source:    &SyntheticSource{},
	})
	if asset := sess.Stop(); asset != nil {
		t.Fatalf("stop without start returned asset %v", asset)
	}
}

func TestSessionStartFileCreateFailure(t *testing.T) {
	sess := NewSession(SessionConfig{
		SessionID: "test",
		Path:      filepath.Join(t.TempDir(), "missing", "note.wav"),
		Format:    frames.Format{SampleRate: 16000, Channels: 1},
		Source:    &SyntheticSource{Blocks: nil},
	})
	_, err := sess.Start(context.Background())
	if err == nil {
		t.Fatalf("expected file creation failure")
	}
	if !errorsx.HasReason(err, errorsx.ReasonFileCreate) {
		t.Fatalf("reason = %s, want file_create", errorsx.Reason(err))
	}
	if asset := sess.Stop(); asset != nil {
		t.Fatalf("failed start must not yield an asset")
	}
}

func TestSessionPauseSuspendsDelivery(t *testing.T) {
	format := frames.Format{SampleRate: 16000, Channels: 1}
	src := &SyntheticSource{
		Interval: time.Millisecond,
		Blocks:   syntheticBlocks(1000, 256, format),
	}
	sess := NewSession(SessionConfig{
		SessionID: "test",
		Path:      filepath.Join(t.TempDir(), "note.wav"),
		Format:    format,
		Source:    src,
	})
	if _, err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.After(time.Second)
	for src.Delivered() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no blocks delivered")
		case <-time.After(time.Millisecond):
		}
	}
	if err := sess.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	before := src.Delivered()
	time.Sleep(20 * time.Millisecond)
	if after := src.Delivered(); after != before {
		t.Fatalf("blocks delivered while paused: %d -> %d", before, after)
	}
	if err := sess.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	deadline = time.After(time.Second)
	for src.Delivered() == before {
		select {
		case <-deadline:
			t.Fatalf("delivery did not resume")
		case <-time.After(time.Millisecond):
		}
	}
	sess.Stop()
}

func TestDeviceAuthorizer(t *testing.T) {
	ok, err := DeviceAuthorizer(&SyntheticSource{}).Authorized(context.Background())
	if err != nil || !ok {
		t.Fatalf("probe-backed authorizer: ok=%v err=%v", ok, err)
	}
	denied := AuthorizerFunc(func(context.Context) (bool, error) {
		return false, errors.New("denied")
	})
	if ok, _ := denied.Authorized(context.Background()); ok {
		t.Fatalf("denied authorizer reported ok")
	}
}
