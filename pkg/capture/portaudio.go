package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/harunnryd/voxnote/pkg/frames"
)

// The PortAudio library is a process-wide resource: it must be initialized
// before any stream is opened and terminated when the last user is done.
// Acquire/release are refcounted and idempotent per holder so repeated
// start/stop cycles are safe.
var deviceSession struct {
	mu   sync.Mutex
	refs int
}

func acquireDeviceSession() error {
	deviceSession.mu.Lock()
	defer deviceSession.mu.Unlock()
	if deviceSession.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initializing audio host: %w", err)
		}
	}
	deviceSession.refs++
	return nil
}

func releaseDeviceSession() {
	deviceSession.mu.Lock()
	defer deviceSession.mu.Unlock()
	if deviceSession.refs == 0 {
		return
	}
	deviceSession.refs--
	if deviceSession.refs == 0 {
		_ = portaudio.Terminate()
	}
}

// PortAudioSource captures from the default input device. The device
// callback converts the driver's int16 buffer into a pooled float32 block
// and hands it to the session synchronously.
type PortAudioSource struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	held    bool
	scratch []float32
	pts     int64
}

func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

func (p *PortAudioSource) Open(cfg StreamConfig, fn BlockFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return ErrSourceBusy
	}
	if err := acquireDeviceSession(); err != nil {
		return err
	}
	p.held = true

	format := cfg.Format
	p.scratch = make([]float32, cfg.FramesPerBlock*format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		format.Channels, 0, float64(format.SampleRate), cfg.FramesPerBlock,
		func(in []int16) {
			buf := p.scratch[:len(in)]
			for i, s := range in {
				buf[i] = float32(s) / 32768
			}
			p.pts++
			block := frames.NewBlockFromPool(p.pts, buf, format)
			fn(block)
			frames.ReleaseBlock(block)
		})
	if err != nil {
		p.held = false
		releaseDeviceSession()
		return fmt.Errorf("opening input stream: %w", err)
	}
	p.stream = stream
	return nil
}

func (p *PortAudioSource) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return fmt.Errorf("input stream not open")
	}
	return p.stream.Start()
}

func (p *PortAudioSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	return p.stream.Stop()
}

func (p *PortAudioSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.stream != nil {
		err = p.stream.Close()
		p.stream = nil
	}
	if p.held {
		p.held = false
		releaseDeviceSession()
	}
	return err
}

// Probe checks that a default input device exists without holding it open.
func (p *PortAudioSource) Probe() error {
	if err := acquireDeviceSession(); err != nil {
		return err
	}
	defer releaseDeviceSession()
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("querying default input device: %w", err)
	}
	if dev.MaxInputChannels < 1 {
		return fmt.Errorf("device %q has no input channels", dev.Name)
	}
	return nil
}

var _ Source = (*PortAudioSource)(nil)
