package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harunnryd/voxnote/pkg/capture"
	"github.com/harunnryd/voxnote/pkg/frames"
	"github.com/harunnryd/voxnote/pkg/logging"
	"github.com/harunnryd/voxnote/pkg/runner"
	"github.com/harunnryd/voxnote/pkg/session"
	"github.com/harunnryd/voxnote/pkg/voxnote"
)

type recorderDrainer struct {
	rec *voxnote.Recorder
}

func (d *recorderDrainer) Drain() error {
	if res := d.rec.StopRecording(); res != nil {
		fmt.Printf("\nsaved %s (%s)\n", res.Asset.Path, res.Duration.Round(time.Millisecond))
		if res.Transcript != "" {
			fmt.Printf("transcript: %s\n", res.Transcript)
		}
	}
	d.rec.Close()
	return nil
}

// levelBar renders a coarse RMS meter for the terminal.
func levelBar(v float32) string {
	const width = 30
	n := int(v * width)
	if n > width {
		n = width
	}
	return strings.Repeat("#", n) + strings.Repeat("-", width-n)
}

func main() {
	configPath := flag.String("config", "", "path to config file; defaults apply when empty")
	keywordsArg := flag.String("keywords", "", "comma-separated bias vocabulary")
	synthetic := flag.Bool("synthetic", false, "use a generated tone instead of the microphone")
	flag.Parse()

	cfg := voxnote.DefaultConfig()
	if *configPath != "" {
		loaded, err := voxnote.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	var keywords []string
	for _, k := range strings.Split(*keywordsArg, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	opts := []voxnote.Option{voxnote.WithLogger(logger)}
	if *synthetic {
		opts = append(opts, voxnote.WithSourceFactory(syntheticSource(cfg.Capture.Format())))
	}

	rec, err := voxnote.New(cfg, opts...)
	if err != nil {
		logger.Error("recorder_init_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rec.AddListener(session.ListenerFunc(func(ev session.Event) {
		switch ev.Kind {
		case session.EventStateChanged:
			fmt.Printf("\rstate: %-10s\n", ev.State)
		case session.EventLevelChanged:
			fmt.Printf("\r[%s] %s", levelBar(ev.Level), ev.Duration.Round(time.Second))
		case session.EventTranscriptChanged:
			if ev.Transcript != "" {
				fmt.Printf("\r%-70s\n", ev.Transcript)
			}
		}
	}))

	lc := runner.NewLifecycleRunner(&recorderDrainer{rec: rec}, runner.Hooks{
		OnStart: func() {
			if err := rec.StartRecording(context.Background(), keywords); err != nil {
				logger.Error("start_failed", slog.String("error", err.Error()))
				os.Exit(1)
			}
			fmt.Println("recording; press Ctrl-C to stop")
		},
	}, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := lc.Run(ctx); err != nil {
		logger.Error("shutdown_error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// syntheticSource produces a looping 440 Hz tone for demos without hardware.
func syntheticSource(format frames.Format) func() capture.Source {
	return func() capture.Source {
		const framesPerBlock = 1024
		blocks := make([]frames.AudioBlock, 2000)
		gen := frames.NewPTSGen()
		phase := 0.0
		step := 2 * math.Pi * 440 / float64(format.SampleRate)
		for i := range blocks {
			samples := make([]float32, framesPerBlock*format.Channels)
			for f := 0; f < framesPerBlock; f++ {
				v := float32(0.4 * math.Sin(phase))
				phase += step
				for ch := 0; ch < format.Channels; ch++ {
					samples[f*format.Channels+ch] = v
				}
			}
			blocks[i] = frames.NewBlock(gen.Next("synthetic"), samples, format)
		}
		return &capture.SyntheticSource{Interval: 20 * time.Millisecond, Blocks: blocks}
	}
}
