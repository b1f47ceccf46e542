package capture

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/frames"
)

// WAVSink appends capture blocks to a PCM-16 WAV file. The encoder patches
// the header sizes on Close, so the file is only well-formed after the
// session stops; that matches the asset's lifecycle.
type WAVSink struct {
	file   *os.File
	enc    *wav.Encoder
	format frames.Format
	buf    *audio.IntBuffer

	Blocks int64
	Bytes  int64
}

// NewWAVSink creates (or truncates) the capture file at path.
func NewWAVSink(path string, format frames.Format) (*WAVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonFileCreate)
	}
	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
	return &WAVSink{
		file:   f,
		enc:    enc,
		format: format,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// WriteBlock converts float samples to 16-bit PCM and appends them. The
// int buffer is reused across calls to keep the callback allocation-light.
func (s *WAVSink) WriteBlock(block frames.AudioBlock) error {
	samples := block.Samples()
	if cap(s.buf.Data) < len(samples) {
		s.buf.Data = make([]int, len(samples))
	}
	s.buf.Data = s.buf.Data[:len(samples)]
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s.buf.Data[i] = int(v * 32767)
	}
	if err := s.enc.Write(s.buf); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonFileWrite)
	}
	s.Blocks++
	s.Bytes += int64(len(samples) * 2)
	return nil
}

// Close finalizes the WAV header and closes the file.
func (s *WAVSink) Close() error {
	if err := s.enc.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
