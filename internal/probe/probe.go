// Package probe measures the length of uploaded recordings
package probe

import (
	"bytes"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
	"github.com/rs/zerolog"
)

type container int

const (
	unknown container = iota
	wave
	mpeg
)

// Prober reads container headers to find a recording's duration. It
// satisfies analysis.DurationProber.
type Prober struct {
	logger zerolog.Logger
}

// New creates a Prober
func New(logger zerolog.Logger) *Prober {
	return &Prober{logger: logger.With().Str("component", "probe").Logger()}
}

// Duration returns the recording length in seconds, or 0 when the format is
// unsupported or the data cannot be decoded.
func (p *Prober) Duration(data []byte, mimeType string) float64 {
	kind := detect(data, mimeType)

	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch kind {
	case wave:
		stream, format, err = wav.Decode(bytes.NewReader(data))
	case mpeg:
		stream, format, err = mp3.Decode(readSeekCloser{bytes.NewReader(data)})
	default:
		p.logger.Debug().Str("mime_type", mimeType).Msg("Unsupported container, duration unknown")
		return 0
	}
	if err != nil {
		p.logger.Debug().Err(err).Str("mime_type", mimeType).Msg("Failed to decode audio header")
		return 0
	}
	defer stream.Close()

	n := stream.Len()
	if n <= 0 || format.SampleRate <= 0 {
		return 0
	}
	return format.SampleRate.D(n).Seconds()
}

// detect trusts a specific MIME type and sniffs magic bytes otherwise
func detect(data []byte, mimeType string) container {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "wav"):
		return wave
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return mpeg
	}

	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return wave
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return mpeg
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return mpeg
	}
	return unknown
}

// readSeekCloser lets the mp3 decoder seek to compute the stream length
type readSeekCloser struct {
	*bytes.Reader
}

func (readSeekCloser) Close() error { return nil }
