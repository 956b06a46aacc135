//go:build !cgo

package device

import (
	"github.com/lexiqai/speech-coach/internal/live"
	"github.com/rs/zerolog"
)

// Backend is unavailable without cgo
type Backend struct{}

// Open always fails without cgo
func Open(logger zerolog.Logger) (*Backend, error) {
	return nil, ErrUnavailable
}

func (b *Backend) Close() error { return nil }

func (b *Backend) OpenMicrophone(sampleRate, frameSamples int, onFrame func([]float32)) (live.Microphone, error) {
	return nil, ErrUnavailable
}

func (b *Backend) OpenSpeaker(sampleRate int) (live.Speaker, error) {
	return nil, ErrUnavailable
}
