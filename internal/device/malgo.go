//go:build cgo

package device

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lexiqai/speech-coach/internal/audio"
	"github.com/lexiqai/speech-coach/internal/live"
	"github.com/rs/zerolog"
)

// Backend opens the default capture and playback devices. It implements
// live.Devices; each endpoint can be open once at a time.
type Backend struct {
	ctx    *malgo.AllocatedContext
	logger zerolog.Logger

	mu          sync.Mutex
	micOpen     bool
	speakerOpen bool
}

// Open initializes the audio context
func Open(logger zerolog.Logger) (*Backend, error) {
	logger = logger.With().Str("component", "device").Logger()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug().Str("source", "miniaudio").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &Backend{ctx: ctx, logger: logger}, nil
}

// Close releases the audio context. Open endpoints must be closed first.
func (b *Backend) Close() error {
	if err := b.ctx.Uninit(); err != nil {
		return err
	}
	b.ctx.Free()
	return nil
}

func (b *Backend) acquire(flag *bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if *flag {
		return live.ErrDeviceBusy
	}
	*flag = true
	return nil
}

func (b *Backend) release(flag *bool) {
	b.mu.Lock()
	*flag = false
	b.mu.Unlock()
}

// OpenMicrophone implements live.Devices
func (b *Backend) OpenMicrophone(sampleRate, frameSamples int, onFrame func([]float32)) (live.Microphone, error) {
	if err := b.acquire(&b.micOpen); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	framer := audio.NewFramer(frameSamples, 1)
	dev, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if err := framer.Push(input, onFrame); err != nil {
				framer.Reset()
			}
		},
	})
	if err != nil {
		b.release(&b.micOpen)
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		b.release(&b.micOpen)
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	b.logger.Debug().Int("sample_rate", sampleRate).Int("frame_samples", frameSamples).Msg("Microphone open")
	return &microphone{backend: b, dev: dev}, nil
}

// OpenSpeaker implements live.Devices
func (b *Backend) OpenSpeaker(sampleRate int) (live.Speaker, error) {
	if err := b.acquire(&b.speakerOpen); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)

	mix := newMixer(sampleRate)
	dev, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			mix.render(output)
		},
	})
	if err != nil {
		b.release(&b.speakerOpen)
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		b.release(&b.speakerOpen)
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	b.logger.Debug().Int("sample_rate", sampleRate).Msg("Speaker open")
	return &speaker{backend: b, dev: dev, mixer: mix}, nil
}

type microphone struct {
	backend *Backend
	dev     *malgo.Device
	once    sync.Once
}

func (m *microphone) Close() error {
	m.once.Do(func() {
		m.dev.Uninit()
		m.backend.release(&m.backend.micOpen)
	})
	return nil
}

type speaker struct {
	backend *Backend
	dev     *malgo.Device
	mixer   *mixer
	once    sync.Once
}

func (s *speaker) Now() float64 {
	return s.mixer.now()
}

func (s *speaker) Schedule(buf live.Buffer, at float64, onEnded func()) (live.Playback, error) {
	var samples []float32
	if len(buf.Channels) > 0 {
		samples = buf.Channels[0]
	}
	id := s.mixer.schedule(samples, buf.SampleRate, at, onEnded)
	return playback{mixer: s.mixer, id: id}, nil
}

func (s *speaker) Close() error {
	s.once.Do(func() {
		s.dev.Uninit()
		s.mixer.close()
		s.backend.release(&s.backend.speakerOpen)
	})
	return nil
}
