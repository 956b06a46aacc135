package device

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/lexiqai/speech-coach/internal/audio"
)

// voice is one scheduled buffer, positioned in device frames
type voice struct {
	start   int64
	samples []float32
	onEnded func()
}

// mixer renders scheduled buffers into the playback callback. Its clock is
// the number of frames handed to the device, so it only advances while the
// device is pulling audio.
type mixer struct {
	mu      sync.Mutex
	rate    int
	frame   int64
	nextID  uint64
	voices  map[uint64]*voice
	scratch []float32
}

func newMixer(rate int) *mixer {
	return &mixer{rate: rate, voices: make(map[uint64]*voice)}
}

func (m *mixer) now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frame) / float64(m.rate)
}

// schedule queues samples recorded at sampleRate to start at clock time
// at. A start time already in the past plays immediately.
func (m *mixer) schedule(samples []float32, sampleRate int, at float64, onEnded func()) uint64 {
	samples = audio.Resample(samples, sampleRate, m.rate)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	start := int64(math.Round(at * float64(m.rate)))
	if start < m.frame {
		start = m.frame
	}
	m.voices[m.nextID] = &voice{start: start, samples: samples, onEnded: onEnded}
	return m.nextID
}

// stop removes a voice; onEnded runs once for voices still pending
func (m *mixer) stop(id uint64) {
	m.mu.Lock()
	v := m.voices[id]
	delete(m.voices, id)
	m.mu.Unlock()

	if v != nil && v.onEnded != nil {
		v.onEnded()
	}
}

// render fills out with PCM16LE mono and advances the clock
func (m *mixer) render(out []byte) {
	n := len(out) / 2

	m.mu.Lock()
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	buf := m.scratch[:n]
	for i := range buf {
		buf[i] = 0
	}

	var ended []func()
	end := m.frame + int64(n)
	for id, v := range m.voices {
		offset := v.start - m.frame
		if offset >= int64(n) {
			continue
		}
		audio.Mix(buf, v.samples, int(offset))
		if v.start+int64(len(v.samples)) <= end {
			delete(m.voices, id)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	m.frame = end

	for i, s := range buf {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	m.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// close drops every voice, reporting each one as ended
func (m *mixer) close() {
	m.mu.Lock()
	voices := m.voices
	m.voices = make(map[uint64]*voice)
	m.mu.Unlock()

	for _, v := range voices {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
}

func (m *mixer) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

type playback struct {
	mixer *mixer
	id    uint64
}

func (p playback) Stop() {
	p.mixer.stop(p.id)
}
