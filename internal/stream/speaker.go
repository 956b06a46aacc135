package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/speech-coach/internal/audio"
	"github.com/lexiqai/speech-coach/internal/live"
)

var errSpeakerClosed = errors.New("stream: speaker closed")

// socketSpeaker forwards scheduled buffers to the browser. Its clock is
// seconds since the speaker was opened; the browser maps startAt onto its
// own audio clock. A server-side timer reports each buffer as ended once
// its scheduled window has passed.
type socketSpeaker struct {
	session *Session
	origin  time.Time

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*socketPlayback
	closed  bool
}

func (sp *socketSpeaker) Now() float64 {
	return time.Since(sp.origin).Seconds()
}

func (sp *socketSpeaker) Schedule(buf live.Buffer, at float64, onEnded func()) (live.Playback, error) {
	var samples []float32
	if len(buf.Channels) > 0 {
		samples = buf.Channels[0]
	}
	pcm, err := audio.SamplesToWireFrame(samples)
	if err != nil {
		return nil, err
	}

	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return nil, errSpeakerClosed
	}
	sp.nextID++
	p := &socketPlayback{speaker: sp, id: sp.nextID, onEnded: onEnded}
	delay := time.Duration((at + buf.Duration() - sp.Now()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	p.timer = time.AfterFunc(delay, func() { p.end(false) })
	sp.pending[p.id] = p
	sp.mu.Unlock()

	sp.session.send(Event{
		Type:       EventAudio,
		ID:         p.id,
		StartAt:    at,
		SampleRate: buf.SampleRate,
		Data:       audio.BytesToTransportText(pcm),
	})
	return p, nil
}

func (sp *socketSpeaker) untrack(id uint64) {
	sp.mu.Lock()
	delete(sp.pending, id)
	sp.mu.Unlock()
}

// Close stops every pending buffer and releases the speaker
func (sp *socketSpeaker) Close() error {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return nil
	}
	sp.closed = true
	pending := make([]*socketPlayback, 0, len(sp.pending))
	for _, p := range sp.pending {
		pending = append(pending, p)
	}
	sp.mu.Unlock()

	for _, p := range pending {
		p.Stop()
	}

	s := sp.session
	s.mu.Lock()
	if s.speaker == sp {
		s.speaker = nil
	}
	s.mu.Unlock()
	return nil
}

type socketPlayback struct {
	speaker *socketSpeaker
	id      uint64
	timer   *time.Timer
	onEnded func()
	once    sync.Once
}

// Stop tells the browser to cut the buffer. Stopping a finished buffer is a no-op.
func (p *socketPlayback) Stop() {
	p.timer.Stop()
	p.end(true)
}

func (p *socketPlayback) end(stopped bool) {
	p.once.Do(func() {
		p.speaker.untrack(p.id)
		if stopped {
			p.speaker.session.send(Event{Type: EventStop, ID: p.id})
		}
		if p.onEnded != nil {
			p.onEnded()
		}
	})
}
