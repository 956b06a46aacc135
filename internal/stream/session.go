// Package stream bridges browser WebSocket clients to live coaching
// sessions. The browser is the microphone and the speaker: it streams raw
// PCM16 capture upstream and receives scheduled response audio with the
// start time it should be played at.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/speech-coach/internal/audio"
	"github.com/lexiqai/speech-coach/internal/live"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	// Origin checks belong to the reverse proxy in front of the service
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ClientMessage is a text frame sent by the browser
type ClientMessage struct {
	Type     string `json:"type"` // "start" or "end"
	Language string `json:"language,omitempty"`
}

// Event is a text frame sent to the browser
type Event struct {
	Type string `json:"type"`

	// ready
	InputSampleRate  int `json:"inputSampleRate,omitempty"`
	OutputSampleRate int `json:"outputSampleRate,omitempty"`

	// state
	State live.State `json:"state,omitempty"`
	Error string     `json:"error,omitempty"`

	// transcript
	Turns []live.Turn `json:"turns,omitempty"`

	// audio and stop
	ID         uint64  `json:"id,omitempty"`
	StartAt    float64 `json:"startAt,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
	Data       string  `json:"data,omitempty"` // transport text of PCM16LE
}

const (
	EventReady      = "ready"
	EventState      = "state"
	EventTranscript = "transcript"
	EventAudio      = "audio"
	EventStop       = "stop"
	EventError      = "error"
)

// Options configures the bridge
type Options struct {
	// Live is the template for every connection's controller. Observer and
	// Logger are replaced per connection.
	Live            live.Options
	DefaultLanguage string
	WriteTimeout    time.Duration
}

// Handler upgrades browser connections and runs one controller per socket
type Handler struct {
	dialer live.Dialer
	opts   Options
	logger zerolog.Logger
}

// NewHandler creates a bridge dialing sessions through dialer
func NewHandler(dialer live.Dialer, opts Options, logger zerolog.Logger) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "English"
	}
	if opts.Live.InputSampleRate <= 0 {
		opts.Live.InputSampleRate = 16000
	}
	if opts.Live.OutputSampleRate <= 0 {
		opts.Live.OutputSampleRate = 24000
	}
	return &Handler{
		dialer: dialer,
		opts:   opts,
		logger: logger.With().Str("component", "stream").Logger(),
	}
}

// Session is one browser connection
type Session struct {
	conn         *websocket.Conn
	controller   *live.Controller
	writeTimeout time.Duration
	logger       zerolog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	microphone *socketMicrophone
	speaker    *socketSpeaker
}

// ServeHTTP handles one browser connection until it closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	correlationID := observability.NewCorrelationID()
	s := &Session{
		conn:         conn,
		writeTimeout: h.opts.WriteTimeout,
		logger:       h.logger.With().Str("correlation_id", correlationID).Logger(),
	}

	opts := h.opts.Live
	opts.Observer = s
	opts.Logger = s.logger
	s.controller = live.NewController(h.dialer, s, opts)
	defer s.controller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Browser stream connected")
	s.send(Event{
		Type:             EventReady,
		InputSampleRate:  opts.InputSampleRate,
		OutputSampleRate: opts.OutputSampleRate,
	})
	s.readLoop(ctx, h.opts.DefaultLanguage)
	s.logger.Info().Msg("Browser stream closed")
}

func (s *Session) readLoop(ctx context.Context, defaultLanguage string) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			s.handleCapture(data)
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to parse client message")
				s.send(Event{Type: EventError, Error: "malformed message"})
				continue
			}
			s.handleCommand(ctx, msg, defaultLanguage)
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, msg ClientMessage, defaultLanguage string) {
	switch msg.Type {
	case "start":
		language := msg.Language
		if language == "" {
			language = defaultLanguage
		}
		if err := s.controller.Start(ctx, language); err != nil {
			// device failures are also reported through the state event
			var deviceErr *live.DeviceAcquisitionError
			if !errors.As(err, &deviceErr) {
				s.send(Event{Type: EventError, Error: err.Error()})
			}
		}
	case "end":
		s.controller.End()
	default:
		s.send(Event{Type: EventError, Error: "unknown message type " + msg.Type})
	}
}

// handleCapture feeds PCM16LE bytes to the open microphone. Capture that
// arrives while no microphone is open is dropped.
func (s *Session) handleCapture(pcm []byte) {
	s.mu.Lock()
	mic := s.microphone
	s.mu.Unlock()
	if mic == nil {
		return
	}
	if err := mic.framer.Push(pcm, mic.onFrame); err != nil {
		s.logger.Debug().Err(err).Msg("Dropping malformed capture")
		mic.framer.Reset()
	}
}

// send writes one event; write failures surface as a read error
func (s *Session) send(ev Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteJSON(ev); err != nil {
		s.logger.Debug().Err(err).Str("event", ev.Type).Msg("Failed to write event")
	}
}

// StateChanged implements live.Observer
func (s *Session) StateChanged(state live.State, err error) {
	ev := Event{Type: EventState, State: state}
	if err != nil {
		ev.Error = err.Error()
	}
	s.send(ev)
}

// TranscriptChanged implements live.Observer
func (s *Session) TranscriptChanged(turns []live.Turn) {
	s.send(Event{Type: EventTranscript, Turns: turns})
}

// OpenMicrophone implements live.Devices
func (s *Session) OpenMicrophone(sampleRate, frameSamples int, onFrame func([]float32)) (live.Microphone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.microphone != nil {
		return nil, live.ErrDeviceBusy
	}
	s.microphone = &socketMicrophone{
		session: s,
		framer:  audio.NewFramer(frameSamples, 1),
		onFrame: onFrame,
	}
	return s.microphone, nil
}

// OpenSpeaker implements live.Devices
func (s *Session) OpenSpeaker(sampleRate int) (live.Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaker != nil {
		return nil, live.ErrDeviceBusy
	}
	s.speaker = &socketSpeaker{
		session: s,
		origin:  time.Now(),
		pending: make(map[uint64]*socketPlayback),
	}
	return s.speaker, nil
}

type socketMicrophone struct {
	session *Session
	framer  *audio.Framer
	onFrame func([]float32)
}

func (m *socketMicrophone) Close() error {
	m.session.mu.Lock()
	defer m.session.mu.Unlock()
	if m.session.microphone == m {
		m.session.microphone = nil
	}
	return nil
}
