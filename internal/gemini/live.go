package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/speech-coach/internal/inference"
	"github.com/lexiqai/speech-coach/internal/live"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"github.com/rs/zerolog"
)

const (
	DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws"

	livePath          = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

// errSessionClosed is returned when sending on a closed live session
var errSessionClosed = errors.New("gemini: live session closed")

// Outgoing protocol messages

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// Incoming protocol messages

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *liveError       `json:"error,omitempty"`
}

type liveError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// LiveDialer opens Gemini Live sessions
type LiveDialer struct {
	apiKey    string
	baseURL   string
	dialer    *websocket.Dialer
	reconnect *resilience.ReconnectConfig
	logger    zerolog.Logger
}

// NewLiveDialer creates a dialer. An empty baseURL uses DefaultLiveURL.
func NewLiveDialer(apiKey, baseURL string, logger zerolog.Logger) *LiveDialer {
	if baseURL == "" {
		baseURL = DefaultLiveURL
	}
	return &LiveDialer{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   16384,
			WriteBufferSize:  16384,
		},
		reconnect: resilience.DefaultReconnectConfig(),
		logger:    logger.With().Str("component", "gemini_live").Logger(),
	}
}

// WithReconnect replaces the handshake re-dial policy
func (d *LiveDialer) WithReconnect(cfg *resilience.ReconnectConfig) *LiveDialer {
	d.reconnect = cfg
	return d
}

// retryableDial re-dials refused connections and transient handshake statuses
func retryableDial(err error) bool {
	return inference.IsTransient(err) || resilience.IsRetryableNetworkError(err)
}

// Dial implements live.Dialer. It returns once the setup message is sent;
// cb.OnOpen fires when the server acknowledges it.
func (d *LiveDialer) Dial(ctx context.Context, cfg live.SessionConfig, cb live.Callbacks) (live.Conn, error) {
	wsURL := fmt.Sprintf("%s%s?key=%s", d.baseURL, livePath, url.QueryEscape(d.apiKey))

	var conn *websocket.Conn
	err := resilience.Reconnect(ctx, func(ctx context.Context) error {
		c, resp, err := d.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if resp != nil {
				return &inference.RemoteError{
					Kind:    kindFor(resp.StatusCode, ""),
					Code:    resp.StatusCode,
					Message: "live handshake failed",
					Err:     err,
				}
			}
			return fmt.Errorf("gemini: dial live: %w", err)
		}
		conn = c
		return nil
	}, d.reconnect, retryableDial, d.logger)
	if err != nil {
		return nil, err
	}

	s := &liveSession{
		conn:   conn,
		cb:     cb,
		done:   make(chan struct{}),
		logger: d.logger,
	}
	if err := s.writeJSON(newSetupMessage(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini: send setup: %w", err)
	}

	go s.readLoop()
	go s.keepaliveLoop()
	return s, nil
}

func newSetupMessage(cfg live.SessionConfig) setupMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model:            model,
			GenerationConfig: generationConfig{ResponseModalities: modalities},
		},
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// liveSession is one open BidiGenerateContent stream
type liveSession struct {
	conn   *websocket.Conn
	cb     live.Callbacks
	logger zerolog.Logger

	writeMu   sync.Mutex
	mu        sync.Mutex
	closing   bool
	done      chan struct{}
	closeOnce sync.Once
}

// SendRealtimeInput implements live.Conn
func (s *liveSession) SendRealtimeInput(in live.RealtimeInput) error {
	if s.isClosing() {
		return errSessionClosed
	}
	return s.writeJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []inlineData{{MIMEType: in.MIMEType, Data: in.Data}}},
	})
}

// Close implements live.Conn. It is safe to call more than once.
func (s *liveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *liveSession) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *liveSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// readLoop dispatches server messages until the socket closes
func (s *liveSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("Skipping malformed live message")
			continue
		}
		s.dispatch(&msg)
	}
}

func (s *liveSession) handleReadError(err error) {
	if s.isClosing() {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			s.closed(closeErr.Text)
			return
		}
		s.failed(&inference.RemoteError{
			Kind:    inference.KindOther,
			Code:    closeErr.Code,
			Message: closeErr.Text,
			Err:     err,
		})
		return
	}
	s.failed(fmt.Errorf("gemini: live read: %w", err))
}

func (s *liveSession) dispatch(msg *serverMessage) {
	if msg.SetupComplete != nil && s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
	if msg.Error != nil {
		s.failed(&inference.RemoteError{
			Kind:    kindFor(msg.Error.Code, msg.Error.Status),
			Code:    msg.Error.Code,
			Status:  msg.Error.Status,
			Message: msg.Error.Message,
		})
	}
	if msg.ServerContent != nil && s.cb.OnMessage != nil {
		s.cb.OnMessage(toServerMessage(msg.ServerContent))
	}
}

func toServerMessage(sc *serverContent) live.ServerMessage {
	out := live.ServerMessage{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.InputTranscription != nil {
		out.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscription = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			out.Audio = append(out.Audio, live.InlineAudio{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
		}
	}
	return out
}

func (s *liveSession) failed(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s *liveSession) closed(reason string) {
	if s.cb.OnClose != nil {
		s.cb.OnClose(reason)
	}
}

// keepaliveLoop pings the server so idle sessions are not dropped
func (s *liveSession) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(keepaliveTimeout)); err != nil {
				s.logger.Debug().Err(err).Msg("Keepalive ping failed")
			}
		}
	}
}
