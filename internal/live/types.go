package live

import (
	"context"
	"errors"
	"fmt"
)

// State is the lifecycle state of a live session
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateIdle, StateConnecting, StateConnected, StateEnded, StateError} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("live: unknown state %q", text)
}

// Active reports whether a session is being opened or is open
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// Role identifies who spoke a transcript turn
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one transcript entry. Once IsFinal is set the turn never changes.
type Turn struct {
	Speaker Role   `json:"speaker"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

var (
	// ErrSessionActive is returned by Start while a session is connecting or connected
	ErrSessionActive = errors.New("live: session already active")
	// ErrClosed is returned once the controller has been disposed
	ErrClosed = errors.New("live: controller closed")
	// ErrDeviceBusy is returned by Devices when the endpoint is already open
	ErrDeviceBusy = errors.New("live: device already in use")
)

// DeviceAcquisitionError reports a microphone or speaker that could not be opened
type DeviceAcquisitionError struct {
	Device string
	Err    error
}

func (e *DeviceAcquisitionError) Error() string {
	return fmt.Sprintf("live: acquire %s: %v", e.Device, e.Err)
}

func (e *DeviceAcquisitionError) Unwrap() error {
	return e.Err
}

// SessionConfig configures the remote duplex session
type SessionConfig struct {
	Model               string
	Voice               string
	ResponseModalities  []string
	InputTranscription  bool
	OutputTranscription bool
	SystemInstruction   string
}

// RealtimeInput is one encoded capture frame sent upstream
type RealtimeInput struct {
	MIMEType string
	Data     string // transport text
}

// InlineAudio is an encoded audio chunk streamed by the remote speaker
type InlineAudio struct {
	MIMEType string
	Data     string // transport text
}

// ServerMessage is one inbound session event
type ServerMessage struct {
	InputTranscription  string
	OutputTranscription string
	Audio               []InlineAudio
	TurnComplete        bool
	Interrupted         bool
}

// Callbacks receive session events. They may be invoked from any goroutine.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(ServerMessage)
	OnError   func(error)
	OnClose   func(reason string)
}

// Conn is an open duplex session
type Conn interface {
	SendRealtimeInput(in RealtimeInput) error
	Close() error
}

// Dialer opens duplex sessions. Dial returns once the request is on the
// wire; OnOpen fires when the remote side has accepted the setup.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig, cb Callbacks) (Conn, error)
}

// Buffer is decoded audio ready for playback
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Duration returns the buffer length in seconds
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 || len(b.Channels) == 0 {
		return 0
	}
	return float64(len(b.Channels[0])) / float64(b.SampleRate)
}

// Microphone is an open capture stream
type Microphone interface {
	Close() error
}

// Playback is a scheduled buffer
type Playback interface {
	// Stop cancels the buffer. Stopping a finished buffer is a no-op.
	Stop()
}

// Speaker is an open playback context with its own clock
type Speaker interface {
	// Now returns the context clock in seconds
	Now() float64
	// Schedule plays buf starting at clock time at. onEnded is called once
	// when the buffer finishes or is stopped, possibly from another goroutine.
	Schedule(buf Buffer, at float64, onEnded func()) (Playback, error)
	Close() error
}

// Devices opens the audio endpoints of a session
type Devices interface {
	// OpenMicrophone starts capture; onFrame receives frameSamples mono
	// samples at a time until the microphone is closed.
	OpenMicrophone(sampleRate, frameSamples int, onFrame func(samples []float32)) (Microphone, error)
	OpenSpeaker(sampleRate int) (Speaker, error)
}

// Observer is notified from the controller's event loop. Implementations
// must not call Controller.Close.
type Observer interface {
	StateChanged(state State, err error)
	TranscriptChanged(turns []Turn)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped
type ObserverFuncs struct {
	OnState      func(State, error)
	OnTranscript func([]Turn)
}

func (o ObserverFuncs) StateChanged(state State, err error) {
	if o.OnState != nil {
		o.OnState(state, err)
	}
}

func (o ObserverFuncs) TranscriptChanged(turns []Turn) {
	if o.OnTranscript != nil {
		o.OnTranscript(turns)
	}
}
