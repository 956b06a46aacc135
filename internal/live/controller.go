package live

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lexiqai/speech-coach/internal/audio"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Options configures a Controller
type Options struct {
	Model            string
	Voice            string
	InputSampleRate  int
	OutputSampleRate int
	FrameSamples     int
	QueueDepth       int
	// Instruction builds the system instruction for a language. Defaults to
	// DefaultInstruction.
	Instruction func(language string) string
	Observer    Observer
	Logger      zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.InputSampleRate <= 0 {
		o.InputSampleRate = 16000
	}
	if o.OutputSampleRate <= 0 {
		o.OutputSampleRate = 24000
	}
	if o.FrameSamples <= 0 {
		o.FrameSamples = 4096
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 32
	}
	if o.Instruction == nil {
		o.Instruction = DefaultInstruction
	}
	if o.Observer == nil {
		o.Observer = ObserverFuncs{}
	}
}

// DefaultInstruction is the conversation-partner instruction for language
func DefaultInstruction(language string) string {
	if language == "" {
		language = "English"
	}
	return fmt.Sprintf(
		"You are a friendly conversation partner helping the user practice speaking %s. "+
			"Keep replies short and natural, respond only in %s, and gently model correct "+
			"phrasing when the user makes a mistake.", language, language)
}

// Controller owns one live conversation at a time: it dials the remote
// session, streams microphone frames upstream, schedules response audio for
// gapless playback and keeps the running transcript. Every handler runs on
// a single event loop, so no handler observes another mid-flight.
type Controller struct {
	dialer  Dialer
	devices Devices
	opts    Options
	logger  zerolog.Logger
	box     *mailbox

	// owned by the event loop
	state      State
	err        error
	current    *run
	transcript *transcript
	playback   *schedule

	// published copies for readers outside the loop
	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot is a consistent view of the controller for readers
type Snapshot struct {
	SessionID        string  `json:"sessionId,omitempty"`
	State            State   `json:"state"`
	Err              error   `json:"-"`
	Transcript       []Turn  `json:"transcript"`
	PendingPlayback  int     `json:"pendingPlayback"`
	NextPlaybackTime float64 `json:"nextPlaybackTime"`
}

// run holds the resources of one session instance
type run struct {
	id       string
	conn     Conn
	mic      Microphone
	speaker  Speaker
	opened   bool
	finished bool

	outbound chan RealtimeInput
	done     chan struct{}
	mimeType string

	span    trace.Span
	metrics *observability.SessionMetrics
	logger  zerolog.Logger
}

// NewController creates an idle controller. Call Close to dispose of it.
func NewController(dialer Dialer, devices Devices, opts Options) *Controller {
	opts.applyDefaults()
	c := &Controller{
		dialer:     dialer,
		devices:    devices,
		opts:       opts,
		logger:     opts.Logger.With().Str("component", "live_controller").Logger(),
		box:        newMailbox(),
		transcript: newTranscript(),
		playback:   newSchedule(),
	}
	c.publish()
	return c
}

// Start opens a new session for language. It returns once the controller
// is connecting; the remote handshake completes asynchronously.
func (c *Controller) Start(ctx context.Context, language string) error {
	var err error
	if !c.box.call(func() { err = c.handleStart(ctx, language) }) {
		return ErrClosed
	}
	return err
}

// End closes the current session, if any, and waits for teardown
func (c *Controller) End() {
	c.box.call(c.handleEnd)
}

// Close ends any session and stops the event loop
func (c *Controller) Close() {
	c.End()
	c.box.stop()
}

// Snapshot returns the latest published state
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snapshot
	s.Transcript = append([]Turn(nil), c.snapshot.Transcript...)
	return s
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.State
}

// Err returns the error that moved the controller into StateError
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Err
}

// Transcript returns a copy of the transcript
func (c *Controller) Transcript() []Turn {
	return c.Snapshot().Transcript
}

func (c *Controller) handleStart(ctx context.Context, language string) error {
	if c.state.Active() {
		return ErrSessionActive
	}

	id := uuid.New().String()
	r := &run{
		id:       id,
		outbound: make(chan RealtimeInput, c.opts.QueueDepth),
		done:     make(chan struct{}),
		mimeType: "audio/pcm;rate=" + strconv.Itoa(c.opts.InputSampleRate),
		metrics:  observability.NewSessionMetrics(id),
		logger:   c.logger.With().Str("session_id", id).Logger(),
	}
	_, r.span = observability.StartSpan(context.Background(), "live.session",
		attribute.String("session.id", id),
		attribute.String("session.language", language))

	c.current = r
	c.err = nil
	c.transcript.reset()
	c.playback.reset()
	c.setState(StateConnecting, nil)
	r.metrics.RecordSessionStart()
	r.logger.Info().Str("language", language).Msg("Live session connecting")

	speaker, err := c.devices.OpenSpeaker(c.opts.OutputSampleRate)
	if err != nil {
		err = &DeviceAcquisitionError{Device: "speaker", Err: err}
		c.fail(r, err)
		return err
	}
	r.speaker = speaker

	cfg := SessionConfig{
		Model:               c.opts.Model,
		Voice:               c.opts.Voice,
		ResponseModalities:  []string{"AUDIO"},
		InputTranscription:  true,
		OutputTranscription: true,
		SystemInstruction:   c.opts.Instruction(language),
	}
	cb := Callbacks{
		OnOpen:    func() { c.box.post(func() { c.handleOpen(r) }) },
		OnMessage: func(msg ServerMessage) { c.box.post(func() { c.handleMessage(r, msg) }) },
		OnError:   func(err error) { c.box.post(func() { c.handleError(r, err) }) },
		OnClose:   func(reason string) { c.box.post(func() { c.handleClose(r, reason) }) },
	}

	go func() {
		conn, err := c.dialer.Dial(ctx, cfg, cb)
		c.box.post(func() { c.handleDialed(r, conn, err) })
	}()
	return nil
}

func (c *Controller) isCurrent(r *run) bool {
	return c.current == r && !r.finished
}

func (c *Controller) handleDialed(r *run, conn Conn, err error) {
	if !c.isCurrent(r) {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.fail(r, fmt.Errorf("live: open session: %w", err))
		return
	}
	r.conn = conn
	if r.opened {
		c.connect(r)
	}
}

func (c *Controller) handleOpen(r *run) {
	if !c.isCurrent(r) || c.state != StateConnecting {
		return
	}
	r.opened = true
	if r.conn != nil {
		c.connect(r)
	}
}

// connect acquires the microphone and starts the upstream sender
func (c *Controller) connect(r *run) {
	mic, err := c.devices.OpenMicrophone(c.opts.InputSampleRate, c.opts.FrameSamples, func(samples []float32) {
		c.enqueueFrame(r, samples)
	})
	if err != nil {
		c.fail(r, &DeviceAcquisitionError{Device: "microphone", Err: err})
		return
	}
	r.mic = mic

	go c.sendLoop(r)
	c.setState(StateConnected, nil)
	r.logger.Info().Msg("Live session connected")
}

// enqueueFrame runs on the capture goroutine
func (c *Controller) enqueueFrame(r *run, samples []float32) {
	select {
	case <-r.done:
		return
	default:
	}
	r.metrics.RecordInputLevel(audio.CalculateRMS(samples))

	text, err := audio.EncodeFrame(samples)
	if err != nil {
		r.metrics.RecordError("frame_encode_error", "live")
		r.logger.Warn().Err(err).Msg("Dropping unencodable capture frame")
		return
	}

	select {
	case r.outbound <- RealtimeInput{MIMEType: r.mimeType, Data: text}:
	default:
		r.metrics.RecordFrameDropped()
		r.logger.Debug().Msg("Outbound queue full, dropping capture frame")
	}
}

// sendLoop is the single consumer of the outbound queue
func (c *Controller) sendLoop(r *run) {
	for {
		select {
		case <-r.done:
			return
		case in := <-r.outbound:
			if err := r.conn.SendRealtimeInput(in); err != nil {
				// a frame racing teardown may hit a closed session
				r.logger.Debug().Err(err).Msg("Failed to send capture frame")
				continue
			}
			r.metrics.RecordAudioBytes("in", int64(len(in.Data)))
		}
	}
}

func (c *Controller) handleMessage(r *run, msg ServerMessage) {
	if !c.isCurrent(r) || c.state != StateConnected {
		return
	}

	changed := false
	if msg.InputTranscription != "" {
		c.transcript.appendFragment(RoleUser, msg.InputTranscription)
		changed = true
	}
	if msg.OutputTranscription != "" {
		c.transcript.appendFragment(RoleModel, msg.OutputTranscription)
		changed = true
	}

	for _, chunk := range msg.Audio {
		if err := c.schedulePlayback(r, chunk); err != nil {
			c.fail(r, err)
			return
		}
	}

	if msg.Interrupted {
		c.interrupt(r)
		if c.transcript.finalize(RoleModel) {
			changed = true
		}
	}
	if msg.TurnComplete && c.transcript.completeTurn() {
		changed = true
	}

	c.publish()
	if changed {
		c.opts.Observer.TranscriptChanged(c.transcript.snapshot())
	}
}

func (c *Controller) schedulePlayback(r *run, chunk InlineAudio) error {
	channels, err := audio.DecodeFrame(chunk.Data, 1)
	if err != nil {
		return fmt.Errorf("live: response audio: %w", err)
	}
	buf := Buffer{
		SampleRate: sampleRateFromMIME(chunk.MIMEType, c.opts.OutputSampleRate),
		Channels:   channels,
	}

	id := c.playback.reserveID()
	start := c.playback.startFor(r.speaker.Now(), buf.Duration())
	handle, err := r.speaker.Schedule(buf, start, func() {
		c.box.post(func() { c.handleEnded(r, id) })
	})
	if err != nil {
		return fmt.Errorf("live: schedule playback: %w", err)
	}
	c.playback.track(id, handle)
	r.metrics.RecordAudioBytes("out", int64(len(chunk.Data)))
	return nil
}

func (c *Controller) handleEnded(r *run, id uint64) {
	if c.current != r {
		return
	}
	c.playback.untrack(id)
	c.publish()
}

// interrupt stops every pending buffer and rewinds the cursor
func (c *Controller) interrupt(r *run) {
	stopped := c.playback.drain()
	for _, p := range stopped {
		p.Stop()
	}
	r.metrics.RecordInterruption()
	r.logger.Debug().Int("stopped", len(stopped)).Msg("Playback interrupted")
}

func (c *Controller) handleError(r *run, err error) {
	if !c.isCurrent(r) || !c.state.Active() {
		return
	}
	c.fail(r, fmt.Errorf("live: session: %w", err))
}

func (c *Controller) handleClose(r *run, reason string) {
	if !c.isCurrent(r) || !c.state.Active() {
		return
	}
	r.logger.Info().Str("reason", reason).Msg("Live session closed by remote")
	c.teardown(r)
	r.metrics.RecordSessionEnd("ended")
	observability.EndSpan(r.span, nil)
	c.setState(StateEnded, nil)
}

func (c *Controller) handleEnd() {
	r := c.current
	if r == nil || !c.state.Active() {
		return
	}
	c.teardown(r)
	r.metrics.RecordSessionEnd("ended")
	observability.EndSpan(r.span, nil)
	c.setState(StateEnded, nil)
	frames, silent := r.metrics.InputFrames()
	r.logger.Info().Int("captured_frames", frames).Int("silent_frames", silent).Msg("Live session ended")
}

func (c *Controller) fail(r *run, err error) {
	c.teardown(r)
	r.metrics.RecordSessionEnd("error")
	r.metrics.RecordError("session_error", "live")
	observability.EndSpan(r.span, err)
	r.logger.Error().Err(err).Msg("Live session failed")
	c.setState(StateError, err)
}

// teardown releases every resource of r. It runs at most once per run and
// tolerates resources that were never opened or are already closed.
func (c *Controller) teardown(r *run) {
	if r.finished {
		return
	}
	r.finished = true
	close(r.done)

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Session close")
		}
	}
	if r.mic != nil {
		if err := r.mic.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Microphone close")
		}
	}
	for _, p := range c.playback.drain() {
		p.Stop()
	}
	if r.speaker != nil {
		if err := r.speaker.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Speaker close")
		}
	}
}

func (c *Controller) setState(state State, err error) {
	c.state = state
	c.err = err
	c.publish()
	c.opts.Observer.StateChanged(state, err)
}

func (c *Controller) publish() {
	s := Snapshot{
		State:            c.state,
		Err:              c.err,
		Transcript:       c.transcript.snapshot(),
		PendingPlayback:  len(c.playback.pending),
		NextPlaybackTime: c.playback.nextStartTime,
	}
	if c.current != nil {
		s.SessionID = c.current.id
	}
	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()
}

// sampleRateFromMIME reads the rate parameter of e.g. "audio/pcm;rate=24000"
func sampleRateFromMIME(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
