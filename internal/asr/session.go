// Package asr is the speech recognition session: it segments incoming PCM
// with a voice activity detector, streams speech to the transcription
// backend and exposes the check/get results contract of an ASR plugin.
package asr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-bridge/internal/audio"
	"github.com/lexiqai/speech-bridge/internal/config"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/transport"
)

const (
	// Codec is the only format a session accepts
	Codec = audio.CodecL16

	// MaxSampleRate caps the negotiated rate
	MaxSampleRate = 16000

	defaultSampleRate = 8000
	defaultConfidence = 87.3
)

// Detector classifies audio frames into speech/silence transitions
type Detector interface {
	Process(samples []int16) audio.VADState
	Reset()
	SetMode(mode int)
	SetParam(name string, value int)
}

// CheckStatus is the outcome of CheckResults
type CheckStatus int

const (
	// CheckNotYet means nothing is deliverable yet
	CheckNotYet CheckStatus = iota
	// CheckPending means GetResults has something to deliver
	CheckPending
	// CheckFinalizeRequired means the speech timeout fired; the next Feed finalizes
	CheckFinalizeRequired
	// CheckDone means the final result was delivered or the session is closed
	CheckDone
)

func (c CheckStatus) String() string {
	switch c {
	case CheckPending:
		return "pending"
	case CheckFinalizeRequired:
		return "finalize_required"
	case CheckDone:
		return "done"
	default:
		return "not_yet"
	}
}

// OpenRequest describes the stream a host wants recognized
type OpenRequest struct {
	Codec       string
	Rate        int
	Destination string // Backend URL; the configured server URL when empty
	AutoResume  bool   // Reset automatically on the first feed after a delivered result
	ChannelID   string
}

// Deps are the collaborators a session is built from
type Deps struct {
	Dialer      transport.Dialer
	NewDetector func(cfg *audio.VADConfig) Detector // Energy detector when nil
	Now         func() time.Time                    // time.Now when nil
	Logger      *zerolog.Logger                     // Global logger when nil
}

// Session is one recognition stream.
//
// All methods are safe to call from different goroutines, but a blocking
// finalize handshake holds the session lock for up to the finalize timeout;
// closing while one is outstanding waits for it.
type Session struct {
	mu     sync.Mutex
	closed atomic.Bool

	id         string
	codec      string
	rate       int
	autoResume bool
	returnJSON bool

	pollTimeout     time.Duration
	finalizeTimeout time.Duration
	partialCount    int

	// Orthogonal state flags
	ready                  bool
	inputTimers            bool
	speechStarted          bool
	startOfSpeechDelivered bool
	noInputTimedOut        bool
	resultReady            bool
	resultDelivered        bool
	forcedTimeout          bool

	resultText       string
	resultConfidence float64
	partialBudget    int
	grammar          string
	channelID        string

	thresh           int
	silenceMs        int
	voiceMs          int
	noInputTimeout   int // ms, negative disables
	speechTimeout    int // ms, must be positive to be evaluated
	startInputTimers bool

	noInputStart time.Time
	speechStart  time.Time

	accumulator *audio.Accumulator
	conn        transport.Conn
	vad         Detector

	now        func() time.Time
	baseLogger zerolog.Logger
	logger     atomic.Pointer[zerolog.Logger]
	metrics    *observability.SessionMetrics
}

// Open creates a session and connects it to the backend. No session is
// returned unless the handshake succeeded.
func Open(ctx context.Context, cfg *config.Config, req OpenRequest, deps Deps) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Dialer == nil {
		observability.RecordOpen(false)
		return nil, fmt.Errorf("%w: no dialer", ErrSetup)
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	base := observability.GetLogger()
	if deps.Logger != nil {
		base = *deps.Logger
	}

	id := observability.NewCorrelationID()
	base = base.With().Str("component", "asr").Str("session_id", id).Logger()

	rate := req.Rate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	if rate > MaxSampleRate {
		rate = MaxSampleRate
	}

	destination := req.Destination
	if destination == "" {
		destination = cfg.ServerURL
	}

	base.Info().
		Str("codec", req.Codec).
		Int("requested_rate", req.Rate).
		Int("rate", rate).
		Str("dest", destination).
		Msg("Opening ASR session")

	s := &Session{
		id:               id,
		codec:            Codec,
		rate:             rate,
		autoResume:       req.AutoResume,
		returnJSON:       cfg.ReturnJSON,
		pollTimeout:      cfg.PollTimeout(),
		finalizeTimeout:  cfg.FinalizeTimeout(),
		partialCount:     cfg.PartialResults,
		thresh:           cfg.VADThresh,
		silenceMs:        cfg.VADSilenceMs,
		voiceMs:          cfg.VADVoiceMs,
		noInputTimeout:   cfg.NoInputTimeoutMs,
		speechTimeout:    cfg.SpeechTimeoutMs,
		startInputTimers: cfg.StartInputTimers,
		now:              now,
		baseLogger:       base,
		metrics:          observability.NewSessionMetrics(),
	}
	s.setChannelID(req.ChannelID)

	vadConfig := &audio.VADConfig{
		SampleRate: rate,
		Thresh:     s.thresh,
		SilenceMs:  s.silenceMs,
		VoiceMs:    s.voiceMs,
		Mode:       cfg.VADMode,
	}
	if deps.NewDetector != nil {
		s.vad = deps.NewDetector(vadConfig)
	} else {
		s.vad = audio.NewEnergyVAD(vadConfig)
	}
	if s.vad == nil {
		observability.RecordOpen(false)
		return nil, fmt.Errorf("%w: detector unavailable", ErrSetup)
	}

	s.accumulator = audio.NewAccumulator(cfg.AudioBlockSize)

	conn, err := deps.Dialer.Dial(ctx, transport.DialRequest{URL: destination})
	if err != nil {
		s.log().Error().Err(err).Str("dest", destination).Msg("Websocket connect failed")
		observability.RecordOpen(false)
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	s.conn = conn

	s.reset()

	observability.RecordOpen(true)
	s.metrics.RecordSessionStart()
	s.log().Debug().Msg("ASR opened")

	return s, nil
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// Codec returns the negotiated codec, always L16
func (s *Session) Codec() string {
	return s.codec
}

// Rate returns the negotiated sample rate
func (s *Session) Rate() int {
	return s.rate
}

// BlockSize returns the outbound audio block size in bytes
func (s *Session) BlockSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accumulator == nil {
		return 0
	}
	return s.accumulator.BlockSize()
}

func (s *Session) setChannelID(channelID string) {
	s.channelID = channelID
	logger := s.baseLogger
	if channelID != "" {
		logger = s.baseLogger.With().Str("channel_uuid", channelID).Logger()
	}
	s.logger.Store(&logger)
}

// log returns the current session logger; it is re-bound when the channel changes
func (s *Session) log() *zerolog.Logger {
	return s.logger.Load()
}

func (s *Session) clearFlags() {
	s.ready = false
	s.inputTimers = false
	s.speechStarted = false
	s.startOfSpeechDelivered = false
	s.noInputTimedOut = false
	s.resultReady = false
	s.resultDelivered = false
	s.forcedTimeout = false
}

// reset returns the session to its post-open state. Tuning is kept.
func (s *Session) reset() {
	if s.vad != nil {
		s.vad.Reset()
	}
	s.clearFlags()
	s.resultText = ""
	s.resultConfidence = defaultConfidence
	s.ready = true
	s.noInputStart = s.now()
	if s.startInputTimers {
		s.inputTimers = true
	}
}

// LoadGrammar stores an opaque label echoed back in results
func (s *Session) LoadGrammar(grammar, name string) error {
	if s.closed.Load() {
		s.log().Error().Msg("load_grammar attempt on closed session")
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.log().Debug().Str("grammar", grammar).Str("name", name).Msg("Load grammar")
	s.grammar = grammar
	return nil
}

// UnloadGrammar is a no-op; the stored label persists
func (s *Session) UnloadGrammar(name string) error {
	return nil
}

// Feed processes one frame of 16-bit little endian PCM
func (s *Session) Feed(frame []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrClosed
	}

	s.metrics.RecordAudioBytes("in", int64(len(frame)))

	if s.resultDelivered && s.autoResume {
		s.log().Debug().Msg("Auto resuming")
		s.reset()
	}

	if s.forcedTimeout {
		if err := s.finalize(); err != nil {
			return err
		}
		s.resultReady = true
		s.vad.Reset()
		s.forcedTimeout = false
	}

	if !s.ready {
		return nil
	}

	switch s.vad.Process(audio.BytesToSamples(frame)) {
	case audio.VADStateTalking:
		return s.forward(frame)

	case audio.VADStateStopTalking:
		if err := s.finalize(); err != nil {
			return err
		}
		s.resultReady = true
		s.vad.Reset()
		s.ready = false

	case audio.VADStateStartTalking:
		s.log().Debug().Msg("Start of speech")
		s.speechStarted = true
		s.speechStart = s.now()
	}

	return nil
}

// forward buffers speech, ships one block when a full one is available and
// picks up whatever the backend has sent meanwhile
func (s *Session) forward(frame []byte) error {
	s.accumulator.Append(frame)

	if block, ok := s.accumulator.DrainBlock(); ok {
		s.log().Debug().Int("bytes", len(block)).Msg("Sending data")
		if err := s.conn.WriteBinary(block); err != nil {
			s.metrics.RecordError("write", "asr")
			s.log().Error().Err(err).Msg("Unable to send audio")
			return fmt.Errorf("%w: send audio: %w", ErrBreak, err)
		}
		s.metrics.RecordBlockSent(len(block))
	}

	ready, err := s.conn.Poll(s.pollTimeout)
	if err != nil {
		s.metrics.RecordError("poll", "asr")
		s.log().Error().Err(err).Msg("Unable to poll backend")
		return fmt.Errorf("%w: poll: %w", ErrBreak, err)
	}
	if !ready {
		return nil
	}

	f, err := s.conn.ReadFrame()
	if err != nil {
		s.metrics.RecordError("read", "asr")
		s.log().Error().Err(err).Msg("Unable to read backend frame")
		return fmt.Errorf("%w: read: %w", ErrBreak, err)
	}

	if f.Op == transport.OpPing {
		s.log().Debug().Msg("Received ping")
		if err := s.conn.WritePong(f.Payload); err != nil {
			s.log().Warn().Err(err).Msg("Unable to answer ping")
		}
		s.metrics.RecordPing()
		return nil
	}

	s.resultText = string(f.Payload)
	s.log().Debug().Int("bytes", len(f.Payload)).Str("text", s.resultText).Msg("Received result")
	return nil
}

// finalize sends the end-of-stream bit and waits for exactly one reply,
// which becomes the transcript whatever its opcode
func (s *Session) finalize() error {
	start := time.Now()

	s.log().Debug().Str("message", string(transport.EOFMessage)).Msg("Sending stop talking bit")
	if err := s.conn.WriteText(transport.EOFMessage); err != nil {
		s.metrics.RecordError("write", "asr")
		s.log().Error().Err(err).Msg("Unable to send stop talking bit")
		return fmt.Errorf("%w: send end of stream: %w", ErrBreak, err)
	}

	ready, err := s.conn.Poll(s.finalizeTimeout)
	if err != nil || !ready {
		s.metrics.RecordError("finalize", "asr")
		s.log().Error().Err(err).Dur("timeout", s.finalizeTimeout).Msg("Unable to poll for final message")
		if err == nil {
			return fmt.Errorf("%w: no final message within %s", ErrBreak, s.finalizeTimeout)
		}
		return fmt.Errorf("%w: poll final message: %w", ErrBreak, err)
	}

	f, err := s.conn.ReadFrame()
	if err != nil {
		s.metrics.RecordError("read", "asr")
		s.log().Error().Err(err).Msg("Final message is not acceptable")
		return fmt.Errorf("%w: read final message: %w", ErrBreak, err)
	}

	s.resultText = string(f.Payload)
	s.metrics.RecordFinalize(time.Since(start))
	s.log().Info().Int("bytes", len(f.Payload)).Str("text", s.resultText).Msg("Final response")
	return nil
}

// Pause stops detection and timers without releasing resources
func (s *Session) Pause() error {
	if s.closed.Load() {
		s.log().Error().Msg("pause attempt on closed session")
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.log().Debug().Msg("Pausing")
	s.clearFlags()
	return nil
}

// Resume fully resets the session
func (s *Session) Resume() error {
	if s.closed.Load() {
		s.log().Error().Msg("resume attempt on closed session")
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.log().Debug().Msg("Resuming")
	s.reset()
	return nil
}

// CheckResults evaluates the timers and reports whether GetResults has
// something to deliver. It never performs network I/O.
func (s *Session) CheckResults() CheckStatus {
	if s.closed.Load() {
		return CheckDone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resultDelivered || s.conn == nil {
		return CheckDone
	}

	if s.speechStarted && !s.startOfSpeechDelivered {
		return CheckPending
	}

	if !s.resultReady && !s.noInputTimedOut {
		now := s.now()
		if s.inputTimers && !s.speechStarted && s.noInputTimeout >= 0 &&
			now.Sub(s.noInputStart) >= msToDuration(s.noInputTimeout) {
			s.log().Debug().Dur("elapsed", now.Sub(s.noInputStart)).Msg("No input timeout")
			s.noInputTimedOut = true
			s.metrics.RecordTimeout("no_input")
		} else if !s.forcedTimeout && s.speechStarted && s.speechTimeout > 0 &&
			now.Sub(s.speechStart) >= msToDuration(s.speechTimeout) {
			s.log().Debug().Dur("elapsed", now.Sub(s.speechStart)).Msg("Speech timeout")
			s.forcedTimeout = true
			s.metrics.RecordTimeout("speech")
			return CheckFinalizeRequired
		}
	}

	if s.resultReady || s.noInputTimedOut {
		return CheckPending
	}
	return CheckNotYet
}

// GetResults delivers the current deliverable
func (s *Session) GetResults() (Result, error) {
	if s.closed.Load() {
		return Result{}, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return Result{}, ErrClosed
	}
	if s.resultDelivered {
		return Result{}, ErrAlreadyDelivered
	}

	var res Result
	switch {
	case s.resultReady:
		partial := s.partialBudget > 0
		if partial {
			s.partialBudget--
		}
		payload := formatTranscript(s.returnJSON, s.grammar, s.resultText, s.resultConfidence)
		if partial {
			res = Result{Kind: ResultPartial, Payload: payload}
		} else {
			res = Result{Kind: ResultFinal, Payload: payload}
		}
		s.log().Info().Str("kind", res.Kind.String()).Str("result", payload).Msg("Result")

	case s.noInputTimedOut:
		res = Result{Kind: ResultNoInput, Payload: formatNoInput(s.returnJSON, s.grammar)}
		s.log().Debug().Msg("Result: no input")

	case s.speechStarted && !s.startOfSpeechDelivered:
		s.startOfSpeechDelivered = true
		s.log().Debug().Msg("Result: start of speech")
		s.metrics.RecordResult(ResultStartOfSpeech.String())
		return Result{Kind: ResultStartOfSpeech}, nil

	default:
		s.log().Error().Msg("Unexpected call to get results, no results to return")
		return Result{}, ErrNoResults
	}

	if res.Kind != ResultPartial {
		s.resultDelivered = true
		s.ready = false
	}
	s.metrics.RecordResult(res.Kind.String())

	return res, nil
}

// StartInputTimers arms the no-input timer. Arming twice is harmless.
func (s *Session) StartInputTimers() error {
	if s.closed.Load() {
		s.log().Error().Msg("start_input_timers attempt on closed session")
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.log().Debug().Msg("Start input timers")
	if s.inputTimers {
		s.log().Info().Msg("Input timers already started")
		return nil
	}
	s.inputTimers = true
	s.noInputStart = s.now()
	return nil
}

// Close releases the connection, the buffer and the detector. A second
// Close returns ErrAlreadyClosed.
func (s *Session) Close() error {
	if s.closed.Load() {
		s.log().Debug().Msg("Double ASR close")
		return ErrAlreadyClosed
	}

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		s.log().Debug().Msg("Double ASR close")
		return ErrAlreadyClosed
	}

	// No close acknowledgment is awaited from the backend
	if err := s.conn.Close(); err != nil {
		s.log().Warn().Err(err).Msg("Websocket close failed")
	}
	s.conn = nil
	s.accumulator.Reset()
	s.accumulator = nil
	s.vad = nil
	s.mu.Unlock()

	s.closed.Store(true)
	s.metrics.RecordSessionEnd()
	s.log().Debug().Msg("ASR closed")

	return nil
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
