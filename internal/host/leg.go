// Package host exposes recognition sessions to a media host over a
// WebSocket: one connection per call leg, control messages as JSON text
// frames and audio as binary frames.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-bridge/internal/asr"
	"github.com/lexiqai/speech-bridge/internal/audio"
	"github.com/lexiqai/speech-bridge/internal/config"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/transport"
)

const (
	// How often timers are evaluated while the host sends no audio
	checkInterval = 20 * time.Millisecond
	writeWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Media hosts connect from the private network
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Leg holds the state of one call leg
type Leg struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	// Serializes CheckResults/GetResults pairs between the audio path and the ticker
	pumpMu sync.Mutex

	mu      sync.Mutex
	session *asr.Session
	inCodec string
	inRate  int

	store  *config.Store
	dialer transport.Dialer

	correlationID string
	logger        zerolog.Logger

	done chan struct{}
}

// NewLeg wraps an upgraded host connection
func NewLeg(conn *websocket.Conn, store *config.Store, dialer transport.Dialer) *Leg {
	correlationID := observability.NewCorrelationID()
	return &Leg{
		conn:          conn,
		store:         store,
		dialer:        dialer,
		correlationID: correlationID,
		logger:        observability.WithCorrelationID(correlationID).With().Str("component", "host").Logger(),
		done:          make(chan struct{}),
	}
}

// Handler is the entry point for media host WebSocket connections
func Handler(store *config.Store, dialer transport.Dialer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("Failed to upgrade host connection")
			return
		}
		defer conn.Close()

		leg := NewLeg(conn, store, dialer)
		leg.logger.Info().Str("remote", r.RemoteAddr).Msg("Host connected")

		go leg.watchTimers()
		leg.processIncomingMessages(r.Context())

		leg.logger.Info().Msg("Host disconnected")
	}
}

// processIncomingMessages reads host frames until the connection ends
func (l *Leg) processIncomingMessages(ctx context.Context) {
	defer func() {
		close(l.done)
		l.closeSession()
	}()

	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.logger.Warn().Err(err).Msg("Host read error")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if !l.handleAudio(data) {
				return
			}
		case websocket.TextMessage:
			if !l.handleControl(ctx, data) {
				return
			}
		}
	}
}

// handleControl applies one control message. It returns false when the
// leg should end.
func (l *Leg) handleControl(ctx context.Context, data []byte) bool {
	msg, err := DecodeControl(data)
	if err != nil {
		l.logger.Error().Err(err).Msg("Bad control message")
		l.sendError(err)
		return true
	}

	if msg.Type == MsgOpen {
		l.open(ctx, msg)
		return true
	}

	session := l.current()
	if session == nil {
		l.sendError(fmt.Errorf("%s before open", msg.Type))
		return true
	}

	switch msg.Type {
	case MsgParam:
		err = session.SetParameter(msg.Name, msg.Value)
	case MsgStartInputTimers:
		err = session.StartInputTimers()
	case MsgPause:
		err = session.Pause()
	case MsgResume:
		err = session.Resume()
	case MsgLoadGrammar:
		err = session.LoadGrammar(msg.Grammar, msg.Name)
	case MsgUnloadGrammar:
		err = session.UnloadGrammar(msg.Name)
	case MsgClose:
		l.closeSession()
		l.send(OutboundMessage{Type: "closed", SessionID: session.ID()})
		return false
	default:
		l.logger.Warn().Str("type", msg.Type).Msg("Unknown control message")
		return true
	}

	if err != nil {
		l.sendError(err)
	}
	return true
}

func (l *Leg) open(ctx context.Context, msg *ControlMessage) {
	l.mu.Lock()
	existing := l.session
	l.mu.Unlock()
	if existing != nil {
		l.sendError(errors.New("session already open"))
		return
	}
	if !audio.SupportedCodec(msg.Codec) {
		l.sendError(fmt.Errorf("unsupported codec %q", msg.Codec))
		return
	}

	session, err := asr.Open(ctx, l.store.Current(), asr.OpenRequest{
		Codec:       msg.Codec,
		Rate:        msg.Rate,
		Destination: msg.Destination,
		AutoResume:  msg.AutoResume,
		ChannelID:   msg.ChannelUUID,
	}, asr.Deps{Dialer: l.dialer})
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to open session")
		l.sendError(err)
		return
	}

	for name, value := range msg.Params {
		_ = session.SetParameter(name, value)
	}

	l.mu.Lock()
	l.session = session
	l.inCodec = msg.Codec
	l.inRate = msg.Rate
	l.mu.Unlock()

	l.logger.Info().
		Str("session_id", session.ID()).
		Str("codec", msg.Codec).
		Int("rate", msg.Rate).
		Msg("Session opened")

	l.send(OutboundMessage{
		Type:      "opened",
		SessionID: session.ID(),
		Codec:     session.Codec(),
		Rate:      session.Rate(),
	})
}

// handleAudio converts one host audio frame to session PCM and feeds it.
// It returns false when the session broke.
func (l *Leg) handleAudio(data []byte) bool {
	l.mu.Lock()
	session := l.session
	inCodec := l.inCodec
	inRate := l.inRate
	l.mu.Unlock()

	if session == nil {
		l.logger.Debug().Int("bytes", len(data)).Msg("Audio before open, dropping")
		return true
	}

	pcm, err := toSessionPCM(data, inCodec, inRate, session.Rate())
	if err != nil {
		l.logger.Warn().Err(err).Msg("Dropping audio frame")
		return true
	}

	if err := session.Feed(pcm); err != nil {
		if errors.Is(err, asr.ErrBreak) {
			l.logger.Error().Err(err).Msg("Backend stream broke")
			l.sendError(err)
			l.closeSession()
			return false
		}
		if errors.Is(err, asr.ErrClosed) {
			return false
		}
		l.sendError(err)
		return true
	}

	l.pump(session)
	return true
}

// toSessionPCM decodes the host codec and downsamples rates above the session rate
func toSessionPCM(data []byte, codec string, inRate, outRate int) ([]byte, error) {
	pcm, err := audio.ToLinear16(data, codec)
	if err != nil {
		return nil, err
	}
	if inRate > outRate {
		return audio.ResamplePCM(pcm, inRate, outRate)
	}
	return pcm, nil
}

// pump delivers everything the session has ready
func (l *Leg) pump(session *asr.Session) {
	l.pumpMu.Lock()
	defer l.pumpMu.Unlock()

	for {
		if session.CheckResults() != asr.CheckPending {
			return
		}

		res, err := session.GetResults()
		if err != nil {
			l.logger.Warn().Err(err).Msg("Get results failed")
			return
		}

		l.send(OutboundMessage{
			Type:      "result",
			SessionID: session.ID(),
			Kind:      res.Kind.String(),
			Payload:   res.Payload,
		})
	}
}

// watchTimers lets no-input and speech timeouts fire while the host is quiet
func (l *Leg) watchTimers() {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if session := l.current(); session != nil {
				l.pump(session)
			}
		case <-l.done:
			return
		}
	}
}

func (l *Leg) current() *asr.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

func (l *Leg) closeSession() {
	l.mu.Lock()
	session := l.session
	l.session = nil
	l.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.Close(); err != nil && !errors.Is(err, asr.ErrAlreadyClosed) {
		l.logger.Warn().Err(err).Msg("Session close failed")
	}
}

func (l *Leg) sendError(err error) {
	l.send(OutboundMessage{Type: "error", Error: err.Error()})
}

// send writes one message to the host; writes are serialized
func (l *Leg) send(msg OutboundMessage) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteJSON(msg); err != nil {
		l.logger.Debug().Err(err).Str("type", msg.Type).Msg("Host write failed")
	}
}
