package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/resilience"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	inboundBuffer  = 64
)

// WSDialer dials backends over WebSocket, failing fast through a circuit
// breaker while the backend keeps refusing handshakes
type WSDialer struct {
	dialer  *websocket.Dialer
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewWSDialer creates a dialer. breaker may be nil.
func NewWSDialer(connectTimeout time.Duration, breaker *resilience.CircuitBreaker) *WSDialer {
	if breaker != nil && breaker.OnStateChange == nil {
		breaker.OnStateChange = func(name string, state resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(state))
		}
	}
	return &WSDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: connectTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		timeout: connectTimeout,
		breaker: breaker,
		logger:  observability.GetLogger().With().Str("component", "transport").Logger(),
	}
}

// Dial performs the WebSocket handshake
func (d *WSDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	var conn *WSConn

	dial := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		ws, resp, err := d.dialer.DialContext(dialCtx, req.URL, nil)
		if err != nil {
			if resp != nil {
				return fmt.Errorf("%w (status %d)", err, resp.StatusCode)
			}
			return err
		}
		conn = newWSConn(ws)
		return nil
	}

	d.logger.Debug().Interface("request", req).Msg("Websocket handshake")

	var err error
	if d.breaker != nil {
		err = d.breaker.Call(dial)
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(d.breaker.Name())
		}
	} else {
		err = dial()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket connect to %s: %w", req.URL, err)
	}

	return conn, nil
}

// WSConn is a Conn over a gorilla WebSocket. A single reader goroutine
// moves inbound frames into a buffered channel so Poll can wait with a
// timeout without poisoning the socket's read deadline.
type WSConn struct {
	ws      *websocket.Conn
	frames  chan Frame
	pending *Frame

	errMu   sync.Mutex
	readErr error

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *WSConn {
	c := &WSConn{
		ws:     ws,
		frames: make(chan Frame, inboundBuffer),
		done:   make(chan struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	// Pings are surfaced as frames instead of being answered automatically
	ws.SetPingHandler(func(appData string) error {
		select {
		case c.frames <- Frame{Op: OpPing, Payload: []byte(appData)}:
		case <-c.done:
		}
		return nil
	})

	go c.readLoop()
	return c
}

func (c *WSConn) readLoop() {
	defer close(c.frames)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}

		op := OpText
		if messageType == websocket.BinaryMessage {
			op = OpBinary
		}

		select {
		case c.frames <- Frame{Op: op, Payload: data}:
		case <-c.done:
			return
		}
	}
}

func (c *WSConn) err() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("websocket read: %w", c.readErr)
	}
	return ErrClosed
}

func (c *WSConn) write(messageType int, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// WriteBinary sends one binary frame
func (c *WSConn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

// WriteText sends one text frame
func (c *WSConn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// WritePong answers a ping with the same payload
func (c *WSConn) WritePong(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if err := c.ws.WriteControl(websocket.PongMessage, payload, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("websocket pong: %w", err)
	}
	return nil
}

// Poll waits at most timeout for an inbound frame
func (c *WSConn) Poll(timeout time.Duration) (bool, error) {
	if c.pending != nil {
		return true, nil
	}

	if timeout <= 0 {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return false, c.err()
			}
			c.pending = &f
			return true, nil
		default:
			return false, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-c.frames:
		if !ok {
			return false, c.err()
		}
		c.pending = &f
		return true, nil
	case <-timer.C:
		return false, nil
	case <-c.done:
		return false, ErrClosed
	}
}

// ReadFrame returns the next inbound frame
func (c *WSConn) ReadFrame() (Frame, error) {
	if c.pending != nil {
		f := *c.pending
		c.pending = nil
		return f, nil
	}

	select {
	case f, ok := <-c.frames:
		if !ok {
			return Frame{}, c.err()
		}
		return f, nil
	case <-c.done:
		return Frame{}, ErrClosed
	}
}

// Close sends a best-effort close frame and closes the socket without
// waiting for the peer's acknowledgment
func (c *WSConn) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
