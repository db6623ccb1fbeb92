// Package transport is the streaming connection to the transcription
// backend: binary audio out, text results and control frames in.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Opcode identifies the kind of an inbound frame
type Opcode int

const (
	OpText Opcode = iota + 1
	OpBinary
	OpPing
)

func (o Opcode) String() string {
	switch o {
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpPing:
		return "ping"
	default:
		return "unknown"
	}
}

// Frame is one inbound message
type Frame struct {
	Op      Opcode
	Payload []byte
}

// ErrClosed is returned by operations on a closed connection
var ErrClosed = errors.New("transport: connection closed")

// Conn is a bidirectional streaming connection to the backend.
// Writes are not safe for concurrent use and must be serialized by the caller.
type Conn interface {
	// WriteBinary sends one binary frame
	WriteBinary(data []byte) error

	// WriteText sends one text frame
	WriteText(data []byte) error

	// WritePong answers a ping with the same payload
	WritePong(payload []byte) error

	// Poll reports whether a frame can be read without blocking,
	// waiting at most timeout for one to arrive
	Poll(timeout time.Duration) (bool, error)

	// ReadFrame returns the next inbound frame, blocking until one arrives
	ReadFrame() (Frame, error)

	// Close tears the connection down without waiting for a close acknowledgment
	Close() error
}

// DialRequest carries the handshake parameters
type DialRequest struct {
	URL string `json:"url"`
}

// Dialer establishes backend connections
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}

type endOfStream struct {
	EOF string `json:"eof"`
}

// EOFMessage is the text frame that asks the backend for its final transcript
var EOFMessage = mustMarshal(endOfStream{EOF: "true"})

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Probe checks that a handshake with url succeeds, then hangs up
func Probe(ctx context.Context, dialer Dialer, url string) (bool, error) {
	conn, err := dialer.Dial(ctx, DialRequest{URL: url})
	if err != nil {
		return false, err
	}
	return true, conn.Close()
}
