package audio

import (
	"bytes"
	"sync"
)

// DefaultBlockSize is 100ms of 16-bit mono audio at 16kHz
const DefaultBlockSize = 3200

// Accumulator coalesces small audio frames into fixed-size blocks
// before they are sent to the transcription backend
type Accumulator struct {
	buf       bytes.Buffer
	blockSize int
	mu        sync.Mutex
}

// NewAccumulator creates an accumulator that drains blocks of blockSize bytes
func NewAccumulator(blockSize int) *Accumulator {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	acc := &Accumulator{blockSize: blockSize}
	acc.buf.Grow(blockSize * 2)
	return acc
}

// Append adds a frame to the end of the buffer
func (a *Accumulator) Append(frame []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Write(frame)
}

// DrainBlock removes exactly one block from the front of the buffer.
// It returns false unless more than one block is buffered.
func (a *Accumulator) DrainBlock() ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buf.Len() <= a.blockSize {
		return nil, false
	}

	block := make([]byte, a.blockSize)
	n, _ := a.buf.Read(block)
	return block[:n], true
}

// Len returns the number of buffered bytes
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}

// BlockSize returns the configured block size
func (a *Accumulator) BlockSize() int {
	return a.blockSize
}

// Reset discards all buffered audio
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset()
}
