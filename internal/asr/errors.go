package asr

import "errors"

var (
	// ErrSetup is returned by Open when the session cannot be constructed
	ErrSetup = errors.New("asr: session setup failed")

	// ErrBreak signals a protocol I/O failure; the caller must stop feeding the session
	ErrBreak = errors.New("asr: transport break")

	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("asr: session closed")

	// ErrAlreadyClosed is returned by the second Close of a session
	ErrAlreadyClosed = errors.New("asr: session already closed")

	// ErrAlreadyDelivered is returned by GetResults once the final result was consumed
	ErrAlreadyDelivered = errors.New("asr: result already delivered")

	// ErrNoResults is returned by GetResults when nothing is pending
	ErrNoResults = errors.New("asr: no results to return")
)
