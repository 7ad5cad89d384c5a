// Package stt defines the Recognizer contract for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram's streaming
// WebSocket API or a batch whisper server) and exposes a uniform per-session
// interface: once connected, a Recognizer accepts opaque audio frames and
// emits Transcript values on a single bounded channel — low-latency partials
// for responsiveness and authoritative finals that drive the reply pipeline.
//
// Each Recognizer is exclusively owned by one session; a Provider is the
// process-wide factory that mints them. Implementations must be safe for
// concurrent use: audio input and transcript output are goroutine-safe by
// construction.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/voxgate/voxgate/pkg/types"
)

// ConnectTimeout is the maximum time a Recognizer may spend establishing its
// upstream connection before Connect fails with ErrConnectTimeout.
const ConnectTimeout = 5 * time.Second

var (
	// ErrProviderUnavailable indicates the upstream recognizer rejected the
	// connection (authentication or reachability failure).
	ErrProviderUnavailable = errors.New("stt: provider unavailable")

	// ErrConnectTimeout indicates Connect did not complete within ConnectTimeout.
	ErrConnectTimeout = errors.New("stt: connect timed out")

	// ErrAlreadyConnected is returned by Connect on a connected Recognizer.
	ErrAlreadyConnected = errors.New("stt: recognizer already connected")

	// ErrNotConnected is returned by SendAudio before Connect or after Close.
	ErrNotConnected = errors.New("stt: recognizer not connected")
)

// Info describes a recognizer backend for the ready handshake and logging.
type Info struct {
	// Name is the provider name (e.g., "deepgram", "whisper").
	Name string

	// Model is the recognition model in use.
	Model string

	// Language is the BCP-47 language tag configured for recognition.
	Language string

	// TypicalLatency is the expected transcript latency for this backend.
	TypicalLatency time.Duration
}

// Recognizer is an STT adapter bound to a single session.
//
// The transcript channel is the single sink for recognition results; the
// error channel is the single sink for upstream failures. Both are closed
// when the recognizer shuts down. Callers must call Close when the session
// ends; failing to do so leaks goroutines and network connections.
type Recognizer interface {
	// Connect establishes upstream resources. It blocks until the backend
	// acknowledges the stream or the ConnectTimeout deadline passes.
	// A second Connect on a connected Recognizer returns ErrAlreadyConnected.
	Connect(ctx context.Context) error

	// SendAudio accepts one opaque audio frame from the client. It enqueues
	// without blocking on upstream I/O and must be callable at the client's
	// frame cadence (10–20 Hz).
	SendAudio(chunk []byte) error

	// Transcripts returns the read-only transcript channel. Transcripts for a
	// session arrive in utterance order. Empty or junk-phrase recognitions
	// are suppressed before they reach this channel.
	Transcripts() <-chan types.Transcript

	// Errors returns the read-only error channel.
	Errors() <-chan error

	// Connected reports whether the recognizer currently holds an upstream
	// connection.
	Connected() bool

	// Info returns static metadata about the backend.
	Info() Info

	// Close flushes in-flight work and releases all resources. Idempotent.
	Close() error
}

// Provider mints per-session Recognizers. The Provider itself is constructed
// once from configuration and validated at startup; NewRecognizer is cheap
// and performs no I/O (the connection is made by Connect).
type Provider interface {
	// NewRecognizer creates an unconnected Recognizer for the given session.
	NewRecognizer(sessionID string) Recognizer

	// Info returns static metadata about the backend.
	Info() Info
}
