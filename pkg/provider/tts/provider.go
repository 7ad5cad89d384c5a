// Package tts defines the contract between the gateway and streaming
// text-to-speech backends.
//
// A Provider is constructed once at startup from configuration. Each voice
// session mints its own Synthesizer via NewSynthesizer; the Synthesizer owns
// the upstream streaming connection for the lifetime of the session and
// survives barge-in: Cancel discards the reply being synthesized without
// closing the connection, so the next reply starts without a reconnect
// penalty.
package tts

import (
	"context"
	"errors"
	"time"
)

// ConnectTimeout bounds how long Connect may take before failing with
// ErrConnectTimeout.
const ConnectTimeout = 5 * time.Second

// Sentinel errors returned by Synthesizer implementations.
var (
	// ErrProviderUnavailable indicates the upstream endpoint could not be
	// reached or rejected the connection.
	ErrProviderUnavailable = errors.New("tts: provider unavailable")

	// ErrConnectTimeout indicates Connect did not complete within
	// ConnectTimeout.
	ErrConnectTimeout = errors.New("tts: connect timed out")

	// ErrAlreadyConnected is returned by Connect on an already connected
	// synthesizer.
	ErrAlreadyConnected = errors.New("tts: already connected")

	// ErrNotConnected is returned by Synthesize before Connect or after Close.
	ErrNotConnected = errors.New("tts: not connected")
)

// Info describes a provider for logging and the session-ready handshake.
type Info struct {
	// Name is the short provider identifier, e.g. "elevenlabs".
	Name string
	// Model is the synthesis model in use.
	Model string
	// OutputFormat names the audio encoding of emitted chunks,
	// e.g. "pcm_16000".
	OutputFormat string
}

// Synthesizer is a per-session text-to-speech stream. Implementations are
// safe for concurrent use.
type Synthesizer interface {
	// Connect establishes the upstream synthesis stream. It fails with
	// ErrProviderUnavailable when the endpoint rejects the connection and
	// with ErrConnectTimeout after ConnectTimeout. Calling Connect on an
	// already connected synthesizer returns ErrAlreadyConnected.
	Connect(ctx context.Context) error

	// Synthesize submits one text fragment for synthesis. flush forces the
	// backend to render everything buffered so far, including fragments that
	// do not end at a natural boundary. Synthesize also clears the cancelled
	// state set by Cancel.
	Synthesize(text string, flush bool) error

	// AudioChunks returns the channel of synthesized audio. Closed by Close.
	AudioChunks() <-chan []byte

	// Completed signals once per finished reply, after the backend has
	// emitted the last audio chunk for everything submitted so far.
	Completed() <-chan struct{}

	// Errors returns the channel of asynchronous synthesis errors.
	Errors() <-chan error

	// Cancel discards the in-progress synthesis without closing the upstream
	// connection. Audio still in flight for the cancelled reply is dropped.
	// Safe to call at any time.
	Cancel()

	// Connected reports whether the upstream stream is open.
	Connected() bool

	// Info returns provider metadata.
	Info() Info

	// Close flushes and tears down the upstream stream. Idempotent.
	Close() error
}

// Provider mints per-session Synthesizers.
type Provider interface {
	// NewSynthesizer returns a Synthesizer bound to the given session and
	// voice. An empty voiceID selects the provider's configured default. The
	// returned Synthesizer performs no I/O until Connect is called.
	NewSynthesizer(sessionID, voiceID string) Synthesizer

	// Info returns provider metadata.
	Info() Info
}
