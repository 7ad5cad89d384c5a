// Package mock provides a test double for the stt.Provider and stt.Recognizer
// interfaces.
//
// Use Recognizer in unit tests to feed scripted transcripts and errors into
// the gateway without a live recognition backend, and to verify the audio the
// orchestrator forwarded. All configurable fields are safe to set before
// Connect; mutating them during a concurrent call is the caller's
// responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/types"
)

// Provider is a mock implementation of stt.Provider. NewRecognizer hands out
// the pre-built Recognizers in order, falling back to fresh zero-value
// Recognizers when the list runs dry.
type Provider struct {
	mu sync.Mutex

	// ProviderInfo is returned by Info.
	ProviderInfo stt.Info

	// Recognizers are handed out by NewRecognizer in order.
	Recognizers []*Recognizer

	// NewRecognizerCalls records every sessionID passed to NewRecognizer.
	NewRecognizerCalls []string

	next int
}

// NewRecognizer records the call and returns the next scripted Recognizer.
func (p *Provider) NewRecognizer(sessionID string) stt.Recognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewRecognizerCalls = append(p.NewRecognizerCalls, sessionID)
	if p.next < len(p.Recognizers) {
		r := p.Recognizers[p.next]
		p.next++
		return r
	}
	return NewRecognizer()
}

// Info returns ProviderInfo.
func (p *Provider) Info() stt.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderInfo
}

// Recognizer is a mock implementation of stt.Recognizer. Tests push scripted
// transcripts with EmitTranscript and errors with EmitError, and read back the
// audio the code under test sent via SentAudio.
type Recognizer struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// RecognizerInfo is returned by Info.
	RecognizerInfo stt.Info

	// ConnectCalls counts invocations of Connect.
	ConnectCalls int

	// CloseCalls counts invocations of Close.
	CloseCalls int

	audio       [][]byte
	transcripts chan types.Transcript
	errs        chan error
	connected   bool
}

// NewRecognizer returns a ready-to-use mock recognizer with buffered
// transcript and error channels.
func NewRecognizer() *Recognizer {
	return &Recognizer{
		transcripts: make(chan types.Transcript, 64),
		errs:        make(chan error, 8),
	}
}

// Connect records the call and marks the recognizer connected unless
// ConnectErr is set.
func (r *Recognizer) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ConnectCalls++
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	if r.connected {
		return stt.ErrAlreadyConnected
	}
	r.connected = true
	return nil
}

// SendAudio records the chunk and returns SendAudioErr.
func (r *Recognizer) SendAudio(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return stt.ErrNotConnected
	}
	if r.SendAudioErr != nil {
		return r.SendAudioErr
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	r.audio = append(r.audio, buf)
	return nil
}

// SentAudio returns a copy of every chunk passed to SendAudio, in order.
func (r *Recognizer) SentAudio() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.audio))
	copy(out, r.audio)
	return out
}

// EmitTranscript pushes a scripted transcript to the Transcripts channel.
func (r *Recognizer) EmitTranscript(t types.Transcript) {
	r.transcripts <- t
}

// EmitError pushes a scripted error to the Errors channel.
func (r *Recognizer) EmitError(err error) {
	r.errs <- err
}

// Transcripts returns the scripted transcript channel.
func (r *Recognizer) Transcripts() <-chan types.Transcript { return r.transcripts }

// Errors returns the scripted error channel.
func (r *Recognizer) Errors() <-chan error { return r.errs }

// Connected reports whether Connect succeeded and Close has not been called.
func (r *Recognizer) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Info returns RecognizerInfo.
func (r *Recognizer) Info() stt.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RecognizerInfo
}

// Close records the call, marks the recognizer disconnected, and closes the
// transcript and error channels on first call.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCalls++
	if r.CloseCalls == 1 {
		close(r.transcripts)
		close(r.errs)
	}
	r.connected = false
	return nil
}

// Compile-time assertions.
var (
	_ stt.Provider   = (*Provider)(nil)
	_ stt.Recognizer = (*Recognizer)(nil)
)
