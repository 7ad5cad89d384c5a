// Package mock provides a test double for the tts.Provider and
// tts.Synthesizer interfaces.
//
// Use Synthesizer in unit tests to verify the text fragments the gateway
// submitted and to feed scripted audio without a live synthesis backend. All
// configurable fields are safe to set before Connect; mutating them during a
// concurrent call is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Flush bool
}

// NewSynthesizerCall records a single invocation of NewSynthesizer.
type NewSynthesizerCall struct {
	SessionID string
	VoiceID   string
}

// Provider is a mock implementation of tts.Provider. NewSynthesizer hands out
// the pre-built Synthesizers in order, falling back to fresh ones when the
// list runs dry.
type Provider struct {
	mu sync.Mutex

	// ProviderInfo is returned by Info.
	ProviderInfo tts.Info

	// Synthesizers are handed out by NewSynthesizer in order.
	Synthesizers []*Synthesizer

	// NewSynthesizerCalls records every invocation of NewSynthesizer.
	NewSynthesizerCalls []NewSynthesizerCall

	next int
}

// NewSynthesizer records the call and returns the next scripted Synthesizer.
func (p *Provider) NewSynthesizer(sessionID, voiceID string) tts.Synthesizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewSynthesizerCalls = append(p.NewSynthesizerCalls, NewSynthesizerCall{SessionID: sessionID, VoiceID: voiceID})
	if p.next < len(p.Synthesizers) {
		s := p.Synthesizers[p.next]
		p.next++
		return s
	}
	return NewSynthesizer()
}

// Info returns ProviderInfo.
func (p *Provider) Info() tts.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderInfo
}

// Synthesizer is a mock implementation of tts.Synthesizer. Tests push
// scripted audio with EmitAudio, signal reply completion with EmitCompleted,
// and read back submitted fragments via Calls.
type Synthesizer struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// SynthesizerInfo is returned by Info.
	SynthesizerInfo tts.Info

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// CancelCalls counts invocations of Cancel.
	CancelCalls int

	// ConnectCalls counts invocations of Connect.
	ConnectCalls int

	// CloseCalls counts invocations of Close.
	CloseCalls int

	audio     chan []byte
	completed chan struct{}
	errs      chan error
	connected bool
	cancelled bool
}

// NewSynthesizer returns a ready-to-use mock synthesizer with buffered
// channels.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{
		audio:     make(chan []byte, 256),
		completed: make(chan struct{}, 4),
		errs:      make(chan error, 8),
	}
}

// Connect records the call and marks the synthesizer connected unless
// ConnectErr is set.
func (s *Synthesizer) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCalls++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	if s.connected {
		return tts.ErrAlreadyConnected
	}
	s.connected = true
	return nil
}

// Synthesize records the call, clears the cancelled state, and returns
// SynthesizeErr.
func (s *Synthesizer) Synthesize(text string, flush bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return tts.ErrNotConnected
	}
	s.cancelled = false
	if s.SynthesizeErr != nil {
		return s.SynthesizeErr
	}
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Flush: flush})
	return nil
}

// Calls returns a copy of every recorded Synthesize invocation, in order.
func (s *Synthesizer) Calls() []SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SynthesizeCall, len(s.SynthesizeCalls))
	copy(out, s.SynthesizeCalls)
	return out
}

// Cancel records the call and sets the cancelled state.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCalls++
	s.cancelled = true
}

// Cancelled reports whether Cancel was called after the last Synthesize.
func (s *Synthesizer) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// EmitAudio pushes a scripted audio chunk to the AudioChunks channel.
func (s *Synthesizer) EmitAudio(pcm []byte) {
	s.audio <- pcm
}

// EmitCompleted pushes a scripted completion signal.
func (s *Synthesizer) EmitCompleted() {
	s.completed <- struct{}{}
}

// EmitError pushes a scripted error to the Errors channel.
func (s *Synthesizer) EmitError(err error) {
	s.errs <- err
}

// AudioChunks returns the scripted audio channel.
func (s *Synthesizer) AudioChunks() <-chan []byte { return s.audio }

// Completed returns the scripted completion channel.
func (s *Synthesizer) Completed() <-chan struct{} { return s.completed }

// Errors returns the scripted error channel.
func (s *Synthesizer) Errors() <-chan error { return s.errs }

// Connected reports whether Connect succeeded and Close has not been called.
func (s *Synthesizer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Info returns SynthesizerInfo.
func (s *Synthesizer) Info() tts.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SynthesizerInfo
}

// Close records the call, marks the synthesizer disconnected, and closes the
// audio and error channels on first call.
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if s.CloseCalls == 1 {
		close(s.audio)
		close(s.errs)
	}
	s.connected = false
	return nil
}

// Compile-time assertions.
var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.Synthesizer = (*Synthesizer)(nil)
)
