// Package elevenlabs provides an ElevenLabs-backed TTS adapter using the
// ElevenLabs stream-input WebSocket API. It implements the tts.Provider and
// tts.Synthesizer interfaces.
//
// One WebSocket is held open per session. Barge-in does not reconnect: Cancel
// forces the current generation out with a space-flush frame and drops its
// audio, leaving the socket ready for the next reply.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
	defaultVoiceID   = "21m00Tcm4TlvDq8ikWAM"

	// closeDrain is how long Close waits for trailing audio after the
	// end-of-stream frame before dropping the socket.
	closeDrain = 100 * time.Millisecond

	// cancelWriteTimeout bounds the asynchronous flush write in Cancel so a
	// stalled socket cannot pile up writer goroutines across barge-ins.
	cancelWriteTimeout = time.Second
)

// chunkLengthSchedule tunes how eagerly ElevenLabs starts generating audio:
// small first buckets keep time-to-first-audio low at a slight quality cost.
var chunkLengthSchedule = []int{120, 160, 250, 290}

// Compile-time assertions.
var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.Synthesizer = (*synthesizer)(nil)
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithDefaultVoice sets the voice used when a session requests none.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) { p.defaultVoice = voiceID }
}

// WithEndpoint overrides the stream-input endpoint format string. Primarily
// used in tests to point at a local mock server.
func WithEndpoint(format string) Option {
	return func(p *Provider) { p.endpointFmt = format }
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
	endpointFmt  string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		defaultVoice: defaultVoiceID,
		endpointFmt:  wsEndpointFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Info implements tts.Provider.
func (p *Provider) Info() tts.Info {
	return tts.Info{
		Name:         "elevenlabs",
		Model:        p.model,
		OutputFormat: p.outputFormat,
	}
}

// NewSynthesizer implements tts.Provider.
func (p *Provider) NewSynthesizer(sessionID, voiceID string) tts.Synthesizer {
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	return &synthesizer{
		provider:  p,
		sessionID: sessionID,
		voiceID:   voiceID,
		audio:     make(chan []byte, 256),
		completed: make(chan struct{}, 4),
		errs:      make(chan error, 8),
		done:      make(chan struct{}),
	}
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// generationConfig mirrors the ElevenLabs generation_config object.
type generationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

// bosMessage is the initial handshake frame that authenticates and configures
// the stream.
type bosMessage struct {
	Text             string            `json:"text"`
	VoiceSettings    *voiceSettings    `json:"voice_settings,omitempty"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
	XiAPIKey         string            `json:"xi_api_key"`
}

// textMessage is the frame sent for each text fragment.
type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
	Flush                bool   `json:"flush,omitempty"`
}

// audioResponse is the JSON frame received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ---- synthesizer ----

// synthesizer is a live ElevenLabs stream-input session.
type synthesizer struct {
	provider  *Provider
	sessionID string
	voiceID   string

	audio     chan []byte
	completed chan struct{}
	errs      chan error

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancelled bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Connect dials the stream-input endpoint and sends the begin-of-stream
// handshake. The dial is bounded by tts.ConnectTimeout.
func (s *synthesizer) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return tts.ErrAlreadyConnected
	}
	s.mu.Unlock()

	wsURL := fmt.Sprintf(s.provider.endpointFmt, s.voiceID, s.provider.model, s.provider.outputFormat)

	dialCtx, cancel := context.WithTimeout(ctx, tts.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		if dialCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("elevenlabs: dial: %w", tts.ErrConnectTimeout)
		}
		return fmt.Errorf("elevenlabs: dial: %w: %v", tts.ErrProviderUnavailable, err)
	}

	bos := bosMessage{
		Text: " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		GenerationConfig: &generationConfig{ChunkLengthSchedule: chunkLengthSchedule},
		XiAPIKey:         s.provider.apiKey,
	}
	bosBytes, _ := json.Marshal(bos)
	if err := conn.Write(dialCtx, websocket.MessageText, bosBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return fmt.Errorf("elevenlabs: send handshake: %w: %v", tts.ErrProviderUnavailable, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop()

	return nil
}

// Synthesize submits one text fragment. Clears a pending cancellation, so
// audio for the new reply flows again.
func (s *synthesizer) Synthesize(text string, flush bool) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return tts.ErrNotConnected
	}
	s.cancelled = false
	conn := s.conn
	s.mu.Unlock()

	// Empty text is the end-of-stream marker upstream; it must never go out
	// through Synthesize or the socket dies for the rest of the session. A
	// bare flush becomes a space-flush, the same frame Cancel uses.
	if text == "" {
		if !flush {
			return nil
		}
		text = " "
	}

	// The stream-input API treats a trailing space as a word boundary; text
	// without one can glue across fragments.
	if !strings.HasSuffix(text, " ") {
		text += " "
	}

	msg := textMessage{
		Text:                 text,
		TryTriggerGeneration: flush,
	}
	msgBytes, _ := json.Marshal(msg)
	if err := conn.Write(context.Background(), websocket.MessageText, msgBytes); err != nil {
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	return nil
}

// Cancel discards the in-progress reply. The connection stays open: a single
// space is flushed through the backend so the current generation terminates,
// and its audio is dropped until the next Synthesize call.
//
// Cancel never blocks. The cancelled flag set here is what fences out the
// stale audio; the flush frame is only an upstream nudge and goes out
// asynchronously with a bounded deadline.
func (s *synthesizer) Cancel() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	conn := s.conn
	s.mu.Unlock()

	go func() {
		msg := textMessage{Text: " ", Flush: true}
		msgBytes, _ := json.Marshal(msg)
		writeCtx, cancel := context.WithTimeout(context.Background(), cancelWriteTimeout)
		defer cancel()
		_ = conn.Write(writeCtx, websocket.MessageText, msgBytes)
	}()
}

// AudioChunks returns the synthesized audio channel.
func (s *synthesizer) AudioChunks() <-chan []byte { return s.audio }

// Completed returns the per-reply completion signal channel.
func (s *synthesizer) Completed() <-chan struct{} { return s.completed }

// Errors returns the error channel.
func (s *synthesizer) Errors() <-chan error { return s.errs }

// Connected reports whether the upstream socket is open.
func (s *synthesizer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Info returns the provider metadata.
func (s *synthesizer) Info() tts.Info { return s.provider.Info() }

// Close sends the end-of-stream frame, drains trailing audio briefly, and
// tears the session down. Idempotent.
func (s *synthesizer) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		conn := s.conn
		wasConnected := s.connected
		s.connected = false
		s.mu.Unlock()

		if conn != nil {
			// Empty text is the stream-input end-of-stream marker.
			eos, _ := json.Marshal(textMessage{Text: ""})
			_ = conn.Write(context.Background(), websocket.MessageText, eos)
			time.Sleep(closeDrain)
		}

		close(s.done)
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "session closed")
			if wasConnected {
				s.wg.Wait()
			}
		} else {
			close(s.audio)
			close(s.errs)
		}
	})
	return nil
}

// readLoop receives frames and dispatches audio, completion signals, and
// errors. Audio received while cancelled is dropped.
func (s *synthesizer) readLoop() {
	defer s.wg.Done()
	defer close(s.audio)
	defer close(s.errs)

	ctx := context.Background()
	for {
		typ, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Normal teardown.
			default:
				s.emitErr(fmt.Errorf("elevenlabs: read: %w", err))
			}
			return
		}

		// Some output formats arrive as raw binary frames.
		if typ == websocket.MessageBinary {
			s.deliverAudio(msg)
			continue
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			s.emitErr(fmt.Errorf("elevenlabs: upstream error: %s: %s", resp.Error, resp.Message))
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				s.deliverAudio(pcm)
			}
		}
		if resp.IsFinal {
			s.mu.Lock()
			cancelled := s.cancelled
			s.mu.Unlock()
			if !cancelled {
				select {
				case s.completed <- struct{}{}:
				default:
				}
			}
		}
	}
}

// deliverAudio forwards one audio chunk unless the current reply was
// cancelled.
func (s *synthesizer) deliverAudio(pcm []byte) {
	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		return
	}
	select {
	case s.audio <- pcm:
	case <-s.done:
	}
}

// emitErr delivers err to the error channel unless teardown is in progress.
func (s *synthesizer) emitErr(err error) {
	select {
	case s.errs <- err:
	case <-s.done:
	default:
	}
}
