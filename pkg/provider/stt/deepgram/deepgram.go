// Package deepgram provides a Deepgram-backed STT adapter using the Deepgram
// streaming WebSocket API. It implements the stt.Provider and stt.Recognizer
// interfaces.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "es"

	// typicalLatency is the interim-transcript latency Deepgram advertises
	// for the nova models, reported via Info for the ready handshake.
	typicalLatency = 300 * time.Millisecond
)

// Compile-time assertions.
var (
	_ stt.Provider   = (*Provider)(nil)
	_ stt.Recognizer = (*recognizer)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "es", "en-US").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the streaming endpoint URL. Primarily used in tests
// to point at a local mock server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithJunkFilter sets the junk-phrase filter applied to recognition results.
// Defaults to stt.NewJunkFilter(nil).
func WithJunkFilter(f *stt.JunkFilter) Option {
	return func(p *Provider) { p.filter = f }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
// It is constructed once at startup and mints one recognizer per session.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	filter   *stt.JunkFilter
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	if p.filter == nil {
		p.filter = stt.NewJunkFilter(nil)
	}
	return p, nil
}

// Info implements stt.Provider.
func (p *Provider) Info() stt.Info {
	return stt.Info{
		Name:           "deepgram",
		Model:          p.model,
		Language:       p.language,
		TypicalLatency: typicalLatency,
	}
}

// NewRecognizer implements stt.Provider. The returned recognizer performs no
// I/O until Connect is called.
func (p *Provider) NewRecognizer(sessionID string) stt.Recognizer {
	return &recognizer{
		provider:    p,
		sessionID:   sessionID,
		audio:       make(chan []byte, 256),
		transcripts: make(chan types.Transcript, 64),
		errs:        make(chan error, 8),
		done:        make(chan struct{}),
	}
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- recognizer ----

// deepgramResponse is the JSON structure Deepgram sends over the socket.
// Type is one of "Results", "UtteranceEnd", "Metadata", "Warning", "Error".
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// recognizer is a live Deepgram streaming session. It implements
// stt.Recognizer.
type recognizer struct {
	provider  *Provider
	sessionID string

	audio       chan []byte
	transcripts chan types.Transcript
	errs        chan error

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Connect dials the Deepgram streaming endpoint and starts the read and
// write loops. The dial is bounded by stt.ConnectTimeout.
func (r *recognizer) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return stt.ErrAlreadyConnected
	}
	r.mu.Unlock()

	wsURL, err := r.provider.buildURL()
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.provider.apiKey)

	dialCtx, cancel := context.WithTimeout(ctx, stt.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if dialCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("deepgram: dial: %w", stt.ErrConnectTimeout)
		}
		return fmt.Errorf("deepgram: dial: %w: %v", stt.ErrProviderUnavailable, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.connected = true
	r.mu.Unlock()

	r.wg.Add(2)
	go r.readLoop()
	go r.writeLoop()

	return nil
}

// SendAudio queues one client audio frame for delivery to Deepgram. The frame
// is forwarded verbatim; the queue decouples the caller from upstream I/O.
// Never blocks: when the write loop has stalled and the queue is full, the
// oldest frame is evicted so the freshest audio survives.
func (r *recognizer) SendAudio(chunk []byte) error {
	r.mu.Lock()
	connected := r.connected
	r.mu.Unlock()
	if !connected {
		return stt.ErrNotConnected
	}
	for {
		select {
		case r.audio <- chunk:
			return nil
		case <-r.done:
			return stt.ErrNotConnected
		default:
		}
		select {
		case r.audio <- chunk:
			return nil
		case <-r.audio:
			// Queue full: drop the oldest frame and retry.
		case <-r.done:
			return stt.ErrNotConnected
		}
	}
}

// Transcripts returns the transcript channel.
func (r *recognizer) Transcripts() <-chan types.Transcript { return r.transcripts }

// Errors returns the error channel.
func (r *recognizer) Errors() <-chan error { return r.errs }

// Connected reports whether the upstream socket is open.
func (r *recognizer) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Info returns the provider metadata.
func (r *recognizer) Info() stt.Info { return r.provider.Info() }

// Close flushes pending audio upstream and tears the session down. Idempotent.
func (r *recognizer) Close() error {
	r.once.Do(func() {
		close(r.done)

		r.mu.Lock()
		conn := r.conn
		r.connected = false
		r.mu.Unlock()

		if conn != nil {
			// Ask Deepgram to flush pending audio before closing.
			_ = conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
			r.wg.Wait()
			conn.Close(websocket.StatusNormalClosure, "session closed")
		}
	})
	return nil
}

// writeLoop forwards queued audio frames to Deepgram as binary messages.
func (r *recognizer) writeLoop() {
	defer r.wg.Done()
	ctx := context.Background()
	for {
		select {
		case chunk := <-r.audio:
			if err := r.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-r.done:
			// Drain whatever the client managed to enqueue before close.
			for {
				select {
				case chunk := <-r.audio:
					_ = r.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives Deepgram messages and dispatches transcripts and errors.
func (r *recognizer) readLoop() {
	defer r.wg.Done()
	defer close(r.transcripts)
	defer close(r.errs)

	ctx := context.Background()
	for {
		_, msg, err := r.conn.Read(ctx)
		if err != nil {
			select {
			case <-r.done:
				// Normal teardown.
			default:
				r.emitErr(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		t, upstreamErr, ok := r.parse(msg)
		if upstreamErr != nil {
			r.emitErr(upstreamErr)
			continue
		}
		if !ok {
			continue
		}

		select {
		case r.transcripts <- t:
		case <-r.done:
			return
		}
	}
}

// parse interprets one raw Deepgram message. It returns a transcript and
// ok=true for Results messages carrying usable text, an error for Error
// messages, and ok=false for everything else (UtteranceEnd, Metadata,
// Warning, empty or junk text).
func (r *recognizer) parse(data []byte) (types.Transcript, error, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, nil, false
	}

	switch resp.Type {
	case "Error":
		msg := resp.Description
		if msg == "" {
			msg = resp.Message
		}
		return types.Transcript{}, fmt.Errorf("deepgram: upstream error: %s", msg), false
	case "Results":
	default:
		// UtteranceEnd, Metadata, Warning: nothing to surface.
		return types.Transcript{}, nil, false
	}

	if len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, nil, false
	}
	alt := resp.Channel.Alternatives[0]
	if r.provider.filter.Junk(alt.Transcript) {
		return types.Transcript{}, nil, false
	}

	return types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
	}, nil, true
}

// emitErr delivers err to the error channel unless teardown is in progress.
func (r *recognizer) emitErr(err error) {
	select {
	case r.errs <- err:
	case <-r.done:
	default:
	}
}
