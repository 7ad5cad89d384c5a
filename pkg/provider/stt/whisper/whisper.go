// Package whisper provides a buffered STT adapter for a batch whisper-server
// instance (POST /inference). It implements the stt.Provider and
// stt.Recognizer interfaces.
//
// The upstream recognizer has no streaming endpoint, so the adapter turns the
// one-shot transcription API into a low-latency utterance detector:
//
//   - A client audio chunk at or above the minimum size (~1 s of compressed
//     voice) is treated as a self-contained utterance file and submitted as
//     one synchronous transcription call.
//   - Smaller chunks accumulate in memory. A periodic sweep concatenates and
//     submits the accumulator once it crosses the minimum size, catching
//     clients that emit consistently undersized frames.
//
// Everything the adapter emits is final (IsFinal=true, Confidence=1.0); there
// are no interim transcripts in this mode. Undersized audio produces no
// transcript and no error.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/types"
)

const (
	defaultLanguage = "es"

	// defaultMinChunkBytes is the size below which a chunk is considered too
	// short to recognize — a design-level proxy for roughly one second of
	// compressed voice audio.
	defaultMinChunkBytes = 30 * 1024

	// defaultSweepInterval is how often the accumulator of undersized chunks
	// is inspected and, if large enough, submitted.
	defaultSweepInterval = 2 * time.Second

	// typicalLatency reflects batch inference: one utterance per round trip.
	typicalLatency = 1500 * time.Millisecond
)

// Compile-time assertions.
var (
	_ stt.Provider   = (*Provider)(nil)
	_ stt.Recognizer = (*recognizer)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper server
// (e.g., "base", "small"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent to the whisper server. Defaults to "es".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithMinChunkBytes sets the minimum chunk size submitted for recognition.
// Defaults to 30 kB.
func WithMinChunkBytes(n int) Option {
	return func(p *Provider) { p.minChunkBytes = n }
}

// WithSweepInterval sets the accumulator sweep period. Defaults to 2 s.
func WithSweepInterval(d time.Duration) Option {
	return func(p *Provider) { p.sweepInterval = d }
}

// WithJunkFilter sets the junk-phrase filter applied to recognition results.
// Defaults to stt.NewJunkFilter(nil).
func WithJunkFilter(f *stt.JunkFilter) Option {
	return func(p *Provider) { p.filter = f }
}

// Provider implements stt.Provider backed by a whisper-server HTTP endpoint.
type Provider struct {
	serverURL     string
	model         string
	language      string
	minChunkBytes int
	sweepInterval time.Duration
	filter        *stt.JunkFilter
	httpClient    *http.Client
}

// New creates a new Provider that connects to the whisper server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:     serverURL,
		language:      defaultLanguage,
		minChunkBytes: defaultMinChunkBytes,
		sweepInterval: defaultSweepInterval,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
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
	model := p.model
	if model == "" {
		model = "server-default"
	}
	return stt.Info{
		Name:           "whisper",
		Model:          model,
		Language:       p.language,
		TypicalLatency: typicalLatency,
	}
}

// NewRecognizer implements stt.Provider.
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

// ---- recognizer ----

// recognizer is a live buffered transcription session. All accumulator state
// is confined to the processLoop goroutine, so no additional locking is
// needed beyond the connected flag.
type recognizer struct {
	provider  *Provider
	sessionID string

	audio       chan []byte
	transcripts chan types.Transcript
	errs        chan error

	mu        sync.Mutex
	connected bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Connect probes the whisper server for reachability and starts the process
// loop. Any HTTP response counts as reachable; only transport-level failures
// reject the session.
func (r *recognizer) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return stt.ErrAlreadyConnected
	}
	r.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, stt.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.provider.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("whisper: probe request: %w", err)
	}
	resp, err := r.provider.httpClient.Do(req)
	if err != nil {
		if probeCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("whisper: probe: %w", stt.ErrConnectTimeout)
		}
		return fmt.Errorf("whisper: probe: %w: %v", stt.ErrProviderUnavailable, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.processLoop()

	return nil
}

// SendAudio queues one opaque audio chunk for recognition. Never blocks: when
// the process loop is stuck in a slow inference call and the queue is full,
// the oldest chunk is evicted so the freshest audio survives.
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
			// Queue full: drop the oldest chunk and retry.
		case <-r.done:
			return stt.ErrNotConnected
		}
	}
}

// Transcripts returns the transcript channel. Only finals are emitted.
func (r *recognizer) Transcripts() <-chan types.Transcript { return r.transcripts }

// Errors returns the error channel.
func (r *recognizer) Errors() <-chan error { return r.errs }

// Connected reports whether the session has been connected and not closed.
func (r *recognizer) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Info returns the provider metadata.
func (r *recognizer) Info() stt.Info { return r.provider.Info() }

// Close flushes the accumulator and releases resources. Idempotent.
func (r *recognizer) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		wasConnected := r.connected
		r.connected = false
		r.mu.Unlock()

		close(r.done)
		if wasConnected {
			r.wg.Wait()
		}
	})
	return nil
}

// processLoop is the single goroutine responsible for chunk accumulation,
// the periodic sweep, and inference dispatch.
func (r *recognizer) processLoop() {
	defer r.wg.Done()
	defer close(r.transcripts)
	defer close(r.errs)

	ticker := time.NewTicker(r.provider.sweepInterval)
	defer ticker.Stop()

	var accum []byte

	submitAccum := func(ctx context.Context) {
		if len(accum) < r.provider.minChunkBytes {
			return
		}
		buf := accum
		accum = nil
		r.submit(ctx, buf)
	}

	for {
		select {
		case <-r.done:
			// Final flush with a fresh context; the caller's teardown must
			// not truncate an utterance already worth transcribing.
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			submitAccum(ctx)
			cancel()
			return

		case chunk := <-r.audio:
			if len(chunk) >= r.provider.minChunkBytes {
				// Large enough to be a self-contained utterance file.
				r.submit(context.Background(), chunk)
				continue
			}
			accum = append(accum, chunk...)

		case <-ticker.C:
			submitAccum(context.Background())
		}
	}
}

// submit runs one synchronous transcription call and emits the result as a
// final transcript, unless the text is empty or junk.
func (r *recognizer) submit(ctx context.Context, audio []byte) {
	text, err := r.infer(ctx, audio)
	if err != nil {
		slog.Debug("whisper: inference failed", "session_id", r.sessionID, "bytes", len(audio), "err", err)
		select {
		case r.errs <- err:
		default:
		}
		return
	}
	if r.provider.filter.Junk(text) {
		return
	}

	select {
	case r.transcripts <- types.Transcript{Text: text, IsFinal: true, Confidence: 1.0}:
	case <-r.done:
	}
}

// infer POSTs the audio as multipart/form-data to the /inference endpoint and
// returns the transcribed text.
func (r *recognizer) infer(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.webm")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("whisper: write audio: %w", err)
	}
	if r.provider.language != "" {
		if err := mw.WriteField("language", r.provider.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if r.provider.model != "" {
		if err := mw.WriteField("model", r.provider.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.provider.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.provider.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
