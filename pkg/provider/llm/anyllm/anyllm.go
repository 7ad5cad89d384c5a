// Package anyllm provides a universal LLM adapter backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It implements the llm.Provider and llm.Client interfaces.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllm.WithSDKOptions(anyllmlib.WithAPIKey("sk-ant-...")))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

const clientNamePlaceholder = "{client_name}"

// Compile-time assertions.
var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Client   = (*Client)(nil)
)

// config holds optional configuration for the provider.
type config struct {
	sdkOpts        []anyllmlib.Option
	systemPrompt   string
	temperature    float64
	maxTokens      int
	costPerMTokens float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithSDKOptions forwards options to the underlying any-llm-go backend
// (e.g., anyllmlib.WithAPIKey, anyllmlib.WithBaseURL).
func WithSDKOptions(opts ...anyllmlib.Option) Option {
	return func(c *config) { c.sdkOpts = append(c.sdkOpts, opts...) }
}

// WithSystemPrompt sets the system prompt prepended to every conversation.
// The "{client_name}" placeholder is substituted per session.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature. Zero means provider default.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithMaxTokens caps the completion length. Zero means no cap.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithCostPerMTokens sets the approximate input price in USD per million
// tokens, surfaced through EstimateCost.
func WithCostPerMTokens(usd float64) Option {
	return func(c *config) { c.costPerMTokens = usd }
}

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend      anyllmlib.Provider
	providerName string
	model        string
	cfg          config
}

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// specific model to use (e.g., "gpt-4o", "claude-3-5-sonnet-latest").
//
// When no API key option is provided via WithSDKOptions, the backend falls
// back to its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName string, model string, opts ...Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}

	backend, err := createBackend(providerName, cfg.sdkOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{
		backend:      backend,
		providerName: strings.ToLower(providerName),
		model:        model,
		cfg:          cfg,
	}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Info implements llm.Provider.
func (p *Provider) Info() llm.Info {
	return llm.Info{
		Name:           "anyllm/" + p.providerName,
		Model:          p.model,
		CostPerMTokens: p.cfg.costPerMTokens,
	}
}

// NewClient implements llm.Provider.
func (p *Provider) NewClient(sessionID string) llm.Client {
	return &Client{provider: p, sessionID: sessionID}
}

// Client is a per-session conversation over an any-llm-go backend. It tracks
// at most one in-flight stream.
type Client struct {
	provider  *Provider
	sessionID string

	mu        sync.Mutex
	cancel    context.CancelFunc
	streamSeq uint64
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, history []types.Message, clientName string) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil, llm.ErrStreamInProgress
	}
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.streamSeq++
	seq := c.streamSeq
	c.mu.Unlock()

	params := c.buildParams(history, clientName)
	backendChunks, backendErrs := c.provider.backend.CompletionStream(streamCtx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer cancel()
		defer c.releaseStream(seq)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case ch <- llm.Chunk{Text: text}:
			case <-streamCtx.Done():
				return
			}
		}

		if err := <-backendErrs; err != nil {
			if streamCtx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			select {
			case ch <- llm.Chunk{Err: fmt.Errorf("anyllm: stream: %w", err)}:
			case <-streamCtx.Done():
			}
		}
	}()

	return ch, nil
}

// Cancel implements llm.Client. The stream slot is released synchronously so
// a Stream call racing the cancelled reader never sees ErrStreamInProgress.
func (c *Client) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	// Invalidate the reader's deferred release so it cannot clear a slot a
	// newer stream now owns.
	c.streamSeq++
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// EstimateCost implements llm.Client.
func (c *Client) EstimateCost(history []types.Message) float64 {
	return float64(llm.EstimateTokens(history)) * c.provider.cfg.costPerMTokens / 1e6
}

// Info implements llm.Client.
func (c *Client) Info() llm.Info { return c.provider.Info() }

// releaseStream frees the stream slot if it is still owned by stream seq.
func (c *Client) releaseStream(seq uint64) {
	c.mu.Lock()
	if c.streamSeq == seq {
		c.cancel = nil
	}
	c.mu.Unlock()
}

// buildParams converts a message history into anyllm CompletionParams,
// prepending the configured system prompt.
func (c *Client) buildParams(history []types.Message, clientName string) anyllmlib.CompletionParams {
	cfg := c.provider.cfg

	var messages []anyllmlib.Message
	if prompt := renderSystemPrompt(cfg.systemPrompt, clientName); prompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: prompt,
		})
	}
	for _, m := range history {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    c.provider.model,
		Messages: messages,
	}
	if cfg.temperature != 0 {
		t := cfg.temperature
		params.Temperature = &t
	}
	if cfg.maxTokens > 0 {
		mt := cfg.maxTokens
		params.MaxTokens = &mt
	}
	return params
}

func renderSystemPrompt(prompt, clientName string) string {
	if prompt == "" {
		return ""
	}
	if clientName != "" {
		return strings.ReplaceAll(prompt, clientNamePlaceholder, clientName)
	}
	prompt = strings.ReplaceAll(prompt, clientNamePlaceholder, "")
	return strings.Join(strings.Fields(prompt), " ")
}
