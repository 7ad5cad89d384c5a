// Package openai provides an LLM adapter backed by the OpenAI chat
// completions streaming API. It implements the llm.Provider and llm.Client
// interfaces.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

// clientNamePlaceholder in the system prompt is replaced with the session's
// client name when one is known.
const clientNamePlaceholder = "{client_name}"

// Compile-time assertions.
var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Client   = (*Client)(nil)
)

// config holds optional configuration for the provider.
type config struct {
	baseURL        string
	organization   string
	timeout        time.Duration
	systemPrompt   string
	temperature    float64
	maxTokens      int
	costPerMTokens float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Also used to point at
// OpenAI-compatible servers.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
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

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	cfg    config
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		cfg:    cfg,
	}, nil
}

// Info implements llm.Provider.
func (p *Provider) Info() llm.Info {
	return llm.Info{
		Name:           "openai",
		Model:          p.model,
		CostPerMTokens: p.cfg.costPerMTokens,
	}
}

// NewClient implements llm.Provider.
func (p *Provider) NewClient(sessionID string) llm.Client {
	return &Client{provider: p, sessionID: sessionID}
}

// Client is a per-session OpenAI conversation. It tracks at most one
// in-flight stream.
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

	stream := c.provider.client.Chat.Completions.NewStreaming(streamCtx, params)
	if err := stream.Err(); err != nil {
		c.releaseStream(seq)
		cancel()
		return nil, fmt.Errorf("openai: start stream: %w: %v", llm.ErrProviderUnavailable, err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer cancel()
		defer c.releaseStream(seq)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content == "" {
				continue
			}
			select {
			case ch <- llm.Chunk{Text: delta.Content}:
			case <-streamCtx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			// Cancellation is a clean close, not a failure.
			if streamCtx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			select {
			case ch <- llm.Chunk{Err: fmt.Errorf("openai: stream: %w", err)}:
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

// buildParams converts a message history into OpenAI SDK params, prepending
// the configured system prompt.
func (c *Client) buildParams(history []types.Message, clientName string) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if prompt := renderSystemPrompt(c.provider.cfg.systemPrompt, clientName); prompt != "" {
		messages = append(messages, oai.SystemMessage(prompt))
	}
	for _, m := range history {
		switch m.Role {
		case string(types.RoleAssistant):
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.provider.model),
		Messages: messages,
	}
	if c.provider.cfg.temperature != 0 {
		params.Temperature = param.NewOpt(c.provider.cfg.temperature)
	}
	if c.provider.cfg.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.provider.cfg.maxTokens))
	}
	return params
}

// renderSystemPrompt substitutes the client name placeholder. When no client
// name is known the placeholder and any orphaned surrounding whitespace are
// dropped.
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
