// Package mock provides a test double for the llm.Provider and llm.Client
// interfaces.
//
// Use Client in unit tests to feed controlled reply streams into the gateway
// without a live model backend, and to verify the histories the orchestrator
// sent. All configurable fields are safe to set before the first call;
// mutating them during a concurrent call is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// History is the message slice passed to Stream.
	History []types.Message
	// ClientName is the client name passed to Stream.
	ClientName string
}

// Provider is a mock implementation of llm.Provider. NewClient hands out the
// pre-built Clients in order, falling back to fresh zero-value Clients when
// the list runs dry.
type Provider struct {
	mu sync.Mutex

	// ProviderInfo is returned by Info.
	ProviderInfo llm.Info

	// Clients are handed out by NewClient in order.
	Clients []*Client

	// NewClientCalls records every sessionID passed to NewClient.
	NewClientCalls []string

	next int
}

// NewClient records the call and returns the next scripted Client.
func (p *Provider) NewClient(sessionID string) llm.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewClientCalls = append(p.NewClientCalls, sessionID)
	if p.next < len(p.Clients) {
		c := p.Clients[p.next]
		p.next++
		return c
	}
	return &Client{}
}

// Info returns ProviderInfo.
func (p *Provider) Info() llm.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderInfo
}

// Client is a mock implementation of llm.Client.
// Zero values cause Stream to return an immediately closed channel.
type Client struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by Stream. All chunks are sent before the channel is closed.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from Stream instead of
	// opening a channel.
	StreamErr error

	// ChunkGate, if non-nil, is received from before each chunk is emitted.
	// Lets tests pace the stream and interleave barge-ins deterministically.
	ChunkGate chan struct{}

	// Cost is returned by EstimateCost.
	Cost float64

	// ClientInfo is returned by Info.
	ClientInfo llm.Info

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall

	// CancelCalls counts invocations of Cancel.
	CancelCalls int

	cancel context.CancelFunc
}

// Stream records the call and returns a channel that emits StreamChunks.
// The stream honors both ctx and Cancel.
func (c *Client) Stream(ctx context.Context, history []types.Message, clientName string) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	hist := make([]types.Message, len(history))
	copy(hist, history)
	c.StreamCalls = append(c.StreamCalls, StreamCall{History: hist, ClientName: clientName})
	if c.StreamErr != nil {
		err := c.StreamErr
		c.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(c.StreamChunks))
	copy(chunks, c.StreamChunks)
	gate := c.ChunkGate
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		defer cancel()
		for _, chunk := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-streamCtx.Done():
					return
				}
			}
			select {
			case ch <- chunk:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Calls returns a copy of every recorded Stream invocation, in order.
func (c *Client) Calls() []StreamCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StreamCall, len(c.StreamCalls))
	copy(out, c.StreamCalls)
	return out
}

// Cancel records the call and aborts the in-flight stream, if any.
func (c *Client) Cancel() {
	c.mu.Lock()
	c.CancelCalls++
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// EstimateCost returns Cost.
func (c *Client) EstimateCost(history []types.Message) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Cost
}

// Info returns ClientInfo.
func (c *Client) Info() llm.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ClientInfo
}

// Compile-time assertions.
var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Client   = (*Client)(nil)
)
