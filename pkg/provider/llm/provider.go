// Package llm defines the contract between the gateway and streaming language
// model backends.
//
// A Provider is constructed once at startup from configuration and validates
// its credentials up front. Each voice session then mints its own Client via
// NewClient; the Client carries the per-session generation state (the
// in-flight stream and its cancel function) so that sessions never share
// mutable state.
package llm

import (
	"context"
	"errors"

	"github.com/voxgate/voxgate/pkg/types"
)

// Sentinel errors returned by Client implementations.
var (
	// ErrStreamInProgress is returned by Stream when a previous stream for the
	// same client has not finished and has not been cancelled.
	ErrStreamInProgress = errors.New("llm: stream already in progress")

	// ErrProviderUnavailable indicates the backend rejected or dropped the
	// request at the transport level.
	ErrProviderUnavailable = errors.New("llm: provider unavailable")
)

// Info describes a provider for logging and the session-ready handshake.
type Info struct {
	// Name is the short provider identifier, e.g. "openai" or "anyllm".
	Name string
	// Model is the model identifier requests are sent to.
	Model string
	// CostPerMTokens is the approximate input price in USD per million
	// tokens, used by EstimateCost. Zero when unknown.
	CostPerMTokens float64
}

// Chunk is one streamed increment of a model reply. Exactly one of Text or
// Err is meaningful; a Chunk with a non-nil Err is the last one sent before
// the channel closes.
type Chunk struct {
	Text string
	Err  error
}

// Client is a per-session language model conversation. Implementations are
// safe for concurrent use.
type Client interface {
	// Stream starts one streaming completion over the given history and
	// returns a channel of reply increments. The channel is closed when the
	// reply completes, the context is cancelled, or Cancel is called.
	// clientName, when non-empty, personalizes the system prompt.
	//
	// Cancellation via Cancel or ctx is a clean termination: the channel
	// closes without an Err chunk.
	Stream(ctx context.Context, history []types.Message, clientName string) (<-chan Chunk, error)

	// Cancel aborts the in-flight stream, if any. It is safe to call at any
	// time, including when no stream is running.
	Cancel()

	// EstimateCost approximates the input cost in USD of sending history to
	// the model. Used for debug logging only; accuracy is not a contract.
	EstimateCost(history []types.Message) float64

	// Info returns provider metadata.
	Info() Info
}

// Provider mints per-session Clients.
type Provider interface {
	// NewClient returns a Client bound to the given session. The returned
	// Client performs no I/O until Stream is called.
	NewClient(sessionID string) Client

	// Info returns provider metadata.
	Info() Info
}

// EstimateTokens approximates the token count of a message history using the
// ~4 characters per token heuristic, plus per-message formatting overhead.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
