package llm

import (
	"testing"

	"github.com/voxgate/voxgate/pkg/types"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	if got := EstimateTokens(nil); got != 0 {
		t.Errorf("EstimateTokens(nil) = %d, want 0", got)
	}

	msgs := []types.Message{
		{Role: "user", Content: "hola"},          // 1 token + 4 overhead
		{Role: "assistant", Content: "12345678"}, // 2 tokens + 4 overhead
	}
	if got := EstimateTokens(msgs); got != 11 {
		t.Errorf("EstimateTokens = %d, want 11", got)
	}
}
