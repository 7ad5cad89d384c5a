package openai

import (
	"testing"

	"github.com/voxgate/voxgate/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("New with empty apiKey should fail")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("New with empty model should fail")
	}
}

func TestRenderSystemPrompt(t *testing.T) {
	t.Parallel()

	const tmpl = "Eres el asistente de {client_name} y respondes en una frase."

	if got := renderSystemPrompt(tmpl, "Acme"); got != "Eres el asistente de Acme y respondes en una frase." {
		t.Errorf("with client name: %q", got)
	}
	if got := renderSystemPrompt(tmpl, ""); got != "Eres el asistente de y respondes en una frase." {
		t.Errorf("without client name: %q", got)
	}
	if got := renderSystemPrompt("", "Acme"); got != "" {
		t.Errorf("empty template: %q", got)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini",
		WithSystemPrompt("Atiende a {client_name}."),
		WithTemperature(0.3),
		WithMaxTokens(256),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := p.NewClient("sess-1").(*Client)

	history := []types.Message{
		{Role: "user", Content: "hola"},
		{Role: "assistant", Content: "buenas"},
		{Role: "user", Content: "quiero una cita"},
	}
	params := c.buildParams(history, "Acme")

	// System prompt plus the three history turns.
	if got := len(params.Messages); got != 4 {
		t.Fatalf("len(Messages) = %d, want 4", got)
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("Model = %q", params.Model)
	}
	if got := params.Temperature.Or(0); got != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", got)
	}
	if got := params.MaxCompletionTokens.Or(0); got != 256 {
		t.Errorf("MaxCompletionTokens = %v, want 256", got)
	}
}

func TestCancel_ReleasesStreamSlot(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := p.NewClient("sess-1").(*Client)

	var aborted bool
	c.mu.Lock()
	c.cancel = func() { aborted = true }
	c.streamSeq++
	staleSeq := c.streamSeq
	c.mu.Unlock()

	// Cancel must abort the stream AND free the slot synchronously, so a
	// reply starting right after a barge-in never sees ErrStreamInProgress.
	c.Cancel()
	if !aborted {
		t.Fatal("Cancel did not abort the in-flight stream")
	}
	c.mu.Lock()
	freed := c.cancel == nil
	c.mu.Unlock()
	if !freed {
		t.Fatal("stream slot still held after Cancel")
	}

	// The cancelled reader's deferred release runs later; it must not clear
	// the slot a newer stream now owns.
	c.mu.Lock()
	c.streamSeq++
	c.cancel = func() {}
	c.mu.Unlock()
	c.releaseStream(staleSeq)
	c.mu.Lock()
	kept := c.cancel != nil
	c.mu.Unlock()
	if !kept {
		t.Fatal("stale release cleared the new stream's slot")
	}
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini", WithCostPerMTokens(2.50))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := p.NewClient("sess-1")

	history := []types.Message{{Role: "user", Content: "12345678"}} // 2 + 4 tokens
	want := 6.0 * 2.50 / 1e6
	if got := c.EstimateCost(history); got != want {
		t.Errorf("EstimateCost = %v, want %v", got, want)
	}
	if got := c.Info().CostPerMTokens; got != 2.50 {
		t.Errorf("Info().CostPerMTokens = %v, want 2.50", got)
	}
}
