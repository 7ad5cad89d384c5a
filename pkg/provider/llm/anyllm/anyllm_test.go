package anyllm

import (
	"testing"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "llama3"); err == nil {
		t.Error("New with empty provider name should return an error")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("New with empty model should return an error")
	}
	if _, err := New("not-a-provider", "llama3"); err == nil {
		t.Error("New with unknown provider name should return an error")
	}
}

func TestInfo_PrefixesProviderName(t *testing.T) {
	t.Parallel()

	p, err := New("ollama", "llama3", WithCostPerMTokens(0.5))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info := p.Info()
	if info.Name != "anyllm/ollama" {
		t.Errorf("Name = %q, want anyllm/ollama", info.Name)
	}
	if info.Model != "llama3" {
		t.Errorf("Model = %q", info.Model)
	}
	if info.CostPerMTokens != 0.5 {
		t.Errorf("CostPerMTokens = %v", info.CostPerMTokens)
	}
}

func TestCancel_ReleasesStreamSlot(t *testing.T) {
	t.Parallel()

	p, err := New("ollama", "llama3")
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

func TestRenderSystemPrompt(t *testing.T) {
	t.Parallel()

	if got := renderSystemPrompt("Hola {client_name}, dime.", "Ana"); got != "Hola Ana, dime." {
		t.Errorf("with name = %q", got)
	}
	if got := renderSystemPrompt("Hola {client_name} dime.", ""); got != "Hola dime." {
		t.Errorf("without name = %q", got)
	}
	if got := renderSystemPrompt("", "Ana"); got != "" {
		t.Errorf("empty template = %q", got)
	}
}
