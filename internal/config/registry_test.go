package config

import (
	"errors"
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/stt"
	sttmock "github.com/voxgate/voxgate/pkg/provider/stt/mock"
)

func TestRegistry_CreateSTT(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var gotEntry ProviderEntry
	r.RegisterSTT("fake", func(e ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})

	entry := ProviderEntry{Name: "fake", APIKey: "k", Model: "m"}
	p, err := r.CreateSTT(entry)
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil {
		t.Fatal("CreateSTT returned nil provider")
	}
	if gotEntry.APIKey != "k" || gotEntry.Model != "m" {
		t.Errorf("factory entry = %+v", gotEntry)
	}
}

func TestRegistry_UnregisteredProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.CreateSTT(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateSTT = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateLLM(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateLLM = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateTTS(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateTTS = %v, want ErrProviderNotRegistered", err)
	}
}
