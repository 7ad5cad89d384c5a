// Package health provides the HTTP health and service-info handlers.
//
// The package exposes two endpoints:
//
//   - /health — liveness probe with mode and uptime.
//   - /info   — service descriptor: name, version, and the configured
//     provider stack.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Info is the static service descriptor served at /info.
type Info struct {
	// Service is the service name, e.g. "voxgate".
	Service string `json:"service"`

	// Version is the build version string.
	Version string `json:"version"`

	// Providers maps pipeline stage to the configured provider name,
	// e.g. {"stt": "deepgram", "llm": "openai", "tts": "elevenlabs"}.
	Providers map[string]string `json:"providers"`
}

// healthResponse is the JSON body served at /health.
type healthResponse struct {
	Status    string `json:"status"`
	Mode      string `json:"mode"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// Handler serves the /health and /info endpoints. It is safe for concurrent
// use; all fields are fixed at construction time.
type Handler struct {
	info    Info
	mode    string
	started time.Time
}

// New creates a [Handler]. mode describes the active pipeline, e.g.
// "cascade" for the STT+LLM+TTS pipeline.
func New(info Info, mode string) *Handler {
	return &Handler{
		info:    info,
		mode:    mode,
		started: time.Now(),
	}
}

// Health is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Mode:      h.mode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// ServiceInfo serves the static service descriptor.
func (h *Handler) ServiceInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}

// Register adds the /health and /info routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /info", h.ServiceInfo)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
