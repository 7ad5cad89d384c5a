// Package gateway implements the client-facing WebSocket endpoint and the
// per-connection orchestrator that drives the STT, LLM, and TTS adapters.
package gateway

import (
	"encoding/json"
	"time"
)

// Voice is the WebSocket endpoint path clients connect to.
const Voice = "/v2/voice"

// Client frame types.
const (
	// FrameInit must be the first frame on a connection. Carries metadata.
	FrameInit = "init"

	// FrameMetadata updates session metadata mid-conversation.
	FrameMetadata = "metadata"
)

// Server event names.
const (
	// EventReady acknowledges init: the session is live and audio may flow.
	EventReady = "ready"

	// EventTranscriptPartial carries an interim transcript.
	EventTranscriptPartial = "transcript_partial"

	// EventTranscriptFinal carries a committed utterance transcript.
	EventTranscriptFinal = "transcript_final"

	// EventLLMChunk carries one streamed reply text increment.
	EventLLMChunk = "llm_chunk"

	// EventAgentFinishedSpeaking signals the last audio of a reply was
	// synthesized.
	EventAgentFinishedSpeaking = "agent_finished_speaking"

	// EventInterruptionProcessed acknowledges a barge-in.
	EventInterruptionProcessed = "interruption_processed"
)

// Server error kinds.
const (
	// ErrKindInit is fatal: session setup failed, the socket closes.
	ErrKindInit = "init_error"

	// ErrKindSTT, ErrKindLLM, and ErrKindTTS report provider failures
	// mid-conversation. Non-fatal; the session returns to idle.
	ErrKindSTT = "stt_error"
	ErrKindLLM = "llm_error"
	ErrKindTTS = "tts_error"

	// ErrKindAudioProcessing reports a failure forwarding client audio.
	ErrKindAudioProcessing = "audio_processing_error"

	// ErrKindMessageProcessing reports an unparseable or out-of-order
	// client frame.
	ErrKindMessageProcessing = "message_processing_error"

	// ErrKindSynthesis reports the TTS backend rejecting submitted text.
	ErrKindSynthesis = "synthesis_error"
)

// ClientFrame is a decoded client JSON frame. Binary frames are audio and
// never reach the JSON decoder.
type ClientFrame struct {
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EventFrame is a server-to-client event envelope. Timestamps are Unix
// milliseconds.
type EventFrame struct {
	Type      string `json:"type"` // always "event"
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorFrame is a server-to-client error envelope.
type ErrorFrame struct {
	Type      string `json:"type"` // always "error"
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ReadyData is the payload of the ready event.
type ReadyData struct {
	SessionID string            `json:"sessionId"`
	Providers map[string]string `json:"providers"`
}

// TranscriptData is the payload of transcript events.
type TranscriptData struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ChunkData is the payload of llm_chunk events.
type ChunkData struct {
	Chunk string `json:"chunk"`
}

// encodeEvent marshals an event frame with the current timestamp.
func encodeEvent(event string, data any) []byte {
	b, _ := json.Marshal(EventFrame{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	return b
}

// encodeError marshals an error frame with the current timestamp.
func encodeError(kind, message string) []byte {
	b, _ := json.Marshal(ErrorFrame{
		Type:      "error",
		Error:     kind,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
	return b
}
