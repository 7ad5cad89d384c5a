// Package types defines the shared types used across all Voxgate packages.
//
// These types form the lingua franca between the provider adapters, the
// session registry, and the gateway orchestrator. Each package defines its own
// domain types; cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// Transcript represents a speech-to-text result from an STT adapter.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript. Partials may be superseded; a final for an
	// utterance is delivered at most once and is never retracted.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Buffered adapters
	// that cannot score report 1.0 for committed utterances.
	Confidence float64
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a session's conversation history.
type Turn struct {
	// Role is who produced the turn.
	Role Role

	// Content is the turn's text.
	Content string

	// Timestamp records when the turn was committed to history.
	Timestamp time.Time
}

// Message is a single message in an LLM conversation request. It mirrors the
// chat-completions shape all wrapped backends share.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// HistoryMessages converts a slice of history turns into the role/content
// pairs an LLM adapter sends upstream.
func HistoryMessages(turns []Turn) []Message {
	msgs := make([]Message, len(turns))
	for i, t := range turns {
		msgs[i] = Message{Role: string(t.Role), Content: t.Content}
	}
	return msgs
}
