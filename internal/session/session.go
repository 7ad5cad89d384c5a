// Package session holds the state of live voice conversations: per-session
// conversation history and flags, the audio buffer manager that decouples the
// transports from the provider adapters, and the registry that tracks and
// reaps sessions.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/pkg/types"
)

// DefaultMaxHistory is the conversation history bound applied when the
// registry is configured with a non-positive value. Voice turns are short;
// fifteen turns cover several minutes of conversation while keeping LLM
// prompts small.
const DefaultMaxHistory = 15

// Well-known metadata keys. Clients may send arbitrary string pairs; these
// are the ones the gateway reads.
const (
	// MetaClientName personalizes the agent's system prompt. May be absent.
	MetaClientName = "clientName"

	// MetaVoiceID selects the TTS voice. Absent means provider default.
	MetaVoiceID = "voiceId"
)

// Session is the state of one live voice conversation. All methods are safe
// for concurrent use.
type Session struct {
	// ID is the unique session identifier.
	ID string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	mu           sync.Mutex
	meta         map[string]string
	history      []types.Turn
	maxHistory   int
	lastActivity time.Time
	speaking     bool
	cleanup      func()
}

// newSession creates a session with a fresh UUID. Used by the Registry.
func newSession(meta map[string]string, maxHistory int) *Session {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	m := make(map[string]string, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		meta:         m,
		maxHistory:   maxHistory,
		lastActivity: now,
	}
}

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.meta))
	for k, v := range s.meta {
		out[k] = v
	}
	return out
}

// ClientName returns the MetaClientName metadata value, if set.
func (s *Session) ClientName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[MetaClientName]
}

// VoiceID returns the MetaVoiceID metadata value, if set.
func (s *Session) VoiceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[MetaVoiceID]
}

// UpdateMetadata merges meta into the session metadata. Keys the client did
// not send are left untouched. Sent via a metadata frame mid-conversation.
func (s *Session) UpdateMetadata(meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range meta {
		s.meta[k] = v
	}
}

// Touch records activity, deferring the idle reaper.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IdleSince reports how long the session has been without activity.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// AppendTurn commits one turn to the conversation history, evicting the
// oldest turns beyond the history bound.
func (s *Session) AppendTurn(role types.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, types.Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(s.history) > s.maxHistory {
		// Copy to a fresh slice so evicted turns can be garbage collected.
		fresh := make([]types.Turn, s.maxHistory)
		copy(fresh, s.history[len(s.history)-s.maxHistory:])
		s.history = fresh
	}
}

// History returns a copy of the conversation history, oldest first.
func (s *Session) History() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryMessages returns the history as LLM request messages.
func (s *Session) HistoryMessages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.HistoryMessages(s.history)
}

// SetSpeaking records whether the agent is currently speaking.
func (s *Session) SetSpeaking(v bool) {
	s.mu.Lock()
	s.speaking = v
	s.mu.Unlock()
}

// Speaking reports whether the agent is currently speaking.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// SetCleanup registers the teardown callback invoked when the session is
// destroyed by the registry or reaper. Replaces any previous callback.
func (s *Session) SetCleanup(fn func()) {
	s.mu.Lock()
	s.cleanup = fn
	s.mu.Unlock()
}

// runCleanup invokes and clears the registered teardown callback.
func (s *Session) runCleanup() {
	s.mu.Lock()
	fn := s.cleanup
	s.cleanup = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
