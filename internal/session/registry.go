package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSessionNotFound is returned by Get and Destroy for unknown session IDs.
var ErrSessionNotFound = errors.New("session: not found")

const (
	// DefaultTimeout is how long a session may idle before the reaper
	// destroys it.
	DefaultTimeout = 30 * time.Minute

	// DefaultReapInterval is the reaper tick period.
	DefaultReapInterval = time.Minute
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// MaxHistory bounds each session's conversation history. Non-positive
	// selects DefaultMaxHistory.
	MaxHistory int

	// Timeout is the idle lifetime of a session. Non-positive selects
	// DefaultTimeout.
	Timeout time.Duration

	// ReapInterval is the reaper tick period. Non-positive selects
	// DefaultReapInterval.
	ReapInterval time.Duration
}

// Registry tracks all live sessions and reaps the ones their clients
// abandoned without a clean disconnect. All methods are safe for concurrent
// use.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session with a fresh UUID. meta is copied; the
// caller keeps ownership of the map.
func (r *Registry) Create(meta map[string]string) *Session {
	s := newSession(meta, r.cfg.MaxHistory)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Destroy removes the session and runs its registered cleanup callback.
func (r *Registry) Destroy(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.runCleanup()
	return nil
}

// StartReaper launches the idle-session reaper. It ticks every ReapInterval
// and destroys sessions idle longer than Timeout, running each session's
// cleanup so provider resources are released even when the client vanished
// without closing the socket. The reaper stops when ctx is cancelled.
func (r *Registry) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.reap(now)
			}
		}
	}()
}

// reap destroys every session idle longer than the configured timeout.
func (r *Registry) reap(now time.Time) {
	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.IdleSince(now) > r.cfg.Timeout {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		slog.Info("reaping idle session",
			"session_id", s.ID,
			"idle", s.IdleSince(now).Round(time.Second),
			"created_at", s.CreatedAt,
		)
		s.runCleanup()
	}
}
