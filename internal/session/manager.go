package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RyderBlack/Ekho/internal/observe"
	"github.com/RyderBlack/Ekho/internal/roster"
)

const (
	defaultTTL           = 12 * time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// Option configures a [Manager].
type Option func(*Manager)

// WithTTL sets how long a session may stay idle before it expires.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics reports the number of live sessions to m.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) {
		m.metrics = met
	}
}

// WithDefaultRoster seeds every new session with r.
func WithDefaultRoster(r *roster.Roster) Option {
	return func(m *Manager) {
		m.defaultRoster.Store(r)
	}
}

// Manager owns all live sessions. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl     time.Duration
	now     func() time.Time
	metrics *observe.Metrics

	defaultRoster atomic.Pointer[roster.Roster]
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		ttl:      defaultTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetDefaultRoster changes the roster given to sessions created from now on.
// Existing sessions keep theirs. A nil roster means new sessions start empty.
func (m *Manager) SetDefaultRoster(r *roster.Roster) {
	m.defaultRoster.Store(r)
}

// Create starts a new session.
func (m *Manager) Create(ctx context.Context) *Session {
	s := newSession(m.now())
	s.roster = m.defaultRoster.Load()

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Debug("session created", "session_id", s.ID, "roster_entries", s.roster.Len())
	return s
}

// Transient returns a session that is never stored and has no ID. It starts
// with the default roster and is dropped once the caller is done with it.
func (m *Manager) Transient() *Session {
	now := m.now()
	return &Session{CreatedAt: now, lastSeen: now, roster: m.defaultRoster.Load()}
}

// Get returns the live session with the given id and marks it as used.
// Expired sessions are removed and reported as missing.
func (m *Manager) Get(ctx context.Context, id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := m.now()
	if m.expired(s, now) {
		m.remove(ctx, id, s)
		return nil, false
	}
	s.touch(now)
	return s, true
}

// Delete ends the session with the given id. Unknown ids are ignored.
func (m *Manager) Delete(ctx context.Context, id string) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		m.remove(ctx, id, s)
	}
}

// Len returns the number of sessions, expired ones included until the next
// sweep.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes every expired session and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()

	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if m.expired(s, now) {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range stale {
		if m.remove(ctx, s.ID, s) {
			n++
		}
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				slog.Info("expired sessions removed", "count", n, "remaining", m.Len())
			}
		}
	}
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return now.Sub(s.idleSince()) > m.ttl
}

// remove deletes id if it still maps to s and reports whether it did.
func (m *Manager) remove(ctx context.Context, id string, s *Session) bool {
	m.mu.Lock()
	cur, ok := m.sessions[id]
	if !ok || cur != s {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	return true
}
