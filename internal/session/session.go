// Package session keeps per-browser state in memory: the signed-in Google
// user and token, the pending OAuth state and the active roster.
//
// Sessions are identified by a random UUID carried in a cookie and expire
// after a period of inactivity. Each [Session] has its own lock, so replacing
// one user's roster never blocks another user.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/RyderBlack/Ekho/internal/roster"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a Google
	// sign-in and the session has none.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrStateMismatch is returned when an OAuth callback carries a state
	// that this session did not issue, or that was already used.
	ErrStateMismatch = errors.New("session: oauth state mismatch")
)

// User is the Google identity attached to a session.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Session is the server-side state of one browser. All methods are safe for
// concurrent use.
type Session struct {
	// ID is the value stored in the session cookie.
	ID string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	mu         sync.RWMutex
	lastSeen   time.Time
	user       *User
	token      *oauth2.Token
	oauthState string
	roster     *roster.Roster
}

func newSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		lastSeen:  now,
	}
}

// Roster returns the active roster, or nil when none is loaded. The returned
// roster is immutable and may be read without holding any lock.
func (s *Session) Roster() *roster.Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster
}

// ReplaceRoster makes r the active roster. The previous roster is discarded,
// never merged.
func (s *Session) ReplaceRoster(r *roster.Roster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = r
}

// ClearRoster drops the active roster.
func (s *Session) ClearRoster() {
	s.ReplaceRoster(nil)
}

// User returns the signed-in user.
func (s *Session) User() (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, ErrNotAuthenticated
	}
	return *s.user, nil
}

// Token returns the OAuth token of the signed-in user.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, ErrNotAuthenticated
	}
	return s.token, nil
}

// Authenticated reports whether a user has signed in.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil
}

// SignIn attaches a user and their token to the session.
func (s *Session) SignIn(u User, tok *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
	s.token = tok
}

// UpdateToken stores a refreshed token for the signed-in user. It is a no-op
// when nobody is signed in.
func (s *Session) UpdateToken(tok *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != nil && tok != nil {
		s.token = tok
	}
}

// SignOut forgets the user, the token and any pending OAuth state. The roster
// is kept.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.token = nil
	s.oauthState = ""
}

// BeginOAuth issues a fresh OAuth state value for this session, replacing any
// earlier one.
func (s *Session) BeginOAuth() string {
	state := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauthState = state
	return state
}

// ConsumeOAuthState checks state against the value issued by [BeginOAuth].
// The stored state is cleared either way, so a state is usable once.
func (s *Session) ConsumeOAuthState(state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := s.oauthState
	s.oauthState = ""
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(state)) != 1 {
		return ErrStateMismatch
	}
	return nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}
