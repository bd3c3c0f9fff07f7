// Package server exposes Ekho over HTTP: audio transcription with name
// identification, roster management, Google sign-in and Drive access, plus
// the health and metrics endpoints.
//
// Every application route runs inside a browser session (see
// [session.Manager]); the session id travels in an HTTP-only cookie.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/RyderBlack/Ekho/internal/events"
	"github.com/RyderBlack/Ekho/internal/google"
	"github.com/RyderBlack/Ekho/internal/health"
	"github.com/RyderBlack/Ekho/internal/identify"
	"github.com/RyderBlack/Ekho/internal/observe"
	"github.com/RyderBlack/Ekho/internal/session"
	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

const (
	defaultCookieName = "ekho_session"
	defaultMaxUpload  = 25 << 20
)

// Auth runs the Google OAuth2 authorization-code flow.
type Auth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// WorkspaceFunc returns Google API access for the owner of tok.
type WorkspaceFunc func(ctx context.Context, tok *oauth2.Token) (google.Workspace, error)

// Config holds the dependencies of a [Server]. Transcriber and Sessions are
// required; everything else has a usable default.
type Config struct {
	Transcriber stt.Transcriber
	Sessions    *session.Manager

	// Identifier defaults to identify.New().
	Identifier *identify.Identifier

	// Auth and Workspace enable the Google routes. When nil those routes
	// answer 501.
	Auth      Auth
	Workspace WorkspaceFunc

	// Events receives every identification. Defaults to events.Nop.
	Events events.Publisher

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// DefaultTask applies when a request has no task field.
	DefaultTask stt.Task
	Language    string
	Prompt      string

	// TempDir receives uploaded audio while it is transcribed. Empty means
	// os.TempDir().
	TempDir string

	// MaxUploadBytes caps request bodies carrying files.
	MaxUploadBytes int64

	CookieName   string
	SecureCookie bool
	SessionTTL   time.Duration

	// StaticDir replaces the embedded UI when set.
	StaticDir string
}

// Server implements the HTTP API.
type Server struct {
	cfg     Config
	static  http.Handler
	handler http.Handler
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("server: transcriber is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("server: session manager is required")
	}
	if cfg.Identifier == nil {
		cfg.Identifier = identify.New()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.DefaultTask == "" {
		cfg.DefaultTask = stt.TaskTranscribe
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}

	s := &Server{cfg: cfg}
	if cfg.StaticDir != "" {
		info, err := os.Stat(cfg.StaticDir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("server: static dir %q is not a directory", cfg.StaticDir)
		}
		s.static = http.FileServer(http.Dir(cfg.StaticDir))
	} else {
		sub, err := fs.Sub(staticFS, "static")
		if err != nil {
			return nil, fmt.Errorf("server: embedded ui: %w", err)
		}
		s.static = http.FileServerFS(sub)
	}

	s.handler = observe.Middleware(cfg.Metrics)(s.routes())
	return s, nil
}

// Handler returns the root handler with tracing, metrics and request logs.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /", s.static)

	mux.Handle("POST /transcribe", s.withSession(useSession, s.handleTranscribe))

	mux.Handle("POST /roster/upload", s.withSession(keepSession, s.handleRosterUpload))
	mux.Handle("POST /roster/sheet", s.withSession(useSession, s.handleRosterSheet))
	mux.Handle("GET /roster", s.withSession(useSession, s.handleRosterGet))
	mux.Handle("DELETE /roster", s.withSession(useSession, s.handleRosterDelete))

	mux.Handle("GET /auth/login", s.withSession(keepSession, s.handleLogin))
	mux.Handle("GET /auth/callback", s.withSession(useSession, s.handleCallback))
	mux.Handle("POST /auth/logout", s.withSession(useSession, s.handleLogout))
	mux.Handle("GET /auth/me", s.withSession(useSession, s.handleMe))

	mux.Handle("GET /drive/spreadsheets", s.withSession(useSession, s.handleListSpreadsheets))
	mux.Handle("POST /drive/upload", s.withSession(useSession, s.handleDriveUpload))

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}
	return mux
}

// sessionNeed says what a route does when the caller has no live session.
type sessionNeed int

const (
	// useSession serves the request with a transient session that is never
	// stored. Only the default roster is visible and nothing is kept.
	useSession sessionNeed = iota
	// keepSession creates and stores a session and sets its cookie. Routes
	// that write session state before the caller is known use it.
	keepSession
)

// withSession attaches the caller's session to the request context. A live
// session has its cookie refreshed so the browser keeps it as long as the
// server does.
func (s *Server) withSession(need sessionNeed, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(s.cfg.CookieName); err == nil {
			id = c.Value
		}
		sess, ok := s.cfg.Sessions.Get(r.Context(), id)
		switch {
		case ok:
			s.setSessionCookie(w, sess.ID)
		case need == keepSession:
			sess = s.cfg.Sessions.Create(r.Context())
			s.setSessionCookie(w, sess.ID)
		default:
			sess = s.cfg.Sessions.Transient()
		}
		h(w, r.WithContext(session.NewContext(r.Context(), sess)))
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	cookie := &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if s.cfg.SessionTTL > 0 {
		cookie.MaxAge = int(s.cfg.SessionTTL.Seconds())
	}
	http.SetCookie(w, cookie)
}

// sessionFrom returns the session installed by withSession.
func sessionFrom(r *http.Request) *session.Session {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		panic("server: handler registered without withSession")
	}
	return sess
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

// writeError maps err to a status with statusFor and writes {"error": msg}.
// Server-side failures are logged at error level, caller mistakes at debug.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := observe.Logger(r.Context())
	if status >= 500 {
		log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: messageFor(err)})
}
