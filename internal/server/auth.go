package server

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/RyderBlack/Ekho/internal/google"
	"github.com/RyderBlack/Ekho/internal/observe"
	"github.com/RyderBlack/Ekho/internal/session"
)

// handleLogin redirects to the Google consent page with a fresh state bound
// to the session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == nil || s.cfg.Workspace == nil {
		writeError(w, r, errGoogleSetup)
		return
	}
	state := sessionFrom(r).BeginOAuth()
	http.Redirect(w, r, s.cfg.Auth.AuthCodeURL(state), http.StatusFound)
}

// handleCallback completes the OAuth flow and signs the session in.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(r)
	if s.cfg.Auth == nil || s.cfg.Workspace == nil {
		writeError(w, r, errGoogleSetup)
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		_ = sess.ConsumeOAuthState(q.Get("state"))
		writeError(w, r, badRequest("Google sign-in failed: "+e))
		return
	}
	if err := sess.ConsumeOAuthState(q.Get("state")); err != nil {
		writeError(w, r, err)
		return
	}

	tok, err := s.cfg.Auth.Exchange(ctx, q.Get("code"))
	if err != nil {
		writeError(w, r, googleErr(err))
		return
	}
	ws, err := s.cfg.Workspace(ctx, tok)
	if err != nil {
		writeError(w, r, googleErr(err))
		return
	}
	u, err := ws.UserInfo(ctx)
	if err != nil {
		writeError(w, r, googleErr(err))
		return
	}

	sess.SignIn(session.User{ID: u.ID, Email: u.Email, Name: u.Name, Picture: u.Picture}, tok)
	observe.Logger(ctx).Info("user signed in", "session_id", sess.ID, "email", u.Email)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).SignOut()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := sessionFrom(r).User()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// workspace returns Google API access for the signed-in user of sess.
func (s *Server) workspace(r *http.Request, sess *session.Session) (google.Workspace, error) {
	if s.cfg.Workspace == nil {
		return nil, errGoogleSetup
	}
	tok, err := sess.Token()
	if err != nil {
		return nil, err
	}
	ws, err := s.cfg.Workspace(r.Context(), tok)
	if err != nil {
		return nil, googleErr(err)
	}
	return ws, nil
}

// tokenHolder is implemented by workspaces that refresh their token.
type tokenHolder interface {
	Token() (*oauth2.Token, error)
}

// saveToken stores a token refreshed during the last call on the session.
func (s *Server) saveToken(sess *session.Session, ws google.Workspace) {
	th, ok := ws.(tokenHolder)
	if !ok {
		return
	}
	if tok, err := th.Token(); err == nil {
		sess.UpdateToken(tok)
	}
}

// googleErr tags err as a Google failure so statusFor maps it to a gateway
// error (or the API's own 401/403/404).
func googleErr(err error) error {
	return fmt.Errorf("%w: %w", errGoogle, err)
}
