// Package google signs users in with Google OAuth2 and reads their Drive and
// Sheets data.
//
// [OAuth] runs the authorization-code flow. [Client] wraps the userinfo,
// Drive v3 and Sheets v4 services for one signed-in user and satisfies the
// [Workspace] interface the HTTP layer depends on.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/RyderBlack/Ekho/internal/config"
)

// ErrNotConfigured is returned by [NewOAuth] when no OAuth client is set up.
var ErrNotConfigured = errors.New("google: oauth client not configured")

// OAuth holds the OAuth2 client configuration.
type OAuth struct {
	cfg  *oauth2.Config
	opts []option.ClientOption
}

// OAuthOption configures an [OAuth].
type OAuthOption func(*OAuth)

// WithClientOptions adds options passed to every API client built by
// [OAuth.Workspace], e.g. option.WithEndpoint in tests.
func WithClientOptions(opts ...option.ClientOption) OAuthOption {
	return func(o *OAuth) {
		o.opts = append(o.opts, opts...)
	}
}

// WithEndpoint overrides the OAuth2 authorization and token URLs.
func WithEndpoint(ep oauth2.Endpoint) OAuthOption {
	return func(o *OAuth) {
		o.cfg.Endpoint = ep
	}
}

// NewOAuth builds the OAuth2 configuration from cfg. A credentials file takes
// precedence over an inline client id and secret; a non-empty RedirectURL
// overrides the first redirect URI of the file.
func NewOAuth(cfg config.GoogleConfig, opts ...OAuthOption) (*OAuth, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultGoogleScopes
	}

	var oc *oauth2.Config
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("google: read credentials file: %w", err)
		}
		oc, err = googleoauth.ConfigFromJSON(data, scopes...)
		if err != nil {
			return nil, fmt.Errorf("google: parse credentials file: %w", err)
		}
		if cfg.RedirectURL != "" {
			oc.RedirectURL = cfg.RedirectURL
		}
	} else {
		oc = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     googleoauth.Endpoint,
		}
	}

	o := &OAuth{cfg: oc}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// AuthCodeURL returns the Google consent page URL for state. Offline access
// is requested so tokens can be refreshed while the session lives.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a token.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("google: missing authorization code")
	}
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google: exchange code: %w", err)
	}
	return tok, nil
}

// Scopes returns the requested OAuth scopes.
func (o *OAuth) Scopes() []string {
	return append([]string(nil), o.cfg.Scopes...)
}

// Workspace returns an API client acting as the owner of tok. The token is
// refreshed transparently; [Client.Token] exposes the current one.
func (o *OAuth) Workspace(ctx context.Context, tok *oauth2.Token) (*Client, error) {
	ts := oauth2.ReuseTokenSource(tok, o.cfg.TokenSource(context.WithoutCancel(ctx), tok))
	return NewClient(ctx, ts, o.opts...)
}
