// Package config provides the configuration schema, loader, and transcriber
// registry for the Ekho name-recognition service.
package config

import "time"

// LogLevel controls log verbosity for the Ekho server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxUploadMB     = 25
	DefaultProvider        = "gradio"
	DefaultTask            = "transcribe"
	DefaultLanguage        = "fr"
	DefaultCookieName      = "ekho_session"
	DefaultSessionTTL      = 12 * time.Hour
	DefaultSweepInterval   = 5 * time.Minute
	DefaultServiceName     = "ekho"
	DefaultEventsSubject   = "ekho.identifications"
	DefaultSuggestionScore = 0.85
)

// DefaultGoogleScopes are the OAuth scopes requested at login. drive.file only
// covers files Ekho uploads, so drive.metadata.readonly is needed to list the
// spreadsheets the user already owns.
var DefaultGoogleScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/spreadsheets.readonly",
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/drive.metadata.readonly",
}

// Config is the root configuration structure for Ekho.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Google        GoogleConfig        `yaml:"google"`
	Session       SessionConfig       `yaml:"session"`
	Roster        RosterConfig        `yaml:"roster"`
	Events        EventsConfig        `yaml:"events"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network, upload, and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON logs. Defaults to text.
	LogFormat LogFormat `yaml:"log_format"`

	// TempDir is where uploaded audio is staged. Empty means os.TempDir().
	TempDir string `yaml:"temp_dir"`

	// MaxUploadMB caps the size of any uploaded file.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// StaticDir, when set, serves the web UI from disk instead of the
	// embedded copy.
	StaticDir string `yaml:"static_dir"`
}

// TranscriptionConfig selects the speech-to-text backend.
type TranscriptionConfig struct {
	// Provider is the primary backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary fails. Empty by default.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Task is the default task when a request does not name one.
	Task string `yaml:"task"`

	// Language is the spoken language hint sent to backends.
	Language string `yaml:"language"`

	// Prompt is an optional decoding hint, e.g. "Mon nom est".
	Prompt string `yaml:"prompt"`

	// CircuitBreaker tunes the breaker wrapped around every backend.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes a circuit breaker. Zero values use the breaker's
// own defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the configuration block of one transcription backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gradio", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-3").
	Model string `yaml:"model"`

	// Timeout bounds a single transcription call.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// GoogleConfig holds the OAuth client used for Sheets and Drive access.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// RedirectURL must match the redirect URI registered with Google, e.g.
	// "http://localhost:8080/auth/callback".
	RedirectURL string `yaml:"redirect_url"`

	// CredentialsFile is a client-secret JSON downloaded from the Google
	// console. It replaces ClientID, ClientSecret and RedirectURL.
	CredentialsFile string `yaml:"credentials_file"`

	// Scopes overrides [DefaultGoogleScopes].
	Scopes []string `yaml:"scopes"`
}

// Enabled reports whether any OAuth client is configured.
func (g GoogleConfig) Enabled() bool {
	return g.CredentialsFile != "" || g.ClientID != ""
}

// SessionConfig controls the browser session cookie and server-side expiry.
type SessionConfig struct {
	CookieName    string        `yaml:"cookie_name"`
	TTL           time.Duration `yaml:"ttl"`
	SecureCookie  bool          `yaml:"secure_cookie"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RosterConfig configures the roster shared by new sessions and the
// suggestion engine.
type RosterConfig struct {
	// File is a CSV or XLSX roster loaded into every new session.
	File string `yaml:"file"`

	Suggestions SuggestionsConfig `yaml:"suggestions"`
}

// SuggestionsConfig controls "did you mean" suggestions for unrecognised names.
type SuggestionsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Threshold is the minimum Jaro-Winkler similarity in [0, 1].
	Threshold float64 `yaml:"threshold"`
}

// EventsConfig configures publishing of identification outcomes to NATS.
type EventsConfig struct {
	// NATSURL enables publishing when non-empty (e.g., "nats://localhost:4222").
	NATSURL    string `yaml:"nats_url"`
	Subject    string `yaml:"subject"`
	ClientName string `yaml:"client_name"`
	Token      string `yaml:"token"`
}

// TelemetryConfig configures tracing exporters. Metrics are always served on
// /metrics.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}
