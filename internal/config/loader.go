package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the transcription backends shipped with Ekho.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gradio", "openai", "whisper", "deepgram"}

var validTasks = []string{"transcribe", "translate"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references from the environment, decodes a
// YAML config from r, validates it and fills in defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must not be negative", cfg.Server.MaxUploadMB))
	}
	if cfg.Server.StaticDir != "" {
		if fi, err := os.Stat(cfg.Server.StaticDir); err != nil || !fi.IsDir() {
			errs = append(errs, fmt.Errorf("server.static_dir %q is not a directory", cfg.Server.StaticDir))
		}
	}

	// Transcription
	t := cfg.Transcription
	if t.Task != "" && !slices.Contains(validTasks, t.Task) {
		errs = append(errs, fmt.Errorf("transcription.task %q is invalid; valid values: transcribe, translate", t.Task))
	}
	validateProviderName("transcription.provider", t.Provider.Name)
	for i, fb := range t.Fallbacks {
		prefix := fmt.Sprintf("transcription.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}
	if t.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transcription.circuit_breaker.max_failures %d must not be negative", t.CircuitBreaker.MaxFailures))
	}
	if t.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.circuit_breaker.reset_timeout %s must not be negative", t.CircuitBreaker.ResetTimeout))
	}

	// Google
	g := cfg.Google
	if g.ClientID != "" && g.CredentialsFile != "" {
		errs = append(errs, errors.New("google: set either client_id/client_secret or credentials_file, not both"))
	}
	if g.ClientID != "" && g.ClientSecret == "" {
		errs = append(errs, errors.New("google.client_secret is required when google.client_id is set"))
	}
	if g.ClientID != "" && g.RedirectURL == "" {
		errs = append(errs, errors.New("google.redirect_url is required when google.client_id is set"))
	}
	if !g.Enabled() {
		slog.Warn("google OAuth is not configured; sheet import and drive upload are disabled")
	}

	// Session
	if cfg.Session.TTL < 0 {
		errs = append(errs, fmt.Errorf("session.ttl %s must not be negative", cfg.Session.TTL))
	}
	if cfg.Session.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval %s must not be negative", cfg.Session.SweepInterval))
	}
	if !cfg.Session.SecureCookie && strings.HasPrefix(g.RedirectURL, "https://") {
		slog.Warn("session.secure_cookie is false but google.redirect_url uses https")
	}

	// Roster
	if th := cfg.Roster.Suggestions.Threshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("roster.suggestions.threshold %.2f is out of range [0, 1]", th))
	}
	if cfg.Roster.File != "" {
		if _, err := os.Stat(cfg.Roster.File); err != nil {
			slog.Warn("roster.file is not readable; sessions will start without a roster", "file", cfg.Roster.File, "err", err)
		}
	}

	// Events
	if u := cfg.Events.NATSURL; u != "" && !strings.Contains(u, "://") {
		errs = append(errs, fmt.Errorf("events.nats_url %q must include a scheme, e.g. nats://", u))
	}

	return errors.Join(errs...)
}

// ApplyDefaults fills in zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = DefaultMaxUploadMB
	}
	if cfg.Transcription.Provider.Name == "" {
		cfg.Transcription.Provider.Name = DefaultProvider
	}
	if cfg.Transcription.Task == "" {
		cfg.Transcription.Task = DefaultTask
	}
	if cfg.Transcription.Language == "" {
		cfg.Transcription.Language = DefaultLanguage
	}
	if len(cfg.Google.Scopes) == 0 {
		cfg.Google.Scopes = slices.Clone(DefaultGoogleScopes)
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = DefaultCookieName
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = DefaultSessionTTL
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = DefaultSweepInterval
	}
	if cfg.Roster.Suggestions.Threshold == 0 {
		cfg.Roster.Suggestions.Threshold = DefaultSuggestionScore
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventsSubject
	}
	if cfg.Events.ClientName == "" {
		cfg.Events.ClientName = DefaultServiceName
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
