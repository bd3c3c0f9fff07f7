package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes get their own flags; everything else that differs
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RosterFileChanged bool
	NewRosterFile     string

	SuggestionsChanged bool
	NewSuggestions     SuggestionsConfig

	// RestartRequired names the sections whose changes only take effect after
	// a restart, e.g. "server.listen_addr".
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RosterFileChanged && !d.SuggestionsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Roster.File != new.Roster.File {
		d.RosterFileChanged = true
		d.NewRosterFile = new.Roster.File
	}
	if old.Roster.Suggestions != new.Roster.Suggestions {
		d.SuggestionsChanged = true
		d.NewSuggestions = new.Roster.Suggestions
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("transcription", !transcriptionEqual(old.Transcription, new.Transcription))
	restart("google", !googleEqual(old.Google, new.Google))
	restart("session", old.Session != new.Session)
	restart("events", old.Events != new.Events)
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}

func transcriptionEqual(a, b TranscriptionConfig) bool {
	if a.Task != b.Task || a.Language != b.Language || a.Prompt != b.Prompt || a.CircuitBreaker != b.CircuitBreaker {
		return false
	}
	return providerEqual(a.Provider, b.Provider) && slices.EqualFunc(a.Fallbacks, b.Fallbacks, providerEqual)
}

// providerEqual ignores Options, which may hold uncomparable values.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.Timeout == b.Timeout && len(a.Options) == len(b.Options)
}

func googleEqual(a, b GoogleConfig) bool {
	return a.ClientID == b.ClientID && a.ClientSecret == b.ClientSecret &&
		a.RedirectURL == b.RedirectURL && a.CredentialsFile == b.CredentialsFile &&
		slices.Equal(a.Scopes, b.Scopes)
}
