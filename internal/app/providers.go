package app

import (
	"log/slog"
	"net/http"

	"github.com/RyderBlack/Ekho/internal/config"
	"github.com/RyderBlack/Ekho/pkg/provider/stt"
	"github.com/RyderBlack/Ekho/pkg/provider/stt/deepgram"
	"github.com/RyderBlack/Ekho/pkg/provider/stt/gradio"
	"github.com/RyderBlack/Ekho/pkg/provider/stt/openai"
	"github.com/RyderBlack/Ekho/pkg/provider/stt/whisper"
)

// RegisterBuiltinProviders wires the transcription backends that ship with
// Ekho into reg. Each factory receives a config.ProviderEntry and constructs
// the provider from its implementation package.
func RegisterBuiltinProviders(reg *config.Registry) {
	reg.RegisterTranscriber("gradio", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []gradio.Option{gradio.WithBaseURL(entry.BaseURL)}
		if entry.APIKey != "" {
			opts = append(opts, gradio.WithToken(entry.APIKey))
		}
		if name := optString(entry.Options, "api_name"); name != "" {
			opts = append(opts, gradio.WithAPIName(name))
		}
		if prefix, ok := entry.Options["api_prefix"].(string); ok {
			opts = append(opts, gradio.WithAPIPrefix(prefix))
		}
		if entry.Timeout > 0 {
			opts = append(opts, gradio.WithHTTPClient(&http.Client{Timeout: entry.Timeout}))
		}
		return gradio.New(opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(entry.Timeout))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: entry.Timeout}))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if terms := optStrings(entry.Options, "keyterms"); len(terms) > 0 {
			opts = append(opts, deepgram.WithKeyterms(terms...))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, deepgram.WithHTTPClient(&http.Client{Timeout: entry.Timeout}))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings. YAML decodes sequences as []any, so
// non-string elements are skipped.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}
