// Package deepgram provides a Transcriber backed by the Deepgram pre-recorded
// audio API. Deepgram only transcribes, so TaskTranslate is rejected with
// [stt.ErrUnsupportedTask].
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "fr"
)

var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code for recognition (e.g., "fr").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeyterms boosts recognition of the given terms, typically roster names.
func WithKeyterms(terms ...string) Option {
	return func(p *Provider) {
		p.keyterms = append(p.keyterms, terms...)
	}
}

// WithEndpoint overrides the listen endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements stt.Transcriber backed by Deepgram.
type Provider struct {
	apiKey     string
	model      string
	language   string
	keyterms   []string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Transcriber.
func (p *Provider) Name() string { return "deepgram" }

// buildURL constructs the listen URL for the given language.
func (p *Provider) buildURL(lang string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("smart_format", "true")
	for _, kt := range p.keyterms {
		q.Add("keyterm", kt)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// listenResponse is the subset of the pre-recorded response Ekho reads.
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe sends the raw audio file as the request body.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if req.EffectiveTask() != stt.TaskTranscribe {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w: %s", stt.ErrUnsupportedTask, req.EffectiveTask())
	}

	f, err := req.Open()
	if err != nil {
		return stt.Transcript{}, err
	}
	defer f.Close()

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	endpoint, err := p.buildURL(lang)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	ct := req.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	httpReq.Header.Set("Content-Type", ct)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Transcript{}, &stt.ServiceError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return stt.Transcript{}, &stt.ServiceError{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(msg))),
		}
	}

	var out listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stt.Transcript{}, &stt.ServiceError{Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	tr := stt.Transcript{
		Language: lang,
		Duration: time.Duration(out.Metadata.Duration * float64(time.Second)),
		Provider: p.Name(),
	}
	if len(out.Results.Channels) > 0 {
		ch := out.Results.Channels[0]
		if ch.DetectedLanguage != "" {
			tr.Language = ch.DetectedLanguage
		}
		if len(ch.Alternatives) > 0 {
			tr.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
		}
	}
	return tr, nil
}
