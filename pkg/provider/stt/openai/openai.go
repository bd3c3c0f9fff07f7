// Package openai provides a Transcriber backed by the OpenAI audio API
// (or any server that speaks it, via [WithBaseURL]).
//
// TaskTranscribe maps to /audio/transcriptions and TaskTranslate to
// /audio/translations, which always produces English text.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

var _ stt.Transcriber = (*Provider)(nil)

// Provider implements stt.Transcriber using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries failed requests. The
// default is 0: a failed call is reported to the caller as is.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithHTTPClient replaces the HTTP client. Takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Provider. model defaults to whisper-1 when empty.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(max(cfg.maxRetries, 0)),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Name implements stt.Transcriber.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements stt.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	f, err := req.Open()
	if err != nil {
		return stt.Transcript{}, err
	}
	defer f.Close()

	ct := req.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	file := oai.File(f, req.Name(), ct)

	var text string
	switch req.EffectiveTask() {
	case stt.TaskTranslate:
		params := oai.AudioTranslationNewParams{
			File:  file,
			Model: oai.AudioModel(p.model),
		}
		if req.Prompt != "" {
			params.Prompt = oai.String(req.Prompt)
		}
		res, err := p.client.Audio.Translations.New(ctx, params)
		if err != nil {
			return stt.Transcript{}, p.wrap(err)
		}
		text = res.Text
	default:
		params := oai.AudioTranscriptionNewParams{
			File:  file,
			Model: oai.AudioModel(p.model),
		}
		if req.Language != "" {
			params.Language = oai.String(req.Language)
		}
		if req.Prompt != "" {
			params.Prompt = oai.String(req.Prompt)
		}
		res, err := p.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return stt.Transcript{}, p.wrap(err)
		}
		text = res.Text
	}

	return stt.Transcript{
		Text:     strings.TrimSpace(text),
		Language: req.Language,
		Provider: p.Name(),
	}, nil
}

// wrap turns an API error into a ServiceError, keeping the HTTP status when
// the service answered.
func (p *Provider) wrap(err error) error {
	se := &stt.ServiceError{Provider: p.Name(), Err: err}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		se.StatusCode = apiErr.StatusCode
	}
	return se
}
