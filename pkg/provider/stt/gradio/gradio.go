// Package gradio provides a Transcriber backed by a hosted Gradio app, such as
// the hf-audio/whisper-large-v3-turbo Space on Hugging Face.
//
// A Gradio app exposes its functions through a small REST protocol:
//
//  1. POST {base}/gradio_api/upload with the audio as multipart "files". The
//     response is a JSON array of server-side paths.
//  2. POST {base}/gradio_api/call/{api} with {"data": [file, task]}. The
//     response carries an event id.
//  3. GET {base}/gradio_api/call/{api}/{event_id}. The response is a
//     server-sent event stream that ends with "event: complete" and a JSON
//     array of outputs, or "event: error".
//
// Usage:
//
//	p, err := gradio.New(
//	    gradio.WithToken(os.Getenv("HF_TOKEN")),
//	)
//	tr, err := p.Transcribe(ctx, stt.Request{Path: "clip.wav", Task: stt.TaskTranscribe})
package gradio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

const (
	// DefaultBaseURL is the whisper-large-v3-turbo Space.
	DefaultBaseURL = "https://hf-audio-whisper-large-v3-turbo.hf.space"

	defaultAPIName   = "predict"
	defaultAPIPrefix = "/gradio_api"
	defaultTimeout   = 120 * time.Second

	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 4 << 10
)

var _ stt.Transcriber = (*Provider)(nil)

// errEventStream is wrapped when the event stream ends without a result.
var errEventStream = errors.New("event stream ended without a result")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides [DefaultBaseURL].
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithToken sets the Hugging Face access token sent as a Bearer token.
func WithToken(token string) Option {
	return func(p *Provider) {
		p.token = token
	}
}

// WithAPIName selects the Gradio endpoint name. Defaults to "predict".
func WithAPIName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.apiName = strings.TrimPrefix(name, "/")
		}
	}
}

// WithAPIPrefix sets the path prefix of the Gradio REST routes. Gradio 5 apps
// use "/gradio_api" (the default); Gradio 4 apps use "".
func WithAPIPrefix(prefix string) Option {
	return func(p *Provider) {
		p.apiPrefix = strings.TrimRight(prefix, "/")
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

// Provider implements stt.Transcriber against a Gradio app.
type Provider struct {
	baseURL    string
	token      string
	apiName    string
	apiPrefix  string
	httpClient *http.Client
}

// New creates a Provider with the given options.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		baseURL:    DefaultBaseURL,
		apiName:    defaultAPIName,
		apiPrefix:  defaultAPIPrefix,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if !strings.HasPrefix(p.baseURL, "http://") && !strings.HasPrefix(p.baseURL, "https://") {
		return nil, fmt.Errorf("gradio: base URL %q must start with http:// or https://", p.baseURL)
	}
	return p, nil
}

// Name implements stt.Transcriber.
func (p *Provider) Name() string { return "gradio" }

// Transcribe uploads the audio, starts a prediction and waits for its result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	remotePath, err := p.upload(ctx, req)
	if err != nil {
		return stt.Transcript{}, err
	}

	eventID, err := p.call(ctx, remotePath, req.Name(), req.EffectiveTask())
	if err != nil {
		return stt.Transcript{}, err
	}

	text, err := p.await(ctx, eventID)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: strings.TrimSpace(text), Provider: p.Name()}, nil
}

// upload sends the audio file and returns its server-side path.
func (p *Provider) upload(ctx context.Context, req stt.Request) (string, error) {
	f, err := req.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, req.Name()))
	ct := req.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("gradio: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("gradio: copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("gradio: close multipart writer: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, p.apiPrefix+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var paths []string
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		return "", p.serviceErr(0, fmt.Errorf("decode upload response: %w", err))
	}
	if len(paths) == 0 {
		return "", p.serviceErr(0, errors.New("upload returned no file path"))
	}
	return paths[0], nil
}

// fileData is Gradio's reference to an uploaded file.
type fileData struct {
	Path     string   `json:"path"`
	OrigName string   `json:"orig_name,omitempty"`
	Meta     fileMeta `json:"meta"`
}

type fileMeta struct {
	Type string `json:"_type"`
}

// call starts a prediction and returns its event id.
func (p *Provider) call(ctx context.Context, remotePath, origName string, task stt.Task) (string, error) {
	payload := struct {
		Data []any `json:"data"`
	}{
		Data: []any{
			fileData{Path: remotePath, OrigName: origName, Meta: fileMeta{Type: "gradio.FileData"}},
			string(task),
		},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gradio: encode call payload: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, p.apiPrefix+"/call/"+p.apiName, "application/json", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", p.serviceErr(0, fmt.Errorf("decode call response: %w", err))
	}
	if out.EventID == "" {
		return "", p.serviceErr(0, errors.New("call response has no event_id"))
	}
	return out.EventID, nil
}

// await reads the event stream of a prediction until it completes.
func (p *Provider) await(ctx context.Context, eventID string) (string, error) {
	resp, err := p.do(ctx, http.MethodGet, p.apiPrefix+"/call/"+p.apiName+"/"+eventID, "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var event string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "complete":
				return firstText(data)
			case "error":
				msg := data
				if msg == "" || msg == "null" {
					msg = "prediction failed"
				}
				return "", p.serviceErr(0, errors.New(msg))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", p.serviceErr(0, fmt.Errorf("read event stream: %w", err))
	}
	return "", p.serviceErr(0, errEventStream)
}

// firstText decodes a Gradio output array and returns its first element as
// text.
func firstText(data string) (string, error) {
	var outputs []json.RawMessage
	if err := json.Unmarshal([]byte(data), &outputs); err != nil {
		return "", &stt.ServiceError{Provider: "gradio", Err: fmt.Errorf("decode outputs: %w", err)}
	}
	if len(outputs) == 0 {
		return "", &stt.ServiceError{Provider: "gradio", Err: errors.New("prediction returned no outputs")}
	}
	var text string
	if err := json.Unmarshal(outputs[0], &text); err != nil {
		return "", &stt.ServiceError{Provider: "gradio", Err: fmt.Errorf("first output is not text: %w", err)}
	}
	return text, nil
}

// do sends a request to path relative to the base URL and returns the
// response when its status is 2xx. Other statuses become a ServiceError.
func (p *Provider) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("gradio: create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.serviceErr(0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, p.serviceErr(resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, bytes.TrimSpace(msg)))
	}
	return resp, nil
}

func (p *Provider) serviceErr(status int, err error) error {
	return &stt.ServiceError{Provider: p.Name(), StatusCode: status, Err: err}
}
