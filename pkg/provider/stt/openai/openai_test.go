package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/RyderBlack/Ekho/pkg/provider/stt"
	"github.com/RyderBlack/Ekho/pkg/provider/stt/openai"
)

type captured struct {
	mu       sync.Mutex
	path     string
	auth     string
	model    string
	language string
	prompt   string
	filename string
}

func newServer(t *testing.T, c *captured, status int, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.path = r.URL.Path
		c.auth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			c.model = r.FormValue("model")
			c.language = r.FormValue("language")
			c.prompt = r.FormValue("prompt")
			if _, hdr, err := r.FormFile("file"); err == nil {
				c.filename = hdr.Filename
			}
		}
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "invalid file", "type": "invalid_request_error"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.webm")
	if err := os.WriteFile(path, []byte("webm-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	c := &captured{}
	srv := newServer(t, c, http.StatusOK, " Mon nom est Jean Dupont ")
	defer srv.Close()

	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/"), openai.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Transcribe(context.Background(), stt.Request{
		Path:        writeClip(t),
		Filename:    "voice.webm",
		ContentType: "audio/webm",
		Language:    "fr",
		Prompt:      "Mon nom est",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "Mon nom est Jean Dupont" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Provider != "openai" || got.Language != "fr" {
		t.Errorf("Transcript = %+v", got)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "/audio/transcriptions" {
		t.Errorf("path = %q, want /audio/transcriptions", c.path)
	}
	if c.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", c.auth)
	}
	if c.model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", c.model)
	}
	if c.language != "fr" || c.prompt != "Mon nom est" {
		t.Errorf("language = %q, prompt = %q", c.language, c.prompt)
	}
	if c.filename != "voice.webm" {
		t.Errorf("filename = %q, want voice.webm", c.filename)
	}
}

func TestTranscribe_Translate(t *testing.T) {
	t.Parallel()
	c := &captured{}
	srv := newServer(t, c, http.StatusOK, "My name is Jean Dupont")
	defer srv.Close()

	p, _ := openai.New("sk-test", "whisper-large", openai.WithBaseURL(srv.URL+"/"), openai.WithMaxRetries(0))
	got, err := p.Transcribe(context.Background(), stt.Request{
		Path:     writeClip(t),
		Task:     stt.TaskTranslate,
		Language: "fr",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "My name is Jean Dupont" {
		t.Errorf("Text = %q", got.Text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "/audio/translations" {
		t.Errorf("path = %q, want /audio/translations", c.path)
	}
	if c.model != "whisper-large" {
		t.Errorf("model = %q", c.model)
	}
	if c.language != "" {
		t.Errorf("translations should not send a language, got %q", c.language)
	}
}

func TestTranscribe_ServiceError(t *testing.T) {
	t.Parallel()
	c := &captured{}
	srv := newServer(t, c, http.StatusBadRequest, "")
	defer srv.Close()

	p, _ := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/"), openai.WithMaxRetries(0))
	_, err := p.Transcribe(context.Background(), stt.Request{Path: writeClip(t)})

	var se *stt.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *stt.ServiceError", err)
	}
	if se.Provider != "openai" || se.StatusCode != http.StatusBadRequest {
		t.Errorf("ServiceError = %+v", se)
	}
}

func TestTranscribe_NoAutomaticRetry(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/"))
	_, err := p.Transcribe(context.Background(), stt.Request{Path: writeClip(t)})

	var se *stt.ServiceError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want ServiceError with 503", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	t.Parallel()
	p, _ := openai.New("sk-test", "")
	_, err := p.Transcribe(context.Background(), stt.Request{Path: filepath.Join(t.TempDir(), "missing")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}
