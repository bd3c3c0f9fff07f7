package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/RyderBlack/Ekho/pkg/provider/stt"
	"github.com/RyderBlack/Ekho/pkg/provider/stt/whisper"
)

// newMockServer answers POST /inference with responseText and hands every
// parsed form to record.
func newMockServer(t *testing.T, responseText string, record func(url.Values, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		name := ""
		if _, hdr, err := r.FormFile("file"); err == nil {
			name = hdr.Filename
		}
		if record != nil {
			record(r.MultipartForm.Value, name)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		fields url.Values
		file   string
	)
	srv := newMockServer(t, " mon nom est Jean Dupont\n", func(v url.Values, name string) {
		mu.Lock()
		defer mu.Unlock()
		fields, file = v, name
	})
	defer srv.Close()

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("small"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Transcribe(context.Background(), stt.Request{Path: writeClip(t), Filename: "voice.wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "mon nom est Jean Dupont" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Language != "fr" || got.Provider != "whisper" {
		t.Errorf("Transcript = %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if file != "voice.wav" {
		t.Errorf("file name = %q, want voice.wav", file)
	}
	if fields.Get("language") != "fr" || fields.Get("model") != "small" || fields.Get("response_format") != "json" {
		t.Errorf("fields = %v", fields)
	}
	if fields.Has("translate") {
		t.Errorf("translate sent for a transcribe task: %v", fields)
	}
}

func TestTranscribe_TranslateAndLanguageOverride(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		fields url.Values
	)
	srv := newMockServer(t, "my name is Jean", func(v url.Values, _ string) {
		mu.Lock()
		defer mu.Unlock()
		fields = v
	})
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"))
	if _, err := p.Transcribe(context.Background(), stt.Request{
		Path:     writeClip(t),
		Task:     stt.TaskTranslate,
		Language: "fr",
	}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fields.Get("translate") != "true" {
		t.Errorf("translate = %q, want true", fields.Get("translate"))
	}
	if fields.Get("language") != "fr" {
		t.Errorf("language = %q, want request language fr", fields.Get("language"))
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Request{Path: writeClip(t)})
	var se *stt.ServiceError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("err = %v, want ServiceError with HTTP 500", err)
	}
}

func TestTranscribe_ErrorPayload(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "failed to read WAV file"})
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Request{Path: writeClip(t)})
	var se *stt.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ServiceError", err)
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "x", nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(ctx, stt.Request{Path: writeClip(t)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
