package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/RyderBlack/Ekho/internal/resilience"
	"github.com/RyderBlack/Ekho/pkg/provider/stt"
	"github.com/RyderBlack/Ekho/pkg/provider/stt/mock"
)

func TestTranscriber_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{ProviderName: "gradio", Result: stt.Transcript{Text: "mon nom est jean dupont"}}
	fallback := &mock.Transcriber{ProviderName: "openai"}

	tr := resilience.NewTranscriber(primary, resilience.FallbackConfig{})
	tr.AddFallback(fallback)

	got, err := tr.Transcribe(context.Background(), stt.Request{Path: "clip.wav"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "mon nom est jean dupont" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Provider != "gradio" {
		t.Errorf("Provider = %q, want gradio filled in", got.Provider)
	}
	if fallback.CallCount() != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.CallCount())
	}
	if tr.Name() != "gradio+openai" {
		t.Errorf("Name() = %q", tr.Name())
	}
	if primary.LastRequest().Path != "clip.wav" {
		t.Errorf("request not forwarded: %+v", primary.LastRequest())
	}
}

func TestTranscriber_Failover(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{
		ProviderName: "gradio",
		Err:          &stt.ServiceError{Provider: "gradio", StatusCode: http.StatusServiceUnavailable, Err: errors.New("sleeping")},
	}
	fallback := &mock.Transcriber{ProviderName: "openai", Result: stt.Transcript{Text: "bonjour", Provider: "openai"}}

	tr := resilience.NewTranscriber(primary, resilience.FallbackConfig{})
	tr.AddFallback(fallback)

	got, err := tr.Transcribe(context.Background(), stt.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", got.Provider)
	}
}

func TestTranscriber_AllFailKeepsServiceError(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{
		ProviderName: "gradio",
		Err:          &stt.ServiceError{Provider: "gradio", StatusCode: http.StatusBadGateway, Err: errors.New("boom")},
	}
	fallback := &mock.Transcriber{
		ProviderName: "openai",
		Err:          &stt.ServiceError{Provider: "openai", StatusCode: http.StatusInternalServerError, Err: errors.New("boom")},
	}
	tr := resilience.NewTranscriber(primary, resilience.FallbackConfig{})
	tr.AddFallback(fallback)

	_, err := tr.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	var se *stt.ServiceError
	if !errors.As(err, &se) || se.Provider != "openai" {
		t.Fatalf("err = %v, want last ServiceError in chain", err)
	}
}

func TestTranscriber_OpenCircuitIsServiceError(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{ProviderName: "gradio", Err: errors.New("connection refused")}
	tr := resilience.NewTranscriber(primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = tr.Transcribe(ctx, stt.Request{})
	}
	if tr.Available() {
		t.Fatal("Available() = true, want false with the only breaker open")
	}

	_, err := tr.Transcribe(ctx, stt.Request{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	var se *stt.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *stt.ServiceError", err)
	}
	if primary.CallCount() != 2 {
		t.Errorf("primary called %d times, want 2", primary.CallCount())
	}
	if states := tr.States(); len(states) != 1 || states[0].State != resilience.StateOpen {
		t.Errorf("States() = %+v", states)
	}
}

func TestTranscriber_ClientErrorsDoNotTrip(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{
		ProviderName: "deepgram",
		Err:          fmt.Errorf("deepgram: %w: translate", stt.ErrUnsupportedTask),
	}
	tr := resilience.NewTranscriber(primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	for i := 0; i < 3; i++ {
		_, err := tr.Transcribe(context.Background(), stt.Request{Task: stt.TaskTranslate})
		if !errors.Is(err, stt.ErrUnsupportedTask) {
			t.Fatalf("call %d: err = %v, want ErrUnsupportedTask", i, err)
		}
	}
	if !tr.Available() {
		t.Error("client errors must not open the breaker")
	}
}

func TestIsTranscriptionFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"unsupported task", stt.ErrUnsupportedTask, false},
		{"missing file", &os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, false},
		{"bad request", &stt.ServiceError{StatusCode: 400, Err: errors.New("x")}, false},
		{"unauthorized", &stt.ServiceError{StatusCode: 401, Err: errors.New("x")}, true},
		{"rate limited", &stt.ServiceError{StatusCode: 429, Err: errors.New("x")}, true},
		{"server error", &stt.ServiceError{StatusCode: 503, Err: errors.New("x")}, true},
		{"network", &stt.ServiceError{Err: errors.New("dial tcp: refused")}, true},
		{"plain", errors.New("x"), true},
	}
	for _, tc := range tests {
		if got := resilience.IsTranscriptionFailure(tc.err); got != tc.want {
			t.Errorf("%s: IsTranscriptionFailure() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
