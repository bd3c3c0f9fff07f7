// Package mock provides a test double for [stt.Transcriber].
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "mon nom est jean dupont"}}
//	got, _ := tr.Transcribe(ctx, stt.Request{Path: path})
//	_ = tr.CallCount() // 1
package mock

import (
	"context"
	"sync"

	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe.
	Req stt.Request
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Result is returned by Transcribe when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, replaces Result and Err.
	TranscribeFunc func(ctx context.Context, req stt.Request) (stt.Transcript, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns Result, Err.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{Ctx: ctx, Req: req})
	fn, res, err := t.TranscribeFunc, t.Result, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// Name implements stt.Transcriber.
func (t *Transcriber) Name() string {
	if t.ProviderName == "" {
		return "mock"
	}
	return t.ProviderName
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// LastRequest returns the request of the most recent call, or the zero value.
func (t *Transcriber) LastRequest() stt.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Calls) == 0 {
		return stt.Request{}
	}
	return t.Calls[len(t.Calls)-1].Req
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}
