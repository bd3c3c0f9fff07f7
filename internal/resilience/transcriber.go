package resilience

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

// Transcriber implements [stt.Transcriber] on top of a [FallbackGroup]: every
// backend gets its own circuit breaker and failed calls move on to the next
// backend in order.
type Transcriber struct {
	group *FallbackGroup[stt.Transcriber]
	names []string
}

var _ stt.Transcriber = (*Transcriber)(nil)

// NewTranscriber creates a [Transcriber] with primary as the preferred backend.
// cfg.CircuitBreaker.IsFailure defaults to [IsTranscriptionFailure].
func NewTranscriber(primary stt.Transcriber, cfg FallbackConfig) *Transcriber {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = IsTranscriptionFailure
	}
	return &Transcriber{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
}

// AddFallback registers an additional backend.
func (t *Transcriber) AddFallback(tr stt.Transcriber) {
	t.group.AddFallback(tr.Name(), tr)
	t.names = append(t.names, tr.Name())
}

// Name returns the backend names joined with "+", primary first.
func (t *Transcriber) Name() string { return strings.Join(t.names, "+") }

// States reports the breaker state of every backend.
func (t *Transcriber) States() []EntryState { return t.group.States() }

// Available reports whether at least one backend would accept a call now.
func (t *Transcriber) Available() bool {
	for _, s := range t.group.States() {
		if s.State != StateOpen {
			return true
		}
	}
	return false
}

// Transcribe runs req against the first healthy backend. An open breaker is
// reported as a [*stt.ServiceError] so callers see a service failure.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	tr, err := ExecuteWithResult(ctx, t.group, func(ctx context.Context, p stt.Transcriber) (stt.Transcript, error) {
		res, err := p.Transcribe(ctx, req)
		if err == nil && res.Provider == "" {
			res.Provider = p.Name()
		}
		return res, err
	})
	if err == nil {
		return tr, nil
	}
	var se *stt.ServiceError
	if errors.Is(err, ErrCircuitOpen) && !errors.As(err, &se) {
		return stt.Transcript{}, &stt.ServiceError{Provider: t.Name(), Err: err}
	}
	return stt.Transcript{}, err
}

// IsTranscriptionFailure reports whether err says something about backend
// health. Caller mistakes (unsupported task, unreadable upload) and
// cancellations do not trip a breaker.
func IsTranscriptionFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, stt.ErrUnsupportedTask),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission):
		return false
	}
	var se *stt.ServiceError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 &&
		se.StatusCode != 401 && se.StatusCode != 403 && se.StatusCode != 408 && se.StatusCode != 429 {
		return false
	}
	return true
}
