package stt

import (
	"fmt"
	"time"
)

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the recognised (or translated) speech, trimmed.
	Text string

	// Language is the language detected by the backend, when reported.
	Language string

	// Duration is the length of the audio, when reported.
	Duration time.Duration

	// Provider names the backend that produced the text. Set by fallback
	// chains so callers can tell which backend answered.
	Provider string
}

// ServiceError reports a failed call to a remote transcription service.
type ServiceError struct {
	// Provider is the backend name.
	Provider string

	// StatusCode is the HTTP status returned by the service, or 0 when the
	// request never got a response.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transcription service returned HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transcription service error: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error { return e.Err }
