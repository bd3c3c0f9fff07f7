package server

import (
	"errors"
	"net/http"

	"github.com/RyderBlack/Ekho/internal/google"
	"github.com/RyderBlack/Ekho/internal/roster"
	"github.com/RyderBlack/Ekho/internal/session"
	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

var (
	errNoAudio     = errors.New("No audio file provided")
	errNoFile      = errors.New("No file provided")
	errNoRoster    = errors.New("No roster loaded")
	errGoogle      = errors.New("google request failed")
	errGoogleSetup = errors.New("Google sign-in is not configured")
)

// badRequestError marks a malformed request.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var (
		se     *stt.ServiceError
		bad    *badRequestError
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.Is(err, errNoAudio), errors.Is(err, errNoFile), errors.As(err, &bad),
		errors.Is(err, session.ErrStateMismatch), errors.Is(err, stt.ErrUnsupportedTask):
		return http.StatusBadRequest
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errNoRoster):
		return http.StatusNotFound
	case errors.Is(err, roster.ErrUnrecognizedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, roster.ErrEmptyRoster), errors.Is(err, roster.ErrMalformedRoster):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errGoogleSetup), errors.Is(err, google.ErrNotConfigured):
		return http.StatusNotImplemented
	case errors.As(err, &se):
		return http.StatusBadGateway
	case errors.Is(err, errGoogle):
		switch code := google.StatusCode(err); code {
		case http.StatusUnauthorized:
			return http.StatusUnauthorized
		case http.StatusForbidden, http.StatusNotFound:
			return code
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// messageFor returns the text sent to the client. Internal errors are not
// echoed verbatim.
func messageFor(err error) string {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, errNoAudio):
		return errNoAudio.Error()
	case errors.As(err, &tooBig):
		return "Upload too large"
	case statusFor(err) == http.StatusInternalServerError:
		return "Internal server error"
	}
	return err.Error()
}
