package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/RyderBlack/Ekho/internal/events"
	"github.com/RyderBlack/Ekho/internal/identify"
	"github.com/RyderBlack/Ekho/internal/observe"
	"github.com/RyderBlack/Ekho/internal/session"
	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

// transcribeResponse is the body of a successful POST /transcribe.
type transcribeResponse struct {
	Transcription  string           `json:"transcription"`
	WelcomeMessage string           `json:"welcome_message,omitempty"`
	Identification *identify.Result `json:"identification,omitempty"`
	Provider       string           `json:"provider,omitempty"`
}

// handleTranscribe stages the uploaded clip in a temp file, transcribes it
// and identifies the speaker against the session roster.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, hdr, err := r.FormFile("audio")
	if err != nil {
		writeError(w, r, uploadErr(err, errNoAudio))
		return
	}
	defer file.Close()
	if hdr.Size == 0 {
		writeError(w, r, errNoAudio)
		return
	}

	task, err := stt.ParseTask(r.FormValue("task"), s.cfg.DefaultTask)
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}

	path, err := s.stage(file, hdr.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer os.Remove(path)

	ctx, span := observe.StartSpan(ctx, "transcribe",
		observe.AttrSessionID.String(sess.ID),
		observe.AttrTask.String(string(task)),
	)
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()

	start := time.Now()
	tr, err := s.cfg.Transcriber.Transcribe(ctx, stt.Request{
		Path:        path,
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Task:        task,
		Language:    s.cfg.Language,
		Prompt:      s.cfg.Prompt,
	})
	s.cfg.Metrics.RecordTranscription(ctx, s.providerLabel(tr, err), string(task), time.Since(start), err)
	if err != nil {
		spanErr = err
		writeError(w, r, err)
		return
	}

	res := s.cfg.Identifier.Identify(tr.Text, sess.Roster())
	span.SetAttributes(
		observe.AttrProvider.String(tr.Provider),
		observe.AttrOutcome.String(string(res.Status)),
	)
	s.cfg.Metrics.RecordIdentification(ctx, string(res.Status))
	s.publish(r, sess, res, tr.Provider, task)

	observe.Logger(ctx).Info("clip identified",
		"session_id", sess.ID,
		"provider", tr.Provider,
		"task", task,
		"status", res.Status,
	)

	writeJSON(w, http.StatusOK, transcribeResponse{
		Transcription:  tr.Text,
		WelcomeMessage: identify.WelcomeMessage(res),
		Identification: &res,
		Provider:       tr.Provider,
	})
}

// publish sends the identification to the event sink. Failures are logged
// and otherwise ignored.
func (s *Server) publish(r *http.Request, sess *session.Session, res identify.Result, provider string, task stt.Task) {
	ev := events.Event{
		Status:     string(res.Status),
		FirstName:  res.FirstName,
		LastName:   res.LastName,
		SpokenName: res.SpokenName,
		Provider:   provider,
		Task:       string(task),
		SessionID:  sess.ID,
		Time:       time.Now().UTC(),
	}
	if err := s.cfg.Events.Publish(r.Context(), ev); err != nil {
		observe.Logger(r.Context()).Warn("publish identification event", "err", err)
	}
}

// providerLabel names the backend for metrics: the one that answered, the
// one that failed, or the configured chain.
func (s *Server) providerLabel(tr stt.Transcript, err error) string {
	if err == nil && tr.Provider != "" {
		return tr.Provider
	}
	var se *stt.ServiceError
	if errors.As(err, &se) && se.Provider != "" {
		return se.Provider
	}
	return s.cfg.Transcriber.Name()
}

// safeExt keeps a short alphanumeric extension so backends can sniff the
// container from the staged file name.
var safeExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

// stage copies an upload into a new temp file and returns its path. The
// caller removes it.
func (s *Server) stage(src multipart.File, filename string) (string, error) {
	ext := filepath.Ext(filepath.Base(filename))
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	f, err := os.CreateTemp(s.cfg.TempDir, "ekho-*"+ext)
	if err != nil {
		return "", fmt.Errorf("server: create temp file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("server: stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("server: stage upload: %w", err)
	}
	return f.Name(), nil
}

// uploadErr turns a FormFile failure into missing (for absent or
// non-multipart uploads) or keeps it when the body was too large.
func uploadErr(err, missing error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return err
	}
	return missing
}
