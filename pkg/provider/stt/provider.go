// Package stt defines the Transcriber interface for remote speech-to-text
// backends.
//
// A Transcriber takes one complete audio file and returns its text. Ekho never
// streams audio: the browser or CLI records a clip, the clip is written to a
// temporary file, and the file is handed to whichever backend is configured
// (a hosted Hugging Face Space, the OpenAI audio API, a whisper.cpp server or
// Deepgram). Backends may either transcribe in the spoken language or
// translate to English, selected per request with [Task].
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnsupportedTask is returned by backends that cannot honour the requested
// [Task] (for example translation on a backend that only transcribes).
var ErrUnsupportedTask = errors.New("stt: task not supported by provider")

// Task selects what the model does with the audio.
type Task string

const (
	// TaskTranscribe returns text in the spoken language.
	TaskTranscribe Task = "transcribe"

	// TaskTranslate returns an English translation of the speech.
	TaskTranslate Task = "translate"
)

// IsValid reports whether t is a recognised task.
func (t Task) IsValid() bool {
	return t == TaskTranscribe || t == TaskTranslate
}

// ParseTask converts s to a [Task]. The empty string yields def.
func ParseTask(s string, def Task) (Task, error) {
	if s == "" {
		return def, nil
	}
	t := Task(s)
	if !t.IsValid() {
		return "", fmt.Errorf("stt: unknown task %q; valid values: transcribe, translate", s)
	}
	return t, nil
}

// Request describes one audio clip to transcribe.
type Request struct {
	// Path is the audio file on local disk. It must stay readable for the
	// duration of the call; fallback chains may read it more than once.
	Path string

	// Filename is the client-supplied file name, forwarded to backends that
	// infer the container format from it. Defaults to the base of Path.
	Filename string

	// ContentType is the MIME type reported by the client, if known.
	ContentType string

	// Task selects transcription or translation. Empty means [TaskTranscribe].
	Task Task

	// Language is an ISO-639-1 hint (e.g. "fr"). Empty lets the backend
	// detect the language.
	Language string

	// Prompt is optional context text some backends use to bias recognition,
	// such as the names on the current roster.
	Prompt string
}

// Name returns Filename, or the base name of Path when Filename is empty.
func (r Request) Name() string {
	if r.Filename != "" {
		return filepath.Base(r.Filename)
	}
	return filepath.Base(r.Path)
}

// EffectiveTask returns r.Task, defaulting to [TaskTranscribe].
func (r Request) EffectiveTask() Task {
	if r.Task == "" {
		return TaskTranscribe
	}
	return r.Task
}

// Open opens the audio file for reading.
func (r Request) Open() (*os.File, error) {
	if r.Path == "" {
		return nil, errors.New("stt: request has no audio path")
	}
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, fmt.Errorf("stt: open audio: %w", err)
	}
	return f, nil
}

// Transcriber is the abstraction over any batch speech-to-text backend.
type Transcriber interface {
	// Transcribe sends the audio described by req to the backend and returns
	// the recognised text. Remote failures are reported as *[ServiceError].
	Transcribe(ctx context.Context, req Request) (Transcript, error)

	// Name is the short provider identifier used in logs and metrics.
	Name() string
}
