// Package identify decides whether a transcribed utterance names a person on
// the roster.
//
// Identification is two steps. First the spoken name is pulled out of the
// transcript with the fixed French introduction "mon nom est …". Then the
// spoken name is tokenised on whitespace and compared with each roster entry:
// an entry matches when both its lower-cased first name and last name appear
// as whole tokens. The first matching entry in roster order wins.
//
// Every function in this package is pure and safe for concurrent use. Nothing
// here returns an error: a transcript without the introduction or with an
// unknown name is a normal [Result].
package identify

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/RyderBlack/Ekho/internal/roster"
)

// Status is the outcome of an identification attempt.
type Status string

const (
	// StatusRecognized means a roster entry matched the spoken name.
	StatusRecognized Status = "recognized"

	// StatusUnrecognized means a name was spoken but no entry matched.
	StatusUnrecognized Status = "unrecognized"

	// StatusNoNamePattern means the transcript did not contain "mon nom est".
	StatusNoNamePattern Status = "no_name_pattern"
)

// Result is the outcome of [Identify] or [Match].
//
// FirstName and LastName are set only for [StatusRecognized] and carry the
// roster's original spelling. SpokenName is set for both recognized and
// unrecognized results.
type Result struct {
	Status     Status      `json:"status"`
	FirstName  string      `json:"first_name,omitempty"`
	LastName   string      `json:"last_name,omitempty"`
	SpokenName string      `json:"spoken_name,omitempty"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`
}

// Suggestion is an advisory "did you mean" hint attached to unrecognized
// results by an [Identifier] configured with a [Suggester]. It never changes
// the Status.
type Suggestion struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Score     float64 `json:"score"`
}

// Recognized reports whether r identifies a roster entry.
func (r Result) Recognized() bool { return r.Status == StatusRecognized }

// Extractor pulls a spoken name out of a transcript.
type Extractor interface {
	Extract(transcript string) (name string, ok bool)
}

// introPattern captures the words following "mon nom est". Words are runs of
// letters, digits, apostrophes and hyphens, so trailing punctuation ends the
// capture.
var introPattern = regexp.MustCompile(`mon nom est\s+([\p{L}\p{M}\p{N}_'’-]+(?:\s+[\p{L}\p{M}\p{N}_'’-]+)*)`)

// frenchIntro is the only [Extractor]: the French "mon nom est" introduction.
type frenchIntro struct{}

// Extract implements [Extractor].
func (frenchIntro) Extract(transcript string) (string, bool) {
	m := introPattern.FindStringSubmatch(strings.ToLower(transcript))
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	if name == "" {
		return "", false
	}
	return name, true
}

// DefaultExtractor recognises "mon nom est <words>".
var DefaultExtractor Extractor = frenchIntro{}

// ExtractSpokenName returns the lower-cased words following "mon nom est" in
// transcript, trimmed. ok is false when the introduction is absent.
func ExtractSpokenName(transcript string) (name string, ok bool) {
	return DefaultExtractor.Extract(transcript)
}

// Match compares spokenName against every entry of r and returns the first
// entry whose lower-cased first and last names are both whole tokens of the
// lower-cased spoken name. Token position is ignored, so "Jean Dupont Marie
// Curie" matches whichever of the two comes first in the roster.
func Match(spokenName string, r *roster.Roster) Result {
	tokens := strings.Fields(strings.ToLower(spokenName))

	res := Result{Status: StatusUnrecognized, SpokenName: spokenName}
	r.All(func(e roster.Entry) bool {
		if slices.Contains(tokens, strings.ToLower(e.FirstName)) &&
			slices.Contains(tokens, strings.ToLower(e.LastName)) {
			res.Status = StatusRecognized
			res.FirstName = e.FirstName
			res.LastName = e.LastName
			return false
		}
		return true
	})
	return res
}

// Identify extracts the spoken name from transcript and matches it against r.
// When the transcript has no "mon nom est" introduction the result is
// [StatusNoNamePattern] and r is not consulted.
func Identify(transcript string, r *roster.Roster) Result {
	name, ok := ExtractSpokenName(transcript)
	if !ok {
		return Result{Status: StatusNoNamePattern}
	}
	return Match(name, r)
}

// WelcomeMessage renders the French greeting for res. It returns the empty
// string for [StatusNoNamePattern].
func WelcomeMessage(res Result) string {
	switch res.Status {
	case StatusRecognized:
		return "Bienvenue à La Plateforme_ " + Capitalize(res.FirstName) + " " + Capitalize(res.LastName)
	case StatusUnrecognized:
		return "Nom non reconnu: " + res.SpokenName
	}
	return ""
}

// Capitalize upper-cases the first rune of s and lower-cases the rest.
// "jEAN-pierre" becomes "Jean-pierre".
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToTitle(r)) + strings.ToLower(s[size:])
}
