package identify

import "github.com/RyderBlack/Ekho/internal/roster"

// Suggester proposes the roster entry closest to a spoken name that did not
// match exactly.
type Suggester interface {
	Suggest(spokenName string, r *roster.Roster) (entry roster.Entry, score float64, ok bool)
}

// Option configures an [Identifier].
type Option func(*Identifier)

// WithExtractor replaces [DefaultExtractor].
func WithExtractor(e Extractor) Option {
	return func(id *Identifier) {
		if e != nil {
			id.extractor = e
		}
	}
}

// WithSuggester attaches a [Suggestion] to unrecognized results.
func WithSuggester(s Suggester) Option {
	return func(id *Identifier) {
		id.suggester = s
	}
}

// Identifier bundles an [Extractor] and an optional [Suggester]. The zero
// value is not usable; construct with [New].
type Identifier struct {
	extractor Extractor
	suggester Suggester
}

// New returns an Identifier using [DefaultExtractor] unless overridden.
func New(opts ...Option) *Identifier {
	id := &Identifier{extractor: DefaultExtractor}
	for _, o := range opts {
		o(id)
	}
	return id
}

// Identify behaves like the package-level [Identify] and, when a suggester is
// configured, adds a suggestion to unrecognized results.
func (id *Identifier) Identify(transcript string, r *roster.Roster) Result {
	name, ok := id.extractor.Extract(transcript)
	if !ok {
		return Result{Status: StatusNoNamePattern}
	}
	res := Match(name, r)
	if res.Status == StatusUnrecognized && id.suggester != nil {
		if e, score, ok := id.suggester.Suggest(name, r); ok {
			res.Suggestion = &Suggestion{FirstName: e.FirstName, LastName: e.LastName, Score: score}
		}
	}
	return res
}
