// Package phonetic suggests the roster entry that sounds closest to a spoken
// name which did not match exactly.
//
// Speech recognisers often mangle proper nouns ("Dupond" for "Dupont",
// "Kurie" for "Curie"). The [Matcher] scores every roster entry in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes of the spoken tokens are
//     compared with the codes of the entry's first and last name. Entries
//     sharing at least one code with each name become phonetic candidates.
//
//  2. Jaro-Winkler ranking: candidates are ranked by the average of the best
//     Jaro-Winkler similarity for the first name and for the last name. A
//     phonetic candidate is accepted above the phonetic threshold; entries
//     without a phonetic overlap need the higher fuzzy threshold.
//
// Suggestions are advisory only. They never turn an unrecognized result into
// a recognized one.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/RyderBlack/Ekho/internal/identify"
	"github.com/RyderBlack/Ekho/internal/roster"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

var _ identify.Suggester = (*Matcher)(nil)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score for an entry that shares
// Double Metaphone codes with the spoken name. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum score for an entry with no phonetic
// overlap. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher implements [identify.Suggester]. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Suggest returns the entry of r closest to spokenName. ok is false when no
// entry clears its threshold or when spokenName has fewer than two tokens.
func (m *Matcher) Suggest(spokenName string, r *roster.Roster) (roster.Entry, float64, bool) {
	tokens := strings.Fields(strings.ToLower(spokenName))
	if len(tokens) < 2 || r.Len() == 0 {
		return roster.Entry{}, 0, false
	}
	tokenCodes := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		tokenCodes[i] = codes(t)
	}

	var (
		best      roster.Entry
		bestScore float64
		bestPhon  bool
		found     bool
	)
	r.All(func(e roster.Entry) bool {
		first := strings.ToLower(e.FirstName)
		last := strings.ToLower(e.LastName)

		firstScore, firstIdx := bestToken(tokens, first, -1)
		lastScore, _ := bestToken(tokens, last, firstIdx)
		score := (firstScore + lastScore) / 2

		phon := anyOverlap(tokenCodes, codes(first)) && anyOverlap(tokenCodes, codes(last))

		switch {
		case phon && score >= m.phoneticThreshold:
			if !bestPhon || score > bestScore {
				best, bestScore, bestPhon, found = e, score, true, true
			}
		case !phon && !bestPhon && score >= m.fuzzyThreshold:
			if score > bestScore {
				best, bestScore, found = e, score, true
			}
		}
		return true
	})

	return best, bestScore, found
}

// bestToken returns the highest Jaro-Winkler similarity between name and any
// token other than the one at skip, plus the index of that token.
func bestToken(tokens []string, name string, skip int) (float64, int) {
	best, idx := 0.0, -1
	for i, t := range tokens {
		if i == skip {
			continue
		}
		if s := matchr.JaroWinkler(t, name, false); s > best {
			best, idx = s, i
		}
	}
	return best, idx
}

// codes returns the non-empty Double Metaphone codes of every word in s.
func codes(s string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	for _, w := range strings.Fields(s) {
		p, alt := matchr.DoubleMetaphone(w)
		if p != "" {
			out[p] = struct{}{}
		}
		if alt != "" {
			out[alt] = struct{}{}
		}
	}
	return out
}

// anyOverlap reports whether name shares a code with any token.
func anyOverlap(tokens []map[string]struct{}, name map[string]struct{}) bool {
	for _, tc := range tokens {
		for c := range name {
			if _, ok := tc[c]; ok {
				return true
			}
		}
	}
	return false
}
