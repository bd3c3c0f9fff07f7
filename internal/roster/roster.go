// Package roster holds the list of known people that spoken names are checked
// against.
//
// A [Roster] is built from raw tabular rows (a spreadsheet with a header row
// followed by one person per row, first name in column 0 and last name in
// column 1). Once built it is immutable, so a single *Roster may be shared by
// any number of concurrent readers. Loading a new roster never merges with an
// old one: callers swap the pointer.
package roster

import (
	"errors"
	"strings"
	"time"
)

// Sentinel errors returned by [Load] and the importers.
var (
	// ErrEmptyRoster is returned when no usable data row remains after the
	// header has been skipped.
	ErrEmptyRoster = errors.New("roster: no usable entries")

	// ErrMalformedRoster is returned when the table has fewer than two columns.
	ErrMalformedRoster = errors.New("roster: table needs at least two columns (first name, last name)")

	// ErrUnrecognizedFormat is returned when an uploaded file is neither CSV
	// nor XLSX.
	ErrUnrecognizedFormat = errors.New("roster: unrecognized file format")
)

// Entry is one known person.
type Entry struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Roster is an ordered, read-only list of entries. Order matters: when several
// entries match the same utterance the first one wins.
type Roster struct {
	entries  []Entry
	source   string
	loadedAt time.Time
}

// Load builds a Roster from raw rows. The first row is treated as a header and
// skipped. Data rows whose first two cells are not both non-blank are dropped
// silently. Cells are trimmed of surrounding whitespace.
//
// Load returns [ErrMalformedRoster] when no row has at least two cells and
// [ErrEmptyRoster] when zero usable data rows remain.
func Load(rows [][]string) (*Roster, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyRoster
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	if width < 2 {
		return nil, ErrMalformedRoster
	}

	entries := make([]Entry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		first := strings.TrimSpace(row[0])
		last := strings.TrimSpace(row[1])
		if first == "" || last == "" {
			continue
		}
		entries = append(entries, Entry{FirstName: first, LastName: last})
	}
	if len(entries) == 0 {
		return nil, ErrEmptyRoster
	}

	return &Roster{entries: entries, loadedAt: time.Now()}, nil
}

// New returns a Roster holding a copy of entries, without header handling or
// validation. Intended for tests and programmatic construction.
func New(entries ...Entry) *Roster {
	return &Roster{entries: append([]Entry(nil), entries...), loadedAt: time.Now()}
}

// Entries returns a copy of the roster's entries in load order.
func (r *Roster) Entries() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.entries...)
}

// Len returns the number of entries. A nil roster has length zero.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// All calls fn for each entry in order until fn returns false.
func (r *Roster) All(fn func(Entry) bool) {
	if r == nil {
		return
	}
	for _, e := range r.entries {
		if !fn(e) {
			return
		}
	}
}

// Source describes where the roster came from (a file name or a Google
// spreadsheet id). Empty when unknown.
func (r *Roster) Source() string {
	if r == nil {
		return ""
	}
	return r.source
}

// LoadedAt reports when the roster was built.
func (r *Roster) LoadedAt() time.Time {
	if r == nil {
		return time.Time{}
	}
	return r.loadedAt
}

// WithSource returns a copy of r labelled with source.
func (r *Roster) WithSource(source string) *Roster {
	cp := *r
	cp.source = source
	return &cp
}
