// Package merge holds the row model of the loaded tables and the pure policy
// that folds a candidate record into the row stored under its normalized
// title. Storage backends render the same policy as a single conditional
// write; the in-memory backend applies Merge directly.
package merge

import (
	"dumpload/internal/parser/dump"
)

// Candidate is a parsed works record waiting to be merged.
type Candidate = dump.Work

// WorkRow is one row of the works table.
type WorkRow struct {
	WorkID          string `json:"work_id"`
	Title           string `json:"title"`
	NormalizedTitle string `json:"title_normalized"`
	AuthorID        string `json:"author_id"`
	// AlternateIDs is the comma-joined list of later source ids for the same
	// normalized title, in order of first appearance.
	AlternateIDs string `json:"alternate_id"`
}

// Outcome is a set of flags describing what Merge did.
type Outcome uint8

const (
	// OutcomeUnchanged means the stored row is left as it was.
	OutcomeUnchanged Outcome = 0

	OutcomeInserted Outcome = 1 << iota
	// OutcomeMerged means an alternate id was appended or an empty author
	// was filled.
	OutcomeMerged
	// OutcomeAuthorConflict means the candidate named a different non-empty
	// author than the stored row. The stored author is kept.
	OutcomeAuthorConflict
)

// Has reports whether every flag in f is set in o.
func (o Outcome) Has(f Outcome) bool { return f != 0 && o&f == f }

func (o Outcome) String() string {
	switch {
	case o.Has(OutcomeInserted):
		return "inserted"
	case o.Has(OutcomeMerged) && o.Has(OutcomeAuthorConflict):
		return "merged,author_conflict"
	case o.Has(OutcomeMerged):
		return "merged"
	case o.Has(OutcomeAuthorConflict):
		return "author_conflict"
	default:
		return "unchanged"
	}
}

// Merge returns the row that must be stored for c.NormalizedTitle given the
// current row old (nil when there is none).
//
// Re-observing the row's own source id is a no-op. A different source id is
// appended to AlternateIDs once, and may fill an empty AuthorID. WorkID and
// Title never change after insert.
func Merge(old *WorkRow, c Candidate) (WorkRow, Outcome) {
	if old == nil {
		return WorkRow{
			WorkID:          c.SourceID,
			Title:           c.Title,
			NormalizedTitle: c.NormalizedTitle,
			AuthorID:        c.AuthorID,
		}, OutcomeInserted
	}

	row := *old
	if c.SourceID == row.WorkID {
		return row, OutcomeUnchanged
	}

	out := OutcomeUnchanged
	if !ContainsID(row.AlternateIDs, c.SourceID) {
		row.AlternateIDs = AppendID(row.AlternateIDs, c.SourceID)
		out |= OutcomeMerged
	}
	switch {
	case c.AuthorID == "":
	case row.AuthorID == "":
		row.AuthorID = c.AuthorID
		out |= OutcomeMerged
	case row.AuthorID != c.AuthorID:
		out |= OutcomeAuthorConflict
	}
	return row, out
}

// Apply merges batch into rows, keyed by normalized title, in order.
func Apply(rows map[string]WorkRow, batch []Candidate) Counts {
	var counts Counts
	for _, c := range batch {
		var old *WorkRow
		if r, ok := rows[c.NormalizedTitle]; ok {
			old = &r
		}
		row, out := Merge(old, c)
		rows[c.NormalizedTitle] = row
		counts.Observe(out)
	}
	return counts
}
