package merge

// Counts tallies merge outcomes over one or more batches.
type Counts struct {
	Inserted        int64 `json:"inserted"`
	Merged          int64 `json:"merged"`
	Unchanged       int64 `json:"unchanged"`
	AuthorConflicts int64 `json:"author_conflicts"`
}

// Observe adds one outcome.
func (c *Counts) Observe(o Outcome) {
	switch {
	case o.Has(OutcomeInserted):
		c.Inserted++
	case o.Has(OutcomeMerged):
		c.Merged++
	default:
		c.Unchanged++
	}
	if o.Has(OutcomeAuthorConflict) {
		c.AuthorConflicts++
	}
}

// Add folds other into c.
func (c *Counts) Add(other Counts) {
	c.Inserted += other.Inserted
	c.Merged += other.Merged
	c.Unchanged += other.Unchanged
	c.AuthorConflicts += other.AuthorConflicts
}

// Total is the number of candidates observed.
func (c Counts) Total() int64 { return c.Inserted + c.Merged + c.Unchanged }

// FromStored classifies an upsert performed by a storage engine from the row
// the engine reports back. updated is false when the engine skipped the write,
// which only happens when c re-observes the row's own source id.
func FromStored(c Candidate, updated bool, workID, authorID string) Outcome {
	if !updated {
		return OutcomeUnchanged
	}
	if workID == c.SourceID {
		return OutcomeInserted
	}
	out := OutcomeMerged
	if c.AuthorID != "" && authorID != c.AuthorID {
		out |= OutcomeAuthorConflict
	}
	return out
}
