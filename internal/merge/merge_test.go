package merge

import (
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumpload/internal/normalize"
)

func splitIDs(list string) []string {
	if list == "" {
		return nil
	}
	return strings.Split(list, IDSeparator)
}

func cand(id, title, author string) Candidate {
	return Candidate{SourceID: id, Title: title, NormalizedTitle: normalize.Text(title), AuthorID: author}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	existing := &WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar"}
	withAuthor := &WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar", AuthorID: "OL9A"}
	withAlt := &WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar", AlternateIDs: "OL2W"}

	tests := []struct {
		name    string
		old     *WorkRow
		c       Candidate
		want    WorkRow
		outcome Outcome
	}{
		{
			name:    "insert",
			c:       cand("OL1W", "Foo Bar!", "OL9A"),
			want:    WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar", AuthorID: "OL9A"},
			outcome: OutcomeInserted,
		},
		{
			name:    "same source id is a no-op",
			old:     existing,
			c:       cand("OL1W", "FOO BAR", "OL9A"),
			want:    *existing,
			outcome: OutcomeUnchanged,
		},
		{
			name:    "new id appended",
			old:     existing,
			c:       cand("OL2W", "foo  bar", ""),
			want:    WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar", AlternateIDs: "OL2W"},
			outcome: OutcomeMerged,
		},
		{
			name:    "empty author filled",
			old:     existing,
			c:       cand("OL2W", "foo bar", "OL9A"),
			want:    WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar", AuthorID: "OL9A", AlternateIDs: "OL2W"},
			outcome: OutcomeMerged,
		},
		{
			name:    "author never overwritten",
			old:     withAuthor,
			c:       cand("OL2W", "foo bar", "OL8A"),
			want:    WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar", AuthorID: "OL9A", AlternateIDs: "OL2W"},
			outcome: OutcomeMerged | OutcomeAuthorConflict,
		},
		{
			name:    "known alternate is not repeated",
			old:     withAlt,
			c:       cand("OL2W", "foo bar", ""),
			want:    *withAlt,
			outcome: OutcomeUnchanged,
		},
		{
			name:    "prefix of a known alternate is distinct",
			old:     &WorkRow{WorkID: "OL1W", NormalizedTitle: "foo bar", AlternateIDs: "OL22W"},
			c:       cand("OL2W", "foo bar", ""),
			want:    WorkRow{WorkID: "OL1W", NormalizedTitle: "foo bar", AlternateIDs: "OL22W,OL2W"},
			outcome: OutcomeMerged,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, out := Merge(tt.old, tt.c)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("row mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.outcome, out, "outcome %s", out)
		})
	}
}

func TestMergeDoesNotMutateOld(t *testing.T) {
	t.Parallel()

	old := WorkRow{WorkID: "OL1W", NormalizedTitle: "x"}
	snapshot := old
	_, _ = Merge(&old, cand("OL2W", "x", "OL1A"))
	assert.Equal(t, snapshot, old)
}

func TestApplyExample(t *testing.T) {
	t.Parallel()

	rows := map[string]WorkRow{}
	counts := Apply(rows, []Candidate{
		cand("OL1W", "Foo Bar!", ""),
		cand("OL2W", "foo  bar", ""),
	})

	require.Len(t, rows, 1)
	assert.Equal(t, WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar", AlternateIDs: "OL2W"}, rows["foo bar"])
	assert.Equal(t, Counts{Inserted: 1, Merged: 1}, counts)
}

func sampleBatch() []Candidate {
	return []Candidate{
		cand("OL1W", "Dune", ""),
		cand("OL2W", "DUNE", "OL5A"),
		cand("OL3W", "Dune!", "OL6A"),
		cand("OL4W", "Emma", "OL7A"),
		cand("OL5W", "Émma", ""),
		cand("OL6W", "Ulysses", ""),
		cand("OL2W", "dune", "OL5A"),
		cand("OL7W", "Middlemarch", "OL8A"),
	}
}

func TestApplyTwiceEqualsOnce(t *testing.T) {
	t.Parallel()

	once := map[string]WorkRow{}
	Apply(once, sampleBatch())

	twice := map[string]WorkRow{}
	Apply(twice, sampleBatch())
	second := Apply(twice, sampleBatch())

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second application changed rows (-once +twice):\n%s", diff)
	}
	assert.Zero(t, second.Inserted)
}

func TestApplyRowCountEqualsDistinctTitles(t *testing.T) {
	t.Parallel()

	rows := map[string]WorkRow{}
	batch := sampleBatch()
	Apply(rows, batch)

	distinct := map[string]struct{}{}
	for _, c := range batch {
		distinct[c.NormalizedTitle] = struct{}{}
	}
	assert.Len(t, rows, len(distinct))
}

func TestApplyPermutation(t *testing.T) {
	t.Parallel()

	base := map[string]WorkRow{}
	Apply(base, sampleBatch())

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		batch := sampleBatch()
		rng.Shuffle(len(batch), func(a, b int) { batch[a], batch[b] = batch[b], batch[a] })

		got := map[string]WorkRow{}
		Apply(got, batch)

		require.Len(t, got, len(base))
		for key, want := range base {
			row := got[key]
			// Only the primary id and display title depend on arrival order.
			assert.Equal(t, idSet(want), idSet(row), "ids for %q", key)
		}
	}
}

// idSet is every source id merged into row, sorted.
func idSet(row WorkRow) []string {
	ids := append([]string{row.WorkID}, splitIDs(row.AlternateIDs)...)
	sort.Strings(ids)
	return ids
}

func TestAlternateIDsInvariant(t *testing.T) {
	t.Parallel()

	rows := map[string]WorkRow{}
	Apply(rows, sampleBatch())
	Apply(rows, sampleBatch())

	for key, row := range rows {
		seen := map[string]bool{}
		for _, id := range splitIDs(row.AlternateIDs) {
			assert.NotEqual(t, row.WorkID, id, "row %q lists its own id", key)
			assert.False(t, seen[id], "row %q repeats %s", key, id)
			seen[id] = true
		}
	}
}

func TestFromStored(t *testing.T) {
	t.Parallel()

	c := cand("OL2W", "x", "OL5A")
	assert.Equal(t, OutcomeUnchanged, FromStored(c, false, "", ""))
	assert.Equal(t, OutcomeInserted, FromStored(c, true, "OL2W", "OL5A"))
	assert.Equal(t, OutcomeMerged, FromStored(c, true, "OL1W", "OL5A"))
	assert.Equal(t, OutcomeMerged|OutcomeAuthorConflict, FromStored(c, true, "OL1W", "OL9A"))
	assert.Equal(t, OutcomeMerged, FromStored(cand("OL2W", "x", ""), true, "OL1W", "OL9A"))
}

func TestCounts(t *testing.T) {
	t.Parallel()

	var c Counts
	c.Observe(OutcomeInserted)
	c.Observe(OutcomeMerged | OutcomeAuthorConflict)
	c.Observe(OutcomeUnchanged)
	c.Add(Counts{Inserted: 2})

	assert.Equal(t, Counts{Inserted: 3, Merged: 1, Unchanged: 1, AuthorConflicts: 1}, c)
	assert.EqualValues(t, 5, c.Total())
	assert.Equal(t, "merged,author_conflict", (OutcomeMerged | OutcomeAuthorConflict).String())
}
