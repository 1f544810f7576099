package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dumpload/internal/merge"
	"dumpload/internal/storage"
)

/*
Package-level test helpers (TB-aware)
*/

// testPragmas mirrors the production pragma set without the large mmap and
// cache reservations.
var testPragmas = []storage.Pragma{
	{Name: "page_size", Value: "32768"},
	{Name: "journal_mode", Value: "WAL"},
	{Name: "synchronous", Value: "NORMAL"},
	{Name: "temp_store", Value: "MEMORY"},
	{Name: "cache_size", Value: "-20000"},
	{Name: "wal_autocheckpoint", Value: "20000"},
	{Name: "locking_mode", Value: "EXCLUSIVE"},
	{Name: "foreign_keys", Value: "OFF"},
}

func dbPath(tb testing.TB) string {
	tb.Helper()
	return filepath.Join(tb.TempDir(), "works.db")
}

// openRepo opens path and registers cleanup. The returned close function may
// be called early; the cleanup is then a no-op.
func openRepo(tb testing.TB, path string) (*Repository, func()) {
	tb.Helper()
	r, closeFn, err := NewRepository(context.Background(), Config{Path: path, Pragmas: testPragmas})
	if err != nil {
		tb.Fatalf("NewRepository(%s): %v", path, err)
	}
	tb.Cleanup(closeFn)
	return r, closeFn
}

func newRepo(tb testing.TB) *Repository {
	tb.Helper()
	r, _ := openRepo(tb, dbPath(tb))
	if err := r.EnsureWorksSchema(context.Background(), false); err != nil {
		tb.Fatalf("EnsureWorksSchema: %v", err)
	}
	return r
}

// upsertCommitted runs batch in its own transaction.
func upsertCommitted(tb testing.TB, r *Repository, batch []merge.Candidate) merge.Counts {
	tb.Helper()
	ctx := context.Background()
	if err := r.Begin(ctx); err != nil {
		tb.Fatalf("Begin: %v", err)
	}
	counts, err := r.UpsertWorks(ctx, batch)
	if err != nil {
		tb.Fatalf("UpsertWorks: %v", err)
	}
	if err := r.Commit(ctx); err != nil {
		tb.Fatalf("Commit: %v", err)
	}
	return counts
}

func mustLookup(tb testing.TB, r *Repository, norm string) merge.WorkRow {
	tb.Helper()
	row, err := r.LookupWork(context.Background(), norm)
	if err != nil {
		tb.Fatalf("LookupWork(%q): %v", norm, err)
	}
	return row
}

func cand(id, title, norm, author string) merge.Candidate {
	return merge.Candidate{SourceID: id, Title: title, NormalizedTitle: norm, AuthorID: author}
}

/*
Unit tests
*/

func TestNewRepositoryRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), Config{Path: "  "}); err == nil {
		t.Fatal("NewRepository() error = nil, want non-nil")
	}
}

func TestNewRepositoryBadPragma(t *testing.T) {
	t.Parallel()

	_, _, err := NewRepository(context.Background(), Config{
		Path:    dbPath(t),
		Pragmas: []storage.Pragma{{Name: "journal_mode", Value: "'WAL"}},
	})
	if err == nil {
		t.Fatal("NewRepository() with malformed pragma: error = nil")
	}
}

func TestPurgeSideFiles(t *testing.T) {
	t.Parallel()

	path := dbPath(t)
	for _, suffix := range sideFileSuffixes {
		if err := os.WriteFile(path+suffix, []byte("stale"), 0o600); err != nil {
			t.Fatalf("write side file: %v", err)
		}
	}
	if err := PurgeSideFiles(path); err != nil {
		t.Fatalf("PurgeSideFiles() error = %v", err)
	}
	for _, suffix := range sideFileSuffixes {
		if _, err := os.Stat(path + suffix); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s still present (stat err = %v)", suffix, err)
		}
	}
	// Already gone is fine.
	if err := PurgeSideFiles(path); err != nil {
		t.Fatalf("PurgeSideFiles() second call error = %v", err)
	}
}

func TestPragmasApplied(t *testing.T) {
	t.Parallel()

	r, _ := openRepo(t, dbPath(t))
	ctx := context.Background()

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"page_size":    "32768",
		"synchronous":  "1",
		"locking_mode": "exclusive",
	} {
		got, err := r.Pragma(ctx, name)
		if err != nil {
			t.Fatalf("Pragma(%s): %v", name, err)
		}
		if got != want {
			t.Fatalf("PRAGMA %s = %q, want %q", name, got, want)
		}
	}
}

// TestUpsertWorksMergesByNormalizedTitle covers the basic merge: the first
// source id owns the row and later ids collect as alternates.
func TestUpsertWorksMergesByNormalizedTitle(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	batch := []merge.Candidate{
		cand("OL1W", "Foo Bar!", "foo bar", "OL1A"),
		cand("OL2W", "foo  bar", "foo bar", ""),
	}

	counts := upsertCommitted(t, r, batch)
	if diff := cmp.Diff(merge.Counts{Inserted: 1, Merged: 1}, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}

	want := merge.WorkRow{WorkID: "OL1W", Title: "Foo Bar!", NormalizedTitle: "foo bar", AuthorID: "OL1A", AlternateIDs: "OL2W"}
	if diff := cmp.Diff(want, mustLookup(t, r, "foo bar")); diff != "" {
		t.Fatalf("row mismatch (-want +got):\n%s", diff)
	}

	// Replaying leaves the row alone. The owner's own id is skipped by the
	// engine; the known alternate is rewritten in place.
	counts = upsertCommitted(t, r, batch)
	if diff := cmp.Diff(merge.Counts{Unchanged: 1, Merged: 1}, counts); diff != "" {
		t.Fatalf("replay counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, mustLookup(t, r, "foo bar")); diff != "" {
		t.Fatalf("row changed on replay (-want +got):\n%s", diff)
	}
}

func TestUpsertWorksAuthorFillAndConflict(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	counts := upsertCommitted(t, r, []merge.Candidate{
		cand("OL1W", "Dune", "dune", ""),
		cand("OL2W", "Dune.", "dune", "OL9A"),
		cand("OL3W", "DUNE", "dune", "OL7A"),
	})

	want := merge.WorkRow{WorkID: "OL1W", Title: "Dune", NormalizedTitle: "dune", AuthorID: "OL9A", AlternateIDs: "OL2W,OL3W"}
	if diff := cmp.Diff(want, mustLookup(t, r, "dune")); diff != "" {
		t.Fatalf("row mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(merge.Counts{Inserted: 1, Merged: 2, AuthorConflicts: 1}, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
}

// TestUpsertWorksMatchesInMemoryMerge checks the SQL upsert against
// merge.Apply over a batch that exercises every branch.
func TestUpsertWorksMatchesInMemoryMerge(t *testing.T) {
	t.Parallel()

	batch := []merge.Candidate{
		cand("OL1W", "A", "a", ""),
		cand("OL2W", "B", "b", "OL2A"),
		cand("OL3W", "a!", "a", "OL3A"),
		cand("OL1W", "A", "a", "OL1A"),
		cand("OL4W", "A.", "a", "OL4A"),
		cand("OL3W", "a!", "a", "OL3A"),
		cand("OL5W", "b?", "b", ""),
		cand("OL10W", "C", "c", ""),
		cand("OL1", "c", "c", ""),
	}

	r := newRepo(t)
	upsertCommitted(t, r, batch[:4])
	upsertCommitted(t, r, batch[4:])

	oracle := map[string]merge.WorkRow{}
	merge.Apply(oracle, batch)

	n, err := r.CountWorks(context.Background())
	if err != nil {
		t.Fatalf("CountWorks: %v", err)
	}
	if n != int64(len(oracle)) {
		t.Fatalf("CountWorks() = %d, want %d", n, len(oracle))
	}

	keys := make([]string, 0, len(oracle))
	for k := range oracle {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if diff := cmp.Diff(oracle[k], mustLookup(t, r, k)); diff != "" {
			t.Fatalf("row %q mismatch (-memory +sqlite):\n%s", k, diff)
		}
	}
}

func TestUpsertWorksDuplicateWorkIDFails(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	if err := r.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err := r.UpsertWorks(ctx, []merge.Candidate{
		cand("OL1W", "One", "one", ""),
		cand("OL1W", "Two", "two", ""),
	})
	if err == nil {
		t.Fatal("UpsertWorks() with one id under two titles: error = nil")
	}
}

func TestTransactionStateErrors(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()

	if _, err := r.UpsertWorks(ctx, nil); err == nil {
		t.Fatal("UpsertWorks() without Begin: error = nil")
	}
	if err := r.Commit(ctx); err == nil {
		t.Fatal("Commit() without Begin: error = nil")
	}
	if err := r.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := r.Begin(ctx); err == nil {
		t.Fatal("second Begin(): error = nil")
	}
	if err := r.Checkpoint(ctx); err == nil {
		t.Fatal("Checkpoint() inside a transaction: error = nil")
	}
	if err := r.Compact(ctx); err == nil {
		t.Fatal("Compact() inside a transaction: error = nil")
	}
	if _, err := r.ReplaceAuthors(ctx, nil); err == nil {
		t.Fatal("ReplaceAuthors() inside a transaction: error = nil")
	}
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	t.Parallel()

	path := dbPath(t)
	r, _ := openRepo(t, path)
	ctx := context.Background()
	if err := r.EnsureWorksSchema(ctx, false); err != nil {
		t.Fatalf("EnsureWorksSchema: %v", err)
	}

	batch := make([]merge.Candidate, 0, 500)
	for i := 0; i < 500; i++ {
		batch = append(batch, cand(fmt.Sprintf("OL%dW", i), "T", fmt.Sprintf("t%d", i), ""))
	}
	upsertCommitted(t, r, batch)

	st, err := os.Stat(path + "-wal")
	if err != nil {
		t.Fatalf("stat wal: %v", err)
	}
	if st.Size() == 0 {
		t.Fatal("wal is empty before checkpoint")
	}

	if err := r.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	st, err = os.Stat(path + "-wal")
	if err != nil {
		t.Fatalf("stat wal: %v", err)
	}
	if st.Size() != 0 {
		t.Fatalf("wal size after checkpoint = %d, want 0", st.Size())
	}
}

func TestEnsureWorksSchemaForce(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	upsertCommitted(t, r, []merge.Candidate{cand("OL1W", "A", "a", "")})

	// Without force the table and its rows survive.
	if err := r.EnsureWorksSchema(ctx, false); err != nil {
		t.Fatalf("EnsureWorksSchema(false): %v", err)
	}
	if n, _ := r.CountWorks(ctx); n != 1 {
		t.Fatalf("CountWorks() = %d, want 1", n)
	}

	if err := r.EnsureWorksSchema(ctx, true); err != nil {
		t.Fatalf("EnsureWorksSchema(true): %v", err)
	}
	if n, _ := r.CountWorks(ctx); n != 0 {
		t.Fatalf("CountWorks() after force = %d, want 0", n)
	}
}

func TestBuildWorkIndexesAndCompact(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	upsertCommitted(t, r, []merge.Candidate{cand("OL1W", "A", "a", "OL1A")})

	for i := 0; i < 2; i++ {
		if err := r.BuildWorkIndexes(ctx); err != nil {
			t.Fatalf("BuildWorkIndexes #%d: %v", i+1, err)
		}
	}
	var n int
	err := r.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_works_author_id'").Scan(&n)
	if err != nil || n != 1 {
		t.Fatalf("index count = %d (err %v), want 1", n, err)
	}

	if err := r.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
}

func TestLookupWorkNotFound(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	if _, err := r.LookupWork(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LookupWork() error = %v, want ErrNotFound", err)
	}
}

func TestReplaceAuthors(t *testing.T) {
	t.Parallel()

	r, _ := openRepo(t, dbPath(t))
	ctx := context.Background()

	first := []merge.AuthorRow{
		{AuthorID: "OL1A", Name: "j. smith", NormalizedName: "j smith"},
		{AuthorID: "OL2A", Name: "j smith", NormalizedName: "j smith", AlternateIDs: "OL3A"},
		{AuthorID: "OL4A", Name: "ann", NormalizedName: "ann"},
	}
	n, err := r.ReplaceAuthors(ctx, first)
	if err != nil {
		t.Fatalf("ReplaceAuthors: %v", err)
	}
	if n != 3 {
		t.Fatalf("ReplaceAuthors() = %d, want 3", n)
	}

	got, err := r.LookupAuthors(ctx, "j smith")
	if err != nil {
		t.Fatalf("LookupAuthors: %v", err)
	}
	if diff := cmp.Diff(first[:2], got); diff != "" {
		t.Fatalf("authors mismatch (-want +got):\n%s", diff)
	}

	// A second import replaces the table.
	if _, err := r.ReplaceAuthors(ctx, []merge.AuthorRow{{AuthorID: "OL9A", Name: "ann", NormalizedName: "ann"}}); err != nil {
		t.Fatalf("ReplaceAuthors (second): %v", err)
	}
	got, err = r.LookupAuthors(ctx, "j smith")
	if err != nil {
		t.Fatalf("LookupAuthors: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("LookupAuthors() after replace = %v, want none", got)
	}
	got, _ = r.LookupAuthors(ctx, "ann")
	if len(got) != 1 || got[0].AuthorID != "OL9A" {
		t.Fatalf("LookupAuthors(ann) = %v, want OL9A only", got)
	}
}

func TestReplaceAuthorsDuplicateIDRollsBack(t *testing.T) {
	t.Parallel()

	r, _ := openRepo(t, dbPath(t))
	ctx := context.Background()
	if _, err := r.ReplaceAuthors(ctx, []merge.AuthorRow{{AuthorID: "OL1A", Name: "a", NormalizedName: "a"}}); err != nil {
		t.Fatalf("ReplaceAuthors: %v", err)
	}

	_, err := r.ReplaceAuthors(ctx, []merge.AuthorRow{
		{AuthorID: "OL2A", Name: "b", NormalizedName: "b"},
		{AuthorID: "OL2A", Name: "b", NormalizedName: "b"},
	})
	if err == nil {
		t.Fatal("ReplaceAuthors() with duplicate ids: error = nil")
	}
	got, err := r.LookupAuthors(ctx, "a")
	if err != nil || len(got) != 1 {
		t.Fatalf("previous authors table not preserved: %v, %v", got, err)
	}
}

// TestCloseRollsBackOpenTransaction reopens the file after closing with an
// uncommitted batch.
func TestCloseRollsBackOpenTransaction(t *testing.T) {
	t.Parallel()

	path := dbPath(t)
	ctx := context.Background()

	r, closeFn := openRepo(t, path)
	if err := r.EnsureWorksSchema(ctx, false); err != nil {
		t.Fatalf("EnsureWorksSchema: %v", err)
	}
	upsertCommitted(t, r, []merge.Candidate{cand("OL1W", "A", "a", "")})
	if err := r.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := r.UpsertWorks(ctx, []merge.Candidate{cand("OL2W", "B", "b", "")}); err != nil {
		t.Fatalf("UpsertWorks: %v", err)
	}
	closeFn()

	r2, _ := openRepo(t, path)
	n, err := r2.CountWorks(ctx)
	if err != nil {
		t.Fatalf("CountWorks: %v", err)
	}
	if n != 1 {
		t.Fatalf("CountWorks() after reopen = %d, want 1", n)
	}
}

/*
Benchmarks
*/

func BenchmarkUpsertWorks(b *testing.B) {
	r := newRepo(b)
	ctx := context.Background()

	batch := make([]merge.Candidate, 1000)
	if err := r.Begin(ctx); err != nil {
		b.Fatalf("Begin: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range batch {
			batch[j] = cand(fmt.Sprintf("OL%d_%dW", i, j), "T", fmt.Sprintf("t%d", j%700), "")
		}
		if _, err := r.UpsertWorks(ctx, batch); err != nil {
			b.Fatalf("UpsertWorks: %v", err)
		}
	}
	b.StopTimer()
	if err := r.Commit(ctx); err != nil {
		b.Fatalf("Commit: %v", err)
	}
}
