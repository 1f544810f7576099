package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dumpload/internal/datasource"
	"dumpload/internal/metrics"
	"dumpload/internal/storage"
	"dumpload/internal/storage/memory"
)

// failingRepo is a memory repository whose Checkpoint fails.
type failingRepo struct {
	*memory.Repository
	closed bool
}

var errCheckpoint = errors.New("disk full")

func (f *failingRepo) Checkpoint(context.Context) error { return errCheckpoint }
func (f *failingRepo) Close() {
	f.closed = true
	f.Repository.Close()
}

type stepRecorder struct {
	mu    sync.Mutex
	steps map[string]string // step -> status, last write wins
}

func (s *stepRecorder) IncCounter(name string, _ float64, l metrics.Labels) {
	if name != metrics.StepTotal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[l["step"]] = l["status"]
}
func (s *stepRecorder) ObserveHistogram(string, float64, metrics.Labels) {}
func (s *stepRecorder) Flush() error                                     { return nil }

// installRepo swaps the storage hook. Tests using it must not run in parallel.
func installRepo(t *testing.T, fn func(ctx context.Context, cfg storage.Config) (storage.Repository, error)) {
	t.Helper()
	orig := newRepository
	t.Cleanup(func() { newRepository = orig })
	newRepository = fn
}

func TestRunWorksStorageFailureClosesStore(t *testing.T) {
	rec := &stepRecorder{steps: map[string]string{}}
	metrics.SetBackend(rec)
	t.Cleanup(func() { metrics.SetBackend(metrics.Nop()) })

	var repo *failingRepo
	installRepo(t, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		m, _, err := memory.NewRepository(ctx, "")
		if err != nil {
			return nil, err
		}
		repo = &failingRepo{Repository: m}
		return repo, nil
	})

	dumpPath, _ := writeDump(t, "works.txt", sampleWorks()...)
	c := memoryConfig(t, dumpPath)
	c.Metrics.Job = "hooktest"

	sum, err := RunWorks(context.Background(), c, zaptest.NewLogger(t))
	require.ErrorIs(t, err, errCheckpoint)
	// batch 2 with a commit every 3 rows checkpoints after the fourth work
	assert.ErrorContains(t, err, "streaming: loader: checkpoint")
	assert.Equal(t, StateFailed, sum.State)
	require.NotNil(t, repo)
	assert.True(t, repo.closed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "success", rec.steps["schema_ready"])
	assert.Equal(t, "failure", rec.steps["streaming"])
	assert.Equal(t, "failure", rec.steps["failed"])
	assert.NotContains(t, rec.steps, "draining")
}

func TestRunWorksOpenFailure(t *testing.T) {
	boom := errors.New("connection refused")
	var got storage.Config
	installRepo(t, func(_ context.Context, cfg storage.Config) (storage.Repository, error) {
		got = cfg
		return nil, boom
	})

	dumpPath, _ := writeDump(t, "works.txt", sampleWorks()...)
	c := sqliteConfig(t, dumpPath)
	c.Works.CountLines = false

	sum, err := RunWorks(context.Background(), c, zaptest.NewLogger(t))
	require.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "schema_ready: open sqlite store")
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, c.Store.DSN, got.DSN)
	assert.Len(t, got.Pragmas, 9)
	assert.False(t, got.KeepSideFiles)
	assert.NotNil(t, got.Logger)
	assert.DirExists(t, filepath.Dir(c.Store.DSN))
}

func TestOpenLookupKeepsSideFiles(t *testing.T) {
	var got storage.Config
	installRepo(t, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		got = cfg
		m, _, err := memory.NewRepository(ctx, "")
		return m, err
	})

	c := memoryConfig(t, "")
	l, err := OpenLookup(context.Background(), c, zaptest.NewLogger(t))
	require.NoError(t, err)
	l.Close()
	assert.True(t, got.KeepSideFiles)
	assert.Empty(t, got.Pragmas)
}

func TestOpenLookupUsesReadPragmas(t *testing.T) {
	var got storage.Config
	installRepo(t, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		got = cfg
		m, _, err := memory.NewRepository(ctx, "")
		return m, err
	})

	c := sqliteConfig(t, "")
	require.NoError(t, os.MkdirAll(filepath.Dir(c.Store.DSN), 0o755))
	require.NoError(t, os.WriteFile(c.Store.DSN, nil, 0o644))

	l, err := OpenLookup(context.Background(), c, zaptest.NewLogger(t))
	require.NoError(t, err)
	l.Close()

	assert.True(t, got.KeepSideFiles)
	assert.Equal(t, c.SQLite.LookupPragmas(), got.Pragmas)
	assert.Contains(t, got.Pragmas, storage.Pragma{Name: "locking_mode", Value: "NORMAL"})
	assert.Contains(t, got.Pragmas, storage.Pragma{Name: "query_only", Value: "ON"})
}

// flakySource yields body and then fails.
type flakySource struct {
	body string
	err  error
}

func (f flakySource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(strings.NewReader(f.body), iotest.ErrReader(f.err))), nil
}

func installSource(t *testing.T, src datasource.Source) {
	t.Helper()
	orig := dumpSource
	t.Cleanup(func() { dumpSource = orig })
	dumpSource = func(string) datasource.Source { return src }
}

func TestRunWorksReadFailure(t *testing.T) {
	eio := errors.New("input/output error")
	lines := sampleWorks()
	installSource(t, flakySource{body: lines[0] + "\n" + lines[2] + "\n", err: eio})

	// The dump must still exist for the up-front checks.
	dumpPath, _ := writeDump(t, "works.txt", sampleWorks()...)
	c := memoryConfig(t, dumpPath)

	sum, err := RunWorks(context.Background(), c, zaptest.NewLogger(t))
	require.ErrorIs(t, err, eio)
	assert.ErrorContains(t, err, "streaming")
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, int64(2), sum.Processed)

	// Nothing was committed.
	l, err := OpenLookup(context.Background(), c, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer l.Close()
	_, err = l.Work(context.Background(), "foo bar")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunAuthorsReadFailure(t *testing.T) {
	eio := errors.New("input/output error")
	installSource(t, flakySource{body: authorLine("OL1A", "Émile Zola") + "\n", err: eio})

	dumpPath, _ := writeDump(t, "authors.txt", authorLine("OL1A", "Émile Zola"))
	c := memoryConfig(t, "")
	c.Authors.Dump = dumpPath

	sum, err := RunAuthors(context.Background(), c, zaptest.NewLogger(t))
	require.ErrorIs(t, err, eio)
	assert.ErrorContains(t, err, "grouping")
	assert.Equal(t, StateFailed, sum.State)
	assert.Zero(t, sum.Inserted)
}

// Summary timing is wall clock; only its shape is checked.
func TestSummaryLine(t *testing.T) {
	s := Summary{Processed: 12, Duration: 1500 * time.Millisecond, Store: "data/x.sqlite3"}
	assert.Equal(t, "Import complete: 12 works in 1.50s → data/x.sqlite3", s.Line())

	a := AuthorSummary{UniqueNames: 3, Inserted: 3, Duration: 250 * time.Millisecond, Store: "memory"}
	assert.Equal(t, []string{"3 unique author names processed", "inserted 3 authors in 0.25s → memory"}, a.Messages())
}
