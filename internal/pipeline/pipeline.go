// Package pipeline drives the dumpload runs: the works import (stream, merge,
// batch, checkpoint, index), the authors import (group in memory, replace)
// and exact-key lookups against the loaded tables.
//
// A run moves through named states. Each state is logged and timed with
// metrics.RecordStep; the first error moves the run to StateFailed and closes
// the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"dumpload/internal/config"
	"dumpload/internal/datasource"
	"dumpload/internal/datasource/file"
	"dumpload/internal/metrics"
	"dumpload/internal/parser/dump"
	"dumpload/internal/skiplog"
	"dumpload/internal/storage"
)

// ErrDumpNotFound is returned before any storage is touched when the dump is
// missing or not a regular file.
var ErrDumpNotFound = errors.New("dump file not found")

// State names a phase of a run.
type State string

const (
	StateInit          State = "init"
	StateSchemaReady   State = "schema_ready"
	StateStreaming     State = "streaming"
	StateDraining      State = "draining"
	StateIndexBuilding State = "index_building"
	StateFinalizing    State = "finalizing"
	StateGrouping      State = "grouping"
	StateLoading       State = "loading"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// newRepository opens the configured backend. Tests swap it.
var newRepository = storage.New

// dumpSource returns the reader of a dump path. Tests swap it.
var dumpSource = func(path string) datasource.Source { return file.NewLocal(path) }

// ctxCheckEvery bounds how many lines are read between cancellation checks.
const ctxCheckEvery = 4096

// run tracks the state of one invocation.
type run struct {
	job   string
	log   *zap.Logger
	state State
	start time.Time
}

func newRun(job string, log *zap.Logger) *run {
	if log == nil {
		log = zap.NewNop()
	}
	return &run{job: job, log: log.With(zap.String("job", job)), state: StateInit, start: time.Now()}
}

// step enters s, runs fn and records the outcome.
func (r *run) step(s State, fn func() error) error {
	r.state = s
	r.log.Debug("pipeline: enter state", zap.String("state", string(s)))
	started := time.Now()
	err := fn()
	took := time.Since(started)
	metrics.RecordStep(r.job, string(s), err, took)
	if err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	r.log.Info("pipeline: state complete",
		zap.String("state", string(s)),
		zap.Duration("took", took.Truncate(time.Millisecond)),
	)
	return nil
}

// finish records the terminal state.
func (r *run) finish(err error) State {
	total := time.Since(r.start)
	if err != nil {
		r.log.Error("pipeline: run failed",
			zap.String("state", string(r.state)),
			zap.Duration("elapsed", total.Truncate(time.Millisecond)),
			zap.Error(err),
		)
		metrics.RecordStep(r.job, string(StateFailed), err, total)
		r.state = StateFailed
		return r.state
	}
	metrics.RecordStep(r.job, string(StateDone), nil, total)
	r.state = StateDone
	return r.state
}

// checkDump verifies the dump exists and returns its size.
func checkDump(path string) (int64, error) {
	size, err := file.NewLocal(path).Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDumpNotFound, err)
	}
	return size, nil
}

// openStore creates the parent directory of a file store and opens the
// backend.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (storage.Repository, error) {
	return openStoreWith(ctx, cfg, log, nil)
}

func openStoreWith(ctx context.Context, cfg config.Config, log *zap.Logger, tweak func(*storage.Config)) (storage.Repository, error) {
	sc := cfg.StorageConfig()
	sc.Logger = log
	if tweak != nil {
		tweak(&sc)
	}
	if sc.Kind == "sqlite" && !isMemoryPath(sc.DSN) {
		if dir := filepath.Dir(sc.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
	}
	repo, err := newRepository(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sc.Kind, err)
	}
	return repo, nil
}

func isMemoryPath(p string) bool {
	return p == "" || p == ":memory:" || strings.HasPrefix(p, "file::memory:")
}

// storeLabel names the store in summaries: the file path for sqlite, the
// kind otherwise (connection strings may carry credentials).
func storeLabel(s config.Store) string {
	if s.Kind == "sqlite" {
		return s.DSN
	}
	if s.Schema != "" {
		return s.Kind + ":" + s.Schema
	}
	return s.Kind
}

// recordSkip counts a rejected line and logs it at debug level.
func recordSkip(log *zap.Logger, skips *skiplog.Log, line int64, raw string, err error) error {
	reason := dump.ReasonOf(err)
	if reason == "" {
		reason = "parse_error"
	}
	var id string
	var re *dump.RejectError
	if errors.As(err, &re) {
		id = re.ID
	}
	log.Debug("pipeline: skipping line",
		zap.Int64("line", line),
		zap.String("reason", string(reason)),
		zap.String("id", id),
		zap.Error(err),
	)
	return skips.Add(string(reason), line, id, raw)
}
