package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dumpload/internal/merge"
	"dumpload/internal/metrics"
)

const (
	// DefaultBatchSize is the number of candidates grouped into one upsert.
	DefaultBatchSize = 100_000
	// DefaultCommitInterval is the number of flushed candidates between
	// commit and checkpoint cycles.
	DefaultCommitInterval = 1_000_000
)

// LoaderConfig tunes a Loader.
type LoaderConfig struct {
	// BatchSize must be > 0.
	BatchSize int
	// CommitInterval is the checkpoint threshold in flushed candidates.
	// Zero (or less) commits once, in Finish.
	CommitInterval int64
	// Job labels metrics.
	Job string
	// Logger receives one progress line per flush. Nil disables logging.
	Logger *zap.Logger
	// Progress, when set, contributes extra fields to each progress line.
	Progress func() []zap.Field
}

// LoaderStats is a snapshot of a Loader's counters.
type LoaderStats struct {
	Batches int64
	Commits int64
	// Written is the number of candidates handed to the writer.
	Written int64
	Counts  merge.Counts
}

// Loader groups candidates into batches and drives the transactional write
// path. It keeps two independent counters: the batch buffer, flushed when
// full, and the rows written since the last checkpoint. When the second
// reaches CommitInterval after a flush, the loader commits, checkpoints and
// opens a new unit of work.
//
// A Loader is not safe for concurrent use.
type Loader struct {
	w   WorksWriter
	cfg LoaderConfig
	log *zap.Logger

	batch       []merge.Candidate
	sinceCommit int64
	stats       LoaderStats

	start     time.Time
	lastFlush time.Time
	lastTotal int64
}

// NewLoader returns a Loader writing to w.
func NewLoader(w WorksWriter, cfg LoaderConfig) (*Loader, error) {
	if w == nil {
		return nil, fmt.Errorf("loader: writer must not be nil")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batchSize must be > 0")
	}
	if cfg.CommitInterval < 0 {
		cfg.CommitInterval = 0
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		w:     w,
		cfg:   cfg,
		log:   log,
		batch: make([]merge.Candidate, 0, min(cfg.BatchSize, 1<<16)),
	}, nil
}

// Start opens the first unit of work.
func (l *Loader) Start(ctx context.Context) error {
	if err := l.w.Begin(ctx); err != nil {
		return fmt.Errorf("loader: begin: %w", err)
	}
	l.start = time.Now()
	l.lastFlush = l.start
	return nil
}

// Add buffers c and flushes when the batch is full.
func (l *Loader) Add(ctx context.Context, c merge.Candidate) error {
	l.batch = append(l.batch, c)
	if len(l.batch) >= l.cfg.BatchSize {
		return l.Flush(ctx)
	}
	return nil
}

// Pending is the number of buffered candidates.
func (l *Loader) Pending() int { return len(l.batch) }

// Flush writes the buffered candidates, if any, and runs a commit cycle when
// the checkpoint threshold is reached.
func (l *Loader) Flush(ctx context.Context) error {
	if len(l.batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n := int64(len(l.batch))
	counts, err := l.w.UpsertWorks(ctx, l.batch)
	// Reuse the backing array; the writer must not retain the slice.
	l.batch = l.batch[:0]
	if err != nil {
		l.log.Error("loader: upsert failed",
			zap.Int64("batch", l.stats.Batches+1),
			zap.Int64("rows", n),
			zap.Int64("total_written", l.stats.Written),
			zap.Error(err),
		)
		return fmt.Errorf("loader: batch #%d: %w", l.stats.Batches+1, err)
	}

	l.stats.Batches++
	l.stats.Written += n
	l.stats.Counts.Add(counts)
	l.sinceCommit += n
	l.logFlush(n)

	metrics.RecordBatches(l.cfg.Job, 1)
	metrics.RecordRow(l.cfg.Job, "written", n)
	metrics.RecordRow(l.cfg.Job, "inserted", counts.Inserted)
	metrics.RecordRow(l.cfg.Job, "merged", counts.Merged)
	metrics.RecordRow(l.cfg.Job, "author_conflicts", counts.AuthorConflicts)

	if l.cfg.CommitInterval > 0 && l.sinceCommit >= l.cfg.CommitInterval {
		return l.commitCycle(ctx, true)
	}
	return nil
}

// Finish flushes what is left, commits and checkpoints. No unit of work is
// open afterwards.
func (l *Loader) Finish(ctx context.Context) error {
	if err := l.Flush(ctx); err != nil {
		return err
	}
	return l.commitCycle(ctx, false)
}

// Stats returns the current counters.
func (l *Loader) Stats() LoaderStats { return l.stats }

func (l *Loader) commitCycle(ctx context.Context, reopen bool) error {
	started := time.Now()
	err := l.commitAndCheckpoint(ctx)
	metrics.RecordCheckpoint(l.cfg.Job, err, time.Since(started))
	if err != nil {
		return err
	}

	l.stats.Commits++
	l.log.Info("loader: committed",
		zap.Int64("commit", l.stats.Commits),
		zap.Int64("rows_since_last", l.sinceCommit),
		zap.Int64("total_written", l.stats.Written),
		zap.Duration("took", time.Since(started).Truncate(time.Millisecond)),
	)
	l.sinceCommit = 0

	if reopen {
		if err := l.w.Begin(ctx); err != nil {
			return fmt.Errorf("loader: begin: %w", err)
		}
	}
	return nil
}

func (l *Loader) commitAndCheckpoint(ctx context.Context) error {
	if err := l.w.Commit(ctx); err != nil {
		return fmt.Errorf("loader: commit: %w", err)
	}
	if err := l.w.Checkpoint(ctx); err != nil {
		return fmt.Errorf("loader: checkpoint: %w", err)
	}
	return nil
}

func (l *Loader) logFlush(n int64) {
	now := time.Now()
	sinceLast := now.Sub(l.lastFlush)
	rps := float64(0)
	if sinceLast > 0 {
		rps = float64(l.stats.Written-l.lastTotal) / sinceLast.Seconds()
	}

	fields := []zap.Field{
		zap.Int64("batch", l.stats.Batches),
		zap.Float64("rps", float64(int64(rps))),
		zap.Int64("written", n),
		zap.Int64("total_written", l.stats.Written),
		zap.Duration("elapsed", now.Sub(l.start).Truncate(time.Millisecond)),
		zap.Duration("since_last", sinceLast.Truncate(time.Millisecond)),
	}
	if l.cfg.Progress != nil {
		fields = append(fields, l.cfg.Progress()...)
	}
	l.log.Info("loader: batch flushed", fields...)

	l.lastFlush = now
	l.lastTotal = l.stats.Written
}
