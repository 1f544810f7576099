package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dumpload/internal/config"
	"dumpload/internal/datasource/file"
	"dumpload/internal/merge"
	"dumpload/internal/metrics"
	"dumpload/internal/parser/dump"
	"dumpload/internal/skiplog"
	"dumpload/internal/storage"
)

// Summary reports a works import.
type Summary struct {
	State State
	Store string
	Dump  string

	// TotalLines is the up-front line count, 0 when counting was disabled.
	TotalLines int64
	// Lines is the number of lines read.
	Lines int64
	// Processed is the number of accepted records.
	Processed   int64
	Skipped     int64
	SkipReasons map[string]int64

	Counts  merge.Counts
	Batches int64
	Commits int64
	// Rows is the size of the works table at the end of the run.
	Rows int64

	Fingerprint uint64
	Duration    time.Duration
}

// Line renders the one-line completion message.
func (s Summary) Line() string {
	return fmt.Sprintf("Import complete: %d works in %.2fs → %s", s.Processed, s.Duration.Seconds(), s.Store)
}

// Fields renders s for structured logging.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.String("store", s.Store),
		zap.String("dump", s.Dump),
		zap.Int64("lines", s.Lines),
		zap.Int64("processed", s.Processed),
		zap.Int64("skipped", s.Skipped),
		zap.Any("skip_reasons", s.SkipReasons),
		zap.Int64("inserted", s.Counts.Inserted),
		zap.Int64("merged", s.Counts.Merged),
		zap.Int64("unchanged", s.Counts.Unchanged),
		zap.Int64("author_conflicts", s.Counts.AuthorConflicts),
		zap.Int64("batches", s.Batches),
		zap.Int64("commits", s.Commits),
		zap.Int64("rows", s.Rows),
		zap.String("fingerprint", file.FormatFingerprint(s.Fingerprint)),
		zap.Duration("duration", s.Duration.Truncate(time.Millisecond)),
	}
}

// RunWorks imports the works dump named by cfg.Works into the configured
// store. The returned Summary is filled as far as the run got, also on error.
func RunWorks(ctx context.Context, cfg config.Config, log *zap.Logger) (Summary, error) {
	job := cfg.Metrics.Job
	if job == "" {
		job = "works"
	}
	r := newRun(job, log)
	sum := Summary{Store: storeLabel(cfg.Store), Dump: cfg.Works.Dump}

	w := &worksRun{run: r, cfg: cfg, sum: &sum}
	err := w.execute(ctx)
	sum.State = r.finish(err)
	sum.Duration = time.Since(r.start)
	if err != nil {
		return sum, err
	}
	r.log.Info(sum.Line(), sum.Fields()...)
	return sum, nil
}

type worksRun struct {
	*run
	cfg config.Config
	sum *Summary

	skips  *skiplog.Log
	repo   storage.Repository
	loader *storage.Loader
}

func (w *worksRun) execute(ctx context.Context) (err error) {
	defer func() {
		if w.loader != nil {
			w.syncLoaderStats()
		}
		if w.repo != nil {
			w.repo.Close()
		}
		if w.skips != nil {
			if cerr := w.skips.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateInit, w.init},
		{StateSchemaReady, w.schema},
		{StateStreaming, w.stream},
		{StateDraining, w.drain},
		{StateIndexBuilding, w.index},
		{StateFinalizing, w.finalize},
	}
	for _, s := range steps {
		if err := w.step(s.state, func() error { return s.fn(ctx) }); err != nil {
			return err
		}
	}
	return nil
}

func (w *worksRun) init(ctx context.Context) error {
	size, err := checkDump(w.cfg.Works.Dump)
	if err != nil {
		return err
	}
	w.log.Info("pipeline: works import",
		zap.String("dump", w.cfg.Works.Dump),
		zap.Int64("dump_bytes", size),
		zap.String("store_kind", w.cfg.Store.Kind),
		zap.String("store", w.sum.Store),
		zap.Int("batch_size", w.cfg.Works.BatchSize),
		zap.Int64("commit_interval", w.cfg.Works.CommitInterval),
		zap.Bool("force", w.cfg.Works.Force),
	)

	if w.cfg.Works.CountLines {
		started := time.Now()
		n, err := file.CountLines(ctx, w.cfg.Works.Dump, w.cfg.Works.CountWorkers)
		if err != nil {
			return err
		}
		w.sum.TotalLines = n
		w.log.Info("pipeline: counted lines",
			zap.Int64("lines", n),
			zap.Duration("took", time.Since(started).Truncate(time.Millisecond)),
		)
	}

	w.skips, err = skiplog.Open(w.cfg.Works.SkipLog)
	if err != nil {
		return err
	}
	if p := w.skips.Path(); p != "" {
		w.log.Info("pipeline: writing skip log", zap.String("path", p))
	}
	return nil
}

func (w *worksRun) schema(ctx context.Context) error {
	repo, err := openStore(ctx, w.cfg, w.log)
	if err != nil {
		return err
	}
	w.repo = repo
	if err := repo.EnsureWorksSchema(ctx, w.cfg.Works.Force); err != nil {
		return err
	}

	w.loader, err = storage.NewLoader(repo, storage.LoaderConfig{
		BatchSize:      w.cfg.Works.BatchSize,
		CommitInterval: w.cfg.Works.CommitInterval,
		Job:            w.job,
		Logger:         w.log,
		Progress:       w.progress,
	})
	return err
}

// progress adds the read position to every flush line.
func (w *worksRun) progress() []zap.Field {
	fields := []zap.Field{
		zap.Int64("lines", w.sum.Lines),
		zap.Int64("processed", w.sum.Processed),
		zap.Int64("skipped", w.sum.Skipped),
	}
	if w.sum.TotalLines > 0 {
		pct := float64(w.sum.Lines) * 100 / float64(w.sum.TotalLines)
		fields = append(fields,
			zap.Int64("total_lines", w.sum.TotalLines),
			zap.String("progress", fmt.Sprintf("%d/%d (%.1f%%)", w.sum.Lines, w.sum.TotalLines, pct)),
		)
	}
	return fields
}

func (w *worksRun) stream(ctx context.Context) (err error) {
	rc, err := dumpSource(w.cfg.Works.Dump).Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := w.loader.Start(ctx); err != nil {
		return err
	}

	lr := file.NewLineReader(rc)
	for lr.Next() {
		n := lr.Line()
		w.sum.Lines = n
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		raw := lr.Text()
		work, perr := dump.ParseWork(raw)
		if perr != nil {
			w.sum.Skipped++
			if err := recordSkip(w.log, w.skips, n, raw, perr); err != nil {
				return err
			}
			continue
		}
		w.sum.Processed++
		if err := w.loader.Add(ctx, work); err != nil {
			return err
		}
	}
	if err := lr.Err(); err != nil {
		return fmt.Errorf("read %s: %w", w.cfg.Works.Dump, err)
	}
	w.sum.Fingerprint = lr.Fingerprint()
	return nil
}

func (w *worksRun) drain(ctx context.Context) error {
	w.log.Debug("pipeline: draining", zap.Int("pending", w.loader.Pending()))
	return w.loader.Flush(ctx)
}

func (w *worksRun) index(ctx context.Context) error {
	if err := w.loader.Finish(ctx); err != nil {
		return err
	}
	if err := w.repo.BuildWorkIndexes(ctx); err != nil {
		return err
	}
	return w.repo.Checkpoint(ctx)
}

func (w *worksRun) finalize(ctx context.Context) error {
	if w.cfg.Works.Vacuum {
		started := time.Now()
		if err := w.repo.Compact(ctx); err != nil {
			return err
		}
		w.log.Info("pipeline: compacted", zap.Duration("took", time.Since(started).Truncate(time.Millisecond)))
	}
	if err := w.repo.Checkpoint(ctx); err != nil {
		return err
	}
	rows, err := w.repo.CountWorks(ctx)
	if err != nil {
		return err
	}
	w.sum.Rows = rows
	w.sum.SkipReasons = w.skips.Counts()

	metrics.RecordRow(w.job, "processed", w.sum.Processed)
	metrics.RecordRow(w.job, "skipped", w.sum.Skipped)
	return nil
}

func (w *worksRun) syncLoaderStats() {
	st := w.loader.Stats()
	w.sum.Counts = st.Counts
	w.sum.Batches = st.Batches
	w.sum.Commits = st.Commits
}
