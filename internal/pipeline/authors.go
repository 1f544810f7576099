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
)

// AuthorSummary reports an authors import.
type AuthorSummary struct {
	State State
	Store string
	Dump  string

	Lines       int64
	Processed   int64
	Skipped     int64
	SkipReasons map[string]int64
	// DuplicateIDs counts records dropped because their id was seen before.
	DuplicateIDs int64
	// UniqueNames is the number of distinct normalized names.
	UniqueNames int64
	Inserted    int64

	Fingerprint uint64
	Duration    time.Duration
}

// Messages renders the completion messages.
func (s AuthorSummary) Messages() []string {
	return []string{
		fmt.Sprintf("%d unique author names processed", s.UniqueNames),
		fmt.Sprintf("inserted %d authors in %.2fs → %s", s.Inserted, s.Duration.Seconds(), s.Store),
	}
}

// RunAuthors groups the authors dump by normalized name in memory and
// replaces the authors table with one row per name.
func RunAuthors(ctx context.Context, cfg config.Config, log *zap.Logger) (AuthorSummary, error) {
	job := cfg.Metrics.Job
	if job == "" {
		job = "authors"
	}
	r := newRun(job, log)
	sum := AuthorSummary{Store: storeLabel(cfg.Store), Dump: cfg.Authors.Dump}

	err := runAuthors(ctx, r, cfg, &sum)
	sum.State = r.finish(err)
	sum.Duration = time.Since(r.start)
	if err != nil {
		return sum, err
	}
	for _, msg := range sum.Messages() {
		r.log.Info(msg)
	}
	return sum, nil
}

func runAuthors(ctx context.Context, r *run, cfg config.Config, sum *AuthorSummary) (err error) {
	var skips *skiplog.Log
	defer func() {
		if skips == nil {
			return
		}
		if cerr := skips.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	err = r.step(StateInit, func() error {
		size, err := checkDump(cfg.Authors.Dump)
		if err != nil {
			return err
		}
		r.log.Info("pipeline: authors import",
			zap.String("dump", cfg.Authors.Dump),
			zap.Int64("dump_bytes", size),
			zap.String("store_kind", cfg.Store.Kind),
			zap.String("store", sum.Store),
		)
		skips, err = skiplog.Open(cfg.Authors.SkipLog)
		return err
	})
	if err != nil {
		return err
	}

	groups := merge.NewAuthorGroups()
	err = r.step(StateGrouping, func() error {
		return groupAuthors(ctx, r.log, cfg.Authors.Dump, groups, skips, sum)
	})
	if err != nil {
		return err
	}
	sum.UniqueNames = int64(groups.Len())
	sum.DuplicateIDs = int64(groups.Duplicates())
	sum.SkipReasons = skips.Counts()

	return r.step(StateLoading, func() error {
		repo, err := openStore(ctx, cfg, r.log)
		if err != nil {
			return err
		}
		defer repo.Close()

		n, err := repo.ReplaceAuthors(ctx, groups.Rows())
		if err != nil {
			return err
		}
		sum.Inserted = n
		metrics.RecordRow(r.job, "processed", sum.Processed)
		metrics.RecordRow(r.job, "skipped", sum.Skipped)
		metrics.RecordRow(r.job, "inserted", n)
		return nil
	})
}

func groupAuthors(ctx context.Context, log *zap.Logger, path string, groups *merge.AuthorGroups, skips *skiplog.Log, sum *AuthorSummary) error {
	rc, err := dumpSource(path).Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	lr := file.NewLineReader(rc)
	for lr.Next() {
		n := lr.Line()
		sum.Lines = n
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		raw := lr.Text()
		a, perr := dump.ParseAuthor(raw)
		if perr != nil {
			sum.Skipped++
			if err := recordSkip(log, skips, n, raw, perr); err != nil {
				return err
			}
			continue
		}
		sum.Processed++
		if !groups.Add(a) {
			log.Debug("pipeline: duplicate author id", zap.Int64("line", n), zap.String("id", a.AuthorID))
		}
	}
	if err := lr.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	sum.Fingerprint = lr.Fingerprint()
	return nil
}
