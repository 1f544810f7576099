package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dumpload/internal/config"
	"dumpload/internal/pipeline"
)

func newWorksCommand(stdout, _ io.Writer) *cobra.Command {
	def := config.Default().Works
	cmd := &cobra.Command{
		Use:   "works",
		Short: "Import the works dump, merging works that share a normalized title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, "works", worksBindings, func(ctx context.Context, e env) error {
				sum, err := pipeline.RunWorks(ctx, e.cfg, e.log)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, sum.Line())
				if sum.Skipped > 0 {
					e.log.Info("works: skipped lines", zap.Int64("skipped", sum.Skipped), zap.Any("reasons", sum.SkipReasons))
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.String("dump", def.Dump, "works dump file")
	f.IntP("batch", "b", def.BatchSize, "rows per write batch")
	f.Int64P("commit-interval", "c", def.CommitInterval, "rows between commit and WAL checkpoint; 0 commits once at the end")
	f.BoolP("force", "f", def.Force, "drop the works table before importing")
	f.Bool("vacuum", def.Vacuum, "compact the store after the import")
	f.Bool("count-lines", def.CountLines, "count dump lines first to report progress")
	f.Int("count-workers", def.CountWorkers, "goroutines counting lines; 0 means GOMAXPROCS")
	f.String("skip-log", def.SkipLog, "write skipped lines to this CSV file")
	return cmd
}

var worksBindings = config.FlagBindings{
	"works.dump":            "dump",
	"works.batch_size":      "batch",
	"works.commit_interval": "commit-interval",
	"works.force":           "force",
	"works.vacuum":          "vacuum",
	"works.count_lines":     "count-lines",
	"works.count_workers":   "count-workers",
	"works.skip_log":        "skip-log",
}

func newAuthorsCommand(stdout, _ io.Writer) *cobra.Command {
	def := config.Default().Authors
	cmd := &cobra.Command{
		Use:   "authors",
		Short: "Replace the authors table from the authors dump",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, "authors", authorsBindings, func(ctx context.Context, e env) error {
				sum, err := pipeline.RunAuthors(ctx, e.cfg, e.log)
				if err != nil {
					return err
				}
				for _, m := range sum.Messages() {
					fmt.Fprintln(stdout, m)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.String("dump", def.Dump, "authors dump file")
	f.String("skip-log", def.SkipLog, "write skipped lines to this CSV file")
	return cmd
}

var authorsBindings = config.FlagBindings{
	"authors.dump":     "dump",
	"authors.skip_log": "skip-log",
}
