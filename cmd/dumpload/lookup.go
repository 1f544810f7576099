package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dumpload/internal/datasource/file"
	"dumpload/internal/datasource/httpds"
	"dumpload/internal/merge"
	"dumpload/internal/pipeline"
	"dumpload/internal/storage"
)

type workResult struct {
	Key    string         `json:"key"`
	Work   *merge.WorkRow `json:"work"`
	Online *onlineWork    `json:"online,omitempty"`
}

// onlineWork is the current Open Library record of a stored work.
type onlineWork struct {
	WorkID   string `json:"work_id"`
	Title    string `json:"title"`
	AuthorID string `json:"author_id"`
}

type authorResult struct {
	Key     string            `json:"key"`
	Authors []merge.AuthorRow `json:"authors"`
}

func newLookupCommand(stdout, _ io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Find works by title or authors by name in an imported store",
		Long: `Keys are normalized the same way the importers normalize titles and names,
so "Crème Brûlée" finds a work imported as "creme brulee". Each key prints one
JSON line; the command fails when any key has no match.`,
	}
	cmd.PersistentFlags().String("from-file", "", "read keys from this file, one per line; # starts a comment")

	var (
		online bool
		apiURL string
	)
	workCmd := &cobra.Command{
		Use:   "work [title...]",
		Short: "Look up works by title",
		RunE: func(cmd *cobra.Command, args []string) error {
			var api *httpds.Client
			return runLookup(cmd, args, stdout, func(ctx context.Context, e env, l *pipeline.Lookup, key string) (any, bool, error) {
				row, err := l.Work(ctx, key)
				if errors.Is(err, storage.ErrNotFound) {
					return workResult{Key: key}, false, nil
				}
				if err != nil {
					return nil, false, err
				}
				res := workResult{Key: key, Work: &row}
				if online {
					if api == nil {
						api = httpds.NewClient(httpds.Config{BaseURL: apiURL, MaxRetries: 2, Logger: e.log})
					}
					res.Online = fetchOnline(ctx, api, row.WorkID, e.log)
				}
				return res, true, nil
			})
		},
	}
	workCmd.Flags().BoolVar(&online, "online", false, "also fetch each found work from the Open Library API")
	workCmd.Flags().StringVar(&apiURL, "api-url", httpds.DefaultBaseURL, "Open Library base URL for --online")
	cmd.AddCommand(workCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "author [name...]",
		Short: "Look up authors by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd, args, stdout, func(ctx context.Context, e env, l *pipeline.Lookup, key string) (any, bool, error) {
				rows, err := l.Authors(ctx, key)
				if errors.Is(err, storage.ErrNotFound) {
					return authorResult{Key: key, Authors: []merge.AuthorRow{}}, false, nil
				}
				if err != nil {
					return nil, false, err
				}
				return authorResult{Key: key, Authors: rows}, true, nil
			})
		},
	})
	return cmd
}

// fetchOnline returns nil when the API cannot be reached; the stored row is
// still reported.
func fetchOnline(ctx context.Context, api *httpds.Client, workID string, log *zap.Logger) *onlineWork {
	w, err := api.Work(ctx, workID)
	if err != nil {
		log.Warn("lookup: online metadata unavailable", zap.String("work_id", workID), zap.Error(err))
		return nil
	}
	return &onlineWork{WorkID: w.SourceID, Title: w.Title, AuthorID: w.AuthorID}
}

type lookupFunc func(ctx context.Context, e env, l *pipeline.Lookup, key string) (result any, found bool, err error)

func runLookup(cmd *cobra.Command, args []string, stdout io.Writer, fn lookupFunc) error {
	return withEnv(cmd, "lookup", nil, func(ctx context.Context, e env) error {
		keys, err := lookupKeys(ctx, cmd, args)
		if err != nil {
			return err
		}

		l, err := pipeline.OpenLookup(ctx, e.cfg, e.log)
		if err != nil {
			return err
		}
		defer l.Close()

		enc := json.NewEncoder(stdout)
		var missed int
		for _, key := range keys {
			res, found, err := fn(ctx, e, l, key)
			if err != nil {
				return fmt.Errorf("lookup %q: %w", key, err)
			}
			if !found {
				missed++
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		if missed > 0 {
			return fmt.Errorf("no match for %d of %d keys", missed, len(keys))
		}
		return nil
	})
}

// lookupKeys returns the keys from --from-file, or the arguments joined into
// one key so unquoted titles work.
func lookupKeys(ctx context.Context, cmd *cobra.Command, args []string) ([]string, error) {
	path, err := cmd.Flags().GetString("from-file")
	if err != nil {
		return nil, err
	}
	switch {
	case path != "" && len(args) > 0:
		return nil, errors.New("give keys as arguments or --from-file, not both")
	case path != "":
		keys, err := file.ReadList(ctx, path)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("%s: no keys", path)
		}
		return keys, nil
	case len(args) == 0:
		return nil, errors.New("a key or --from-file is required")
	}
	return []string{strings.Join(args, " ")}, nil
}
