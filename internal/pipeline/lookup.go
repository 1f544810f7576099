package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dumpload/internal/config"
	"dumpload/internal/datasource/file"
	"dumpload/internal/merge"
	"dumpload/internal/normalize"
	"dumpload/internal/storage"
)

// ErrEmptyKey is returned for a lookup whose input normalizes to nothing.
var ErrEmptyKey = errors.New("lookup key is empty after normalization")

// Lookup answers exact-key queries against a loaded store. Inputs are
// normalized the same way the importers normalize titles and names.
type Lookup struct {
	repo storage.Repository
}

// OpenLookup opens the configured store for lookups. A SQLite file must
// already exist; it keeps its side files and is opened read-only with shared
// locking.
func OpenLookup(ctx context.Context, cfg config.Config, log *zap.Logger) (*Lookup, error) {
	if cfg.Store.Kind == "sqlite" && !isMemoryPath(cfg.Store.DSN) {
		if _, err := file.NewLocal(cfg.Store.DSN).Stat(); err != nil {
			if file.IsNotExist(err) {
				return nil, fmt.Errorf("open store: no database at %s; run an import first: %w", cfg.Store.DSN, err)
			}
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	repo, err := openStoreWith(ctx, cfg, log, func(sc *storage.Config) {
		sc.KeepSideFiles = true
		if sc.Kind == "sqlite" {
			sc.Pragmas = cfg.SQLite.LookupPragmas()
		}
	})
	if err != nil {
		return nil, err
	}
	return &Lookup{repo: repo}, nil
}

// Work returns the works row for title. A miss is storage.ErrNotFound.
func (l *Lookup) Work(ctx context.Context, title string) (merge.WorkRow, error) {
	key := normalize.Text(title)
	if key == "" {
		return merge.WorkRow{}, ErrEmptyKey
	}
	return l.repo.LookupWork(ctx, key)
}

// Authors returns the author rows for name. A miss is storage.ErrNotFound.
func (l *Lookup) Authors(ctx context.Context, name string) ([]merge.AuthorRow, error) {
	key := normalize.Text(name)
	if key == "" {
		return nil, ErrEmptyKey
	}
	rows, err := l.repo.LookupAuthors(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return rows, nil
}

// Close releases the store.
func (l *Lookup) Close() { l.repo.Close() }
