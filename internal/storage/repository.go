// Package storage contains the storage-agnostic contracts of the loader: the
// Repository every backend implements, the backend registry, and the batched
// Loader that drives the write path.
package storage

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"dumpload/internal/merge"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("storage: not found")

// Pragma is one SQLite PRAGMA applied when a connection is opened.
type Pragma struct {
	Name  string
	Value string
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name ("sqlite", "postgres", "mssql",
	// "mysql", "memory").
	Kind string
	// DSN is the database file path for sqlite, a connection string
	// otherwise.
	DSN string
	// Schema qualifies table names on servers that have schemas. Empty means
	// the server default.
	Schema string
	// Pragmas are applied in order on SQLite connections.
	Pragmas []Pragma
	// KeepSideFiles leaves SQLite -wal and -shm files in place at open, so
	// readers see commits that were not yet checkpointed.
	KeepSideFiles bool
	// Logger receives backend warnings. Nil discards them.
	Logger *zap.Logger
}

// WorksWriter is the transactional write path driven by Loader.
//
// Begin opens a unit of work; UpsertWorks merges a batch into it; Commit makes
// it durable; Checkpoint folds the engine's log back into the main store so
// it does not grow without bound. Checkpoint is only called between Commit
// and the next Begin.
type WorksWriter interface {
	Begin(ctx context.Context) error
	UpsertWorks(ctx context.Context, batch []merge.Candidate) (merge.Counts, error)
	Commit(ctx context.Context) error
	Checkpoint(ctx context.Context) error
}

// Repository is implemented by every backend.
type Repository interface {
	WorksWriter

	// EnsureWorksSchema creates the works table when missing. With force it
	// drops the table first.
	EnsureWorksSchema(ctx context.Context, force bool) error
	// BuildWorkIndexes creates the secondary works indexes idempotently.
	BuildWorkIndexes(ctx context.Context) error
	// Compact reclaims free space (VACUUM or the engine's equivalent).
	Compact(ctx context.Context) error

	// ReplaceAuthors drops and recreates the authors table, inserts rows in
	// one transaction and builds its index.
	ReplaceAuthors(ctx context.Context, rows []merge.AuthorRow) (int64, error)

	// LookupWork returns the row stored under a normalized title.
	LookupWork(ctx context.Context, normalizedTitle string) (merge.WorkRow, error)
	// LookupAuthors returns every author row stored under a normalized name.
	LookupAuthors(ctx context.Context, normalizedName string) ([]merge.AuthorRow, error)
	// CountWorks returns the number of rows in the works table.
	CountWorks(ctx context.Context) (int64, error)

	// Close releases the backend. An open unit of work is rolled back.
	Close()
}
