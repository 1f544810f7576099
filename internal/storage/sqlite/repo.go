package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	gddl "dumpload/internal/ddl"
	"dumpload/internal/merge"
	"dumpload/internal/storage"
	sqliteddl "dumpload/internal/storage/sqlite/ddl"
)

// sideFileSuffixes are the journal files SQLite keeps next to a WAL database.
var sideFileSuffixes = []string{"-wal", "-shm"}

// execQuerier is the subset shared by *sql.Conn and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Repository is a SQLite-backed implementation of storage.Repository.
//
// All work happens on one pinned connection: PRAGMAs such as locking_mode and
// cache_size are per connection, and the write path owns the file
// exclusively while it runs.
type Repository struct {
	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx
	cfg  Config

	upsert *sql.Stmt
}

// NewRepository removes stale side files (unless cfg.KeepSideFiles), opens
// the database, pins a single connection and applies cfg.Pragmas to it. It
// returns the Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil, fmt.Errorf("sqlite: path must not be empty")
	}
	if !cfg.inMemory() && !cfg.KeepSideFiles {
		if err := PurgeSideFiles(cfg.Path); err != nil {
			return nil, nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	r := &Repository{db: db, conn: conn, cfg: cfg}
	if err := r.applyPragmas(ctx); err != nil {
		r.close()
		return nil, nil, err
	}
	return r, r.close, nil
}

// PurgeSideFiles deletes path's -wal and -shm files. Missing files are fine.
func PurgeSideFiles(path string) error {
	for _, suffix := range sideFileSuffixes {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("sqlite: remove %s: %w", path+suffix, err)
		}
	}
	return nil
}

func (r *Repository) applyPragmas(ctx context.Context) error {
	for _, p := range r.cfg.Pragmas {
		stmt := fmt.Sprintf("PRAGMA %s = %s", p.Name, p.Value)
		if _, err := r.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: %s: %w", stmt, err)
		}
	}
	return nil
}

// close rolls back an open transaction and releases the connection.
func (r *Repository) close() {
	if r.upsert != nil {
		r.upsert.Close()
		r.upsert = nil
	}
	if r.tx != nil {
		_ = r.tx.Rollback()
		r.tx = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
}

// q returns the open transaction, or the pinned connection in autocommit.
func (r *Repository) q() execQuerier {
	if r.tx != nil {
		return r.tx
	}
	return r.conn
}

// EnsureWorksSchema creates the works table. With force it drops it first.
func (r *Repository) EnsureWorksSchema(ctx context.Context, force bool) error {
	if force {
		if _, err := r.q().ExecContext(ctx, sqliteddl.BuildDropTableSQL(gddl.WorksTableName)); err != nil {
			return fmt.Errorf("sqlite: drop works: %w", err)
		}
	}
	stmt, err := sqliteddl.BuildCreateTableSQL(gddl.WorksTable())
	if err != nil {
		return err
	}
	if _, err := r.q().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create works: %w", err)
	}
	return nil
}

// Begin opens the write transaction and prepares the upsert statement.
func (r *Repository) Begin(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("sqlite: begin: transaction already open")
	}
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertWorksSQL())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	r.tx, r.upsert = tx, stmt
	return nil
}

// UpsertWorks merges batch into the works table inside the open transaction.
// Outcomes are classified from the RETURNING row of each statement.
func (r *Repository) UpsertWorks(ctx context.Context, batch []merge.Candidate) (merge.Counts, error) {
	var counts merge.Counts
	if r.tx == nil {
		return counts, fmt.Errorf("sqlite: upsert: no open transaction")
	}
	for _, c := range batch {
		var workID, authorID sql.NullString
		err := r.upsert.QueryRowContext(ctx, c.SourceID, c.Title, c.NormalizedTitle, c.AuthorID).
			Scan(&workID, &authorID)
		updated := true
		switch {
		case errors.Is(err, sql.ErrNoRows):
			updated = false
		case err != nil:
			return counts, fmt.Errorf("sqlite: upsert %s: %w", c.SourceID, err)
		}
		counts.Observe(merge.FromStored(c, updated, workID.String, authorID.String))
	}
	return counts, nil
}

// Commit commits the open transaction.
func (r *Repository) Commit(ctx context.Context) error {
	if r.tx == nil {
		return fmt.Errorf("sqlite: commit: no open transaction")
	}
	if r.upsert != nil {
		r.upsert.Close()
		r.upsert = nil
	}
	err := r.tx.Commit()
	r.tx = nil
	if err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Checkpoint folds the WAL into the database file and truncates it.
func (r *Repository) Checkpoint(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("sqlite: checkpoint: transaction still open")
	}
	var busy, logFrames, checkpointed int64
	err := r.conn.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("sqlite: checkpoint: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("sqlite: checkpoint: database busy")
	}
	return nil
}

// BuildWorkIndexes creates the author index on works.
func (r *Repository) BuildWorkIndexes(ctx context.Context) error {
	stmt, err := sqliteddl.BuildCreateIndexSQL(gddl.WorksAuthorIndex())
	if err != nil {
		return err
	}
	if _, err := r.q().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create index: %w", err)
	}
	return nil
}

// Compact runs VACUUM. It fails while a transaction is open.
func (r *Repository) Compact(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("sqlite: vacuum: transaction still open")
	}
	if _, err := r.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("sqlite: vacuum: %w", err)
	}
	return nil
}

// ReplaceAuthors drops and recreates the authors table, inserts rows and
// builds the name index, all in one transaction.
func (r *Repository) ReplaceAuthors(ctx context.Context, rows []merge.AuthorRow) (int64, error) {
	if r.tx != nil {
		return 0, fmt.Errorf("sqlite: authors: transaction already open")
	}
	createTable, err := sqliteddl.BuildCreateTableSQL(gddl.AuthorsTable())
	if err != nil {
		return 0, err
	}
	createIndex, err := sqliteddl.BuildCreateIndexSQL(gddl.AuthorsNameIndex())
	if err != nil {
		return 0, err
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: authors: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{sqliteddl.BuildDropTableSQL(gddl.AuthorsTableName), createTable} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("sqlite: authors: %w", err)
		}
	}

	ins, err := tx.PrepareContext(ctx, insertAuthorSQL())
	if err != nil {
		return 0, fmt.Errorf("sqlite: authors: prepare: %w", err)
	}
	defer ins.Close()

	var n int64
	for _, a := range rows {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := ins.ExecContext(ctx, a.AuthorID, a.Name, a.NormalizedName, a.AlternateIDs); err != nil {
			return n, fmt.Errorf("sqlite: authors: insert %s: %w", a.AuthorID, err)
		}
		n++
	}

	if _, err := tx.ExecContext(ctx, createIndex); err != nil {
		return n, fmt.Errorf("sqlite: authors: create index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("sqlite: authors: commit: %w", err)
	}
	return n, nil
}

// LookupWork returns the works row stored under normalizedTitle.
func (r *Repository) LookupWork(ctx context.Context, normalizedTitle string) (merge.WorkRow, error) {
	var (
		row                          merge.WorkRow
		workID, title, author, alter sql.NullString
	)
	err := r.q().QueryRowContext(ctx, selectWorkSQL(), normalizedTitle).
		Scan(&workID, &title, &row.NormalizedTitle, &author, &alter)
	if errors.Is(err, sql.ErrNoRows) {
		return row, storage.ErrNotFound
	}
	if err != nil {
		return row, fmt.Errorf("sqlite: lookup work: %w", err)
	}
	row.WorkID, row.Title, row.AuthorID, row.AlternateIDs = workID.String, title.String, author.String, alter.String
	return row, nil
}

// LookupAuthors returns the author rows stored under normalizedName in
// insertion order.
func (r *Repository) LookupAuthors(ctx context.Context, normalizedName string) ([]merge.AuthorRow, error) {
	rows, err := r.q().QueryContext(ctx, selectAuthorsSQL(), normalizedName)
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup authors: %w", err)
	}
	defer rows.Close()

	var out []merge.AuthorRow
	for rows.Next() {
		var (
			a                 merge.AuthorRow
			name, norm, alter sql.NullString
		)
		if err := rows.Scan(&a.AuthorID, &name, &norm, &alter); err != nil {
			return nil, fmt.Errorf("sqlite: lookup authors: %w", err)
		}
		a.Name, a.NormalizedName, a.AlternateIDs = name.String, norm.String, alter.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: lookup authors: %w", err)
	}
	return out, nil
}

// CountWorks returns the number of rows in works.
func (r *Repository) CountWorks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q().QueryRowContext(ctx, countWorksSQL()).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count works: %w", err)
	}
	return n, nil
}

// Pragma returns the current value of a PRAGMA as text.
func (r *Repository) Pragma(ctx context.Context, name string) (string, error) {
	var v string
	if err := r.conn.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v); err != nil {
		return "", fmt.Errorf("sqlite: pragma %s: %w", name, err)
	}
	return v, nil
}
