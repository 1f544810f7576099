// Package mssql implements storage.Repository on Microsoft SQL Server using
// go-mssqldb. Works are merged with one MERGE per candidate inside the open
// transaction; authors are loaded with the bulk copy API.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	"go.uber.org/zap"

	gddl "dumpload/internal/ddl"
	"dumpload/internal/merge"
	"dumpload/internal/storage"
	msddl "dumpload/internal/storage/mssql/ddl"
)

// permissionErrors are the error numbers CHECKPOINT raises for logins
// outside sysadmin, db_owner and db_backupoperator.
var permissionErrors = map[int32]bool{297: true, 15247: true}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	tx  *sql.Tx
	cfg Config
	log *zap.Logger

	upsert *sql.Stmt
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	r := newRepo(db, cfg)
	return r, r.close, nil
}

func newRepo(db *sql.DB, cfg Config) *Repository {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Repository{db: db, cfg: cfg, log: log}
}

func (r *Repository) close() {
	if r.upsert != nil {
		_ = r.upsert.Close()
		r.upsert = nil
	}
	if r.tx != nil {
		_ = r.tx.Rollback()
		r.tx = nil
	}
	if r.db != nil {
		_ = r.db.Close()
		r.db = nil
	}
}

func (r *Repository) q() execQuerier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// EnsureWorksSchema creates the schema and works table. With force it drops
// the table first.
func (r *Repository) EnsureWorksSchema(ctx context.Context, force bool) error {
	t := r.cfg.works()
	create, err := msddl.BuildCreateTableSQL(t)
	if err != nil {
		return err
	}
	stmts := make([]string, 0, 3)
	if r.cfg.Schema != "" {
		stmts = append(stmts, createSchemaSQL(r.cfg.Schema))
	}
	if force {
		stmts = append(stmts, msddl.BuildDropTableSQL(t.FQN))
	}
	stmts = append(stmts, create)

	for _, s := range stmts {
		if _, err := r.q().ExecContext(ctx, s); err != nil {
			return fmt.Errorf("mssql: schema: %w", err)
		}
	}
	return nil
}

// Begin opens the write transaction and prepares the MERGE statement.
func (r *Repository) Begin(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("mssql: begin: transaction already open")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, mergeWorksSQL(r.cfg.works().FQN))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("mssql: prepare merge: %w", err)
	}
	r.tx, r.upsert = tx, stmt
	return nil
}

// UpsertWorks merges batch into works and classifies each candidate from the
// MERGE OUTPUT row.
func (r *Repository) UpsertWorks(ctx context.Context, batch []merge.Candidate) (merge.Counts, error) {
	var counts merge.Counts
	if r.tx == nil {
		return counts, fmt.Errorf("mssql: merge: no open transaction")
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
			return counts, fmt.Errorf("mssql: merge %s: %w", c.SourceID, err)
		}
		counts.Observe(merge.FromStored(c, updated, workID.String, authorID.String))
	}
	return counts, nil
}

// Commit commits the open transaction.
func (r *Repository) Commit(ctx context.Context) error {
	if r.tx == nil {
		return fmt.Errorf("mssql: commit: no open transaction")
	}
	if r.upsert != nil {
		_ = r.upsert.Close()
		r.upsert = nil
	}
	err := r.tx.Commit()
	r.tx = nil
	if err != nil {
		return fmt.Errorf("mssql: commit: %w", err)
	}
	return nil
}

// Checkpoint issues CHECKPOINT. Logins without the permission get a warning.
func (r *Repository) Checkpoint(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("mssql: checkpoint: transaction still open")
	}
	_, err := r.db.ExecContext(ctx, "CHECKPOINT")
	var msErr mssql.Error
	if errors.As(err, &msErr) && permissionErrors[msErr.SQLErrorNumber()] {
		r.log.Warn("mssql: checkpoint skipped", zap.String("reason", msErr.SQLErrorMessage()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("mssql: checkpoint: %w", err)
	}
	return nil
}

// BuildWorkIndexes creates the author index on works.
func (r *Repository) BuildWorkIndexes(ctx context.Context) error {
	stmt, err := msddl.BuildCreateIndexSQL(gddl.WorksAuthorIndex().InSchema(r.cfg.Schema))
	if err != nil {
		return err
	}
	if _, err := r.q().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mssql: create index: %w", err)
	}
	return nil
}

// Compact rebuilds every index on works.
func (r *Repository) Compact(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("mssql: rebuild: transaction still open")
	}
	if _, err := r.db.ExecContext(ctx, rebuildSQL(r.cfg.works())); err != nil {
		return fmt.Errorf("mssql: rebuild: %w", err)
	}
	return nil
}

// ReplaceAuthors drops and recreates authors, bulk copies rows in and builds
// the name index in one transaction.
func (r *Repository) ReplaceAuthors(ctx context.Context, rows []merge.AuthorRow) (int64, error) {
	if r.tx != nil {
		return 0, fmt.Errorf("mssql: authors: transaction already open")
	}
	t := r.cfg.authors()
	create, err := msddl.BuildCreateTableSQL(t)
	if err != nil {
		return 0, err
	}
	index, err := msddl.BuildCreateIndexSQL(gddl.AuthorsNameIndex().InSchema(r.cfg.Schema))
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: authors: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmts := []string{msddl.BuildDropTableSQL(t.FQN), create}
	if r.cfg.Schema != "" {
		stmts = append([]string{createSchemaSQL(r.cfg.Schema)}, stmts...)
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			rollback()
			return 0, fmt.Errorf("mssql: authors: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(msddl.QuoteFQN(t.FQN), mssql.BulkOptions{}, t.ColumnNames()...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: authors: prepare bulk: %w", err)
	}
	for i, a := range rows {
		if _, err := stmt.ExecContext(ctx, a.AuthorID, a.Name, a.NormalizedName, a.AlternateIDs); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("mssql: authors: bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx) // flush
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: authors: bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: authors: rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, index); err != nil {
		rollback()
		return n, fmt.Errorf("mssql: authors: create index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("mssql: authors: commit: %w", err)
	}
	return n, nil
}

// LookupWork returns the works row stored under normalizedTitle.
func (r *Repository) LookupWork(ctx context.Context, normalizedTitle string) (merge.WorkRow, error) {
	var (
		row                          merge.WorkRow
		workID, title, author, alter sql.NullString
	)
	err := r.q().QueryRowContext(ctx, selectWorkSQL(r.cfg.works()), normalizedTitle).
		Scan(&workID, &title, &row.NormalizedTitle, &author, &alter)
	if errors.Is(err, sql.ErrNoRows) {
		return row, storage.ErrNotFound
	}
	if err != nil {
		return row, fmt.Errorf("mssql: lookup work: %w", err)
	}
	row.WorkID, row.Title, row.AuthorID, row.AlternateIDs = workID.String, title.String, author.String, alter.String
	return row, nil
}

// LookupAuthors returns the author rows stored under normalizedName, ordered
// by author id.
func (r *Repository) LookupAuthors(ctx context.Context, normalizedName string) ([]merge.AuthorRow, error) {
	rows, err := r.q().QueryContext(ctx, selectAuthorsSQL(r.cfg.authors()), normalizedName)
	if err != nil {
		return nil, fmt.Errorf("mssql: lookup authors: %w", err)
	}
	defer rows.Close()

	var out []merge.AuthorRow
	for rows.Next() {
		var (
			a                 merge.AuthorRow
			name, norm, alter sql.NullString
		)
		if err := rows.Scan(&a.AuthorID, &name, &norm, &alter); err != nil {
			return nil, fmt.Errorf("mssql: lookup authors: %w", err)
		}
		a.Name, a.NormalizedName, a.AlternateIDs = name.String, norm.String, alter.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mssql: lookup authors: %w", err)
	}
	return out, nil
}

// CountWorks returns the number of rows in works.
func (r *Repository) CountWorks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q().QueryRowContext(ctx, countSQL(r.cfg.works())).Scan(&n); err != nil {
		return 0, fmt.Errorf("mssql: count works: %w", err)
	}
	return n, nil
}
