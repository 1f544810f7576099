// Package postgres implements storage.Repository on Postgres using pgx v5.
// Works are merged with one INSERT ... ON CONFLICT per candidate, pipelined
// through pgx batches; authors are bulk loaded with COPY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	gddl "dumpload/internal/ddl"
	"dumpload/internal/merge"
	"dumpload/internal/storage"
	pgddl "dumpload/internal/storage/postgres/ddl"
)

// sqlStateInsufficientPrivilege is raised by CHECKPOINT for non-superusers.
const sqlStateInsufficientPrivilege = "42501"

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
	cfg  Config
	log  *zap.Logger

	upsert string
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Repository{pool: pool, cfg: cfg, log: log, upsert: upsertWorksSQL(cfg.works().FQN)}
	return r, r.close, nil
}

func (r *Repository) close() {
	if r.tx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.tx.Rollback(ctx)
		cancel()
		r.tx = nil
	}
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
}

func (r *Repository) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// EnsureWorksSchema creates the schema and works table. With force it drops
// the table first.
func (r *Repository) EnsureWorksSchema(ctx context.Context, force bool) error {
	t := r.cfg.works()
	create, err := pgddl.BuildCreateTableSQL(t)
	if err != nil {
		return err
	}
	stmts := make([]string, 0, 3)
	if r.cfg.Schema != "" {
		stmts = append(stmts, createSchemaSQL(r.cfg.Schema))
	}
	if force {
		stmts = append(stmts, pgddl.BuildDropTableSQL(t.FQN))
	}
	stmts = append(stmts, create)

	for _, s := range stmts {
		if _, err := r.q().Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres: schema: %w", err)
		}
	}
	return nil
}

// Begin opens the write transaction.
func (r *Repository) Begin(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("postgres: begin: transaction already open")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	r.tx = tx
	return nil
}

// UpsertWorks pipelines one upsert per candidate in a single round trip and
// classifies each from its RETURNING row.
func (r *Repository) UpsertWorks(ctx context.Context, batch []merge.Candidate) (merge.Counts, error) {
	var counts merge.Counts
	if r.tx == nil {
		return counts, fmt.Errorf("postgres: upsert: no open transaction")
	}
	if len(batch) == 0 {
		return counts, nil
	}

	b := &pgx.Batch{}
	for _, c := range batch {
		b.Queue(r.upsert, c.SourceID, c.Title, c.NormalizedTitle, c.AuthorID)
	}
	br := r.tx.SendBatch(ctx, b)
	for _, c := range batch {
		var workID, authorID *string
		err := br.QueryRow().Scan(&workID, &authorID)
		updated := true
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			updated = false
		case err != nil:
			_ = br.Close()
			return counts, fmt.Errorf("postgres: upsert %s: %w", c.SourceID, describe(err))
		}
		counts.Observe(merge.FromStored(c, updated, derefStr(workID), derefStr(authorID)))
	}
	if err := br.Close(); err != nil {
		return counts, fmt.Errorf("postgres: upsert: %w", describe(err))
	}
	return counts, nil
}

// Commit commits the open transaction.
func (r *Repository) Commit(ctx context.Context) error {
	if r.tx == nil {
		return fmt.Errorf("postgres: commit: no open transaction")
	}
	err := r.tx.Commit(ctx)
	r.tx = nil
	if err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Checkpoint issues CHECKPOINT. Roles without the privilege get a warning
// instead of an error; the server checkpoints on its own schedule.
func (r *Repository) Checkpoint(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("postgres: checkpoint: transaction still open")
	}
	_, err := r.pool.Exec(ctx, "CHECKPOINT")
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateInsufficientPrivilege {
		r.log.Warn("postgres: checkpoint skipped", zap.String("reason", pgErr.Message))
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: checkpoint: %w", err)
	}
	return nil
}

// BuildWorkIndexes creates the author index on works.
func (r *Repository) BuildWorkIndexes(ctx context.Context) error {
	stmt, err := pgddl.BuildCreateIndexSQL(gddl.WorksAuthorIndex().InSchema(r.cfg.Schema))
	if err != nil {
		return err
	}
	if _, err := r.q().Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create index: %w", err)
	}
	return nil
}

// Compact runs VACUUM (ANALYZE) on works.
func (r *Repository) Compact(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("postgres: vacuum: transaction still open")
	}
	if _, err := r.pool.Exec(ctx, vacuumSQL(r.cfg.works())); err != nil {
		return fmt.Errorf("postgres: vacuum: %w", err)
	}
	return nil
}

// ReplaceAuthors drops and recreates authors, COPYs rows in and builds the
// name index in one transaction.
func (r *Repository) ReplaceAuthors(ctx context.Context, rows []merge.AuthorRow) (int64, error) {
	if r.tx != nil {
		return 0, fmt.Errorf("postgres: authors: transaction already open")
	}
	t := r.cfg.authors()
	create, err := pgddl.BuildCreateTableSQL(t)
	if err != nil {
		return 0, err
	}
	index, err := pgddl.BuildCreateIndexSQL(gddl.AuthorsNameIndex().InSchema(r.cfg.Schema))
	if err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: authors: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmts := []string{pgddl.BuildDropTableSQL(t.FQN), create}
	if r.cfg.Schema != "" {
		stmts = append([]string{createSchemaSQL(r.cfg.Schema)}, stmts...)
	}
	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s); err != nil {
			return 0, fmt.Errorf("postgres: authors: %w", err)
		}
	}

	n, err := tx.CopyFrom(ctx, splitFQN(t.FQN), t.ColumnNames(), pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		a := rows[i]
		return []any{a.AuthorID, a.Name, a.NormalizedName, a.AlternateIDs}, nil
	}))
	if err != nil {
		return 0, fmt.Errorf("postgres: authors: copy: %w", describe(err))
	}

	if _, err := tx.Exec(ctx, index); err != nil {
		return n, fmt.Errorf("postgres: authors: create index: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return n, fmt.Errorf("postgres: authors: commit: %w", err)
	}
	return n, nil
}

// LookupWork returns the works row stored under normalizedTitle.
func (r *Repository) LookupWork(ctx context.Context, normalizedTitle string) (merge.WorkRow, error) {
	var (
		row                          merge.WorkRow
		workID, title, author, alter *string
	)
	err := r.q().QueryRow(ctx, selectWorkSQL(r.cfg.works()), normalizedTitle).
		Scan(&workID, &title, &row.NormalizedTitle, &author, &alter)
	if errors.Is(err, pgx.ErrNoRows) {
		return row, storage.ErrNotFound
	}
	if err != nil {
		return row, fmt.Errorf("postgres: lookup work: %w", err)
	}
	row.WorkID, row.Title, row.AuthorID, row.AlternateIDs = derefStr(workID), derefStr(title), derefStr(author), derefStr(alter)
	return row, nil
}

// LookupAuthors returns the author rows stored under normalizedName, ordered
// by author id.
func (r *Repository) LookupAuthors(ctx context.Context, normalizedName string) ([]merge.AuthorRow, error) {
	rows, err := r.q().Query(ctx, selectAuthorsSQL(r.cfg.authors()), normalizedName)
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup authors: %w", err)
	}
	defer rows.Close()

	var out []merge.AuthorRow
	for rows.Next() {
		var (
			a                 merge.AuthorRow
			name, norm, alter *string
		)
		if err := rows.Scan(&a.AuthorID, &name, &norm, &alter); err != nil {
			return nil, fmt.Errorf("postgres: lookup authors: %w", err)
		}
		a.Name, a.NormalizedName, a.AlternateIDs = derefStr(name), derefStr(norm), derefStr(alter)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: lookup authors: %w", err)
	}
	return out, nil
}

// CountWorks returns the number of rows in works.
func (r *Repository) CountWorks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q().QueryRow(ctx, countSQL(r.cfg.works())).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count works: %w", err)
	}
	return n, nil
}

// describe folds a server error's detail and SQLSTATE into the message.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s; SQLSTATE %s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
