package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	gddl "dumpload/internal/ddl"
	"dumpload/internal/merge"
	"dumpload/internal/storage"
	myddl "dumpload/internal/storage/mysql/ddl"
)

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is a MySQL-backed implementation of storage.Repository.
//
// MySQL has no RETURNING and ON DUPLICATE KEY fires for any unique key, so
// works are merged by locking the current row (SELECT ... FOR UPDATE),
// applying merge.Merge and writing the result back.
type Repository struct {
	db  *sql.DB
	tx  *sql.Tx
	cfg Config

	read, insert, update *sql.Stmt
}

// NewRepository validates the DSN, opens a pool through the driver's
// connector and pings it. It returns the Repository plus a Close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	conn, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(conn)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	r := &Repository{db: db, cfg: cfg}
	return r, r.close, nil
}

func (r *Repository) closeStmts() {
	for _, s := range []*sql.Stmt{r.read, r.insert, r.update} {
		if s != nil {
			_ = s.Close()
		}
	}
	r.read, r.insert, r.update = nil, nil, nil
}

func (r *Repository) close() {
	r.closeStmts()
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

// EnsureWorksSchema creates the database and works table. With force it
// drops the table first.
func (r *Repository) EnsureWorksSchema(ctx context.Context, force bool) error {
	t := r.cfg.works()
	create, err := myddl.BuildCreateTableSQL(t)
	if err != nil {
		return err
	}
	stmts := make([]string, 0, 3)
	if r.cfg.Schema != "" {
		stmts = append(stmts, createSchemaSQL(r.cfg.Schema))
	}
	if force {
		stmts = append(stmts, myddl.BuildDropTableSQL(t.FQN))
	}
	stmts = append(stmts, create)

	for _, s := range stmts {
		if _, err := r.q().ExecContext(ctx, s); err != nil {
			return fmt.Errorf("mysql: schema: %w", err)
		}
	}
	return nil
}

// Begin opens the write transaction and prepares the merge statements.
func (r *Repository) Begin(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("mysql: begin: transaction already open")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: begin tx: %w", err)
	}

	t := r.cfg.works()
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&r.read, selectWorkSQL(t, true)},
		{&r.insert, insertSQL(t)},
		{&r.update, updateWorkSQL(t)},
	}
	for _, s := range stmts {
		if *s.dst, err = tx.PrepareContext(ctx, s.query); err != nil {
			r.closeStmts()
			_ = tx.Rollback()
			return fmt.Errorf("mysql: prepare: %w", err)
		}
	}
	r.tx = tx
	return nil
}

// UpsertWorks merges batch row by row inside the open transaction.
func (r *Repository) UpsertWorks(ctx context.Context, batch []merge.Candidate) (merge.Counts, error) {
	var counts merge.Counts
	if r.tx == nil {
		return counts, fmt.Errorf("mysql: upsert: no open transaction")
	}
	for _, c := range batch {
		old, err := r.lockWork(ctx, c.NormalizedTitle)
		if err != nil {
			return counts, fmt.Errorf("mysql: upsert %s: %w", c.SourceID, err)
		}
		row, out := merge.Merge(old, c)
		switch {
		case out.Has(merge.OutcomeInserted):
			_, err = r.insert.ExecContext(ctx, row.WorkID, row.Title, row.NormalizedTitle, row.AuthorID, row.AlternateIDs)
		case row != *old:
			_, err = r.update.ExecContext(ctx, row.AlternateIDs, row.AuthorID, row.NormalizedTitle)
		}
		if err != nil {
			return counts, fmt.Errorf("mysql: upsert %s: %w", c.SourceID, err)
		}
		counts.Observe(out)
	}
	return counts, nil
}

// lockWork reads and locks the row for norm; nil when there is none.
func (r *Repository) lockWork(ctx context.Context, norm string) (*merge.WorkRow, error) {
	row, err := scanWork(r.read.QueryRowContext(ctx, norm))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func scanWork(s *sql.Row) (merge.WorkRow, error) {
	var (
		row                          merge.WorkRow
		workID, title, author, alter sql.NullString
	)
	if err := s.Scan(&workID, &title, &row.NormalizedTitle, &author, &alter); err != nil {
		return row, err
	}
	row.WorkID, row.Title, row.AuthorID, row.AlternateIDs = workID.String, title.String, author.String, alter.String
	return row, nil
}

// Commit commits the open transaction.
func (r *Repository) Commit(ctx context.Context) error {
	if r.tx == nil {
		return fmt.Errorf("mysql: commit: no open transaction")
	}
	r.closeStmts()
	err := r.tx.Commit()
	r.tx = nil
	if err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

// Checkpoint is a no-op outside a transaction: InnoDB flushes its redo log
// continuously and offers no statement to force it.
func (r *Repository) Checkpoint(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("mysql: checkpoint: transaction still open")
	}
	return ctx.Err()
}

// BuildWorkIndexes creates the author index on works unless it exists.
func (r *Repository) BuildWorkIndexes(ctx context.Context) error {
	return r.ensureIndex(ctx, r.q(), gddl.WorksAuthorIndex().InSchema(r.cfg.Schema))
}

func (r *Repository) ensureIndex(ctx context.Context, eq execQuerier, i gddl.IndexDef) error {
	query, args := myddl.IndexExistsQuery(i)
	var n int
	if err := eq.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return fmt.Errorf("mysql: index lookup: %w", err)
	}
	if n > 0 {
		return nil
	}
	stmt, err := myddl.BuildCreateIndexSQL(i)
	if err != nil {
		return err
	}
	if _, err := eq.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mysql: create index: %w", err)
	}
	return nil
}

// Compact runs OPTIMIZE TABLE on works.
func (r *Repository) Compact(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("mysql: optimize: transaction still open")
	}
	if _, err := r.db.ExecContext(ctx, optimizeSQL(r.cfg.works())); err != nil {
		return fmt.Errorf("mysql: optimize: %w", err)
	}
	return nil
}

// ReplaceAuthors drops and recreates authors, inserts rows in one
// transaction and builds the name index. MySQL commits DDL implicitly, so a
// failure after the drop leaves an empty or partial table.
func (r *Repository) ReplaceAuthors(ctx context.Context, rows []merge.AuthorRow) (int64, error) {
	if r.tx != nil {
		return 0, fmt.Errorf("mysql: authors: transaction already open")
	}
	t := r.cfg.authors()
	create, err := myddl.BuildCreateTableSQL(t)
	if err != nil {
		return 0, err
	}
	stmts := []string{myddl.BuildDropTableSQL(t.FQN), create}
	if r.cfg.Schema != "" {
		stmts = append([]string{createSchemaSQL(r.cfg.Schema)}, stmts...)
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return 0, fmt.Errorf("mysql: authors: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mysql: authors: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ins, err := tx.PrepareContext(ctx, insertSQL(t))
	if err != nil {
		return 0, fmt.Errorf("mysql: authors: prepare: %w", err)
	}
	defer ins.Close()

	var n int64
	for _, a := range rows {
		if _, err := ins.ExecContext(ctx, a.AuthorID, a.Name, a.NormalizedName, a.AlternateIDs); err != nil {
			return n, fmt.Errorf("mysql: authors: insert %s: %w", a.AuthorID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("mysql: authors: commit: %w", err)
	}
	if err := r.ensureIndex(ctx, r.db, gddl.AuthorsNameIndex().InSchema(r.cfg.Schema)); err != nil {
		return n, fmt.Errorf("mysql: authors: %w", err)
	}
	return n, nil
}

// LookupWork returns the works row stored under normalizedTitle.
func (r *Repository) LookupWork(ctx context.Context, normalizedTitle string) (merge.WorkRow, error) {
	row, err := scanWork(r.q().QueryRowContext(ctx, selectWorkSQL(r.cfg.works(), false), normalizedTitle))
	if errors.Is(err, sql.ErrNoRows) {
		return row, storage.ErrNotFound
	}
	if err != nil {
		return row, fmt.Errorf("mysql: lookup work: %w", err)
	}
	return row, nil
}

// LookupAuthors returns the author rows stored under normalizedName, ordered
// by author id.
func (r *Repository) LookupAuthors(ctx context.Context, normalizedName string) ([]merge.AuthorRow, error) {
	rows, err := r.q().QueryContext(ctx, selectAuthorsSQL(r.cfg.authors()), normalizedName)
	if err != nil {
		return nil, fmt.Errorf("mysql: lookup authors: %w", err)
	}
	defer rows.Close()

	var out []merge.AuthorRow
	for rows.Next() {
		var (
			a                 merge.AuthorRow
			name, norm, alter sql.NullString
		)
		if err := rows.Scan(&a.AuthorID, &name, &norm, &alter); err != nil {
			return nil, fmt.Errorf("mysql: lookup authors: %w", err)
		}
		a.Name, a.NormalizedName, a.AlternateIDs = name.String, norm.String, alter.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: lookup authors: %w", err)
	}
	return out, nil
}

// CountWorks returns the number of rows in works.
func (r *Repository) CountWorks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q().QueryRowContext(ctx, countSQL(r.cfg.works())).Scan(&n); err != nil {
		return 0, fmt.Errorf("mysql: count works: %w", err)
	}
	return n, nil
}
