// Package memory implements storage.Repository on process memory. Stores are
// shared by DSN, so a later open of the same name sees committed rows. An
// empty DSN gives a private store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dumpload/internal/merge"
	"dumpload/internal/storage"
)

// ErrDuplicateWorkID is returned when a work_id is inserted under a second
// normalized title.
var ErrDuplicateWorkID = errors.New("duplicate work_id")

var (
	storesMu sync.Mutex
	stores   = map[string]*store{}
)

type store struct {
	mu    sync.RWMutex
	works map[string]merge.WorkRow
	// ids maps each stored work_id to its normalized title.
	ids     map[string]string
	authors []merge.AuthorRow
	indexed bool
}

func newStore() *store {
	return &store{works: map[string]merge.WorkRow{}, ids: map[string]string{}}
}

func lookupStore(name string) *store {
	if name == "" {
		return newStore()
	}
	storesMu.Lock()
	defer storesMu.Unlock()
	s, ok := stores[name]
	if !ok {
		s = newStore()
		stores[name] = s
	}
	return s
}

// Drop forgets the named store.
func Drop(name string) {
	storesMu.Lock()
	delete(stores, name)
	storesMu.Unlock()
}

// Repository is an in-memory storage.Repository. Writes are staged per unit
// of work and become visible to other handles on Commit.
type Repository struct {
	s         *store
	staged    map[string]merge.WorkRow
	stagedIDs map[string]string
	open      bool
}

// NewRepository opens the store named by dsn.
func NewRepository(_ context.Context, dsn string) (*Repository, func(), error) {
	r := &Repository{s: lookupStore(dsn)}
	return r, r.close, nil
}

func (r *Repository) close() {
	r.staged, r.stagedIDs, r.open = nil, nil, false
}

// Close discards staged writes.
func (r *Repository) Close() { r.close() }

func (r *Repository) EnsureWorksSchema(_ context.Context, force bool) error {
	if r.open {
		return fmt.Errorf("memory: schema change inside a transaction")
	}
	if force {
		r.s.mu.Lock()
		r.s.works = map[string]merge.WorkRow{}
		r.s.ids = map[string]string{}
		r.s.indexed = false
		r.s.mu.Unlock()
	}
	return nil
}

func (r *Repository) Begin(_ context.Context) error {
	if r.open {
		return fmt.Errorf("memory: begin: transaction already open")
	}
	r.staged, r.stagedIDs, r.open = map[string]merge.WorkRow{}, map[string]string{}, true
	return nil
}

// UpsertWorks merges batch into the staged rows. A work_id already stored
// under another title fails the batch, as the unique index does on SQL
// stores.
func (r *Repository) UpsertWorks(ctx context.Context, batch []merge.Candidate) (merge.Counts, error) {
	var counts merge.Counts
	if !r.open {
		return counts, fmt.Errorf("memory: upsert: no open transaction")
	}
	if err := ctx.Err(); err != nil {
		return counts, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range batch {
		var old *merge.WorkRow
		if row, ok := r.staged[c.NormalizedTitle]; ok {
			old = &row
		} else if row, ok := r.s.works[c.NormalizedTitle]; ok {
			old = &row
		}
		row, out := merge.Merge(old, c)
		if out.Has(merge.OutcomeInserted) {
			if other, ok := r.owner(row.WorkID); ok && other != row.NormalizedTitle {
				return counts, fmt.Errorf("memory: upsert %s: %w: work_id already stored under %q",
					c.SourceID, ErrDuplicateWorkID, other)
			}
			r.stagedIDs[row.WorkID] = row.NormalizedTitle
		}
		r.staged[c.NormalizedTitle] = row
		counts.Observe(out)
	}
	return counts, nil
}

// owner returns the normalized title holding workID. Callers hold r.s.mu.
func (r *Repository) owner(workID string) (string, bool) {
	if norm, ok := r.stagedIDs[workID]; ok {
		return norm, true
	}
	norm, ok := r.s.ids[workID]
	return norm, ok
}

func (r *Repository) Commit(_ context.Context) error {
	if !r.open {
		return fmt.Errorf("memory: commit: no open transaction")
	}
	r.s.mu.Lock()
	for k, row := range r.staged {
		r.s.works[k] = row
	}
	for id, norm := range r.stagedIDs {
		r.s.ids[id] = norm
	}
	r.s.mu.Unlock()
	r.staged, r.stagedIDs, r.open = nil, nil, false
	return nil
}

func (r *Repository) Checkpoint(_ context.Context) error {
	if r.open {
		return fmt.Errorf("memory: checkpoint: transaction still open")
	}
	return nil
}

func (r *Repository) BuildWorkIndexes(_ context.Context) error {
	r.s.mu.Lock()
	r.s.indexed = true
	r.s.mu.Unlock()
	return nil
}

func (r *Repository) Compact(_ context.Context) error {
	if r.open {
		return fmt.Errorf("memory: compact: transaction still open")
	}
	return nil
}

// ReplaceAuthors swaps the authors table. Duplicate ids are rejected and the
// previous table is kept.
func (r *Repository) ReplaceAuthors(ctx context.Context, rows []merge.AuthorRow) (int64, error) {
	seen := make(map[string]struct{}, len(rows))
	for _, a := range rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, dup := seen[a.AuthorID]; dup {
			return 0, fmt.Errorf("memory: authors: duplicate author_id %s", a.AuthorID)
		}
		seen[a.AuthorID] = struct{}{}
	}
	cp := append([]merge.AuthorRow(nil), rows...)
	r.s.mu.Lock()
	r.s.authors = cp
	r.s.mu.Unlock()
	return int64(len(cp)), nil
}

// LookupWork sees staged rows of this handle before committed ones.
func (r *Repository) LookupWork(_ context.Context, normalizedTitle string) (merge.WorkRow, error) {
	if row, ok := r.staged[normalizedTitle]; ok {
		return row, nil
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	row, ok := r.s.works[normalizedTitle]
	if !ok {
		return merge.WorkRow{}, storage.ErrNotFound
	}
	return row, nil
}

func (r *Repository) LookupAuthors(_ context.Context, normalizedName string) ([]merge.AuthorRow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []merge.AuthorRow
	for _, a := range r.s.authors {
		if a.NormalizedName == normalizedName {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Repository) CountWorks(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := int64(len(r.s.works))
	for k := range r.staged {
		if _, ok := r.s.works[k]; !ok {
			n++
		}
	}
	return n, nil
}

var _ storage.Repository = (*Repository)(nil)

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, _, err := NewRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
}
