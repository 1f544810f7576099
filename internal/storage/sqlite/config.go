// Package sqlite implements a SQLite-backed storage.Repository.
package sqlite

import (
	"strings"

	"dumpload/internal/storage"
)

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// Path is the database file, e.g. "works.db". ":memory:" opens a private
	// in-memory database.
	Path string

	// Pragmas are applied in order on the pinned connection right after it
	// is opened. page_size must precede journal_mode to take effect on a new
	// file.
	Pragmas []storage.Pragma

	// KeepSideFiles skips the stale -wal/-shm purge at open.
	KeepSideFiles bool
}

// inMemory reports whether Path names a database without side files.
func (c Config) inMemory() bool {
	return c.Path == ":memory:" || c.Path == "" || strings.HasPrefix(c.Path, "file::memory:")
}
