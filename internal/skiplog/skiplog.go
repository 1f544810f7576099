// Package skiplog counts rejected dump lines by reason and, when given a
// path, records each one in a CSV file for later inspection.
package skiplog

import (
	"encoding/csv"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
)

// Header is the first row of every skip log.
var Header = []string{"reason", "line_number", "id", "raw_line"}

// Log tallies skipped lines. A Log is not safe for concurrent use.
type Log struct {
	reasons map[string]int64
	total   int64

	f *os.File
	w *csv.Writer
}

// Open returns a Log writing to path, creating missing parent directories
// and truncating an existing file. An empty path counts without writing.
func Open(path string) (*Log, error) {
	l := &Log{reasons: make(map[string]int64)}
	if path == "" {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("skiplog: create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("skiplog: %w", err)
	}
	l.f, l.w = f, csv.NewWriter(f)
	if err := l.w.Write(Header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("skiplog: header: %w", err)
	}
	return l, nil
}

// Add counts one skipped line and appends it to the file, if any.
func (l *Log) Add(reason string, line int64, id, raw string) error {
	l.reasons[reason]++
	l.total++
	if l.w == nil {
		return nil
	}
	if err := l.w.Write([]string{reason, strconv.FormatInt(line, 10), id, raw}); err != nil {
		return fmt.Errorf("skiplog: write line %d: %w", line, err)
	}
	return nil
}

// Total is the number of lines added.
func (l *Log) Total() int64 { return l.total }

// Count returns the number of lines added with reason.
func (l *Log) Count(reason string) int64 { return l.reasons[reason] }

// Counts returns a copy of the per-reason tallies.
func (l *Log) Counts() map[string]int64 { return maps.Clone(l.reasons) }


// Path is the file being written, or "" when counting only.
func (l *Log) Path() string {
	if l.f == nil {
		return ""
	}
	return l.f.Name()
}

// Close flushes and closes the file. It is safe to call more than once.
func (l *Log) Close() error {
	if l.f == nil {
		return nil
	}
	l.w.Flush()
	err := l.w.Error()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f, l.w = nil, nil
	if err != nil {
		return fmt.Errorf("skiplog: close: %w", err)
	}
	return nil
}
