// Package file reads line-delimited dumps from the local disk: it opens them
// for sequential streaming, counts their lines and fingerprints their bytes.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrNotRegular is returned for paths that exist but are not regular files.
var ErrNotRegular = errors.New("not a regular file")

// Local is a filesystem data source that opens one dump file.
type Local struct{ path string }

// NewLocal returns a Local bound to path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the bound path.
func (l *Local) Path() string { return l.path }

// Stat reports the size of the dump. A missing file is reported with an error
// matching fs.ErrNotExist; directories and devices with ErrNotRegular.
func (l *Local) Stat() (int64, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("stat %s: %w", l.path, ErrNotRegular)
	}
	return fi.Size(), nil
}

// Open opens the dump for reading and advises the kernel that it will be read
// sequentially.
//
// A context that is already done short-circuits without touching the
// filesystem. Filesystem errors are wrapped with the path and keep their
// identity for errors.Is (e.g. fs.ErrNotExist).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	adviseSequential(f)
	return f, nil
}

// IsNotExist reports whether err means the dump is missing.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
