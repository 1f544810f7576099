// Package datasource defines where dump bytes come from.
package datasource

import (
	"context"
	"io"
)

// Source opens a dump for one sequential read.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
