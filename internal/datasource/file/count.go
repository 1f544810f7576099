package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minCountBlock keeps ranges large enough that goroutine overhead stays
// negligible on small files.
const minCountBlock int64 = 8 << 20

// byteRange is the half-open interval [start, end) of a file.
type byteRange struct{ start, end int64 }

// splitRanges divides size bytes into at most parts ranges of at least minBlk
// bytes each.
func splitRanges(size int64, parts int, minBlk int64) []byteRange {
	if size <= 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	chunk := max(size/int64(parts), minBlk)

	var out []byteRange
	for off := int64(0); off < size; off += chunk {
		out = append(out, byteRange{start: off, end: min(off+chunk, size)})
	}
	return out
}

// CountLines returns the number of lines in the file at path. A final line
// without a terminator counts. Disjoint byte ranges are scanned by up to
// workers goroutines (GOMAXPROCS when workers <= 0); newlines need no
// boundary alignment, so every range is counted independently.
func CountLines(ctx context.Context, path string, workers int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("count lines: %w", err)
	}
	defer f.Close()
	adviseSequential(f)

	st, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("count lines: %w", err)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return countLines(ctx, f, st.Size(), splitRanges(st.Size(), workers, minCountBlock))
}

func countLines(ctx context.Context, r io.ReaderAt, size int64, ranges []byteRange) (int64, error) {
	counts := make([]int64, len(ranges))
	g, ctx := errgroup.WithContext(ctx)
	for i, rg := range ranges {
		g.Go(func() error {
			n, err := countRange(ctx, io.NewSectionReader(r, rg.start, rg.end-rg.start))
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("count lines: %w", err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	if size > 0 {
		last := make([]byte, 1)
		if _, err := r.ReadAt(last, size-1); err != nil && err != io.EOF {
			return 0, fmt.Errorf("count lines: %w", err)
		}
		if last[0] != '\n' {
			total++
		}
	}
	return total, nil
}

func countRange(ctx context.Context, r io.Reader) (int64, error) {
	buf := make([]byte, 256<<10)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		m, err := r.Read(buf)
		n += int64(bytes.Count(buf[:m], []byte{'\n'}))
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}
