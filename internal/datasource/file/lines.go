package file

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

const readBufferSize = 1 << 20

// LineReader yields the lines of a dump one at a time, without a line length
// limit, and hashes every byte it reads with xxh3. Line terminators ("\n" or
// "\r\n") are stripped.
//
//	lr := file.NewLineReader(rc)
//	for lr.Next() {
//		use(lr.Line(), lr.Text())
//	}
//	if err := lr.Err(); err != nil { ... }
type LineReader struct {
	br   *bufio.Reader
	h    *xxh3.Hasher
	buf  []byte
	line int64
	err  error
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	h := xxh3.New()
	return &LineReader{
		br: bufio.NewReaderSize(io.TeeReader(r, h), readBufferSize),
		h:  h,
	}
}

// Next advances to the next line. It returns false at the end of input or on
// a read error.
func (lr *LineReader) Next() bool {
	if lr.err != nil {
		return false
	}
	lr.buf = lr.buf[:0]
	for {
		chunk, err := lr.br.ReadSlice('\n')
		lr.buf = append(lr.buf, chunk...)
		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			lr.err = io.EOF
			if len(lr.buf) == 0 {
				return false
			}
		default:
			lr.err = err
			return false
		}
		lr.line++
		lr.buf = trimEOL(lr.buf)
		return true
	}
}

// Line is the 1-based number of the current line.
func (lr *LineReader) Line() int64 { return lr.line }

// Bytes returns the current line. It is only valid until the next call to
// Next.
func (lr *LineReader) Bytes() []byte { return lr.buf }

// Text returns a copy of the current line.
func (lr *LineReader) Text() string { return string(lr.buf) }

// Err returns the first read error. The end of input is not an error.
func (lr *LineReader) Err() error {
	if errors.Is(lr.err, io.EOF) {
		return nil
	}
	return lr.err
}

// Fingerprint is the xxh3 hash of every byte read so far; after the last
// line it identifies the whole dump.
func (lr *LineReader) Fingerprint() uint64 { return lr.h.Sum64() }

// FormatFingerprint renders a fingerprint as 16 hex digits.
func FormatFingerprint(fp uint64) string { return fmt.Sprintf("%016x", fp) }

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}
