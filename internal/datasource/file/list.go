package file

import (
	"context"
	"fmt"
	"strings"
)

// ReadList returns the non-empty, non-comment lines of a query list, in
// order and trimmed. Lines starting with '#' are comments. It backs batch
// lookups (one title or name per line).
func ReadList(ctx context.Context, path string) ([]string, error) {
	rc, err := NewLocal(path).Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []string
	lr := NewLineReader(rc)
	for lr.Next() {
		line := strings.TrimSpace(lr.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := lr.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
