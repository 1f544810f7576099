package httpds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"dumpload/internal/parser/dump"
)

// DefaultBaseURL is the public Open Library site.
const DefaultBaseURL = "https://openlibrary.org"

// maxWorkDoc bounds the size of a works document read from the API.
const maxWorkDoc = 4 << 20

// ErrInvalidWorkID is returned for ids that cannot name a work.
var ErrInvalidWorkID = errors.New("httpds: invalid work id")

// Work fetches /works/{id}.json and parses it the way dump records are
// parsed, so Title and AuthorID are comparable with the stored row.
func (c *Client) Work(ctx context.Context, workID string) (dump.Work, error) {
	workID = dump.TrimID(strings.TrimSpace(workID), dump.WorkPrefix)
	if workID == "" || strings.ContainsAny(workID, "/?#") {
		return dump.Work{}, fmt.Errorf("%w: %q", ErrInvalidWorkID, workID)
	}

	u := strings.TrimRight(c.baseURL, "/") + "/works/" + url.PathEscape(workID) + ".json"
	body, err := c.getBody(ctx, u, maxWorkDoc)
	if err != nil {
		return dump.Work{}, err
	}
	w, err := dump.ParseWorkPayload(string(body))
	if err != nil {
		return dump.Work{}, fmt.Errorf("httpds: work %s: %w", workID, err)
	}
	return w, nil
}
