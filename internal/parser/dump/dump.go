// Package dump parses the line-delimited catalogue dumps consumed by the
// importers.
//
// Each line carries five tab-separated fields; the fifth holds a JSON object
// describing one entity:
//
//	/type/work	/works/OL1W	3	2009-12-11T01:57:19.964652	{"key":"/works/OL1W","title":"..."}
//
// Parsing is line-at-a-time and allocation-light: the caller owns the reader
// and decides what to do with rejected lines. Rejections are never fatal; they
// are reported as *RejectError values that match ErrRejected.
package dump

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"dumpload/internal/normalize"
)

const (
	// WorkPrefix is the id namespace stripped from work keys.
	WorkPrefix = "/works/"
	// AuthorPrefix is the id namespace stripped from author keys.
	AuthorPrefix = "/authors/"

	fieldCount   = 5
	payloadField = fieldCount - 1
)

// ErrRejected matches every *RejectError via errors.Is.
var ErrRejected = errors.New("dump: record rejected")

// Reason classifies why a line was rejected.
type Reason string

const (
	ReasonTooFewFields         Reason = "too_few_fields"
	ReasonInvalidJSON          Reason = "invalid_json"
	ReasonMissingID            Reason = "missing_id"
	ReasonMissingTitle         Reason = "missing_title"
	ReasonMissingName          Reason = "missing_name"
	ReasonEmptyNormalizedTitle Reason = "empty_normalized_title"
)

// RejectError describes a skipped line.
type RejectError struct {
	Reason Reason
	// ID is the resolved source id when it was known at rejection time.
	ID  string
	Err error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dump: rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("dump: rejected (%s)", e.Reason)
}

func (e *RejectError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRejected.
func (e *RejectError) Is(target error) bool { return target == ErrRejected }

func reject(reason Reason, id string, err error) *RejectError {
	return &RejectError{Reason: reason, ID: id, Err: err}
}

// ReasonOf returns the rejection reason carried by err, or "" when err is not
// a rejection.
func ReasonOf(err error) Reason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// Work is one candidate record produced from a works dump line.
type Work struct {
	SourceID        string
	Title           string
	NormalizedTitle string
	// AuthorID is the first usable author id, or "" when none was found.
	AuthorID string
}

// Author is one record produced from an authors dump line.
type Author struct {
	AuthorID string
	// Name is trimmed and lowercased.
	Name           string
	NormalizedName string
}

// payload is the subset of the JSON object the importers read. Fields are
// typed loosely because dumps are not consistent about value shapes.
type payload struct {
	Key     any `json:"key"`
	Title   any `json:"title"`
	Name    any `json:"name"`
	Authors any `json:"authors"`
}

// splitPayload returns the JSON field of line.
func splitPayload(line string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), "\t", fieldCount)
	if len(parts) < fieldCount {
		return "", false
	}
	return parts[payloadField], true
}

func decode(raw string) (payload, error) {
	var p payload
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return p, errors.New("payload is not a JSON object")
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, err
	}
	return p, nil
}

// stringField returns v when it is a JSON string, "" otherwise.
func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// TrimID strips the id namespace prefix from key.
func TrimID(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}

// ParseWork turns one works dump line into a candidate record.
func ParseWork(line string) (Work, error) {
	raw, ok := splitPayload(line)
	if !ok {
		return Work{}, reject(ReasonTooFewFields, "", nil)
	}
	return ParseWorkPayload(raw)
}

// ParseWorkPayload parses the JSON object of a works record, as found in the
// last field of a dump line or served by the Open Library works API.
func ParseWorkPayload(raw string) (Work, error) {
	p, err := decode(raw)
	if err != nil {
		return Work{}, reject(ReasonInvalidJSON, "", err)
	}

	id := TrimID(stringField(p.Key), WorkPrefix)
	if id == "" {
		return Work{}, reject(ReasonMissingID, "", nil)
	}
	title := strings.TrimSpace(stringField(p.Title))
	if title == "" {
		return Work{}, reject(ReasonMissingTitle, id, nil)
	}
	normalized := normalize.Text(title)
	if normalized == "" {
		return Work{}, reject(ReasonEmptyNormalizedTitle, id, nil)
	}

	return Work{
		SourceID:        id,
		Title:           title,
		NormalizedTitle: normalized,
		AuthorID:        ExtractAuthorID(p.Authors),
	}, nil
}

// ParseAuthor turns one authors dump line into a record. Unlike works, an
// empty normalized name is accepted; such authors group together under "".
func ParseAuthor(line string) (Author, error) {
	raw, ok := splitPayload(line)
	if !ok {
		return Author{}, reject(ReasonTooFewFields, "", nil)
	}
	p, err := decode(raw)
	if err != nil {
		return Author{}, reject(ReasonInvalidJSON, "", err)
	}

	id := TrimID(stringField(p.Key), AuthorPrefix)
	if id == "" {
		return Author{}, reject(ReasonMissingID, "", nil)
	}
	name := strings.ToLower(strings.TrimSpace(stringField(p.Name)))
	if name == "" {
		return Author{}, reject(ReasonMissingName, id, nil)
	}

	return Author{
		AuthorID:       id,
		Name:           name,
		NormalizedName: normalize.Text(name),
	}, nil
}

// ExtractAuthorID returns the first usable author id from the decoded
// "authors" value of a work. Entries are tried in order:
//
//   - {"author": {"key": "/authors/OL1A"}}  nested author object
//   - {"key": "/authors/OL1A"}              direct key
//   - "/authors/OL1A"                       bare key
//
// An entry with a nested author object never falls back to its own key. The
// namespace prefix is stripped and the first non-empty id wins.
func ExtractAuthorID(authors any) string {
	list, ok := authors.([]any)
	if !ok {
		return ""
	}
	for _, entry := range list {
		var key string
		switch e := entry.(type) {
		case map[string]any:
			if nested, ok := e["author"].(map[string]any); ok {
				key = stringField(nested["key"])
			} else {
				key = stringField(e["key"])
			}
		case string:
			key = e
		}
		if id := TrimID(key, AuthorPrefix); id != "" {
			return id
		}
	}
	return ""
}
