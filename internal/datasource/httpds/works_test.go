package httpds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumpload/internal/parser/dump"
)

func TestWork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works/OL45804W.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"key":"/works/OL45804W","title":"Fantastic Mr Fox",` +
			`"authors":[{"author":{"key":"/authors/OL34184A"},"type":{"key":"/type/author_role"}}]}`))
	}))
	defer srv.Close()
	c := fastClient(srv.URL+"/", 0)

	got, err := c.Work(context.Background(), "/works/OL45804W")
	require.NoError(t, err)
	assert.Equal(t, dump.Work{
		SourceID:        "OL45804W",
		Title:           "Fantastic Mr Fox",
		NormalizedTitle: "fantastic mr fox",
		AuthorID:        "OL34184A",
	}, got)

	_, err = c.Work(context.Background(), "OL1W")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestWorkRejectsBadIDs(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	for _, id := range []string{"", "  ", "/works/", "OL1W/edits", "OL1W?x=1"} {
		_, err := c.Work(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidWorkID, id)
	}
}

func TestWorkUnparsableDocument(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"key":"/works/OL1W"}`))
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL, 0).Work(context.Background(), "OL1W")
	assert.ErrorIs(t, err, dump.ErrRejected)
}
