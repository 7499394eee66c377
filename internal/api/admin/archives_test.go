package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubArchives struct {
	archives []*models.EventArchive
	err      error
}

func (s stubArchives) ListArchives(context.Context) ([]*models.EventArchive, error) {
	return s.archives, s.err
}

func serveArchives(t *testing.T, archives ArchiveLister, backend string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.GET("/archives", NewArchiveHandlers(archives, backend).ListArchivesHandler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/archives", nil))
	return w
}

func TestListArchives(t *testing.T) {
	w := serveArchives(t, stubArchives{archives: []*models.EventArchive{
		{ID: "a1", FirstSequence: 1, LastSequence: 100, EventCount: 100, SizeBytes: 2048, StoragePath: "events/a1.ndjson"},
		{ID: "a2", FirstSequence: 101, LastSequence: 150, EventCount: 50, SizeBytes: 1024, StoragePath: "events/a2.ndjson"},
	}}, "local")

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Archives []models.EventArchive `json:"archives"`
		Backend  string                `json:"backend"`
		Totals   struct {
			Segments int   `json:"segments"`
			Events   int64 `json:"events"`
			Bytes    int64 `json:"bytes"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "local", body.Backend)
	assert.Len(t, body.Archives, 2)
	assert.Equal(t, 2, body.Totals.Segments)
	assert.EqualValues(t, 150, body.Totals.Events)
	assert.EqualValues(t, 3072, body.Totals.Bytes)
}

func TestListArchives_Empty(t *testing.T) {
	w := serveArchives(t, stubArchives{}, "s3")

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	arr, ok := body["archives"].([]any)
	require.True(t, ok, "archives should be a JSON array, got %v", body["archives"])
	assert.Empty(t, arr)
}

func TestListArchives_Error(t *testing.T) {
	w := serveArchives(t, stubArchives{err: errors.New("boom")}, "s3")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
