package relationship

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entityrepo "github.com/Ramsey-B/thistle/internal/repositories/entity"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/middleware"
	"github.com/Ramsey-B/thistle/pkg/models"
)

func newServer(t *testing.T) (*echo.Echo, *graph.MemoryEdgeStore) {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	entities := entityrepo.NewMemoryStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		entities.PutEntity(models.Entity{ID: id, ProjectID: "p1", Name: id})
	}
	edges := graph.NewMemoryEdgeStore()

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	NewHandler(graph.NewResolver(edges, entities, 0, 0, logger), logger).Register(e.Group("/projects/:project"))
	return e, edges
}

func request(t *testing.T, e *echo.Echo, method, target, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestHandler_SaveTagsThenRelations(t *testing.T) {
	e, _ := newServer(t)

	var saved TagsResponse
	require.Equal(t, http.StatusOK, request(t, e, http.MethodPut, "/projects/p1/entities/a/tags", `{"tags":["b","b"]}`, &saved))
	require.Len(t, saved.Edges, 1)
	assert.Equal(t, models.RelationshipTypeTagged, saved.Edges[0].RelationshipType)

	require.Equal(t, http.StatusOK, request(t, e, http.MethodPut, "/projects/p1/entities/b/tags", `{"tags":["a","c"]}`, nil))

	var relations RelationsResponse
	require.Equal(t, http.StatusOK, request(t, e, http.MethodGet, "/projects/p1/entities/a/relationships", "", &relations))
	require.Len(t, relations.Direct, 1)
	assert.Equal(t, "b", relations.Direct[0].ID)
	assert.Equal(t, graph.DirectionMutual, relations.Direct[0].Direction)
	assert.Equal(t, []graph.Reachable{{ID: "c", Hops: 2}}, relations.Transitive)
	assert.Equal(t, "/projects/p1/entities/a/closure", relations.Links["closure"].Href)

	var closure []graph.Reachable
	require.Equal(t, http.StatusOK, request(t, e, http.MethodGet, "/projects/p1/entities/c/closure", "", &closure))
	assert.Equal(t, []graph.Reachable{{ID: "b", Hops: 1}, {ID: "a", Hops: 2}}, closure)
}

func TestHandler_ClearTags(t *testing.T) {
	e, edges := newServer(t)

	require.Equal(t, http.StatusOK, request(t, e, http.MethodPut, "/projects/p1/entities/a/tags", `{"tags":["b","c"]}`, nil))
	require.Equal(t, http.StatusOK, request(t, e, http.MethodPut, "/projects/p1/entities/a/tags", `{"tags":[]}`, nil))

	stored, err := edges.ListEdges(t.Context(), "p1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	var closure []graph.Reachable
	require.Equal(t, http.StatusOK, request(t, e, http.MethodGet, "/projects/p1/entities/a/closure", "", &closure))
	assert.NotNil(t, closure)
	assert.Empty(t, closure)
}

func TestHandler_SaveTagsErrors(t *testing.T) {
	e, _ := newServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing tags", `{}`, http.StatusBadRequest},
		{"self tag", `{"tags":["a"]}`, http.StatusBadRequest},
		{"unknown target", `{"tags":["zz"]}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, request(t, e, http.MethodPut, "/projects/p1/entities/a/tags", tt.body, nil))
		})
	}
}
