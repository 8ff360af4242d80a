package suggestion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entityrepo "github.com/Ramsey-B/thistle/internal/repositories/entity"
	suggestionrepo "github.com/Ramsey-B/thistle/internal/repositories/suggestion"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/lock"
	"github.com/Ramsey-B/thistle/pkg/middleware"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func email(value string) models.ProfileField {
	return models.ProfileField{FieldID: "email", Kind: models.IdentifierKindEmail, Values: []string{value}}
}

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	logger := testLogger()

	entities := entityrepo.NewMemoryStore()
	entities.PutEntity(models.Entity{ID: "a", ProjectID: "p1", Name: "Alice", Fields: []models.ProfileField{email("alice@example.com")}})
	entities.PutEntity(models.Entity{ID: "b", ProjectID: "p1", Name: "A. Walker", Fields: []models.ProfileField{email("Alice@Example.com")}})

	svc := suggestion.NewService(logger, suggestionrepo.NewMemoryStore(), entities, graph.NewMemoryEdgeStore(), nil, lock.NewLocal(), suggestion.DefaultConfig())

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	NewHandler(svc, logger).Register(e.Group("/projects/:project"))
	return e
}

func do(t *testing.T, e *echo.Echo, method, target string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestHandler_List(t *testing.T) {
	e := newServer(t)

	var resp SetResponse
	code := do(t, e, http.MethodGet, "/projects/p1/entities/a/suggestions", &resp)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, "a", resp.EntityID)
	require.Len(t, resp.Suggestions, 1)
	s := resp.Suggestions[0]
	assert.Equal(t, "b", *s.MatchedEntityID)
	assert.Equal(t, models.SuggestionStatusPending, s.Status)
	assert.Contains(t, s.Links, "view")
	assert.Contains(t, s.Links, "dismiss")
	assert.Contains(t, s.Links, "merge")
	assert.Equal(t, 1, resp.Summary.TotalCount)
	assert.Equal(t, "/projects/p1/entities/a/suggestions", resp.Links["self"].Href)
	assert.Empty(t, resp.MergedInto)
}

func TestHandler_ListUnknownEntity(t *testing.T) {
	e := newServer(t)

	code := do(t, e, http.MethodGet, "/projects/p1/entities/nobody/suggestions", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_ViewAndGet(t *testing.T) {
	e := newServer(t)

	var set SetResponse
	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/projects/p1/entities/a/suggestions/compute", &set))
	require.Len(t, set.Suggestions, 1)
	id := set.Suggestions[0].ID

	var viewed SuggestionResponse
	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/projects/p1/entities/a/suggestions/"+id+"/view", &viewed))
	assert.Equal(t, models.SuggestionStatusViewed, viewed.Status)
	assert.NotContains(t, viewed.Links, "view")
	assert.Contains(t, viewed.Links, "dismiss")

	var got SuggestionResponse
	require.Equal(t, http.StatusOK, do(t, e, http.MethodGet, "/projects/p1/entities/a/suggestions/"+id, &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, models.SuggestionStatusViewed, got.Status)

	assert.Equal(t, http.StatusNotFound, do(t, e, http.MethodGet, "/projects/p1/entities/a/suggestions/missing", nil))
}

func TestHandler_Summary(t *testing.T) {
	e := newServer(t)

	var empty SummaryResponse
	require.Equal(t, http.StatusOK, do(t, e, http.MethodGet, "/projects/p1/suggestions/summary", &empty))
	assert.Empty(t, empty.Summaries)
	assert.NotNil(t, empty.Summaries)

	require.Equal(t, http.StatusOK, do(t, e, http.MethodGet, "/projects/p1/entities/a/suggestions", nil))

	var resp SummaryResponse
	require.Equal(t, http.StatusOK, do(t, e, http.MethodGet, "/projects/p1/suggestions/summary", &resp))
	require.Len(t, resp.Summaries, 1)
	assert.Equal(t, "a", resp.Summaries[0].EntityID)
	assert.Equal(t, 1, resp.Summaries[0].PendingCount)
	assert.Equal(t, "/projects/p1/suggestions/summary", resp.Links["self"].Href)
}

func TestHandler_ProjectsAreIsolated(t *testing.T) {
	e := newServer(t)

	code := do(t, e, http.MethodGet, "/projects/p2/entities/a/suggestions", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNewSetResponse_Merged(t *testing.T) {
	resp := NewSetResponse("p1", &suggestion.Result{EntityID: "b", Tombstoned: true, MergedInto: "a"})

	assert.Equal(t, "a", resp.MergedInto)
	assert.Empty(t, resp.Suggestions)
	assert.NotNil(t, resp.Suggestions)
	assert.Equal(t, "/projects/p1/entities/a/suggestions", resp.Links["merged_into"].Href)
	assert.NotContains(t, resp.Links, "compute")
}
