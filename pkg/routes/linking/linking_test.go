package linking

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
	suggestionrepo "github.com/Ramsey-B/thistle/internal/repositories/suggestion"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/lock"
	"github.com/Ramsey-B/thistle/pkg/middleware"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
)

type fixture struct {
	e        *echo.Echo
	service  *suggestion.Service
	entities *entityrepo.MemoryStore
	edges    *graph.MemoryEdgeStore
}

func email(value string) models.ProfileField {
	return models.ProfileField{FieldID: "email", Kind: models.IdentifierKindEmail, Values: []string{value}}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	entities := entityrepo.NewMemoryStore()
	entities.PutEntity(models.Entity{ID: "a", ProjectID: "p1", Name: "Alice", Fields: []models.ProfileField{email("alice@example.com")}})
	entities.PutEntity(models.Entity{ID: "b", ProjectID: "p1", Name: "A. Walker", Fields: []models.ProfileField{email("alice@example.com")}})
	entities.PutOrphan(models.OrphanRecord{ID: "o1", ProjectID: "p1", IdentifierType: models.IdentifierKindEmail, IdentifierValue: "alice@example.com"})

	edges := graph.NewMemoryEdgeStore()
	svc := suggestion.NewService(logger, suggestionrepo.NewMemoryStore(), entities, edges, nil, lock.NewLocal(), suggestion.DefaultConfig())

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	NewHandler(svc, logger).Register(e.Group("/projects/:project"))

	return &fixture{e: e, service: svc, entities: entities, edges: edges}
}

func (f *fixture) post(t *testing.T, target, body string, out any) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code, rec.Body.String()
}

func (f *fixture) suggestions(t *testing.T, entityID string) []models.Suggestion {
	t.Helper()
	result, err := f.service.Get(t.Context(), "p1", entityID)
	require.NoError(t, err)
	return result.Suggestions
}

func TestHandler_Dismiss(t *testing.T) {
	f := newFixture(t)
	require.Len(t, f.suggestions(t, "a"), 2)

	var resp DismissResponse
	code, _ := f.post(t, "/projects/p1/linking/dismiss", `{"entity_id":"a","data_id":"b","reason":"different people"}`, &resp)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, models.SuggestionStatusDismissed, resp.Suggestion.Status)
	assert.Equal(t, "different people", resp.Suggestion.StatusReason)
	assert.NotContains(t, resp.Suggestion.Links, "dismiss")
	assert.NotContains(t, resp.Suggestion.Links, "merge")
	assert.Equal(t, 1, resp.Summary.TotalCount)

	code, _ = f.post(t, "/projects/p1/linking/dismiss", `{"entity_id":"a","data_id":"b","reason":"again"}`, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestHandler_DismissValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing entity", `{"data_id":"b","reason":"x"}`, "entity_id"},
		{"missing data id", `{"entity_id":"a","reason":"x"}`, "data_id"},
		{"missing reason", `{"entity_id":"a","data_id":"b"}`, "reason"},
		{"malformed body", `{"entity_id":`, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.post(t, "/projects/p1/linking/dismiss", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, code)

			var errResp middleware.ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(body), &errResp))
			assert.Equal(t, tt.field, errResp.Meta["field"])
		})
	}
}

func TestHandler_Relationship(t *testing.T) {
	f := newFixture(t)
	require.NotEmpty(t, f.suggestions(t, "a"))

	var resp LinkResponse
	code, _ := f.post(t, "/projects/p1/linking/relationship",
		`{"entity_id_1":"a","entity_id_2":"b","relationship_type":"alias","reason":"same inbox","confidence":0.8}`, &resp)
	require.Equal(t, http.StatusOK, code)

	require.NotNil(t, resp.Edge)
	assert.Equal(t, "alias", resp.Edge.RelationshipType)
	assert.ElementsMatch(t, []string{"a", "b"}, resp.AffectedEntities)
	require.NotEmpty(t, resp.Linked)
	assert.Equal(t, models.SuggestionStatusLinked, resp.Linked[0].Status)

	edges, err := f.edges.ListEdges(t.Context(), "p1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].FromEntityID)

	code, _ = f.post(t, "/projects/p1/linking/relationship", `{"entity_id_1":"a","entity_id_2":"b","confidence":1.5}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_RelationshipToOrphan(t *testing.T) {
	f := newFixture(t)

	var resp LinkResponse
	code, _ := f.post(t, "/projects/p1/linking/relationship", `{"entity_id_1":"a","entity_id_2":"o1","reason":"seen in dump"}`, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, resp.Edge)
	assert.Equal(t, "o1", resp.OrphanID)

	orphan, err := f.entities.GetOrphan(t.Context(), "p1", "o1")
	require.NoError(t, err)
	require.NotNil(t, orphan.LinkedEntityID)
	assert.Equal(t, "a", *orphan.LinkedEntityID)
}

func TestHandler_Orphan(t *testing.T) {
	f := newFixture(t)

	var resp LinkResponse
	code, _ := f.post(t, "/projects/p1/linking/orphan", `{"entity_id":"b","orphan_id":"o1","reason":"same email"}`, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "o1", resp.OrphanID)
	assert.Equal(t, "/projects/p1/entities/b/suggestions", resp.Links["self"].Href)

	code, _ = f.post(t, "/projects/p1/linking/orphan", `{"entity_id":"b","orphan_id":"missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_Merge(t *testing.T) {
	f := newFixture(t)
	require.NotEmpty(t, f.suggestions(t, "a"))

	var resp MergeResponse
	code, _ := f.post(t, "/projects/p1/linking/merge", `{"entity_id_1":"a","entity_id_2":"b","keep_entity_id":"a","reason":"duplicate"}`, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a", resp.KeptEntityID)
	assert.Equal(t, "b", resp.MergedEntityID)
	assert.Contains(t, resp.AffectedEntities, "a")

	_, err := f.entities.GetEntity(t.Context(), "p1", "b")
	assert.Error(t, err)

	code, _ = f.post(t, "/projects/p1/linking/merge", `{"entity_id_1":"a","entity_id_2":"b","keep_entity_id":"a","reason":"duplicate"}`, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestHandler_MergeTargetMismatch(t *testing.T) {
	f := newFixture(t)

	code, _ := f.post(t, "/projects/p1/linking/merge", `{"entity_id_1":"a","entity_id_2":"b","keep_entity_id":"c"}`, nil)
	assert.Equal(t, http.StatusConflict, code)
}
