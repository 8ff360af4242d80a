package suggestion

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

var openStatuses = []any{string(models.SuggestionStatusPending), string(models.SuggestionStatusViewed)}

var suggestionColumns = []string{
	"id", "project_id", "entity_id", "matched_entity_id", "matched_orphan_id", "match_type", "match_value",
	"confidence", "confidence_level", "factors", "status", "status_reason", "created_at", "updated_at",
}

// storedFactor keeps the factor's match type, which the API form omits
type storedFactor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	MatchType   models.MatchType `json:"match_type"`
	Weight      float64          `json:"weight"`
	Score       float64          `json:"score"`
}

type suggestionRow struct {
	models.Suggestion
	StoredFactors database.JSONB[[]storedFactor] `db:"factors"`
}

func (r suggestionRow) toModel() models.Suggestion {
	s := r.Suggestion
	s.Factors = make([]models.MatchFactor, len(r.StoredFactors.Data))
	for i, f := range r.StoredFactors.Data {
		s.Factors[i] = models.MatchFactor{Name: f.Name, Description: f.Description, MatchType: f.MatchType, Weight: f.Weight, Score: f.Score}
	}
	return s
}

func storedFactors(factors []models.MatchFactor) database.JSONB[[]storedFactor] {
	out := make([]storedFactor, len(factors))
	for i, f := range factors {
		out[i] = storedFactor{Name: f.Name, Description: f.Description, MatchType: f.MatchType, Weight: f.Weight, Score: f.Score}
	}
	return database.NewJSONB(out)
}

type setRow struct {
	models.SuggestionSummary
	ProjectID  string `db:"project_id"`
	Computed   bool   `db:"computed"`
	Tombstoned bool   `db:"tombstoned"`
	MergedInto string `db:"merged_into"`
}

// Repository stores suggestion sets in Postgres
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new suggestion repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type querier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func (r *Repository) listSuggestions(ctx context.Context, q querier, projectID string, entityIDs []string) ([]models.Suggestion, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(suggestionColumns...)
	sb.From("suggestions")
	sb.Where(
		sb.Equal("project_id", projectID),
		sb.In("entity_id", database.Args(entityIDs)...),
	)
	sb.OrderBy("confidence DESC", "id")

	query, args := sb.Build()
	var rows []suggestionRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": projectID,
			"entity_ids": entityIDs,
		}).Error("Failed to list suggestions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list suggestions")
	}

	suggestions := make([]models.Suggestion, len(rows))
	for i, row := range rows {
		suggestions[i] = row.toModel()
	}
	return suggestions, nil
}

// Load retrieves an entity's suggestion set
func (r *Repository) Load(ctx context.Context, projectID, entityID string) (*models.SuggestionSet, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Load")
	defer span.End()

	set := &models.SuggestionSet{
		EntityID:    entityID,
		Suggestions: []models.Suggestion{},
		Summary:     models.SuggestionSummary{EntityID: entityID},
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("project_id", "entity_id", "computed", "tombstoned", "merged_into", "total_count", "high_confidence_count",
		"medium_confidence_count", "low_confidence_count", "pending_count", "last_updated")
	sb.From("suggestion_sets")
	sb.Where(sb.Equal("project_id", projectID), sb.Equal("entity_id", entityID))

	query, args := sb.Build()
	var row setRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return set, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": projectID,
			"entity_id":  entityID,
		}).Error("Failed to get suggestion set")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get suggestion set")
	}

	set.Summary = row.SuggestionSummary
	set.Computed = row.Computed
	set.Tombstoned = row.Tombstoned
	set.MergedInto = row.MergedInto
	if set.Tombstoned {
		return set, nil
	}

	suggestions, err := r.listSuggestions(ctx, r.db, projectID, []string{entityID})
	if err != nil {
		return nil, err
	}
	set.Suggestions = suggestions
	return set, nil
}

func (r *Repository) deleteSuggestions(ctx context.Context, tx database.Tx, projectID string, entityIDs []string, openOnly bool) error {
	del := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	del.DeleteFrom("suggestions")
	del.Where(del.Equal("project_id", projectID), del.In("entity_id", database.Args(entityIDs)...))
	if openOnly {
		del.Where(del.In("status", openStatuses...))
	}

	query, args := del.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": projectID,
			"entity_ids": entityIDs,
		}).Error("Failed to delete suggestions")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete suggestions")
	}
	return nil
}

func (r *Repository) upsertSet(ctx context.Context, tx database.Tx, projectID string, row setRow) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("suggestion_sets")
	ib.Cols("project_id", "entity_id", "computed", "tombstoned", "merged_into", "total_count", "high_confidence_count",
		"medium_confidence_count", "low_confidence_count", "pending_count", "last_updated")
	ib.Values(projectID, row.EntityID, row.Computed, row.Tombstoned, row.MergedInto, row.TotalCount, row.HighConfidenceCount,
		row.MediumConfidenceCount, row.LowConfidenceCount, row.PendingCount, row.LastUpdated)

	query, args := ib.Build()
	query += ` ON CONFLICT (project_id, entity_id) DO UPDATE SET
		computed = EXCLUDED.computed,
		tombstoned = EXCLUDED.tombstoned,
		merged_into = EXCLUDED.merged_into,
		total_count = EXCLUDED.total_count,
		high_confidence_count = EXCLUDED.high_confidence_count,
		medium_confidence_count = EXCLUDED.medium_confidence_count,
		low_confidence_count = EXCLUDED.low_confidence_count,
		pending_count = EXCLUDED.pending_count,
		last_updated = EXCLUDED.last_updated`

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": projectID,
			"entity_id":  row.EntityID,
		}).Error("Failed to upsert suggestion set")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert suggestion set")
	}
	return nil
}

func (r *Repository) tombstonedAmong(ctx context.Context, tx database.Tx, projectID string, ids []string) (map[string]bool, error) {
	tombstoned := make(map[string]bool)
	if len(ids) == 0 {
		return tombstoned, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("entity_id")
	sb.From("suggestion_sets")
	sb.Where(sb.Equal("project_id", projectID), sb.Equal("tombstoned", true), sb.In("entity_id", database.Args(ids)...))

	query, args := sb.Build()
	var found []string
	if err := tx.SelectContext(ctx, &found, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check tombstoned entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check tombstoned entities")
	}
	for _, id := range found {
		tombstoned[id] = true
	}
	return tombstoned, nil
}

// Save replaces an entity's suggestions and its summary in one transaction
func (r *Repository) Save(ctx context.Context, projectID, entityID string, suggestions []models.Suggestion, at time.Time) (*models.SuggestionSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Save")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	matched := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		if s.MatchedEntityID != nil && !s.Status.IsTerminal() {
			matched = append(matched, *s.MatchedEntityID)
		}
	}
	tombstoned, err := r.tombstonedAmong(ctx, tx, projectID, matched)
	if err != nil {
		return nil, err
	}

	kept := make([]models.Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if !s.Status.IsTerminal() && s.MatchedEntityID != nil && tombstoned[*s.MatchedEntityID] {
			continue
		}
		kept = append(kept, s)
	}

	if err := r.deleteSuggestions(ctx, tx, projectID, []string{entityID}, false); err != nil {
		return nil, err
	}

	if len(kept) > 0 {
		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto("suggestions")
		ib.Cols(suggestionColumns...)
		for _, s := range kept {
			ib.Values(s.ID, projectID, s.EntityID, s.MatchedEntityID, s.MatchedOrphanID, s.MatchType, s.MatchValue,
				s.Confidence, s.ConfidenceLevel, storedFactors(s.Factors), s.Status, s.StatusReason, s.CreatedAt, s.UpdatedAt)
		}
		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"project_id": projectID,
				"entity_id":  entityID,
				"count":      len(kept),
			}).Error("Failed to insert suggestions")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert suggestions")
		}
	}

	summary := models.Summarize(entityID, kept, at)
	if err := r.upsertSet(ctx, tx, projectID, setRow{SuggestionSummary: summary, Computed: true}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}
	return &summary, nil
}

// Invalidate drops open suggestions for the entities and marks them for recompute
func (r *Repository) Invalidate(ctx context.Context, projectID string, entityIDs []string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Invalidate")
	defer span.End()

	if len(entityIDs) == 0 {
		return nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	tombstoned, err := r.tombstonedAmong(ctx, tx, projectID, entityIDs)
	if err != nil {
		return err
	}
	live := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if !tombstoned[id] {
			live = append(live, id)
		}
	}
	if len(live) == 0 {
		return nil
	}

	if err := r.deleteSuggestions(ctx, tx, projectID, live, true); err != nil {
		return err
	}

	remaining, err := r.listSuggestions(ctx, tx, projectID, live)
	if err != nil {
		return err
	}
	byEntity := make(map[string][]models.Suggestion, len(live))
	for _, s := range remaining {
		byEntity[s.EntityID] = append(byEntity[s.EntityID], s)
	}

	for _, id := range live {
		summary := models.Summarize(id, byEntity[id], at)
		if err := r.upsertSet(ctx, tx, projectID, setRow{SuggestionSummary: summary}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}
	return nil
}

// Tombstone deletes an entity's suggestions and records the tombstone
func (r *Repository) Tombstone(ctx context.Context, projectID, entityID, mergedInto string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Tombstone")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := r.deleteSuggestions(ctx, tx, projectID, []string{entityID}, false); err != nil {
		return err
	}

	row := setRow{
		SuggestionSummary: models.Summarize(entityID, nil, at),
		Tombstoned:        true,
		MergedInto:        mergedInto,
	}
	if err := r.upsertSet(ctx, tx, projectID, row); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id":  projectID,
		"entity_id":   entityID,
		"merged_into": mergedInto,
	}).Info("Tombstoned suggestion set")
	return nil
}

// Summaries lists the summaries of every live set in the project
func (r *Repository) Summaries(ctx context.Context, projectID string) ([]models.SuggestionSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Summaries")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("entity_id", "total_count", "high_confidence_count", "medium_confidence_count", "low_confidence_count",
		"pending_count", "last_updated")
	sb.From("suggestion_sets")
	sb.Where(sb.Equal("project_id", projectID), sb.Equal("tombstoned", false))
	sb.OrderBy("entity_id")

	query, args := sb.Build()
	summaries := make([]models.SuggestionSummary, 0)
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to list summaries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list summaries")
	}
	return summaries, nil
}

// EntitiesReferencing lists entities with an open suggestion pointing at any of matchedIDs
func (r *Repository) EntitiesReferencing(ctx context.Context, projectID string, matchedIDs []string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.EntitiesReferencing")
	defer span.End()

	ids := make([]string, 0)
	if len(matchedIDs) == 0 {
		return ids, nil
	}

	matched := database.Args(matchedIDs)
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("DISTINCT entity_id")
	sb.From("suggestions")
	sb.Where(
		sb.Equal("project_id", projectID),
		sb.In("status", openStatuses...),
		sb.Or(
			sb.In("matched_entity_id", matched...),
			sb.In("matched_orphan_id", matched...),
		),
	)
	sb.OrderBy("entity_id")

	query, args := sb.Build()
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to find referencing entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find referencing entities")
	}
	return ids, nil
}
