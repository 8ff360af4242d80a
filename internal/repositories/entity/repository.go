// Package entity reads entities and orphan records from the shared Postgres entity store
package entity

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

var orphanColumns = []string{
	"id", "project_id", "identifier_type", "identifier_value", "confidence_score", "linked_entity_id", "created_at", "updated_at",
}

type fieldRow struct {
	EntityID string                   `db:"entity_id"`
	FieldID  string                   `db:"field_id"`
	Kind     models.IdentifierKind    `db:"kind"`
	Multiple bool                     `db:"multiple"`
	Values   database.JSONB[[]string] `db:"values"`
}

// Repository implements the entity store on the entities, entity_fields and
// orphan_records tables
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) liveEntities(projectID string) *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "project_id", "name", "created_at", "updated_at")
	sb.From("entities")
	sb.Where(
		sb.Equal("project_id", projectID),
		sb.IsNull("deleted_at"),
		sb.IsNull("merged_into"),
	)
	return sb
}

func (r *Repository) attachFields(ctx context.Context, projectID string, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	ids := make([]string, len(entities))
	index := make(map[string]int, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
		index[e.ID] = i
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("entity_id", "field_id", "kind", "multiple", `"values"`)
	sb.From("entity_fields")
	sb.Where(sb.Equal("project_id", projectID), sb.In("entity_id", database.Args(ids)...))
	sb.OrderBy("entity_id", "field_id")

	query, args := sb.Build()
	var rows []fieldRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to list entity fields")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entity fields")
	}

	for _, row := range rows {
		i, ok := index[row.EntityID]
		if !ok {
			continue
		}
		entities[i].Fields = append(entities[i].Fields, models.ProfileField{
			FieldID:  row.FieldID,
			Kind:     row.Kind,
			Multiple: row.Multiple,
			Values:   row.Values.Data,
		})
	}
	return nil
}

// GetEntity retrieves a live entity with its profile fields
func (r *Repository) GetEntity(ctx context.Context, projectID, entityID string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetEntity")
	defer span.End()

	sb := r.liveEntities(projectID)
	sb.Where(sb.Equal("id", entityID))

	query, args := sb.Build()
	var entity models.Entity
	if err := r.db.GetContext(ctx, &entity, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, errors.NewNotFoundError("entity", entityID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": projectID,
			"entity_id":  entityID,
		}).Error("Failed to get entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}

	entities := []models.Entity{entity}
	if err := r.attachFields(ctx, projectID, entities); err != nil {
		return nil, err
	}
	return &entities[0], nil
}

// ListEntities lists every live entity in the project with its profile fields
func (r *Repository) ListEntities(ctx context.Context, projectID string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListEntities")
	defer span.End()

	sb := r.liveEntities(projectID)
	sb.OrderBy("id")

	query, args := sb.Build()
	entities := make([]models.Entity, 0)
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to list entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entities")
	}

	if err := r.attachFields(ctx, projectID, entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// ListOrphans lists the project's orphan records that are not linked to an entity
func (r *Repository) ListOrphans(ctx context.Context, projectID string) ([]models.OrphanRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListOrphans")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(orphanColumns...)
	sb.From("orphan_records")
	sb.Where(sb.Equal("project_id", projectID), sb.IsNull("linked_entity_id"))
	sb.OrderBy("id")

	query, args := sb.Build()
	orphans := make([]models.OrphanRecord, 0)
	if err := r.db.SelectContext(ctx, &orphans, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to list orphan records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list orphan records")
	}
	return orphans, nil
}

// GetOrphan retrieves an orphan record, linked or not
func (r *Repository) GetOrphan(ctx context.Context, projectID, orphanID string) (*models.OrphanRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetOrphan")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(orphanColumns...)
	sb.From("orphan_records")
	sb.Where(sb.Equal("project_id", projectID), sb.Equal("id", orphanID))

	query, args := sb.Build()
	var orphan models.OrphanRecord
	if err := r.db.GetContext(ctx, &orphan, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, errors.NewNotFoundError("orphan", orphanID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": projectID,
			"orphan_id":  orphanID,
		}).Error("Failed to get orphan record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get orphan record")
	}
	return &orphan, nil
}

func (r *Repository) exec(ctx context.Context, tx database.Tx, query string, args []any, msg string) (int64, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to " + msg)
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to "+msg)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// MergeEntities folds dropID into keepID: fields and linked orphans move to the kept
// entity and the dropped entity is marked merged
func (r *Repository) MergeEntities(ctx context.Context, projectID, keepID, dropID string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.MergeEntities")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("entities")
	ub.Set(ub.Assign("merged_into", keepID), ub.Assign("updated_at", now))
	ub.Where(ub.Equal("project_id", projectID), ub.Equal("id", dropID), ub.IsNull("merged_into"), ub.IsNull("deleted_at"))
	query, args := ub.Build()
	affected, err := r.exec(ctx, tx, query, args, "mark entity merged")
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NewNotFoundError("entity", dropID)
	}

	ub = sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("entity_fields")
	ub.Set(ub.Assign("entity_id", keepID), ub.Assign("updated_at", now))
	ub.Where(ub.Equal("project_id", projectID), ub.Equal("entity_id", dropID))
	query, args = ub.Build()
	if _, err := r.exec(ctx, tx, query, args, "move entity fields"); err != nil {
		return err
	}

	ub = sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("orphan_records")
	ub.Set(ub.Assign("linked_entity_id", keepID), ub.Assign("updated_at", now))
	ub.Where(ub.Equal("project_id", projectID), ub.Equal("linked_entity_id", dropID))
	query, args = ub.Build()
	if _, err := r.exec(ctx, tx, query, args, "move linked orphans"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"keep_id":    keepID,
		"drop_id":    dropID,
	}).Info("Merged entities in entity store")
	return nil
}

// LinkOrphan attaches an orphan record to an entity, replacing any previous link
func (r *Repository) LinkOrphan(ctx context.Context, projectID, orphanID, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.LinkOrphan")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("orphan_records")
	ub.Set(ub.Assign("linked_entity_id", entityID), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(ub.Equal("project_id", projectID), ub.Equal("id", orphanID))
	query, args := ub.Build()
	affected, err := r.exec(ctx, tx, query, args, "link orphan record")
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NewNotFoundError("orphan", orphanID)
	}

	return tx.Commit(ctx)
}
