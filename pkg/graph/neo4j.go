package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Neo4jEdgeStore stores edges as relationships between (:Entity {id, project_id}) nodes.
// The relationship label is the upper-cased relationship type, e.g. TAGGED.
type Neo4jEdgeStore struct {
	client *Client
	logger ectologger.Logger
}

// NewNeo4jEdgeStore creates a new graph-backed edge store
func NewNeo4jEdgeStore(client *Client, logger ectologger.Logger) *Neo4jEdgeStore {
	return &Neo4jEdgeStore{
		client: client,
		logger: logger,
	}
}

// sanitizeLabel ensures the label is safe for Cypher
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "RELATED"
	}
	return strings.ToUpper(b.String())
}

func edgeParams(edge models.RelationshipEdge) map[string]any {
	var confidence any
	if edge.Confidence != nil {
		confidence = *edge.Confidence
	}
	return map[string]any{
		"id":                edge.ID,
		"project_id":        edge.ProjectID,
		"from_id":           edge.FromEntityID,
		"to_id":             edge.ToEntityID,
		"relationship_type": edge.RelationshipType,
		"reason":            edge.Reason,
		"confidence":        confidence,
		"created_at":        edge.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// mergeEdges upserts a batch of edges, one UNWIND per relationship label
func mergeEdges(ctx context.Context, tx neo4j.ManagedTransaction, edges []models.RelationshipEdge) error {
	batches := make(map[string][]map[string]any)
	for _, e := range edges {
		label := sanitizeLabel(e.RelationshipType)
		batches[label] = append(batches[label], edgeParams(e))
	}

	for label, batch := range batches {
		cypher := fmt.Sprintf(`
			UNWIND $batch AS data
			MERGE (from:Entity {id: data.from_id, project_id: data.project_id})
			MERGE (to:Entity {id: data.to_id, project_id: data.project_id})
			MERGE (from)-[r:%s {id: data.id, project_id: data.project_id}]->(to)
			ON CREATE SET r.created_at = data.created_at
			SET r.relationship_type = data.relationship_type,
				r.reason = data.reason,
				r.confidence = data.confidence
		`, label)

		result, err := tx.Run(ctx, cypher, map[string]any{"batch": batch})
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}

const edgeReturn = `
	RETURN r.id AS id, a.id AS from_id, b.id AS to_id, r.relationship_type AS relationship_type,
		r.reason AS reason, r.confidence AS confidence, r.created_at AS created_at
`

func collectEdges(ctx context.Context, result neo4j.ResultWithContext, projectID string) ([]models.RelationshipEdge, error) {
	edges := make([]models.RelationshipEdge, 0)
	for result.Next(ctx) {
		record := result.Record()
		edge := models.RelationshipEdge{
			ProjectID:        projectID,
			ID:               stringValue(record, "id"),
			FromEntityID:     stringValue(record, "from_id"),
			ToEntityID:       stringValue(record, "to_id"),
			RelationshipType: stringValue(record, "relationship_type"),
			Reason:           stringValue(record, "reason"),
		}
		if v, ok := record.Get("confidence"); ok {
			if f, ok := v.(float64); ok {
				edge.Confidence = &f
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, stringValue(record, "created_at")); err == nil {
			edge.CreatedAt = t
		}
		edges = append(edges, edge)
	}
	return edges, result.Err()
}

func stringValue(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (s *Neo4jEdgeStore) UpsertEdge(ctx context.Context, edge *models.RelationshipEdge) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4jEdgeStore.UpsertEdge")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"edge_id":    edge.ID,
		"from":       edge.FromEntityID,
		"to":         edge.ToEntityID,
		"rel_type":   edge.RelationshipType,
		"project_id": edge.ProjectID,
	})

	err := s.client.Write(ctx, func(tx neo4j.ManagedTransaction) error {
		return mergeEdges(ctx, tx, []models.RelationshipEdge{*edge})
	})
	if err != nil {
		log.WithError(err).Error("Failed to upsert edge in graph")
		return fmt.Errorf("failed to upsert edge in graph: %w", err)
	}

	log.Debug("Upserted edge in graph")
	return nil
}

func (s *Neo4jEdgeStore) RewireEntity(ctx context.Context, projectID, fromID, toID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4jEdgeStore.RewireEntity")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"from":       fromID,
		"to":         toID,
	})

	err := s.client.Write(ctx, func(tx neo4j.ManagedTransaction) error {
		result, err := tx.Run(ctx, `
			MATCH (a:Entity {project_id: $project_id})-[r]->(b:Entity {project_id: $project_id})
			WHERE a.id = $from_id OR b.id = $from_id
		`+edgeReturn, map[string]any{"project_id": projectID, "from_id": fromID})
		if err != nil {
			return err
		}
		touching, err := collectEdges(ctx, result, projectID)
		if err != nil {
			return err
		}

		result, err = tx.Run(ctx, `
			MATCH (n:Entity {id: $from_id, project_id: $project_id})
			DETACH DELETE n
		`, map[string]any{"project_id": projectID, "from_id": fromID})
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}

		moved := make([]models.RelationshipEdge, 0, len(touching))
		for _, edge := range touching {
			if e, ok := rewired(edge, fromID, toID); ok {
				moved = append(moved, e)
			}
		}
		return mergeEdges(ctx, tx, moved)
	})
	if err != nil {
		log.WithError(err).Error("Failed to rewire entity edges in graph")
		return fmt.Errorf("failed to rewire entity edges in graph: %w", err)
	}

	log.Debug("Rewired entity edges in graph")
	return nil
}

func (s *Neo4jEdgeStore) ReplaceTags(ctx context.Context, projectID, entityID string, edges []models.RelationshipEdge) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4jEdgeStore.ReplaceTags")
	defer span.End()

	keep := make([]string, 0, len(edges))
	for _, e := range edges {
		keep = append(keep, e.ID)
	}

	err := s.client.Write(ctx, func(tx neo4j.ManagedTransaction) error {
		cypher := fmt.Sprintf(`
			MATCH (a:Entity {id: $entity_id, project_id: $project_id})-[r:%s]->(:Entity)
			WHERE NOT r.id IN $keep
			DELETE r
		`, sanitizeLabel(models.RelationshipTypeTagged))
		result, err := tx.Run(ctx, cypher, map[string]any{
			"entity_id":  entityID,
			"project_id": projectID,
			"keep":       keep,
		})
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
		return mergeEdges(ctx, tx, edges)
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": projectID,
			"entity_id":  entityID,
		}).Error("Failed to replace tags in graph")
		return fmt.Errorf("failed to replace tags in graph: %w", err)
	}
	return nil
}

func (s *Neo4jEdgeStore) ListEdges(ctx context.Context, projectID string) ([]models.RelationshipEdge, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4jEdgeStore.ListEdges")
	defer span.End()

	edges, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) ([]models.RelationshipEdge, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Entity {project_id: $project_id})-[r]->(b:Entity {project_id: $project_id})
		`+edgeReturn, map[string]any{"project_id": projectID})
		if err != nil {
			return nil, err
		}
		return collectEdges(ctx, result, projectID)
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to list edges from graph")
		return nil, fmt.Errorf("failed to list edges from graph: %w", err)
	}

	sortEdges(edges)
	return edges, nil
}
