package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// EdgeStore persists a project's relationship edges
type EdgeStore interface {
	// UpsertEdge creates the edge or refreshes its reason and confidence
	UpsertEdge(ctx context.Context, edge *models.RelationshipEdge) error
	// RewireEntity moves every edge touching fromID onto toID, dropping self-loops
	RewireEntity(ctx context.Context, projectID, fromID, toID string) error
	// ReplaceTags makes edges the complete set of entityID's outbound tagged edges
	ReplaceTags(ctx context.Context, projectID, entityID string, edges []models.RelationshipEdge) error
	// ListEdges returns every edge in the project
	ListEdges(ctx context.Context, projectID string) ([]models.RelationshipEdge, error)
}

func sortEdges(edges []models.RelationshipEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromEntityID != edges[j].FromEntityID {
			return edges[i].FromEntityID < edges[j].FromEntityID
		}
		if edges[i].ToEntityID != edges[j].ToEntityID {
			return edges[i].ToEntityID < edges[j].ToEntityID
		}
		return edges[i].RelationshipType < edges[j].RelationshipType
	})
}

// rewired returns the edge with fromID replaced by toID, or false when it would become a self-loop
func rewired(edge models.RelationshipEdge, fromID, toID string) (models.RelationshipEdge, bool) {
	if edge.FromEntityID == fromID {
		edge.FromEntityID = toID
	}
	if edge.ToEntityID == fromID {
		edge.ToEntityID = toID
	}
	if edge.FromEntityID == edge.ToEntityID {
		return edge, false
	}
	edge.ID = models.EdgeID(edge.ProjectID, edge.FromEntityID, edge.ToEntityID, edge.RelationshipType)
	return edge, true
}

// MemoryEdgeStore keeps edges in process, keyed by project and edge id
type MemoryEdgeStore struct {
	mu    sync.RWMutex
	edges map[string]map[string]models.RelationshipEdge
}

// NewMemoryEdgeStore creates an empty MemoryEdgeStore
func NewMemoryEdgeStore() *MemoryEdgeStore {
	return &MemoryEdgeStore{edges: make(map[string]map[string]models.RelationshipEdge)}
}

func (m *MemoryEdgeStore) project(projectID string) map[string]models.RelationshipEdge {
	p, ok := m.edges[projectID]
	if !ok {
		p = make(map[string]models.RelationshipEdge)
		m.edges[projectID] = p
	}
	return p
}

// upsert must be called with the lock held
func (m *MemoryEdgeStore) upsert(edge models.RelationshipEdge) {
	p := m.project(edge.ProjectID)
	if existing, ok := p[edge.ID]; ok {
		edge.CreatedAt = existing.CreatedAt
	}
	p[edge.ID] = edge
}

func (m *MemoryEdgeStore) UpsertEdge(_ context.Context, edge *models.RelationshipEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsert(*edge)
	return nil
}

func (m *MemoryEdgeStore) RewireEntity(_ context.Context, projectID, fromID, toID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.project(projectID)
	var moved []models.RelationshipEdge
	for id, edge := range p {
		if edge.FromEntityID != fromID && edge.ToEntityID != fromID {
			continue
		}
		delete(p, id)
		if e, ok := rewired(edge, fromID, toID); ok {
			moved = append(moved, e)
		}
	}
	for _, e := range moved {
		if _, exists := p[e.ID]; !exists {
			p[e.ID] = e
		}
	}
	return nil
}

func (m *MemoryEdgeStore) ReplaceTags(_ context.Context, projectID, entityID string, edges []models.RelationshipEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]bool, len(edges))
	for _, e := range edges {
		keep[e.ID] = true
	}

	p := m.project(projectID)
	for id, edge := range p {
		if edge.FromEntityID == entityID && edge.RelationshipType == models.RelationshipTypeTagged && !keep[id] {
			delete(p, id)
		}
	}
	for _, e := range edges {
		m.upsert(e)
	}
	return nil
}

func (m *MemoryEdgeStore) ListEdges(_ context.Context, projectID string) ([]models.RelationshipEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := make([]models.RelationshipEdge, 0, len(m.edges[projectID]))
	for _, e := range m.edges[projectID] {
		edges = append(edges, e)
	}
	sortEdges(edges)
	return edges, nil
}
