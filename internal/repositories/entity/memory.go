package entity

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/models"
)

type key struct {
	projectID string
	id        string
}

// MemoryStore is an in-process entity store for local runs and tests
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[key]*models.Entity
	orphans  map[key]*models.OrphanRecord
	merged   map[key]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[key]*models.Entity),
		orphans:  make(map[key]*models.OrphanRecord),
		merged:   make(map[key]string),
	}
}

func copyEntity(e *models.Entity) models.Entity {
	c := *e
	c.Fields = make([]models.ProfileField, len(e.Fields))
	for i, f := range e.Fields {
		f.Values = slices.Clone(f.Values)
		c.Fields[i] = f
	}
	return c
}

// PutEntity adds or replaces an entity
func (m *MemoryStore) PutEntity(entity models.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := copyEntity(&entity)
	m.entities[key{entity.ProjectID, entity.ID}] = &c
	delete(m.merged, key{entity.ProjectID, entity.ID})
}

// DeleteEntity removes an entity
func (m *MemoryStore) DeleteEntity(projectID, entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entities, key{projectID, entityID})
}

// PutOrphan adds or replaces an orphan record
func (m *MemoryStore) PutOrphan(orphan models.OrphanRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orphans[key{orphan.ProjectID, orphan.ID}] = &orphan
}

func (m *MemoryStore) GetEntity(_ context.Context, projectID, entityID string) (*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[key{projectID, entityID}]
	if !ok {
		return nil, errors.NewNotFoundError("entity", entityID)
	}
	c := copyEntity(e)
	return &c, nil
}

func (m *MemoryStore) ListEntities(_ context.Context, projectID string) ([]models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entities := make([]models.Entity, 0)
	for k, e := range m.entities {
		if k.projectID == projectID {
			entities = append(entities, copyEntity(e))
		}
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

func (m *MemoryStore) ListOrphans(_ context.Context, projectID string) ([]models.OrphanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orphans := make([]models.OrphanRecord, 0)
	for k, o := range m.orphans {
		if k.projectID == projectID && !o.IsLinked() {
			orphans = append(orphans, *o)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })
	return orphans, nil
}

func (m *MemoryStore) GetOrphan(_ context.Context, projectID, orphanID string) (*models.OrphanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orphans[key{projectID, orphanID}]
	if !ok {
		return nil, errors.NewNotFoundError("orphan", orphanID)
	}
	c := *o
	return &c, nil
}

// MergeEntities moves dropID's fields and linked orphans to keepID and removes dropID
func (m *MemoryStore) MergeEntities(_ context.Context, projectID, keepID, dropID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep, ok := m.entities[key{projectID, keepID}]
	if !ok {
		return errors.NewNotFoundError("entity", keepID)
	}
	drop, ok := m.entities[key{projectID, dropID}]
	if !ok {
		return errors.NewNotFoundError("entity", dropID)
	}

	now := time.Now().UTC()
	keep.Fields = append(keep.Fields, drop.Fields...)
	keep.UpdatedAt = now
	for _, o := range m.orphans {
		if o.ProjectID == projectID && o.LinkedEntityID != nil && *o.LinkedEntityID == dropID {
			id := keepID
			o.LinkedEntityID = &id
			o.UpdatedAt = now
		}
	}

	delete(m.entities, key{projectID, dropID})
	m.merged[key{projectID, dropID}] = keepID
	return nil
}

// MergedInto reports where a merged entity went
func (m *MemoryStore) MergedInto(projectID, entityID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keepID, ok := m.merged[key{projectID, entityID}]
	return keepID, ok
}

func (m *MemoryStore) LinkOrphan(_ context.Context, projectID, orphanID, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orphans[key{projectID, orphanID}]
	if !ok {
		return errors.NewNotFoundError("orphan", orphanID)
	}
	if _, ok := m.entities[key{projectID, entityID}]; !ok {
		return errors.NewNotFoundError("entity", entityID)
	}

	id := entityID
	o.LinkedEntityID = &id
	o.UpdatedAt = time.Now().UTC()
	return nil
}
