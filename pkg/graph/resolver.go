package graph

import (
	"context"
	stderrors "errors"
	"slices"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Direction of a direct relation as seen from the entity being resolved
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
	DirectionMutual   Direction = "mutual"
)

// Reachable is an entity reachable from the start entity and its BFS distance
type Reachable struct {
	ID   string `json:"id"`
	Hops int    `json:"hops"`
}

// DirectRelation is a hop-1 neighbour
type DirectRelation struct {
	ID                string    `json:"id"`
	Direction         Direction `json:"direction"`
	RelationshipTypes []string  `json:"relationshipTypes"`
}

// Relations splits an entity's closure into direct and transitive entries. No id appears in both.
type Relations struct {
	EntityID   string           `json:"entityId"`
	Direct     []DirectRelation `json:"direct"`
	Transitive []Reachable      `json:"transitive"`
}

// EntityReader checks that tag targets exist
type EntityReader interface {
	GetEntity(ctx context.Context, projectID, entityID string) (*models.Entity, error)
}

// DefaultStoreTimeout bounds edge and entity store calls when no timeout is configured
const DefaultStoreTimeout = 5 * time.Second

// Resolver is the one place relationship closure is computed
type Resolver struct {
	edges        EdgeStore
	entities     EntityReader
	maxHops      int
	storeTimeout time.Duration
	logger       ectologger.Logger
}

// NewResolver creates a Resolver. maxHops <= 0 means unbounded; entities may be nil.
func NewResolver(edges EdgeStore, entities EntityReader, maxHops int, storeTimeout time.Duration, logger ectologger.Logger) *Resolver {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Resolver{
		edges:        edges,
		entities:     entities,
		maxHops:      maxHops,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// storeCall bounds a store call. Expiry surfaces as a retryable UpstreamTimeoutError.
func (r *Resolver) storeCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && (stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return errors.NewUpstreamTimeoutError(op, err)
	}
	return err
}

func (r *Resolver) listEdges(ctx context.Context, projectID string) ([]models.RelationshipEdge, error) {
	var edges []models.RelationshipEdge
	err := r.storeCall(ctx, "list_edges", func(ctx context.Context) error {
		var err error
		edges, err = r.edges.ListEdges(ctx, projectID)
		return err
	})
	return edges, err
}

type adjacency map[string]map[string]bool

func undirected(edges []models.RelationshipEdge) adjacency {
	adj := make(adjacency)
	add := func(a, b string) {
		if adj[a] == nil {
			adj[a] = make(map[string]bool)
		}
		adj[a][b] = true
	}
	for _, e := range edges {
		if e.FromEntityID == e.ToEntityID {
			continue
		}
		add(e.FromEntityID, e.ToEntityID)
		add(e.ToEntityID, e.FromEntityID)
	}
	return adj
}

// bfs walks both edge directions, so closure(A) holds B exactly when closure(B) holds A.
// Runs in O(V+E) per call.
func bfs(adj adjacency, start string, maxHops int) []Reachable {
	visited := map[string]bool{start: true}
	queue := []Reachable{{ID: start}}
	var out []Reachable

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if maxHops > 0 && current.Hops >= maxHops {
			continue
		}

		neighbours := make([]string, 0, len(adj[current.ID]))
		for id := range adj[current.ID] {
			neighbours = append(neighbours, id)
		}
		sort.Strings(neighbours)

		for _, id := range neighbours {
			if visited[id] {
				continue
			}
			visited[id] = true
			next := Reachable{ID: id, Hops: current.Hops + 1}
			out = append(out, next)
			queue = append(queue, next)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Hops != out[j].Hops {
			return out[i].Hops < out[j].Hops
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Closure returns every entity connected to entityID, excluding itself, ordered by hops then id
func (r *Resolver) Closure(ctx context.Context, projectID, entityID string) ([]Reachable, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Resolver.Closure")
	defer span.End()

	edges, err := r.listEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}

	closure := bfs(undirected(edges), entityID, r.maxHops)
	if closure == nil {
		closure = []Reachable{}
	}
	return closure, nil
}

// Relations reports direct neighbours with their direction, then everything further out
func (r *Resolver) Relations(ctx context.Context, projectID, entityID string) (*Relations, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Resolver.Relations")
	defer span.End()

	edges, err := r.listEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}

	type direct struct {
		out, in bool
		types   []string
	}
	neighbours := make(map[string]*direct)
	touch := func(id, relType string) *direct {
		d, ok := neighbours[id]
		if !ok {
			d = &direct{}
			neighbours[id] = d
		}
		if !slices.Contains(d.types, relType) {
			d.types = append(d.types, relType)
		}
		return d
	}
	for _, e := range edges {
		switch {
		case e.FromEntityID == e.ToEntityID:
		case e.FromEntityID == entityID:
			touch(e.ToEntityID, e.RelationshipType).out = true
		case e.ToEntityID == entityID:
			touch(e.FromEntityID, e.RelationshipType).in = true
		}
	}

	result := &Relations{
		EntityID:   entityID,
		Direct:     make([]DirectRelation, 0, len(neighbours)),
		Transitive: make([]Reachable, 0),
	}
	for id, d := range neighbours {
		dir := DirectionOutbound
		switch {
		case d.out && d.in:
			dir = DirectionMutual
		case d.in:
			dir = DirectionInbound
		}
		sort.Strings(d.types)
		result.Direct = append(result.Direct, DirectRelation{ID: id, Direction: dir, RelationshipTypes: d.types})
	}
	sort.Slice(result.Direct, func(i, j int) bool { return result.Direct[i].ID < result.Direct[j].ID })

	for _, reach := range bfs(undirected(edges), entityID, r.maxHops) {
		if reach.Hops > 1 {
			result.Transitive = append(result.Transitive, reach)
		}
	}
	return result, nil
}

// SaveTags replaces entityID's outbound tagged edges with one edge per tag
func (r *Resolver) SaveTags(ctx context.Context, projectID, entityID string, tags []string) ([]models.RelationshipEdge, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Resolver.SaveTags")
	defer span.End()

	seen := make(map[string]bool, len(tags))
	targets := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			return nil, errors.NewValidationError("tags", "tag ids must not be empty")
		}
		if tag == entityID {
			return nil, errors.NewValidationError("tags", "an entity cannot tag itself")
		}
		if !seen[tag] {
			seen[tag] = true
			targets = append(targets, tag)
		}
	}
	sort.Strings(targets)

	if r.entities != nil {
		for _, id := range append([]string{entityID}, targets...) {
			err := r.storeCall(ctx, "get_entity", func(ctx context.Context) error {
				_, err := r.entities.GetEntity(ctx, projectID, id)
				return err
			})
			if err != nil {
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	edges := make([]models.RelationshipEdge, 0, len(targets))
	for _, to := range targets {
		edges = append(edges, models.RelationshipEdge{
			ID:               models.EdgeID(projectID, entityID, to, models.RelationshipTypeTagged),
			ProjectID:        projectID,
			FromEntityID:     entityID,
			ToEntityID:       to,
			RelationshipType: models.RelationshipTypeTagged,
			CreatedAt:        now,
		})
	}

	err := r.storeCall(ctx, "replace_tags", func(ctx context.Context) error {
		return r.edges.ReplaceTags(ctx, projectID, entityID, edges)
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"entity_id":  entityID,
		"tags":       len(edges),
	}).Info("Saved entity tags")
	return edges, nil
}
