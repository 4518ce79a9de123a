// Package query implements graph traversal over a child's knowledge graph:
// BFS neighborhoods, interest cluster detection, context subgraph extraction,
// and learning-path algorithms. All algorithms run in application code over
// the simple indexed queries the storage layer provides.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// ErrNoPath indicates no learning path exists between the requested entities
// within the depth limit.
var ErrNoPath = errors.New("no path found")

// Default traversal parameters.
const (
	DefaultRelatedDepth     = 2
	DefaultRelatedMinWeight = 0.5
	DefaultNeighborLimit    = 10
	DefaultMinClusterSize   = 2
	DefaultSubgraphEntities = 15
	DefaultSubgraphDepth    = 1
	DefaultChainDepth       = 3
	DefaultPathDepth        = 5

	// clusterMinWeight is the co-occurrence weight floor for cluster edges;
	// subgraphMinWeight is the floor for context extraction, tighter because
	// context competes for prompt space.
	clusterMinWeight  = 0.6
	subgraphMinWeight = 0.7
)

// Engine runs traversal queries over one storage backend.
type Engine struct {
	store storage.GraphStore
}

// NewEngine builds a traversal engine.
func NewEngine(store storage.GraphStore) *Engine {
	return &Engine{store: store}
}

// RelatedOptions tunes RelatedEntities. Zero values take defaults.
type RelatedOptions struct {
	MaxDepth  int
	EdgeTypes []string // empty = all types
	MinWeight float64
}

// RelatedResult is a BFS neighborhood grouped by traversal depth. Depth 0 is
// the start entity itself.
type RelatedResult struct {
	EntitiesByDepth map[int][]*types.Entity
	Edges           []*types.Edge
	TotalEntities   int
	TotalEdges      int
}

// RelatedEntities runs a level-order BFS from entityID, following edges at or
// above the weight threshold. Each entity appears once, at the depth it was
// first reached; the edge that discovered it is included in the result.
// Returns storage.ErrNotFound if the start entity does not exist.
func (e *Engine) RelatedEntities(ctx context.Context, scope storage.Scope, entityID string, opts RelatedOptions) (*RelatedResult, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultRelatedDepth
	}
	if opts.MinWeight <= 0 {
		opts.MinWeight = DefaultRelatedMinWeight
	}

	start, err := e.store.GetEntity(ctx, scope, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get start entity: %w", err)
	}

	result := &RelatedResult{
		EntitiesByDepth: map[int][]*types.Entity{0: {start}},
	}
	visited := map[string]bool{entityID: true}

	type queueItem struct {
		id    string
		depth int
	}
	queue := []queueItem{{entityID, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= opts.MaxDepth {
			continue
		}

		edges, err := e.entityEdges(ctx, scope, current.id, opts.EdgeTypes, opts.MinWeight)
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			neighborID := edge.OtherEnd(current.id)
			if visited[neighborID] {
				continue
			}
			neighbor, err := e.store.GetEntity(ctx, scope, neighborID)
			if errors.Is(err, storage.ErrNotFound) {
				continue // dangling edge
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get neighbor %s: %w", neighborID, err)
			}

			visited[neighborID] = true
			result.EntitiesByDepth[current.depth+1] = append(result.EntitiesByDepth[current.depth+1], neighbor)
			result.Edges = append(result.Edges, edge)
			queue = append(queue, queueItem{neighborID, current.depth + 1})
		}
	}

	result.TotalEntities = len(visited)
	result.TotalEdges = len(result.Edges)
	return result, nil
}

// Neighbor is one immediate neighbor with the edge that connects it.
type Neighbor struct {
	Entity     *types.Entity
	EdgeWeight float64
	EdgeType   string
}

// Neighbors returns the immediate neighbors of an entity ordered by edge
// weight descending. edgeType may be empty for all types. Entities connected
// by several edges appear once, with the first edge encountered.
func (e *Engine) Neighbors(ctx context.Context, scope storage.Scope, entityID, edgeType string, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		limit = DefaultNeighborLimit
	}
	var edgeTypes []string
	if edgeType != "" {
		edgeTypes = []string{edgeType}
	}

	edges, err := e.entityEdges(ctx, scope, entityID, edgeTypes, 0)
	if err != nil {
		return nil, err
	}

	var neighbors []Neighbor
	seen := map[string]bool{}
	for _, edge := range edges {
		neighborID := edge.OtherEnd(entityID)
		if seen[neighborID] {
			continue
		}
		seen[neighborID] = true

		entity, err := e.store.GetEntity(ctx, scope, neighborID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get neighbor %s: %w", neighborID, err)
		}
		neighbors = append(neighbors, Neighbor{Entity: entity, EdgeWeight: edge.Weight, EdgeType: edge.EdgeType})
	}

	sort.SliceStable(neighbors, func(i, j int) bool { return neighbors[i].EdgeWeight > neighbors[j].EdgeWeight })
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// Cluster is one connected component of interests and topics.
type Cluster struct {
	ID       string          `json:"clusterId"`
	Label    string          `json:"label"`
	Size     int             `json:"size"`
	Entities []*types.Entity `json:"entities"`
}

// InterestClusters detects groups of related interests by running connected
// components over interest and topic entities linked by strong co-occurrence
// edges (weight >= 0.6). Components smaller than minSize are discarded. The
// cluster label joins the names of its top three entities by strength.
func (e *Engine) InterestClusters(ctx context.Context, scope storage.Scope, minSize int) ([]Cluster, error) {
	if minSize <= 0 {
		minSize = DefaultMinClusterSize
	}

	entities, err := e.store.ListEntities(ctx, scope, storage.EntityQuery{
		Types:   []string{types.EntityInterest, types.EntityTopic},
		OrderBy: storage.OrderByStrength,
		Limit:   10000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster entities: %w", err)
	}
	if len(entities) < minSize {
		return nil, nil
	}

	edges, err := e.store.ListEdges(ctx, scope, storage.EdgeQuery{
		EdgeType:  types.EdgeTemporalCooccurrence,
		MinWeight: clusterMinWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster edges: %w", err)
	}

	byID := make(map[string]*types.Entity, len(entities))
	for _, entity := range entities {
		byID[entity.ID] = entity
	}

	// Adjacency restricted to interest/topic endpoints: an edge to a skill or
	// concept never bridges two clusters.
	adjacency := map[string][]string{}
	for _, edge := range edges {
		if byID[edge.SourceEntityID] == nil || byID[edge.TargetEntityID] == nil {
			continue
		}
		adjacency[edge.SourceEntityID] = append(adjacency[edge.SourceEntityID], edge.TargetEntityID)
		adjacency[edge.TargetEntityID] = append(adjacency[edge.TargetEntityID], edge.SourceEntityID)
	}

	visited := map[string]bool{}
	var clusters []Cluster

	for _, entity := range entities {
		if visited[entity.ID] {
			continue
		}

		// DFS for this component.
		var component []*types.Entity
		stack := []string{entity.ID}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[current] {
				continue
			}
			visited[current] = true
			component = append(component, byID[current])
			for _, neighbor := range adjacency[current] {
				if !visited[neighbor] {
					stack = append(stack, neighbor)
				}
			}
		}

		if len(component) < minSize {
			continue
		}

		ranked := make([]*types.Entity, len(component))
		copy(ranked, component)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Strength > ranked[j].Strength })

		label := ""
		for i, top := range ranked {
			if i == 3 {
				break
			}
			if i > 0 {
				label += " & "
			}
			label += top.Name
		}

		clusters = append(clusters, Cluster{
			ID:       fmt.Sprintf("cluster_%d", len(clusters)),
			Label:    label,
			Size:     len(component),
			Entities: component,
		})
	}
	return clusters, nil
}

// SubgraphEntity is one entity of an extracted context subgraph.
type SubgraphEntity struct {
	*types.Entity
	IsSeed bool `json:"isSeed"`
}

// Subgraph is the result of ContextSubgraph.
type Subgraph struct {
	Entities []SubgraphEntity
	Edges    []*types.Edge
}

// ContextSubgraph extracts a small high-signal neighborhood around the seed
// entities for prompt context: multi-source BFS following only strong edges
// (weight >= 0.7), capped at maxEntities. Seeds missing from the graph are
// skipped silently.
func (e *Engine) ContextSubgraph(ctx context.Context, scope storage.Scope, seedIDs []string, maxEntities, depth int) (*Subgraph, error) {
	if maxEntities <= 0 {
		maxEntities = DefaultSubgraphEntities
	}
	if depth <= 0 {
		depth = DefaultSubgraphDepth
	}

	seeds := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seeds[id] = true
	}

	type queueItem struct {
		id    string
		depth int
	}
	queue := make([]queueItem, 0, len(seedIDs))
	visited := map[string]bool{}
	for _, id := range seedIDs {
		if !visited[id] {
			visited[id] = true
			queue = append(queue, queueItem{id, 0})
		}
	}

	result := &Subgraph{}
	for len(queue) > 0 && len(result.Entities) < maxEntities {
		current := queue[0]
		queue = queue[1:]

		entity, err := e.store.GetEntity(ctx, scope, current.id)
		if err == nil {
			result.Entities = append(result.Entities, SubgraphEntity{Entity: entity, IsSeed: seeds[current.id]})
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to get entity %s: %w", current.id, err)
		}

		if current.depth >= depth {
			continue
		}

		edges, err := e.entityEdges(ctx, scope, current.id, nil, subgraphMinWeight)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			neighborID := edge.OtherEnd(current.id)
			if !visited[neighborID] && len(result.Entities) < maxEntities {
				visited[neighborID] = true
				queue = append(queue, queueItem{neighborID, current.depth + 1})
				result.Edges = append(result.Edges, edge)
			}
		}
	}
	return result, nil
}

// PrerequisiteChain walks learning_pathway edges backwards from entityID,
// greedily following the highest-weight prerequisite edge into each entity,
// up to maxDepth hops. The result is ordered most-fundamental first and does
// not include the starting entity. A cycle terminates the walk.
func (e *Engine) PrerequisiteChain(ctx context.Context, scope storage.Scope, entityID string, maxDepth int) ([]*types.Entity, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultChainDepth
	}

	var chain []*types.Entity
	visited := map[string]bool{entityID: true}
	current := entityID

	for i := 0; i < maxDepth; i++ {
		edges, err := e.store.ListEdges(ctx, scope, storage.EdgeQuery{
			EdgeType: types.EdgeLearningPathway,
			TargetID: current,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list pathway edges: %w", err)
		}

		var prereqs []*types.Edge
		for _, edge := range edges {
			if edge.Attributes.Pathway != nil && edge.Attributes.Pathway.Prerequisite {
				prereqs = append(prereqs, edge)
			}
		}
		if len(prereqs) == 0 {
			break
		}

		sort.SliceStable(prereqs, func(i, j int) bool { return prereqs[i].Weight > prereqs[j].Weight })
		prereqID := prereqs[0].SourceEntityID
		if visited[prereqID] {
			break
		}

		prereq, err := e.store.GetEntity(ctx, scope, prereqID)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get prerequisite %s: %w", prereqID, err)
		}

		chain = append([]*types.Entity{prereq}, chain...)
		visited[prereqID] = true
		current = prereqID
	}
	return chain, nil
}

// LearningPath finds the shortest learning progression from start to target
// with BFS over directed learning_pathway edges, bounded by maxDepth entities
// per path. Returns ErrNoPath when the target is unreachable.
func (e *Engine) LearningPath(ctx context.Context, scope storage.Scope, startID, targetID string, maxDepth int) ([]*types.Entity, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultPathDepth
	}

	type queueItem struct {
		id   string
		path []string
	}
	queue := []queueItem{{startID, []string{startID}}}
	visited := map[string]bool{startID: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if len(current.path) > maxDepth {
			continue
		}

		if current.id == targetID {
			path := make([]*types.Entity, 0, len(current.path))
			for _, id := range current.path {
				entity, err := e.store.GetEntity(ctx, scope, id)
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("failed to get path entity %s: %w", id, err)
				}
				path = append(path, entity)
			}
			return path, nil
		}

		edges, err := e.store.ListEdges(ctx, scope, storage.EdgeQuery{
			EdgeType: types.EdgeLearningPathway,
			SourceID: current.id,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list pathway edges: %w", err)
		}
		for _, edge := range edges {
			if visited[edge.TargetEntityID] {
				continue
			}
			visited[edge.TargetEntityID] = true
			next := make([]string, len(current.path), len(current.path)+1)
			copy(next, current.path)
			queue = append(queue, queueItem{edge.TargetEntityID, append(next, edge.TargetEntityID)})
		}
	}
	return nil, ErrNoPath
}

// entityEdges lists the edges touching an entity, filtered by type set and
// weight floor.
func (e *Engine) entityEdges(ctx context.Context, scope storage.Scope, entityID string, edgeTypes []string, minWeight float64) ([]*types.Edge, error) {
	edges, err := e.store.ListEdges(ctx, scope, storage.EdgeQuery{
		EdgeTypes: edgeTypes,
		EitherID:  entityID,
		MinWeight: minWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list edges for %s: %w", entityID, err)
	}
	return edges, nil
}
