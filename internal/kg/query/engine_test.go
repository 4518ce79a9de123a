package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/internal/storage/sqlite"
	"github.com/lunalabs/luna-relay/pkg/types"
)

var testScope = storage.Scope{UserID: "user1", ChildID: "child1"}

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewEngine(store), store
}

func addEntity(t *testing.T, store storage.GraphStore, id, entityType string, strength float64) {
	t.Helper()
	require.NoError(t, store.PutEntity(context.Background(), testScope, &types.Entity{
		ID:       id,
		Type:     entityType,
		Name:     id[len(entityType)+1:],
		Strength: strength,
	}))
}

func addEdge(t *testing.T, store storage.GraphStore, edgeType, sourceID, targetID string, weight float64, attrs types.EdgeAttributes) {
	t.Helper()
	id := edgeType + "_" + sourceID + "_" + targetID
	require.NoError(t, store.PutEdge(context.Background(), testScope, &types.Edge{
		ID:             id,
		EdgeType:       edgeType,
		SourceEntityID: sourceID,
		TargetEntityID: targetID,
		Weight:         weight,
		Confidence:     weight,
		Attributes:     attrs,
		Status:         types.EdgeStatusActive,
		CreatedAt:      time.Now().UTC(),
	}))
}

// seedGraph builds a small graph:
//
//	dinosaurs --0.8-- fossils --0.9-- museums     (co-occurrence)
//	dinosaurs --0.4-- weather                     (weak, below default floor)
//	counting --> addition --> multiplication      (pathway, prerequisites)
func seedGraph(t *testing.T, store storage.GraphStore) {
	addEntity(t, store, "topic_dinosaurs", types.EntityTopic, 0.95)
	addEntity(t, store, "topic_fossils", types.EntityTopic, 0.8)
	addEntity(t, store, "topic_museums", types.EntityTopic, 0.7)
	addEntity(t, store, "topic_weather", types.EntityTopic, 0.6)
	addEntity(t, store, "skill_counting", types.EntitySkill, 0.9)
	addEntity(t, store, "skill_addition", types.EntitySkill, 0.8)
	addEntity(t, store, "skill_multiplication", types.EntitySkill, 0.7)

	addEdge(t, store, types.EdgeTemporalCooccurrence, "topic_dinosaurs", "topic_fossils", 0.8, types.EdgeAttributes{})
	addEdge(t, store, types.EdgeTemporalCooccurrence, "topic_fossils", "topic_museums", 0.9, types.EdgeAttributes{})
	addEdge(t, store, types.EdgeTemporalCooccurrence, "topic_dinosaurs", "topic_weather", 0.4, types.EdgeAttributes{})

	prereq := types.EdgeAttributes{Pathway: &types.PathwayAttributes{Prerequisite: true, Difficulty: "medium"}}
	addEdge(t, store, types.EdgeLearningPathway, "skill_counting", "skill_addition", 0.85, prereq)
	addEdge(t, store, types.EdgeLearningPathway, "skill_addition", "skill_multiplication", 0.8, prereq)
}

func TestRelatedEntities_GroupsByDepth(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	result, err := engine.RelatedEntities(context.Background(), testScope, "topic_dinosaurs", RelatedOptions{})
	require.NoError(t, err)

	require.Len(t, result.EntitiesByDepth[0], 1)
	assert.Equal(t, "topic_dinosaurs", result.EntitiesByDepth[0][0].ID)

	require.Len(t, result.EntitiesByDepth[1], 1)
	assert.Equal(t, "topic_fossils", result.EntitiesByDepth[1][0].ID)

	require.Len(t, result.EntitiesByDepth[2], 1)
	assert.Equal(t, "topic_museums", result.EntitiesByDepth[2][0].ID)

	assert.Equal(t, 3, result.TotalEntities)
	assert.Equal(t, 2, result.TotalEdges)
}

func TestRelatedEntities_WeightFloorExcludesWeakEdges(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	result, err := engine.RelatedEntities(context.Background(), testScope, "topic_weather", RelatedOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalEntities, "only dangling weak edge, nothing above 0.5")
}

func TestRelatedEntities_DepthLimit(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	result, err := engine.RelatedEntities(context.Background(), testScope, "topic_dinosaurs", RelatedOptions{MaxDepth: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalEntities)
	assert.Empty(t, result.EntitiesByDepth[2])
}

func TestRelatedEntities_UnknownStart(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.RelatedEntities(context.Background(), testScope, "topic_nope", RelatedOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNeighbors_SortedByWeightDesc(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	neighbors, err := engine.Neighbors(context.Background(), testScope, "topic_fossils", "", 0)
	require.NoError(t, err)

	require.Len(t, neighbors, 2)
	assert.Equal(t, "topic_museums", neighbors[0].Entity.ID)
	assert.Equal(t, 0.9, neighbors[0].EdgeWeight)
	assert.Equal(t, "topic_dinosaurs", neighbors[1].Entity.ID)
}

func TestNeighbors_FiltersByEdgeType(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	neighbors, err := engine.Neighbors(context.Background(), testScope, "skill_addition", types.EdgeLearningPathway, 0)
	require.NoError(t, err)

	require.Len(t, neighbors, 2)
	for _, n := range neighbors {
		assert.Equal(t, types.EdgeLearningPathway, n.EdgeType)
	}
}

func TestNeighbors_Limit(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	neighbors, err := engine.Neighbors(context.Background(), testScope, "topic_fossils", "", 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "topic_museums", neighbors[0].Entity.ID)
}

func TestInterestClusters_FindsStrongComponent(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	clusters, err := engine.InterestClusters(context.Background(), testScope, 0)
	require.NoError(t, err)

	require.Len(t, clusters, 1)
	assert.Equal(t, "cluster_0", clusters[0].ID)
	assert.Equal(t, 3, clusters[0].Size)
	assert.Equal(t, "dinosaurs & fossils & museums", clusters[0].Label)
}

func TestInterestClusters_WeakEdgesDoNotBridge(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	clusters, err := engine.InterestClusters(context.Background(), testScope, 0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	for _, entity := range clusters[0].Entities {
		assert.NotEqual(t, "topic_weather", entity.ID, "0.4 edge is below the cluster floor")
	}
}

func TestInterestClusters_MinSizeFilter(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	clusters, err := engine.InterestClusters(context.Background(), testScope, 4)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestInterestClusters_SkillEdgesIgnored(t *testing.T) {
	engine, store := newTestEngine(t)
	addEntity(t, store, "topic_space", types.EntityTopic, 0.9)
	addEntity(t, store, "skill_counting", types.EntitySkill, 0.9)
	addEdge(t, store, types.EdgeTemporalCooccurrence, "topic_space", "skill_counting", 0.9, types.EdgeAttributes{})

	clusters, err := engine.InterestClusters(context.Background(), testScope, 2)
	require.NoError(t, err)
	assert.Empty(t, clusters, "skills never join interest clusters")
}

func TestContextSubgraph_MarksSeeds(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	subgraph, err := engine.ContextSubgraph(context.Background(), testScope, []string{"topic_dinosaurs"}, 0, 0)
	require.NoError(t, err)

	require.Len(t, subgraph.Entities, 2) // dinosaurs + fossils (0.8 >= 0.7); weather edge too weak
	assert.True(t, subgraph.Entities[0].IsSeed)
	assert.Equal(t, "topic_dinosaurs", subgraph.Entities[0].ID)
	assert.False(t, subgraph.Entities[1].IsSeed)
	assert.Equal(t, "topic_fossils", subgraph.Entities[1].ID)
	require.Len(t, subgraph.Edges, 1)
}

func TestContextSubgraph_MissingSeedSkipped(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	subgraph, err := engine.ContextSubgraph(context.Background(), testScope, []string{"topic_nope", "topic_dinosaurs"}, 0, 0)
	require.NoError(t, err)

	for _, entity := range subgraph.Entities {
		assert.NotEqual(t, "topic_nope", entity.ID)
	}
	assert.NotEmpty(t, subgraph.Entities)
}

func TestContextSubgraph_EntityCap(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	subgraph, err := engine.ContextSubgraph(context.Background(), testScope, []string{"topic_dinosaurs"}, 1, 2)
	require.NoError(t, err)
	assert.Len(t, subgraph.Entities, 1)
}

func TestPrerequisiteChain_MostFundamentalFirst(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	chain, err := engine.PrerequisiteChain(context.Background(), testScope, "skill_multiplication", 0)
	require.NoError(t, err)

	require.Len(t, chain, 2)
	assert.Equal(t, "skill_counting", chain[0].ID)
	assert.Equal(t, "skill_addition", chain[1].ID)
}

func TestPrerequisiteChain_DepthBound(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	chain, err := engine.PrerequisiteChain(context.Background(), testScope, "skill_multiplication", 1)
	require.NoError(t, err)

	require.Len(t, chain, 1)
	assert.Equal(t, "skill_addition", chain[0].ID)
}

func TestPrerequisiteChain_FollowsHighestWeight(t *testing.T) {
	engine, store := newTestEngine(t)
	addEntity(t, store, "skill_target", types.EntitySkill, 0.8)
	addEntity(t, store, "skill_strong", types.EntitySkill, 0.8)
	addEntity(t, store, "skill_weak", types.EntitySkill, 0.8)

	prereq := types.EdgeAttributes{Pathway: &types.PathwayAttributes{Prerequisite: true}}
	addEdge(t, store, types.EdgeLearningPathway, "skill_strong", "skill_target", 0.9, prereq)
	addEdge(t, store, types.EdgeLearningPathway, "skill_weak", "skill_target", 0.5, prereq)

	chain, err := engine.PrerequisiteChain(context.Background(), testScope, "skill_target", 0)
	require.NoError(t, err)

	require.Len(t, chain, 1)
	assert.Equal(t, "skill_strong", chain[0].ID, "only the strongest prerequisite edge is followed")
}

func TestPrerequisiteChain_NonPrerequisiteEdgesIgnored(t *testing.T) {
	engine, store := newTestEngine(t)
	addEntity(t, store, "skill_a", types.EntitySkill, 0.8)
	addEntity(t, store, "skill_b", types.EntitySkill, 0.8)
	addEdge(t, store, types.EdgeLearningPathway, "skill_a", "skill_b", 0.9,
		types.EdgeAttributes{Pathway: &types.PathwayAttributes{Prerequisite: false}})

	chain, err := engine.PrerequisiteChain(context.Background(), testScope, "skill_b", 0)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestPrerequisiteChain_CycleTerminates(t *testing.T) {
	engine, store := newTestEngine(t)
	addEntity(t, store, "skill_a", types.EntitySkill, 0.8)
	addEntity(t, store, "skill_b", types.EntitySkill, 0.8)
	prereq := types.EdgeAttributes{Pathway: &types.PathwayAttributes{Prerequisite: true}}
	addEdge(t, store, types.EdgeLearningPathway, "skill_a", "skill_b", 0.9, prereq)
	addEdge(t, store, types.EdgeLearningPathway, "skill_b", "skill_a", 0.9, prereq)

	chain, err := engine.PrerequisiteChain(context.Background(), testScope, "skill_b", 10)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "skill_a", chain[0].ID)
}

func TestLearningPath_FindsProgression(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	path, err := engine.LearningPath(context.Background(), testScope, "skill_counting", "skill_multiplication", 0)
	require.NoError(t, err)

	require.Len(t, path, 3)
	assert.Equal(t, "skill_counting", path[0].ID)
	assert.Equal(t, "skill_addition", path[1].ID)
	assert.Equal(t, "skill_multiplication", path[2].ID)
}

func TestLearningPath_RespectsDirection(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	_, err := engine.LearningPath(context.Background(), testScope, "skill_multiplication", "skill_counting", 0)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestLearningPath_DepthBound(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	_, err := engine.LearningPath(context.Background(), testScope, "skill_counting", "skill_multiplication", 2)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestLearningPath_StartEqualsTarget(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGraph(t, store)

	path, err := engine.LearningPath(context.Background(), testScope, "skill_counting", "skill_counting", 0)
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, "skill_counting", path[0].ID)
}
