package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

var testScope = storage.Scope{UserID: "user1", ChildID: "child1"}

var testTime = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntity(id, entityType string, strength float64, mentions int, lastMentioned time.Time) *types.Entity {
	return &types.Entity{
		ID:              id,
		Type:            entityType,
		Name:            id,
		Strength:        strength,
		MentionCount:    mentions,
		LastMentionedAt: lastMentioned,
	}
}

func TestEntityRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entity := &types.Entity{
		ID:              "topic_dinosaurs",
		Type:            types.EntityTopic,
		Name:            "dinosaurs",
		Strength:        0.9,
		MentionCount:    3,
		LastMentionedAt: testTime,
		Attributes: types.EntityAttributes{
			Topic: &types.TopicAttributes{Category: "science", KnowledgeLevel: "beginner"},
		},
	}
	require.NoError(t, store.PutEntity(ctx, testScope, entity))

	got, err := store.GetEntity(ctx, testScope, "topic_dinosaurs")
	require.NoError(t, err)
	assert.Equal(t, "dinosaurs", got.Name)
	assert.Equal(t, types.EntityTopic, got.Type)
	assert.InDelta(t, 0.9, got.Strength, 0.001)
	require.NotNil(t, got.Attributes.Topic)
	assert.Equal(t, "science", got.Attributes.Topic.Category)
	assert.True(t, got.LastMentionedAt.Equal(testTime))
}

func TestEntityNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEntity(context.Background(), testScope, "topic_nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPutEntityDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entity := testEntity("topic_space", types.EntityTopic, 0.8, 1, testTime)
	require.NoError(t, store.PutEntity(ctx, testScope, entity))
	assert.ErrorIs(t, store.PutEntity(ctx, testScope, entity), storage.ErrAlreadyExists)
}

func TestMutateEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutEntity(ctx, testScope,
		testEntity("topic_space", types.EntityTopic, 0.8, 1, testTime)))

	mutated, err := store.MutateEntity(ctx, testScope, "topic_space", func(e *types.Entity) (*types.Entity, error) {
		e.MentionCount++
		e.Strength = 0.85
		return e, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, mutated.MentionCount)

	got, err := store.GetEntity(ctx, testScope, "topic_space")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MentionCount)
	assert.InDelta(t, 0.85, got.Strength, 0.001)
}

func TestMutateEntityMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.MutateEntity(context.Background(), testScope, "topic_nope",
		func(e *types.Entity) (*types.Entity, error) { return e, nil })
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListEntitiesOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entities := []*types.Entity{
		testEntity("topic_banana", types.EntityTopic, 0.5, 8, testTime.Add(-time.Hour)),
		testEntity("topic_apple", types.EntityTopic, 0.9, 2, testTime),
		testEntity("skill_counting", types.EntitySkill, 0.7, 5, testTime.Add(-2*time.Hour)),
	}
	for _, e := range entities {
		require.NoError(t, store.PutEntity(ctx, testScope, e))
	}

	byStrength, err := store.ListEntities(ctx, testScope, storage.EntityQuery{OrderBy: storage.OrderByStrength})
	require.NoError(t, err)
	require.Len(t, byStrength, 3)
	assert.Equal(t, "topic_apple", byStrength[0].ID)

	byMentions, err := store.ListEntities(ctx, testScope, storage.EntityQuery{OrderBy: storage.OrderByMentionCount})
	require.NoError(t, err)
	assert.Equal(t, "topic_banana", byMentions[0].ID)

	byRecency, err := store.ListEntities(ctx, testScope, storage.EntityQuery{OrderBy: storage.OrderByLastMentioned})
	require.NoError(t, err)
	assert.Equal(t, "topic_apple", byRecency[0].ID)

	byName, err := store.ListEntities(ctx, testScope, storage.EntityQuery{OrderBy: storage.OrderByName})
	require.NoError(t, err)
	assert.Equal(t, "skill_counting", byName[0].ID)
}

func TestListEntitiesTypeFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutEntity(ctx, testScope, testEntity("topic_space", types.EntityTopic, 0.8, 1, testTime)))
	require.NoError(t, store.PutEntity(ctx, testScope, testEntity("skill_counting", types.EntitySkill, 0.7, 1, testTime)))
	require.NoError(t, store.PutEntity(ctx, testScope, testEntity("interest_art", types.EntityInterest, 0.6, 1, testTime)))

	single, err := store.ListEntities(ctx, testScope, storage.EntityQuery{Type: types.EntitySkill})
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "skill_counting", single[0].ID)

	set, err := store.ListEntities(ctx, testScope, storage.EntityQuery{
		Types: []string{types.EntityTopic, types.EntityInterest},
	})
	require.NoError(t, err)
	assert.Len(t, set, 2)
}

func TestListEntitiesLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"topic_a", "topic_b", "topic_c"} {
		require.NoError(t, store.PutEntity(ctx, testScope, testEntity(id, types.EntityTopic, 0.8, 1, testTime)))
	}

	got, err := store.ListEntities(ctx, testScope, storage.EntityQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestListEntitiesUnknownOrderKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ListEntities(context.Background(), testScope, storage.EntityQuery{OrderBy: "height"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func testEdge(id, edgeType, source, target string, weight float64) *types.Edge {
	return &types.Edge{
		ID:             id,
		EdgeType:       edgeType,
		SourceEntityID: source,
		TargetEntityID: target,
		Weight:         weight,
		Status:         types.EdgeStatusActive,
	}
}

func TestEdgeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	edge := testEdge("temporal_cooccurrence_topic_a_topic_b",
		types.EdgeTemporalCooccurrence, "topic_a", "topic_b", 0.8)
	require.NoError(t, store.PutEdge(ctx, testScope, edge))

	got, err := store.GetEdge(ctx, testScope, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, "topic_a", got.SourceEntityID)
	assert.Equal(t, "topic_b", got.TargetEntityID)
	assert.InDelta(t, 0.8, got.Weight, 0.001)

	assert.ErrorIs(t, store.PutEdge(ctx, testScope, edge), storage.ErrAlreadyExists)

	_, err = store.GetEdge(ctx, testScope, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMutateEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	edge := testEdge("learning_pathway_skill_a_skill_b",
		types.EdgeLearningPathway, "skill_a", "skill_b", 0.9)
	require.NoError(t, store.PutEdge(ctx, testScope, edge))

	mutated, err := store.MutateEdge(ctx, testScope, edge.ID, func(e *types.Edge) (*types.Edge, error) {
		e.Weight = 0.8
		e.ObservationCount++
		return e, nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, mutated.Weight, 0.001)

	got, err := store.GetEdge(ctx, testScope, edge.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Weight, 0.001)
	assert.Equal(t, 1, got.ObservationCount)
}

func TestListEdgesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	edges := []*types.Edge{
		testEdge("e1", types.EdgeTemporalCooccurrence, "topic_a", "topic_b", 0.8),
		testEdge("e2", types.EdgeTemporalCooccurrence, "topic_b", "topic_c", 0.5),
		testEdge("e3", types.EdgeLearningPathway, "skill_x", "skill_y", 0.9),
	}
	for _, e := range edges {
		require.NoError(t, store.PutEdge(ctx, testScope, e))
	}

	byType, err := store.ListEdges(ctx, testScope, storage.EdgeQuery{EdgeType: types.EdgeLearningPathway})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "e3", byType[0].ID)

	bySource, err := store.ListEdges(ctx, testScope, storage.EdgeQuery{SourceID: "topic_b"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "e2", bySource[0].ID)

	byTarget, err := store.ListEdges(ctx, testScope, storage.EdgeQuery{TargetID: "topic_b"})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, "e1", byTarget[0].ID)

	either, err := store.ListEdges(ctx, testScope, storage.EdgeQuery{EitherID: "topic_b"})
	require.NoError(t, err)
	assert.Len(t, either, 2)

	weighted, err := store.ListEdges(ctx, testScope, storage.EdgeQuery{MinWeight: 0.7})
	require.NoError(t, err)
	require.Len(t, weighted, 2)
	assert.Equal(t, "e3", weighted[0].ID, "results are ordered by weight descending")

	limited, err := store.ListEdges(ctx, testScope, storage.EdgeQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "e3", limited[0].ID)
}

func TestObservationInsertOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	obs := &types.Observation{ID: "obs_conv1_20260314_103000", ConversationID: "conv1"}
	require.NoError(t, store.PutObservation(ctx, testScope, obs))
	assert.ErrorIs(t, store.PutObservation(ctx, testScope, obs), storage.ErrAlreadyExists)
}

func TestSummaryUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetSummary(ctx, testScope)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.PutSummary(ctx, testScope, &types.Summary{Stats: types.SummaryStats{TotalEntities: 3}}))
	require.NoError(t, store.PutSummary(ctx, testScope, &types.Summary{Stats: types.SummaryStats{TotalEntities: 7}}))

	got, err := store.GetSummary(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stats.TotalEntities)
}

func newConversation(id, toyID string, startedAt time.Time) *types.Conversation {
	return &types.Conversation{
		ID:           id,
		ToyID:        toyID,
		Status:       types.ConversationActive,
		StartedAt:    startedAt,
		LastActivity: startedAt,
	}
}

func TestConversationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := newConversation("conv1", "toy1", testTime)
	require.NoError(t, store.CreateConversation(ctx, testScope, conv))
	assert.ErrorIs(t, store.CreateConversation(ctx, testScope, conv), storage.ErrAlreadyExists)

	msgs := []types.Message{
		{Sender: types.SenderChild, Content: "hi", Timestamp: testTime.Add(time.Second)},
		{Sender: types.SenderToy, Content: "hello!", Timestamp: testTime.Add(2 * time.Second)},
	}
	require.NoError(t, store.AppendMessages(ctx, testScope, "conv1", msgs...))

	got, err := store.GetConversation(ctx, testScope, "conv1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello!", got.Messages[1].Content)
	assert.True(t, got.LastActivity.Equal(testTime.Add(2*time.Second)))

	ended, err := store.EndConversation(ctx, testScope, "conv1", "explicit")
	require.NoError(t, err)
	assert.Equal(t, types.ConversationEnded, ended.Status)
	assert.Equal(t, "explicit", ended.EndReason)
	assert.False(t, ended.EndedAt.IsZero())

	// Ending again keeps the original reason.
	again, err := store.EndConversation(ctx, testScope, "conv1", "inactivity_timeout")
	require.NoError(t, err)
	assert.Equal(t, "explicit", again.EndReason)
}

func TestAppendMessagesEmpty(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.AppendMessages(context.Background(), testScope, "conv-missing"))
}

func TestSetConversationFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, testScope, newConversation("conv1", "toy1", testTime)))
	require.NoError(t, store.SetConversationFlag(ctx, testScope, "conv1", true))

	got, err := store.GetConversation(ctx, testScope, "conv1")
	require.NoError(t, err)
	assert.True(t, got.Flagged)

	require.NoError(t, store.SetConversationFlag(ctx, testScope, "conv1", false))
	got, err = store.GetConversation(ctx, testScope, "conv1")
	require.NoError(t, err)
	assert.False(t, got.Flagged)
}

func TestActiveConversationForToy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, testScope, newConversation("conv1", "toy1", testTime)))
	require.NoError(t, store.CreateConversation(ctx, testScope, newConversation("conv2", "toy1", testTime.Add(time.Minute))))
	require.NoError(t, store.CreateConversation(ctx, testScope, newConversation("conv3", "toy2", testTime.Add(2*time.Minute))))

	got, err := store.ActiveConversationForToy(ctx, testScope, "toy1")
	require.NoError(t, err)
	assert.Equal(t, "conv2", got.ID, "most recently active conversation wins")

	_, err = store.EndConversation(ctx, testScope, "conv2", "explicit")
	require.NoError(t, err)

	got, err = store.ActiveConversationForToy(ctx, testScope, "toy1")
	require.NoError(t, err)
	assert.Equal(t, "conv1", got.ID)

	_, err = store.ActiveConversationForToy(ctx, testScope, "toy9")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListConversations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"conv1", "conv2", "conv3"} {
		conv := newConversation(id, "toy1", testTime.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.CreateConversation(ctx, testScope, conv))
	}

	got, err := store.ListConversations(ctx, testScope, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "conv3", got[0].ID, "newest first")

	limited, err := store.ListConversations(ctx, testScope, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestChildProfile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetChild(ctx, testScope)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.PutChild(ctx, testScope, &types.Child{ID: "child1", Name: "Ada", AgeLevel: "preschool"}))

	got, err := store.GetChild(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, "preschool", got.AgeLevel)

	// PutChild is an upsert.
	require.NoError(t, store.PutChild(ctx, testScope, &types.Child{ID: "child1", Name: "Ada", AgeLevel: "elementary"}))
	got, err = store.GetChild(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, "elementary", got.AgeLevel)
}

func TestConcurrentMutationsSerialize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutEntity(ctx, testScope,
		testEntity("topic_space", types.EntityTopic, 0.8, 0, testTime)))

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.MutateEntity(ctx, testScope, "topic_space", func(e *types.Entity) (*types.Entity, error) {
				e.MentionCount++
				return e, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetEntity(ctx, testScope, "topic_space")
	require.NoError(t, err)
	assert.Equal(t, writers, got.MentionCount, "no increment may be lost")
}

func TestScopeIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	other := storage.Scope{UserID: "user1", ChildID: "child2"}

	require.NoError(t, store.PutEntity(ctx, testScope, testEntity("topic_space", types.EntityTopic, 0.8, 1, testTime)))
	require.NoError(t, store.CreateConversation(ctx, testScope, newConversation("conv1", "toy1", testTime)))

	_, err := store.GetEntity(ctx, other, "topic_space")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetConversation(ctx, other, "conv1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Same IDs can exist independently per scope.
	require.NoError(t, store.PutEntity(ctx, other, testEntity("topic_space", types.EntityTopic, 0.3, 1, testTime)))
	got, err := store.GetEntity(ctx, other, "topic_space")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got.Strength, 0.001)
}
