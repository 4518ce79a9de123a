package contextbuilder

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunalabs/luna-relay/internal/kg/query"
	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/internal/storage/sqlite"
	"github.com/lunalabs/luna-relay/pkg/types"
)

var testScope = storage.Scope{UserID: "user1", ChildID: "child1"}

func newTestBuilder(t *testing.T) (*Builder, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, query.NewEngine(store), log.New(io.Discard)), store
}

func putEntity(t *testing.T, store storage.GraphStore, entity *types.Entity) {
	t.Helper()
	require.NoError(t, store.PutEntity(context.Background(), testScope, entity))
}

func putEdge(t *testing.T, store storage.GraphStore, edge *types.Edge) {
	t.Helper()
	require.NoError(t, store.PutEdge(context.Background(), testScope, edge))
}

func TestBuild_EmptyGraphReturnsNothing(t *testing.T) {
	builder, _ := newTestBuilder(t)

	block := builder.Build(context.Background(), testScope, "hello luna")
	assert.Empty(t, block)
}

func TestBuild_MentionedEntityWithRelatedTopics(t *testing.T) {
	builder, store := newTestBuilder(t)

	putEntity(t, store, &types.Entity{ID: "topic_dinosaurs", Type: types.EntityTopic, Name: "dinosaurs", Strength: 0.9})
	putEntity(t, store, &types.Entity{ID: "topic_fossils", Type: types.EntityTopic, Name: "fossils", Strength: 0.8})
	putEdge(t, store, &types.Edge{
		ID:             "temporal_cooccurrence_topic_dinosaurs_topic_fossils",
		EdgeType:       types.EdgeTemporalCooccurrence,
		SourceEntityID: "topic_dinosaurs",
		TargetEntityID: "topic_fossils",
		Weight:         0.8,
		Status:         types.EdgeStatusActive,
	})

	block := builder.Build(context.Background(), testScope, "can we talk about dinosaurs again?")

	assert.Contains(t, block, "CHILD PROFILE:")
	assert.Contains(t, block, "- Currently discussing: dinosaurs")
	assert.Contains(t, block, "- Related topics: fossils")
	assert.Contains(t, block, "Personalize responses based on their interests, skills, and emotional connections.")
	assert.Contains(t, block, "Reference related topics naturally. Build on their interest areas.")
}

func TestBuild_InterestAreaFromLargestCluster(t *testing.T) {
	builder, store := newTestBuilder(t)

	putEntity(t, store, &types.Entity{ID: "interest_space", Type: types.EntityInterest, Name: "space", Strength: 0.95})
	putEntity(t, store, &types.Entity{ID: "topic_rockets", Type: types.EntityTopic, Name: "rockets", Strength: 0.8})
	putEdge(t, store, &types.Edge{
		ID:             "temporal_cooccurrence_interest_space_topic_rockets",
		EdgeType:       types.EdgeTemporalCooccurrence,
		SourceEntityID: "interest_space",
		TargetEntityID: "topic_rockets",
		Weight:         0.9,
		Status:         types.EdgeStatusActive,
	})

	block := builder.Build(context.Background(), testScope, "what should we play?")
	assert.Contains(t, block, "- Interest area: space & rockets (space, rockets)")
}

func TestBuild_SkillsWithPrerequisite(t *testing.T) {
	builder, store := newTestBuilder(t)

	putEntity(t, store, &types.Entity{
		ID: "skill_addition", Type: types.EntitySkill, Name: "addition", Strength: 0.9,
		Attributes: types.EntityAttributes{Skill: &types.SkillAttributes{MasteryLevel: "developing"}},
	})
	putEntity(t, store, &types.Entity{ID: "skill_counting", Type: types.EntitySkill, Name: "counting", Strength: 0.8})
	putEdge(t, store, &types.Edge{
		ID:             "learning_pathway_skill_counting_skill_addition",
		EdgeType:       types.EdgeLearningPathway,
		SourceEntityID: "skill_counting",
		TargetEntityID: "skill_addition",
		Weight:         0.85,
		Attributes:     types.EdgeAttributes{Pathway: &types.PathwayAttributes{Prerequisite: true}},
		Status:         types.EdgeStatusActive,
	})

	block := builder.Build(context.Background(), testScope, "hello")

	assert.Contains(t, block, "addition (developing, builds on counting)")
	assert.Contains(t, block, "counting (emerging)")
}

func TestBuild_RecentAchievements(t *testing.T) {
	builder, store := newTestBuilder(t)
	now := time.Now().UTC()

	putEntity(t, store, &types.Entity{
		ID: "skill_counting", Type: types.EntitySkill, Name: "counting", Strength: 0.9,
		LastMentionedAt: now,
		DevelopmentalMilestones: []types.Milestone{
			{Milestone: "counted to ten", AchievedAt: now.Add(-48 * time.Hour)},
			{Milestone: "counted to twenty", AchievedAt: now},
		},
	})

	block := builder.Build(context.Background(), testScope, "hi")
	assert.Contains(t, block, "- Recent achievements: counted to twenty")
	assert.NotContains(t, block, "counted to ten")
}

func TestBuild_EmotionalConnections(t *testing.T) {
	builder, store := newTestBuilder(t)

	putEntity(t, store, &types.Entity{ID: "topic_volcanoes", Type: types.EntityTopic, Name: "volcanoes", Strength: 0.9})
	putEntity(t, store, &types.Entity{ID: "interest_science", Type: types.EntityInterest, Name: "science", Strength: 0.8})
	putEdge(t, store, &types.Edge{
		ID:             "emotional_association_interest_science_topic_volcanoes",
		EdgeType:       types.EdgeEmotionalAssociation,
		SourceEntityID: "interest_science",
		TargetEntityID: "topic_volcanoes",
		Weight:         0.9,
		Attributes:     types.EdgeAttributes{Emotional: &types.EmotionalAttributes{Emotion: "excitement", Valence: "positive"}},
		Status:         types.EdgeStatusActive,
	})

	block := builder.Build(context.Background(), testScope, "tell me about volcanoes")
	assert.Contains(t, block, "- Emotional connections: excitement about volcanoes")
}

func TestBuild_SummaryFallback(t *testing.T) {
	builder, store := newTestBuilder(t)

	require.NoError(t, store.PutSummary(context.Background(), testScope, &types.Summary{
		ChildID: "child1",
		TopInterests: []types.TopInterest{
			{ID: "interest_space", Name: "space", Strength: 0.9},
			{ID: "interest_dinosaurs", Name: "dinosaurs", Strength: 0.8},
		},
		TopTopics: []types.TopTopic{{ID: "topic_planets", Name: "planets", Count: 4}},
	}))

	block := builder.Build(context.Background(), testScope, "hello!")

	assert.Contains(t, block, "- Loves: space, dinosaurs")
	assert.Contains(t, block, "- Recently discussed: planets")
}

func TestBuild_FallbackNotUsedWhenGraphHasSignal(t *testing.T) {
	builder, store := newTestBuilder(t)

	putEntity(t, store, &types.Entity{
		ID: "skill_drawing", Type: types.EntitySkill, Name: "drawing", Strength: 0.8,
	})
	require.NoError(t, store.PutSummary(context.Background(), testScope, &types.Summary{
		ChildID:      "child1",
		TopInterests: []types.TopInterest{{Name: "space"}},
	}))

	block := builder.Build(context.Background(), testScope, "hello")

	assert.Contains(t, block, "- Skills: drawing (emerging)")
	assert.NotContains(t, block, "- Loves:")
}
