package kg

import (
	"time"

	"github.com/lunalabs/luna-relay/internal/llm"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// resolvedEdge is one relationship whose endpoints resolved to entities
// extracted in the same run.
type resolvedEdge struct {
	EdgeType   string
	SourceID   string
	SourceType string
	SourceName string
	TargetID   string
	TargetType string
	TargetName string
	Confidence float64
	Evidence   string
	Attributes types.EdgeAttributes
}

// resolveEdges matches relationship endpoints against the run's entity map
// (key: {type}_{lowercased name}). Unresolvable endpoints drop the
// relationship; this is what keeps a hallucinated entity name from minting a
// dangling edge. The second return value counts the dropped relationships.
func resolveEdges(rels []llm.RelationshipExtraction, entities map[string]string) ([]resolvedEdge, int) {
	resolved := make([]resolvedEdge, 0, len(rels))
	dropped := 0

	for _, rel := range rels {
		if rel.Confidence < types.MinConfidence {
			continue
		}
		sourceID, okSrc := entities[entityKey(rel.SourceType, rel.SourceEntity)]
		targetID, okTgt := entities[entityKey(rel.TargetType, rel.TargetEntity)]
		if !okSrc || !okTgt {
			dropped++
			continue
		}
		resolved = append(resolved, resolvedEdge{
			EdgeType:   rel.RelationType,
			SourceID:   sourceID,
			SourceType: rel.SourceType,
			SourceName: rel.SourceEntity,
			TargetID:   targetID,
			TargetType: rel.TargetType,
			TargetName: rel.TargetEntity,
			Confidence: rel.Confidence,
			Evidence:   rel.Evidence,
			Attributes: edgeAttributes(rel.RelationType, rel.Attributes),
		})
	}
	return resolved, dropped
}

// edgeAttributes maps the raw extracted attribute payload onto the variant
// matching the edge type.
func edgeAttributes(edgeType string, raw llm.RelationshipAttributes) types.EdgeAttributes {
	switch edgeType {
	case types.EdgeTemporalCooccurrence:
		return types.EdgeAttributes{Cooccurrence: &types.CooccurrenceAttributes{
			CooccurrenceFrequency: raw.CooccurrenceFrequency,
			TimeProximity:         raw.TimeProximity,
		}}
	case types.EdgeLearningPathway:
		return types.EdgeAttributes{Pathway: &types.PathwayAttributes{
			Prerequisite:    raw.Prerequisite,
			Difficulty:      raw.Difficulty,
			MasteryRequired: raw.MasteryRequired,
		}}
	case types.EdgeEmotionalAssociation:
		return types.EdgeAttributes{Emotional: &types.EmotionalAttributes{
			Emotion:   raw.Emotion,
			Intensity: raw.Intensity,
			Valence:   raw.Valence,
		}}
	}
	return types.EdgeAttributes{}
}

// newEdge builds the initial document for a first-time relationship. The
// first observation seeds both weight and confidence.
func newEdge(re resolvedEdge, conversationID string, now time.Time) *types.Edge {
	return &types.Edge{
		ID:               EdgeID(re.EdgeType, re.SourceID, re.TargetID),
		EdgeType:         re.EdgeType,
		SourceEntityID:   re.SourceID,
		SourceEntityType: re.SourceType,
		SourceEntityName: re.SourceName,
		TargetEntityID:   re.TargetID,
		TargetEntityType: re.TargetType,
		TargetEntityName: re.TargetName,
		Weight:           re.Confidence,
		Confidence:       re.Confidence,
		ObservationCount: 1,
		FirstObservedAt:  now,
		LastObservedAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
		Attributes:       re.Attributes,
		ConversationIDs:  []string{conversationID},
		EvidenceSnippets: []types.ObservationSnippet{{
			ConversationID: conversationID,
			Timestamp:      now,
			Snippet:        truncateSnippet(re.Evidence),
		}},
		Status: types.EdgeStatusActive,
	}
}

// mergeEdge folds a repeat observation into an existing edge. The weight is a
// running mean over all observations:
//
//	weight = (weight*n + confidence) / (n+1)
//
// so a relationship observed consistently converges on its typical confidence
// instead of being dominated by the latest run. Attributes keep their
// first-observation values.
func mergeEdge(edge *types.Edge, re resolvedEdge, conversationID string, now time.Time) *types.Edge {
	n := float64(edge.ObservationCount)
	edge.Weight = (edge.Weight*n + re.Confidence) / (n + 1)
	edge.ObservationCount++
	edge.LastObservedAt = now
	edge.UpdatedAt = now

	if !containsString(edge.ConversationIDs, conversationID) {
		edge.ConversationIDs = append(edge.ConversationIDs, conversationID)
	}
	if n := len(edge.ConversationIDs); n > types.MaxEdgeConversations {
		edge.ConversationIDs = edge.ConversationIDs[n-types.MaxEdgeConversations:]
	}

	edge.EvidenceSnippets = append(edge.EvidenceSnippets, types.ObservationSnippet{
		ConversationID: conversationID,
		Timestamp:      now,
		Snippet:        truncateSnippet(re.Evidence),
	})
	if n := len(edge.EvidenceSnippets); n > types.MaxEvidenceSnippets {
		edge.EvidenceSnippets = edge.EvidenceSnippets[n-types.MaxEvidenceSnippets:]
	}
	return edge
}

// applyEdgeStats updates the denormalized per-entity edge counters for one
// edge observation. Undirected co-occurrence counts symmetrically on both
// ends; directed types count outgoing on the source and incoming on the
// target. The counters track observations, not distinct edges, so repeat
// observations keep incrementing.
func applyEdgeStats(stats *types.EdgeStats, edgeType string, outgoing bool) {
	stats.TotalEdges++
	switch edgeType {
	case types.EdgeTemporalCooccurrence:
		stats.TemporalCooccurrence++
	case types.EdgeLearningPathway:
		stats.LearningPathway++
		countDirection(stats, outgoing)
		return
	case types.EdgeEmotionalAssociation:
		stats.EmotionalAssociation++
		countDirection(stats, outgoing)
		return
	}
}

func countDirection(stats *types.EdgeStats, outgoing bool) {
	if outgoing {
		stats.OutgoingEdges++
	} else {
		stats.IncomingEdges++
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
