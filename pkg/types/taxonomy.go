// Package types defines the shared data model for the Luna relay: knowledge
// graph entities and edges, conversation records, and the fixed extraction
// taxonomy. All documents are scoped to a (user, child) pair.
package types

// Entity types. These are the singular forms used in entity IDs and stored
// documents; the extraction response uses the plural array names.
const (
	EntityTopic            = "topic"
	EntitySkill            = "skill"
	EntityInterest         = "interest"
	EntityConcept          = "concept"
	EntityPersonalityTrait = "personality_trait"
)

// EntityTypes lists all valid entity types in extraction order.
var EntityTypes = []string{
	EntityTopic,
	EntitySkill,
	EntityInterest,
	EntityConcept,
	EntityPersonalityTrait,
}

// Edge types. TemporalCooccurrence is undirected; the other two are directed
// from source to target.
const (
	EdgeTemporalCooccurrence = "temporal_cooccurrence"
	EdgeLearningPathway      = "learning_pathway"
	EdgeEmotionalAssociation = "emotional_association"
)

// EdgeTypes lists all valid edge types.
var EdgeTypes = []string{
	EdgeTemporalCooccurrence,
	EdgeLearningPathway,
	EdgeEmotionalAssociation,
}

// ValidEntityType reports whether t is a known entity type.
func ValidEntityType(t string) bool {
	for _, v := range EntityTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ValidEdgeType reports whether t is a known edge type.
func ValidEdgeType(t string) bool {
	for _, v := range EdgeTypes {
		if v == t {
			return true
		}
	}
	return false
}

// MinConfidence is the extraction confidence floor. Entities and relationships
// below this score are never written to the graph.
const MinConfidence = 0.7

// Bounded list capacities on stored documents.
const (
	MaxRecentObservations = 5  // Entity.RecentObservations
	MaxEdgeConversations  = 10 // Edge.ConversationIDs
	MaxEvidenceSnippets   = 3  // Edge.EvidenceSnippets
)

// MaxSnippetLen caps evidence text stored on observations and edges.
const MaxSnippetLen = 200
