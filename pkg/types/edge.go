package types

import "time"

// Edge is a typed, weighted relationship between two entities of one child's
// graph. Temporal co-occurrence edges are undirected (the ID is built from the
// lexicographically sorted endpoint IDs so (A,B) and (B,A) collide); learning
// pathway and emotional association edges are directed source→target.
type Edge struct {
	ID       string `json:"id"`
	EdgeType string `json:"edgeType"` // See EdgeType constants

	SourceEntityID   string `json:"sourceEntityId"`
	SourceEntityType string `json:"sourceEntityType"`
	SourceEntityName string `json:"sourceEntityName"`
	TargetEntityID   string `json:"targetEntityId"`
	TargetEntityType string `json:"targetEntityType"`
	TargetEntityName string `json:"targetEntityName"`

	// Weight is a running mean of all observed confidences (0.0-1.0):
	//   weight = (weight*observationCount + confidence) / (observationCount+1)
	// Early observations therefore carry more influence than later ones.
	Weight float64 `json:"weight"`

	// Confidence is the confidence of the first observation that created the edge.
	Confidence       float64 `json:"confidence"`
	ObservationCount int     `json:"observationCount"`

	FirstObservedAt time.Time `json:"firstObservedAt"`
	LastObservedAt  time.Time `json:"lastObservedAt"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	// Attributes is the edge-type-specific payload; the variant matching
	// EdgeType is non-nil.
	Attributes EdgeAttributes `json:"attributes"`

	// ConversationIDs keeps the last MaxEdgeConversations contributing
	// conversations; EvidenceSnippets keeps the last MaxEvidenceSnippets.
	ConversationIDs  []string             `json:"conversationIds,omitempty"`
	EvidenceSnippets []ObservationSnippet `json:"evidenceSnippets,omitempty"`

	// Status is reserved for soft deletion; always "active" today.
	Status string `json:"status"`
}

// EdgeStatusActive is the only edge status currently written.
const EdgeStatusActive = "active"

// EdgeAttributes is the closed per-edge-type union.
type EdgeAttributes struct {
	Cooccurrence *CooccurrenceAttributes `json:"cooccurrence,omitempty"`
	Pathway      *PathwayAttributes      `json:"pathway,omitempty"`
	Emotional    *EmotionalAttributes    `json:"emotional,omitempty"`
}

// CooccurrenceAttributes qualifies a temporal_cooccurrence edge.
type CooccurrenceAttributes struct {
	CooccurrenceFrequency float64 `json:"cooccurrenceFrequency"`
	TimeProximity         float64 `json:"timeProximity"`
}

// PathwayAttributes qualifies a learning_pathway edge.
type PathwayAttributes struct {
	Prerequisite    bool    `json:"prerequisite"`
	Difficulty      string  `json:"difficulty"` // easy, medium, hard
	MasteryRequired float64 `json:"masteryRequired"`
}

// EmotionalAttributes qualifies an emotional_association edge.
type EmotionalAttributes struct {
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
	Valence   string  `json:"valence"` // positive, negative, neutral
}

// IsDirected reports whether the edge type distinguishes source from target.
func (e *Edge) IsDirected() bool {
	return e.EdgeType != EdgeTemporalCooccurrence
}

// OtherEnd returns the entity ID on the opposite end of the edge from entityID.
// If entityID is on neither end the source ID is returned.
func (e *Edge) OtherEnd(entityID string) string {
	if e.SourceEntityID == entityID {
		return e.TargetEntityID
	}
	return e.SourceEntityID
}
