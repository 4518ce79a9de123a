package types

import "time"

// Observation is the immutable per-conversation audit record of an extraction
// run: which entities were touched, with what confidence and evidence. It is
// written once and never updated.
type Observation struct {
	ID             string           `json:"id"` // Format: obs_{conversationId}_{yyyymmdd_hhmmss}
	ConversationID string           `json:"conversationId"`
	Timestamp      time.Time        `json:"timestamp"`
	Entities       []ObservedEntity `json:"entities"`
	EntityCount    int              `json:"entityCount"`
	EdgeCount      int              `json:"edgeCount"`
	ExtractedAt    time.Time        `json:"extractedAt"`
	Version        string           `json:"extractionVersion"`
}

// ObservedEntity is one entity touched by an extraction run.
type ObservedEntity struct {
	EntityID        string  `json:"entityId"`
	EntityType      string  `json:"entityType"`
	EntityName      string  `json:"entityName"`
	ObservationType string  `json:"observationType"` // currently always "mentioned"
	Confidence      float64 `json:"confidence"`
	EvidenceSnippet string  `json:"evidenceSnippet,omitempty"`
}

// ExtractionVersion tags Observation records with the pipeline revision that
// produced them.
const ExtractionVersion = "v1.0"
