package types

import "time"

// Entity is one durable fact about a child: a topic they discussed, a skill
// they demonstrated, an interest, a concept they grasp, or a personality
// trait. The ID is derived from the normalized name so re-extraction of the
// same concept merges into the same document.
type Entity struct {
	ID   string `json:"id"`   // Format: {type}_{normalized_name}, e.g. "topic_dinosaurs"
	Type string `json:"type"` // Singular entity type (see EntityType constants)
	Name string `json:"name"` // Display name as first extracted

	// Strength is the max confidence ever observed for this entity (0.0-1.0).
	// It never decreases on a weak re-observation.
	Strength float64 `json:"strength"`

	MentionCount      int    `json:"mentionCount"`      // Incremented on every merge
	ConversationCount int    `json:"conversationCount"` // Incremented on merges from a new conversation
	FirstConversation string `json:"firstConversationId"`
	LastConversation  string `json:"lastConversationId"`

	FirstMentionedAt time.Time `json:"firstMentionedAt"`
	LastMentionedAt  time.Time `json:"lastMentionedAt"`

	// Attributes is a closed per-type union; exactly one variant is set,
	// matching Type.
	Attributes EntityAttributes `json:"attributes"`

	// RecentObservations keeps the last MaxRecentObservations evidence
	// snippets, oldest dropped first.
	RecentObservations []ObservationSnippet `json:"recentObservations,omitempty"`

	// EdgeStats is a denormalized cache of edge counts so display and ranking
	// never need to re-scan the edges collection.
	EdgeStats EdgeStats `json:"edgeStats"`

	// DevelopmentalMilestones is append-only; populated for skill entities.
	DevelopmentalMilestones []Milestone `json:"developmentalMilestones,omitempty"`

	// EmotionalMoments is append-only.
	EmotionalMoments []EmotionalMoment `json:"emotionalMoments,omitempty"`
}

// ObservationSnippet is one dated piece of evidence attached to an entity or edge.
type ObservationSnippet struct {
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
	Snippet        string    `json:"snippet"`
}

// EdgeStats caches per-entity edge counts, maintained incrementally as edges
// are created.
type EdgeStats struct {
	TotalEdges            int `json:"totalEdges"`
	IncomingEdges         int `json:"incomingEdges"`
	OutgoingEdges         int `json:"outgoingEdges"`
	TemporalCooccurrence  int `json:"temporalCooccurrence"`
	LearningPathway       int `json:"learningPathway"`
	EmotionalAssociation  int `json:"emotionalAssociation"`
}

// Milestone records a developmental milestone demonstrated in a conversation.
type Milestone struct {
	Milestone      string    `json:"milestone"`
	Domain         string    `json:"domain,omitempty"`
	AchievedAt     time.Time `json:"achievedAt"`
	ConversationID string    `json:"conversationId"`
	Evidence       string    `json:"evidence,omitempty"`
}

// EmotionalMoment records a strong emotion observed during a conversation.
type EmotionalMoment struct {
	Emotion        string    `json:"emotion"`
	Intensity      float64   `json:"intensity"`
	Trigger        string    `json:"trigger,omitempty"`
	ConversationID string    `json:"conversationId"`
	ObservedAt     time.Time `json:"observedAt"`
}

// EntityAttributes is the type-specific payload of an entity, modeled as a
// closed tagged union: the variant matching Entity.Type is non-nil, all
// others are nil.
type EntityAttributes struct {
	Topic    *TopicAttributes    `json:"topic,omitempty"`
	Skill    *SkillAttributes    `json:"skill,omitempty"`
	Interest *InterestAttributes `json:"interest,omitempty"`
	Concept  *ConceptAttributes  `json:"concept,omitempty"`
	Trait    *TraitAttributes    `json:"trait,omitempty"`
}

// TopicAttributes describes a subject the child discussed.
type TopicAttributes struct {
	Category         string   `json:"category"`
	Subcategory      string   `json:"subcategory"`
	KnowledgeLevel   string   `json:"knowledgeLevel"` // beginner, intermediate, advanced
	QuestionTypes    []string `json:"questionTypes,omitempty"`
	VocabularyGrowth []string `json:"vocabularyGrowth,omitempty"`
}

// SkillAttributes describes an ability the child demonstrated.
type SkillAttributes struct {
	Category           string    `json:"category"`
	Subcategory        string    `json:"subcategory"`
	DevelopmentalStage string    `json:"developmentalStage"`
	MasteryLevel       string    `json:"masteryLevel"` // emerging, developing, proficient
	ProgressionRate    string    `json:"progressionRate"`
	LastDemonstrated   time.Time `json:"lastDemonstrated"`
}

// InterestAttributes describes an enthusiasm or engagement pattern.
type InterestAttributes struct {
	Category            string  `json:"category"`
	Subcategory         string  `json:"subcategory"`
	EngagementLevel     float64 `json:"engagementLevel"`
	InitiationFrequency float64 `json:"initiationFrequency"`
	PersistenceLevel    float64 `json:"persistenceLevel"`
	EmotionalConnection string  `json:"emotionalConnection"`
}

// ConceptAttributes describes abstract understanding.
type ConceptAttributes struct {
	Category           string            `json:"category"`
	Subcategory        string            `json:"subcategory"`
	AbstractionLevel   string            `json:"abstractionLevel"` // concrete, semi_abstract, abstract
	UnderstandingLevel float64           `json:"understandingLevel"`
	CognitiveMarkers   map[string]string `json:"cognitiveMarkers,omitempty"`
}

// TraitAttributes describes a personality trait.
type TraitAttributes struct {
	Category         string  `json:"category"`
	Subcategory      string  `json:"subcategory"`
	Intensity        float64 `json:"intensity"`
	Consistency      float64 `json:"consistency"`
	DevelopmentTrend string  `json:"developmentTrend"` // growing, stable, declining
}
