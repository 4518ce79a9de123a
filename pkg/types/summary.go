package types

import "time"

// Summary is the single per-child aggregate document. It is fully recomputed
// by scanning all entities on every extraction run; per-child entity counts
// are small enough (tens to low hundreds) that a scan is cheaper than keeping
// incremental state consistent.
type Summary struct {
	ChildID       string        `json:"childId"`
	LastUpdatedAt time.Time     `json:"lastUpdatedAt"`
	Stats         SummaryStats  `json:"stats"`
	TopTopics     []TopTopic    `json:"topTopics,omitempty"`    // Top 5 by mention count
	TopSkills     []TopSkill    `json:"topSkills,omitempty"`    // Top 5 by name (alphabetical)
	TopInterests  []TopInterest `json:"topInterests,omitempty"` // Top 5 by strength
}

// SummaryStats holds entity counts by type.
type SummaryStats struct {
	TotalEntities  int `json:"totalEntities"`
	TopicsCount    int `json:"topicsCount"`
	SkillsCount    int `json:"skillsCount"`
	InterestsCount int `json:"interestsCount"`
	ConceptsCount  int `json:"conceptsCount"`
	TraitsCount    int `json:"traitsCount"`
}

// TopTopic is a summary entry ranked by mention count.
type TopTopic struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopSkill is a summary entry with its mastery level.
type TopSkill struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level string `json:"level"`
}

// TopInterest is a summary entry ranked by strength.
type TopInterest struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Strength float64 `json:"strength"`
}
