package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lunalabs/luna-relay/pkg/types"
)

// TopicExtraction is a single topic entity returned by the extraction model.
type TopicExtraction struct {
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	Subcategory      string   `json:"subcategory"`
	KnowledgeLevel   string   `json:"knowledge_level"`
	QuestionTypes    []string `json:"question_types"`
	VocabularyGrowth []string `json:"vocabulary_growth"`
	Confidence       float64  `json:"confidence"`
	Evidence         string   `json:"evidence"`
}

// SkillExtraction is a single skill entity returned by the extraction model.
type SkillExtraction struct {
	Name               string  `json:"name"`
	SkillCategory      string  `json:"skill_category"`
	SkillSubcategory   string  `json:"skill_subcategory"`
	DevelopmentalStage string  `json:"developmental_stage"`
	MasteryLevel       string  `json:"mastery_level"`
	ProgressionRate    string  `json:"progression_rate"`
	Confidence         float64 `json:"confidence"`
	Evidence           string  `json:"evidence"`
	Milestone          string  `json:"milestone,omitempty"`
}

// InterestExtraction is a single interest entity returned by the extraction model.
type InterestExtraction struct {
	Name                string  `json:"name"`
	InterestCategory    string  `json:"interest_category"`
	InterestSubcategory string  `json:"interest_subcategory"`
	EngagementLevel     float64 `json:"engagement_level"`
	InitiationFrequency float64 `json:"initiation_frequency"`
	PersistenceLevel    float64 `json:"persistence_level"`
	EmotionalConnection string  `json:"emotional_connection"`
	Confidence          float64 `json:"confidence"`
	Evidence            string  `json:"evidence"`
}

// ConceptExtraction is a single concept entity returned by the extraction model.
type ConceptExtraction struct {
	Name               string            `json:"name"`
	ConceptCategory    string            `json:"concept_category"`
	ConceptSubcategory string            `json:"concept_subcategory"`
	AbstractionLevel   string            `json:"abstraction_level"`
	UnderstandingLevel float64           `json:"understanding_level"`
	CognitiveMarkers   map[string]string `json:"cognitive_markers"`
	Confidence         float64           `json:"confidence"`
	Evidence           string            `json:"evidence"`
}

// TraitExtraction is a single personality trait returned by the extraction model.
type TraitExtraction struct {
	Name             string  `json:"name"`
	TraitCategory    string  `json:"trait_category"`
	TraitSubcategory string  `json:"trait_subcategory"`
	Intensity        float64 `json:"intensity"`
	Consistency      float64 `json:"consistency"`
	DevelopmentTrend string  `json:"development_trend"`
	Confidence       float64 `json:"confidence"`
	Evidence         string  `json:"evidence"`
}

// MilestoneExtraction records a developmental milestone the child demonstrated.
type MilestoneExtraction struct {
	Milestone      string  `json:"milestone"`
	Domain         string  `json:"domain"`
	AgeAppropriate string  `json:"age_appropriate"`
	Evidence       string  `json:"evidence"`
	Confidence     float64 `json:"confidence"`
}

// EmotionalMomentExtraction records a notable emotional reaction during the conversation.
type EmotionalMomentExtraction struct {
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
	Trigger   string  `json:"trigger"`
	Evidence  string  `json:"evidence"`
}

// CreativeElementExtraction records imaginative or creative behavior observed
// during the conversation. These enrich interest entities but never create
// entities of their own.
type CreativeElementExtraction struct {
	Type            string   `json:"type"`
	Description     string   `json:"description"`
	Themes          []string `json:"themes"`
	CreativityLevel float64  `json:"creativity_level"`
	Evidence        string   `json:"evidence"`
}

// RelationshipAttributes carries the raw attribute payload of an extracted
// relationship. Which fields are meaningful depends on the relationship type;
// unknown fields are ignored by the JSON decoder.
type RelationshipAttributes struct {
	// learning_pathway
	Prerequisite    bool    `json:"prerequisite,omitempty"`
	Difficulty      string  `json:"difficulty,omitempty"`
	MasteryRequired float64 `json:"masteryRequired,omitempty"`
	// emotional_association
	Emotion   string  `json:"emotion,omitempty"`
	Intensity float64 `json:"intensity,omitempty"`
	Valence   string  `json:"valence,omitempty"`
	// temporal_cooccurrence
	CooccurrenceFrequency float64 `json:"cooccurrenceFrequency,omitempty"`
	TimeProximity         float64 `json:"timeProximity,omitempty"`
}

// RelationshipExtraction is a single relationship returned by the extraction
// model. Endpoints are named by entity name + type and must be resolved
// against the entities extracted in the same response.
type RelationshipExtraction struct {
	SourceEntity string                 `json:"sourceEntity"`
	SourceType   string                 `json:"sourceType"`
	TargetEntity string                 `json:"targetEntity"`
	TargetType   string                 `json:"targetType"`
	RelationType string                 `json:"relationType"`
	Confidence   float64                `json:"confidence"`
	Evidence     string                 `json:"evidence"`
	Attributes   RelationshipAttributes `json:"attributes"`
}

// ExtractionResult is the complete parsed output of one extraction call.
// Individual arrays may be empty; a conversation with nothing worth
// extracting yields a valid result with zero entities.
type ExtractionResult struct {
	Topics                  []TopicExtraction           `json:"topics"`
	Skills                  []SkillExtraction           `json:"skills"`
	Interests               []InterestExtraction        `json:"interests"`
	Concepts                []ConceptExtraction         `json:"concepts"`
	PersonalityTraits       []TraitExtraction           `json:"personality_traits"`
	DevelopmentalMilestones []MilestoneExtraction       `json:"developmental_milestones"`
	EmotionalMoments        []EmotionalMomentExtraction `json:"emotional_moments"`
	CreativeElements        []CreativeElementExtraction `json:"creative_elements"`
	Relationships           []RelationshipExtraction    `json:"relationships"`
}

// EntityCount returns how many entities the result would contribute to the graph.
func (r *ExtractionResult) EntityCount() int {
	return len(r.Topics) + len(r.Skills) + len(r.Interests) + len(r.Concepts) + len(r.PersonalityTraits)
}

// extractJSON extracts the first complete JSON object from text that may carry
// extra prose or markdown fences around it. LLMs add explanations despite
// instructions; this recovers the object instead of failing the whole batch.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // no JSON found, let the parser report it
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings.
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // unbalanced, let the parser report it
}

// ParseExtractionResponse parses the extraction model's JSON output.
//
// Parsing is tolerant at the item level: entities with an out-of-range
// confidence and relationships with an unknown type or unknown endpoint type
// are dropped rather than failing the batch. Only structurally malformed JSON
// returns an error, wrapped around ErrMalformedResponse so callers can detect
// it without string matching.
func ParseExtractionResponse(raw string) (*ExtractionResult, error) {
	cleanJSON := extractJSON(raw)

	var result ExtractionResult
	if err := json.Unmarshal([]byte(cleanJSON), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result.Topics = filterSlice(result.Topics, func(t TopicExtraction) bool {
		return t.Name != "" && validConfidence(t.Confidence)
	})
	result.Skills = filterSlice(result.Skills, func(s SkillExtraction) bool {
		return s.Name != "" && validConfidence(s.Confidence)
	})
	result.Interests = filterSlice(result.Interests, func(i InterestExtraction) bool {
		return i.Name != "" && validConfidence(i.Confidence)
	})
	result.Concepts = filterSlice(result.Concepts, func(c ConceptExtraction) bool {
		return c.Name != "" && validConfidence(c.Confidence)
	})
	result.PersonalityTraits = filterSlice(result.PersonalityTraits, func(t TraitExtraction) bool {
		return t.Name != "" && validConfidence(t.Confidence)
	})
	result.Relationships = filterSlice(result.Relationships, func(r RelationshipExtraction) bool {
		return r.SourceEntity != "" && r.TargetEntity != "" &&
			types.ValidEdgeType(r.RelationType) &&
			types.ValidEntityType(r.SourceType) &&
			types.ValidEntityType(r.TargetType) &&
			validConfidence(r.Confidence)
	})

	return &result, nil
}

func validConfidence(c float64) bool {
	return c >= 0.0 && c <= 1.0
}

func filterSlice[T any](in []T, keep func(T) bool) []T {
	out := in[:0]
	for _, item := range in {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
