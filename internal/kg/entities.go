package kg

import (
	"strings"
	"time"

	"github.com/lunalabs/luna-relay/internal/llm"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// extractedEntity is the type-erased form of one extracted entity, carrying
// whatever the extraction response provided plus the pre-built attribute
// union. It is the unit the create/merge rules operate on.
type extractedEntity struct {
	Type       string
	Name       string
	Confidence float64
	Evidence   string
	Attributes types.EntityAttributes
	Milestone  string // skills only; empty otherwise

	// Moments holds the run's emotional moments whose trigger names this
	// entity; attached during create and merge.
	Moments []types.EmotionalMoment
}

// flattenEntities converts a parsed extraction result into the common entity
// shape, preserving the fixed type order (topics, skills, interests, concepts,
// personality traits). Entries below the confidence floor are dropped here so
// everything downstream can assume they qualify for the graph.
func flattenEntities(result *llm.ExtractionResult, now time.Time) []extractedEntity {
	out := make([]extractedEntity, 0, result.EntityCount())

	for _, t := range result.Topics {
		if t.Confidence < types.MinConfidence {
			continue
		}
		out = append(out, extractedEntity{
			Type:       types.EntityTopic,
			Name:       t.Name,
			Confidence: t.Confidence,
			Evidence:   t.Evidence,
			Attributes: types.EntityAttributes{Topic: &types.TopicAttributes{
				Category:         t.Category,
				Subcategory:      t.Subcategory,
				KnowledgeLevel:   defaultString(t.KnowledgeLevel, "beginner"),
				QuestionTypes:    t.QuestionTypes,
				VocabularyGrowth: t.VocabularyGrowth,
			}},
		})
	}

	for _, s := range result.Skills {
		if s.Confidence < types.MinConfidence {
			continue
		}
		out = append(out, extractedEntity{
			Type:       types.EntitySkill,
			Name:       s.Name,
			Confidence: s.Confidence,
			Evidence:   s.Evidence,
			Milestone:  s.Milestone,
			Attributes: types.EntityAttributes{Skill: &types.SkillAttributes{
				Category:           s.SkillCategory,
				Subcategory:        s.SkillSubcategory,
				DevelopmentalStage: s.DevelopmentalStage,
				MasteryLevel:       defaultString(s.MasteryLevel, "emerging"),
				ProgressionRate:    defaultString(s.ProgressionRate, "steady"),
				LastDemonstrated:   now,
			}},
		})
	}

	for _, i := range result.Interests {
		if i.Confidence < types.MinConfidence {
			continue
		}
		out = append(out, extractedEntity{
			Type:       types.EntityInterest,
			Name:       i.Name,
			Confidence: i.Confidence,
			Evidence:   i.Evidence,
			Attributes: types.EntityAttributes{Interest: &types.InterestAttributes{
				Category:            i.InterestCategory,
				Subcategory:         i.InterestSubcategory,
				EngagementLevel:     defaultFloat(i.EngagementLevel, 0.5),
				InitiationFrequency: defaultFloat(i.InitiationFrequency, 0.5),
				PersistenceLevel:    defaultFloat(i.PersistenceLevel, 0.5),
				EmotionalConnection: defaultString(i.EmotionalConnection, "positive"),
			}},
		})
	}

	for _, c := range result.Concepts {
		if c.Confidence < types.MinConfidence {
			continue
		}
		out = append(out, extractedEntity{
			Type:       types.EntityConcept,
			Name:       c.Name,
			Confidence: c.Confidence,
			Evidence:   c.Evidence,
			Attributes: types.EntityAttributes{Concept: &types.ConceptAttributes{
				Category:           c.ConceptCategory,
				Subcategory:        c.ConceptSubcategory,
				AbstractionLevel:   defaultString(c.AbstractionLevel, "concrete"),
				UnderstandingLevel: defaultFloat(c.UnderstandingLevel, 0.5),
				CognitiveMarkers:   c.CognitiveMarkers,
			}},
		})
	}

	for _, p := range result.PersonalityTraits {
		if p.Confidence < types.MinConfidence {
			continue
		}
		out = append(out, extractedEntity{
			Type:       types.EntityPersonalityTrait,
			Name:       p.Name,
			Confidence: p.Confidence,
			Evidence:   p.Evidence,
			Attributes: types.EntityAttributes{Trait: &types.TraitAttributes{
				Category:         p.TraitCategory,
				Subcategory:      p.TraitSubcategory,
				Intensity:        defaultFloat(p.Intensity, 0.5),
				Consistency:      defaultFloat(p.Consistency, 0.5),
				DevelopmentTrend: defaultString(p.DevelopmentTrend, "stable"),
			}},
		})
	}

	return out
}

// attachEmotionalMoments links the run's emotional moments to the extracted
// entities whose name appears in the moment's trigger text. A moment can
// attach to several entities, or to none.
func attachEmotionalMoments(entities []extractedEntity, moments []llm.EmotionalMomentExtraction, conversationID string, now time.Time) {
	for _, m := range moments {
		trigger := strings.ToLower(m.Trigger)
		for i := range entities {
			if !strings.Contains(trigger, strings.ToLower(entities[i].Name)) {
				continue
			}
			entities[i].Moments = append(entities[i].Moments, types.EmotionalMoment{
				Emotion:        m.Emotion,
				Intensity:      m.Intensity,
				Trigger:        m.Trigger,
				ConversationID: conversationID,
				ObservedAt:     now,
			})
		}
	}
}

// newEntity builds the initial document for a first-time extraction.
func newEntity(ext extractedEntity, conversationID string, now time.Time) *types.Entity {
	entity := &types.Entity{
		ID:                ext.EntityID(),
		Type:              ext.Type,
		Name:              ext.Name,
		Strength:          ext.Confidence,
		MentionCount:      1,
		ConversationCount: 1,
		FirstConversation: conversationID,
		LastConversation:  conversationID,
		FirstMentionedAt:  now,
		LastMentionedAt:   now,
		Attributes:        ext.Attributes,
		RecentObservations: []types.ObservationSnippet{{
			ConversationID: conversationID,
			Timestamp:      now,
			Snippet:        truncateSnippet(ext.Evidence),
		}},
	}
	if ext.Milestone != "" {
		entity.DevelopmentalMilestones = []types.Milestone{{
			Milestone:      ext.Milestone,
			AchievedAt:     now,
			ConversationID: conversationID,
			Evidence:       ext.Evidence,
		}}
	}
	entity.EmotionalMoments = append(entity.EmotionalMoments, ext.Moments...)
	return entity
}

// mergeEntity applies a repeat observation. Strength is monotonic (max of all
// confidences), the mention counter always increments, and the conversation
// counter only increments when the conversation differs from the last one
// recorded. Attributes keep their first-extraction values.
func mergeEntity(entity *types.Entity, ext extractedEntity, conversationID string, now time.Time) *types.Entity {
	entity.LastMentionedAt = now
	entity.MentionCount++
	if ext.Confidence > entity.Strength {
		entity.Strength = ext.Confidence
	}
	if conversationID != entity.LastConversation {
		entity.ConversationCount++
	}
	entity.LastConversation = conversationID

	entity.RecentObservations = append(entity.RecentObservations, types.ObservationSnippet{
		ConversationID: conversationID,
		Timestamp:      now,
		Snippet:        truncateSnippet(ext.Evidence),
	})
	if n := len(entity.RecentObservations); n > types.MaxRecentObservations {
		entity.RecentObservations = entity.RecentObservations[n-types.MaxRecentObservations:]
	}
	entity.EmotionalMoments = append(entity.EmotionalMoments, ext.Moments...)
	return entity
}

// EntityID returns the deterministic ID for this extracted entity.
func (e extractedEntity) EntityID() string {
	return EntityID(e.Type, e.Name)
}

func truncateSnippet(s string) string {
	if len(s) > types.MaxSnippetLen {
		return s[:types.MaxSnippetLen]
	}
	return s
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func defaultFloat(f, def float64) float64 {
	if f == 0 {
		return def
	}
	return f
}
