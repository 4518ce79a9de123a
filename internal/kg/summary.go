package kg

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// summaryTopN is how many entries each top list keeps.
const summaryTopN = 5

// summaryScanLimit bounds the full-graph scan. Per-child graphs run tens to
// low hundreds of entities, so this is effectively "all".
const summaryScanLimit = 10000

// RebuildSummary recomputes the per-child aggregate from scratch and
// overwrites the summary document. Full recomputation keeps the summary
// consistent without incremental bookkeeping; it runs once per extraction.
func RebuildSummary(ctx context.Context, store storage.GraphStore, scope storage.Scope, now time.Time) error {
	entities, err := store.ListEntities(ctx, scope, storage.EntityQuery{
		OrderBy: storage.OrderByName,
		Limit:   summaryScanLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}

	summary := &types.Summary{
		ChildID:       scope.ChildID,
		LastUpdatedAt: now,
		Stats:         types.SummaryStats{TotalEntities: len(entities)},
	}

	var topics []types.TopTopic
	var skills []types.TopSkill
	var interests []types.TopInterest

	for _, e := range entities {
		switch e.Type {
		case types.EntityTopic:
			summary.Stats.TopicsCount++
			topics = append(topics, types.TopTopic{ID: e.ID, Name: e.Name, Count: e.MentionCount})
		case types.EntitySkill:
			summary.Stats.SkillsCount++
			level := "emerging"
			if e.Attributes.Skill != nil && e.Attributes.Skill.MasteryLevel != "" {
				level = e.Attributes.Skill.MasteryLevel
			}
			skills = append(skills, types.TopSkill{ID: e.ID, Name: e.Name, Level: level})
		case types.EntityInterest:
			summary.Stats.InterestsCount++
			interests = append(interests, types.TopInterest{ID: e.ID, Name: e.Name, Strength: e.Strength})
		case types.EntityConcept:
			summary.Stats.ConceptsCount++
		case types.EntityPersonalityTrait:
			summary.Stats.TraitsCount++
		}
	}

	sort.SliceStable(topics, func(i, j int) bool { return topics[i].Count > topics[j].Count })
	sort.SliceStable(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	sort.SliceStable(interests, func(i, j int) bool { return interests[i].Strength > interests[j].Strength })

	summary.TopTopics = topN(topics)
	summary.TopSkills = topN(skills)
	summary.TopInterests = topN(interests)

	if err := store.PutSummary(ctx, scope, summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func topN[T any](list []T) []T {
	if len(list) > summaryTopN {
		return list[:summaryTopN]
	}
	return list
}
