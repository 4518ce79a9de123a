// Package contextbuilder renders the per-child knowledge context block that
// personalizes reply generation. It combines entity mention detection over the
// incoming message with traversal queries (subgraph, clusters, prerequisite
// chains) and falls back to the summary aggregate when the graph has no
// signal for the message at hand.
package contextbuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/lunalabs/luna-relay/internal/kg/query"
	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// Section limits. Context competes with conversation history for prompt
// space, so every list is small and fixed.
const (
	maxMentioned      = 5
	maxMentionedShown = 2
	maxSeedEntities   = 3
	maxRelatedTopics  = 3
	maxRelatedThemes  = 2
	maxClusterNames   = 5
	maxSkills         = 3
	maxMilestones     = 2
	maxEmotions       = 3
	maxFallbackItems  = 3

	subgraphEntities   = 10
	emotionalMinWeight = 0.7
)

// Builder renders the CHILD PROFILE prompt block.
type Builder struct {
	store  storage.GraphStore
	engine *query.Engine
	log    *log.Logger
}

// New builds a context builder.
func New(store storage.GraphStore, engine *query.Engine, logger *log.Logger) *Builder {
	return &Builder{store: store, engine: engine, log: logger.With("component", "contextbuilder")}
}

// Build returns the knowledge context block for the child, or "" when the
// graph holds nothing usable. Every sub-query degrades softly: a failed
// section is logged at debug level and dropped, never failing the reply.
func (b *Builder) Build(ctx context.Context, scope storage.Scope, message string) string {
	var parts []string
	parts = append(parts, "\n\nCHILD PROFILE:")

	mentioned := b.detectMentioned(ctx, scope, message)

	if len(mentioned) > 0 {
		if related := b.relatedContext(ctx, scope, mentioned); related != nil {
			names := make([]string, 0, maxMentionedShown)
			for _, e := range mentioned[:min(len(mentioned), maxMentionedShown)] {
				names = append(names, e.Name)
			}
			parts = append(parts, fmt.Sprintf("- Currently discussing: %s", strings.Join(names, ", ")))
			if related.topics != "" {
				parts = append(parts, fmt.Sprintf("- Related topics: %s", related.topics))
			}
			if related.concepts != "" {
				parts = append(parts, fmt.Sprintf("- Related concepts: %s", related.concepts))
			}
		}
	}

	if line := b.interestAreaLine(ctx, scope); line != "" {
		parts = append(parts, line)
	}
	if line := b.skillsLine(ctx, scope); line != "" {
		parts = append(parts, line)
	}
	if line := b.milestoneLine(ctx, scope); line != "" {
		parts = append(parts, line)
	}
	if len(mentioned) > 0 {
		if line := b.emotionalLine(ctx, scope, mentioned); line != "" {
			parts = append(parts, line)
		}
	}

	// Graph gave us nothing about this message; fall back to the summary.
	if len(parts) == 1 {
		parts = append(parts, b.summaryFallback(ctx, scope)...)
	}
	if len(parts) == 1 {
		return ""
	}

	parts = append(parts,
		"\nPersonalize responses based on their interests, skills, and emotional connections.",
		"Reference related topics naturally. Build on their interest areas.")
	return strings.Join(parts, "\n")
}

// detectMentioned finds entities whose name appears verbatim (case
// insensitive) in the message. Keyword matching is deliberate: it is cheap,
// runs on every turn, and never needs a model call.
func (b *Builder) detectMentioned(ctx context.Context, scope storage.Scope, message string) []*types.Entity {
	if message == "" {
		return nil
	}
	messageLower := strings.ToLower(message)

	entities, err := b.store.ListEntities(ctx, scope, storage.EntityQuery{
		Types: []string{types.EntityTopic, types.EntityInterest, types.EntitySkill, types.EntityConcept},
		Limit: 200,
	})
	if err != nil {
		b.log.Debug("entity detection failed", "error", err)
		return nil
	}

	var mentioned []*types.Entity
	for _, entity := range entities {
		if strings.Contains(messageLower, strings.ToLower(entity.Name)) {
			mentioned = append(mentioned, entity)
			if len(mentioned) == maxMentioned {
				break
			}
		}
	}
	return mentioned
}

type relatedEntities struct {
	topics   string
	concepts string
}

// relatedContext expands the mentioned entities one hop through strong edges
// and groups the discovered neighbors by type.
func (b *Builder) relatedContext(ctx context.Context, scope storage.Scope, mentioned []*types.Entity) *relatedEntities {
	seeds := make([]string, 0, maxSeedEntities)
	for _, e := range mentioned[:min(len(mentioned), maxSeedEntities)] {
		seeds = append(seeds, e.ID)
	}

	subgraph, err := b.engine.ContextSubgraph(ctx, scope, seeds, subgraphEntities, 1)
	if err != nil {
		b.log.Debug("related entities context failed", "error", err)
		return nil
	}
	if len(subgraph.Entities) == 0 {
		return nil
	}

	var topics, concepts []string
	for _, entity := range subgraph.Entities {
		if entity.IsSeed {
			continue
		}
		switch entity.Type {
		case types.EntityTopic:
			topics = append(topics, entity.Name)
		case types.EntityConcept:
			concepts = append(concepts, entity.Name)
		}
	}
	if len(topics) == 0 && len(concepts) == 0 {
		return nil
	}
	return &relatedEntities{
		topics:   strings.Join(topics[:min(len(topics), maxRelatedTopics)], ", "),
		concepts: strings.Join(concepts[:min(len(concepts), maxRelatedThemes)], ", "),
	}
}

// interestAreaLine names the largest interest cluster.
func (b *Builder) interestAreaLine(ctx context.Context, scope storage.Scope) string {
	clusters, err := b.engine.InterestClusters(ctx, scope, query.DefaultMinClusterSize)
	if err != nil {
		b.log.Debug("cluster detection skipped", "error", err)
		return ""
	}
	if len(clusters) == 0 {
		return ""
	}

	largest := clusters[0]
	for _, c := range clusters[1:] {
		if c.Size > largest.Size {
			largest = c
		}
	}

	names := make([]string, 0, maxClusterNames)
	for _, e := range largest.Entities[:min(len(largest.Entities), maxClusterNames)] {
		names = append(names, e.Name)
	}
	return fmt.Sprintf("- Interest area: %s (%s)", largest.Label, strings.Join(names, ", "))
}

// skillsLine lists the strongest skills with mastery level and, where one
// exists, the skill it builds on.
func (b *Builder) skillsLine(ctx context.Context, scope storage.Scope) string {
	skills, err := b.store.ListEntities(ctx, scope, storage.EntityQuery{
		Type:    types.EntitySkill,
		OrderBy: storage.OrderByStrength,
		Limit:   maxSkills,
	})
	if err != nil {
		b.log.Debug("skills context skipped", "error", err)
		return ""
	}
	if len(skills) == 0 {
		return ""
	}

	entries := make([]string, 0, len(skills))
	for _, skill := range skills {
		mastery := "emerging"
		if skill.Attributes.Skill != nil && skill.Attributes.Skill.MasteryLevel != "" {
			mastery = skill.Attributes.Skill.MasteryLevel
		}

		prereqs, err := b.engine.PrerequisiteChain(ctx, scope, skill.ID, 1)
		if err == nil && len(prereqs) > 0 {
			entries = append(entries, fmt.Sprintf("%s (%s, builds on %s)", skill.Name, mastery, prereqs[0].Name))
		} else {
			entries = append(entries, fmt.Sprintf("%s (%s)", skill.Name, mastery))
		}
	}
	return fmt.Sprintf("- Skills: %s", strings.Join(entries, ", "))
}

// milestoneLine surfaces the most recent developmental milestones across the
// recently mentioned skills.
func (b *Builder) milestoneLine(ctx context.Context, scope storage.Scope) string {
	skills, err := b.store.ListEntities(ctx, scope, storage.EntityQuery{
		Type:    types.EntitySkill,
		OrderBy: storage.OrderByLastMentioned,
		Limit:   10,
	})
	if err != nil {
		b.log.Debug("milestone context skipped", "error", err)
		return ""
	}

	var latest []types.Milestone
	for _, skill := range skills {
		if len(skill.DevelopmentalMilestones) == 0 {
			continue
		}
		best := skill.DevelopmentalMilestones[0]
		for _, m := range skill.DevelopmentalMilestones[1:] {
			if m.AchievedAt.After(best.AchievedAt) {
				best = m
			}
		}
		latest = append(latest, best)
	}
	if len(latest) == 0 {
		return ""
	}

	sort.SliceStable(latest, func(i, j int) bool { return latest[i].AchievedAt.After(latest[j].AchievedAt) })
	names := make([]string, 0, maxMilestones)
	for _, m := range latest[:min(len(latest), maxMilestones)] {
		names = append(names, m.Milestone)
	}
	return fmt.Sprintf("- Recent achievements: %s", strings.Join(names, ", "))
}

// emotionalLine surfaces strong emotional associations pointing at the
// mentioned entities.
func (b *Builder) emotionalLine(ctx context.Context, scope storage.Scope, mentioned []*types.Entity) string {
	var emotions []string
	for _, entity := range mentioned[:min(len(mentioned), maxSeedEntities)] {
		edges, err := b.store.ListEdges(ctx, scope, storage.EdgeQuery{
			EdgeType:  types.EdgeEmotionalAssociation,
			TargetID:  entity.ID,
			MinWeight: emotionalMinWeight,
		})
		if err != nil {
			b.log.Debug("emotional context failed", "error", err)
			return ""
		}
		for _, edge := range edges {
			emotion := "interest"
			if edge.Attributes.Emotional != nil && edge.Attributes.Emotional.Emotion != "" {
				emotion = edge.Attributes.Emotional.Emotion
			}
			emotions = append(emotions, fmt.Sprintf("%s about %s", emotion, entity.Name))
		}
	}
	if len(emotions) == 0 {
		return ""
	}
	return fmt.Sprintf("- Emotional connections: %s", strings.Join(emotions[:min(len(emotions), maxEmotions)], ", "))
}

// summaryFallback renders the coarse summary lines used when traversal found
// nothing for the message.
func (b *Builder) summaryFallback(ctx context.Context, scope storage.Scope) []string {
	summary, err := b.store.GetSummary(ctx, scope)
	if err != nil {
		return nil
	}

	var parts []string
	if len(summary.TopInterests) > 0 {
		names := make([]string, 0, maxFallbackItems)
		for _, i := range summary.TopInterests[:min(len(summary.TopInterests), maxFallbackItems)] {
			names = append(names, i.Name)
		}
		parts = append(parts, fmt.Sprintf("- Loves: %s", strings.Join(names, ", ")))
	}
	if len(summary.TopTopics) > 0 {
		names := make([]string, 0, maxFallbackItems)
		for _, t := range summary.TopTopics[:min(len(summary.TopTopics), maxFallbackItems)] {
			names = append(names, t.Name)
		}
		parts = append(parts, fmt.Sprintf("- Recently discussed: %s", strings.Join(names, ", ")))
	}
	return parts
}
