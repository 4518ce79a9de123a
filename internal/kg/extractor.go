package kg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/lunalabs/luna-relay/internal/llm"
	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// Extraction call tuning. Low temperature keeps the JSON output stable.
const (
	extractionTemperature = 0.3
	extractionMaxTokens   = 2000
)

// Event describes a completed extraction run, published for observers (the
// websocket event feed, tests). ID is unique per run so feed consumers can
// dedupe across reconnects.
type Event struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ChildID        string    `json:"childId"`
	ConversationID string    `json:"conversationId"`
	EntityCount    int       `json:"entityCount"`
	EdgeCount      int       `json:"edgeCount"`
	CompletedAt    time.Time `json:"completedAt"`
}

// EventSink receives extraction completion events. Implementations must not
// block: extraction runs on a bounded worker pool.
type EventSink interface {
	ExtractionCompleted(ev Event)
}

// Extractor runs the knowledge extraction pipeline over finished
// conversations. One run is: call the extraction model, parse, upsert
// entities, resolve and upsert edges, update endpoint edge stats, write the
// observation record, rebuild the summary.
//
// The pipeline degrades softly: a failure on one entity or edge is logged and
// skipped, never aborting the run; only the LLM call and parse are fatal.
type Extractor struct {
	store storage.GraphStore
	kids  storage.ChildStore
	gen   llm.TextGenerator
	sink  EventSink
	log   *log.Logger

	// now is swapped in tests for deterministic timestamps.
	now func() time.Time
}

// NewExtractor builds an extractor. sink may be nil.
func NewExtractor(store storage.GraphStore, kids storage.ChildStore, gen llm.TextGenerator, sink EventSink, logger *log.Logger) *Extractor {
	return &Extractor{
		store: store,
		kids:  kids,
		gen:   gen,
		sink:  sink,
		log:   logger.With("component", "extractor"),
		now:   time.Now,
	}
}

// ExtractAndStore runs one extraction over a finished conversation's
// messages. The returned error covers hard failures only (profile lookup, LLM
// call, parse); item-level storage failures are logged and absorbed.
func (x *Extractor) ExtractAndStore(ctx context.Context, scope storage.Scope, conversationID string, messages []types.Message) error {
	x.log.Info("starting extraction", "conversation", conversationID, "messages", len(messages))

	ageLevel := types.DefaultAgeLevel
	child, err := x.kids.GetChild(ctx, scope)
	switch {
	case err == nil:
		if child.AgeLevel != "" {
			ageLevel = child.AgeLevel
		}
	case errors.Is(err, storage.ErrNotFound):
		x.log.Warn("child profile missing, using default age level", "child", scope.ChildID)
	default:
		return fmt.Errorf("failed to load child profile: %w", err)
	}

	raw, err := x.gen.Complete(ctx, llm.CompletionRequest{
		Prompt:      llm.ExtractionPrompt(messages, ageLevel),
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("extraction completion failed: %w", err)
	}

	result, err := llm.ParseExtractionResponse(raw)
	if err != nil {
		return fmt.Errorf("extraction parse failed: %w", err)
	}

	now := x.now().UTC()
	extracted := flattenEntities(result, now)
	attachEmotionalMoments(extracted, result.EmotionalMoments, conversationID, now)

	// Upsert entities and record the name->ID map edge resolution needs.
	// Resolution is same-run only: relationships may reference only entities
	// this response also extracted.
	entityIDs := make(map[string]string, len(extracted))
	stored := 0
	for _, ext := range extracted {
		if ext.Name == "" {
			continue
		}
		if err := x.upsertEntity(ctx, scope, ext, conversationID, now); err != nil {
			x.log.Error("entity upsert failed", "entity", ext.EntityID(), "error", err)
			continue
		}
		entityIDs[entityKey(ext.Type, ext.Name)] = ext.EntityID()
		stored++
	}

	edges, dropped := resolveEdges(result.Relationships, entityIDs)
	if dropped > 0 {
		x.log.Warn("dropped relationships with unresolved endpoints", "count", dropped)
	}
	edgesStored := 0
	for _, re := range edges {
		if err := x.upsertEdge(ctx, scope, re, conversationID, now); err != nil {
			x.log.Error("edge upsert failed", "edge", EdgeID(re.EdgeType, re.SourceID, re.TargetID), "error", err)
			continue
		}
		edgesStored++
	}

	if err := x.store.PutObservation(ctx, scope, buildObservation(extracted, conversationID, stored, edgesStored, now)); err != nil {
		x.log.Error("observation write failed", "conversation", conversationID, "error", err)
	}

	if err := RebuildSummary(ctx, x.store, scope, now); err != nil {
		x.log.Error("summary rebuild failed", "child", scope.ChildID, "error", err)
	}

	x.log.Info("extraction complete", "conversation", conversationID, "entities", stored, "edges", edgesStored)

	if x.sink != nil {
		x.sink.ExtractionCompleted(Event{
			ID:             uuid.New().String(),
			UserID:         scope.UserID,
			ChildID:        scope.ChildID,
			ConversationID: conversationID,
			EntityCount:    stored,
			EdgeCount:      edgesStored,
			CompletedAt:    now,
		})
	}
	return nil
}

// upsertEntity creates the entity or merges into the existing document. The
// create-then-merge order makes concurrent first observations race safely:
// the loser of the create gets ErrAlreadyExists and falls through to a
// transactional merge.
func (x *Extractor) upsertEntity(ctx context.Context, scope storage.Scope, ext extractedEntity, conversationID string, now time.Time) error {
	err := x.store.PutEntity(ctx, scope, newEntity(ext, conversationID, now))
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrAlreadyExists) {
		return err
	}
	_, err = x.store.MutateEntity(ctx, scope, ext.EntityID(), func(entity *types.Entity) (*types.Entity, error) {
		return mergeEntity(entity, ext, conversationID, now), nil
	})
	return err
}

// upsertEdge creates or merges the edge, then bumps the denormalized edge
// stats on both endpoints. Stats count every observation, including merges.
func (x *Extractor) upsertEdge(ctx context.Context, scope storage.Scope, re resolvedEdge, conversationID string, now time.Time) error {
	edgeID := EdgeID(re.EdgeType, re.SourceID, re.TargetID)

	err := x.store.PutEdge(ctx, scope, newEdge(re, conversationID, now))
	if errors.Is(err, storage.ErrAlreadyExists) {
		_, err = x.store.MutateEdge(ctx, scope, edgeID, func(edge *types.Edge) (*types.Edge, error) {
			return mergeEdge(edge, re, conversationID, now), nil
		})
	}
	if err != nil {
		return err
	}

	for _, end := range []struct {
		id       string
		outgoing bool
	}{{re.SourceID, true}, {re.TargetID, false}} {
		_, err := x.store.MutateEntity(ctx, scope, end.id, func(entity *types.Entity) (*types.Entity, error) {
			applyEdgeStats(&entity.EdgeStats, re.EdgeType, end.outgoing)
			return entity, nil
		})
		if err != nil {
			x.log.Error("edge stats update failed", "entity", end.id, "edge", edgeID, "error", err)
		}
	}
	return nil
}

// buildObservation assembles the immutable audit record for one run.
func buildObservation(extracted []extractedEntity, conversationID string, entityCount, edgeCount int, now time.Time) *types.Observation {
	observed := make([]types.ObservedEntity, 0, len(extracted))
	for _, ext := range extracted {
		if ext.Name == "" {
			continue
		}
		observed = append(observed, types.ObservedEntity{
			EntityID:        ext.EntityID(),
			EntityType:      ext.Type,
			EntityName:      ext.Name,
			ObservationType: "mentioned",
			Confidence:      ext.Confidence,
			EvidenceSnippet: truncateSnippet(ext.Evidence),
		})
	}
	return &types.Observation{
		ID:             fmt.Sprintf("obs_%s_%s", conversationID, now.Format("20060102_150405")),
		ConversationID: conversationID,
		Timestamp:      now,
		Entities:       observed,
		EntityCount:    entityCount,
		EdgeCount:      edgeCount,
		ExtractedAt:    now,
		Version:        types.ExtractionVersion,
	}
}
