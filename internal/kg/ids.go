// Package kg implements the knowledge graph construction pipeline: LLM
// extraction over finished conversations, deterministic entity/edge identity,
// merge rules for repeated observations, and the per-child summary aggregate.
package kg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lunalabs/luna-relay/pkg/types"
)

var nameCleaner = regexp.MustCompile(`[^a-z0-9\s]`)

// EntityID derives the deterministic document ID for an entity. The name is
// lowercased, stripped of everything outside [a-z0-9 ], and spaces become
// underscores, so "T-Rex!" and "trex" written as topics both land on
// "topic_trex". Identity is the dedup mechanism: re-extracting the same
// concept merges into the same document.
func EntityID(entityType, name string) string {
	normalized := nameCleaner.ReplaceAllString(strings.ToLower(name), "")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	return fmt.Sprintf("%s_%s", entityType, normalized)
}

// EdgeID derives the deterministic document ID for an edge. Temporal
// co-occurrence is undirected, so its endpoint IDs are sorted before joining;
// (A,B) and (B,A) produce the same edge. Directed types keep source order.
func EdgeID(edgeType, sourceID, targetID string) string {
	if edgeType == types.EdgeTemporalCooccurrence && targetID < sourceID {
		sourceID, targetID = targetID, sourceID
	}
	return fmt.Sprintf("%s_%s_%s", edgeType, sourceID, targetID)
}

// entityKey is the lookup key used to resolve relationship endpoints against
// the entities extracted in the same run. Resolution is strictly same-run:
// a relationship naming an entity the run did not extract is dropped.
func entityKey(entityType, name string) string {
	return entityType + "_" + strings.ToLower(strings.TrimSpace(name))
}
