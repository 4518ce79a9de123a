package storage

import "errors"

var (
	// ErrNotFound indicates that the requested document was not found.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists indicates a create collided with an existing document.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrConflict indicates a transactional mutation lost a write conflict
	// after exhausting its retries.
	ErrConflict = errors.New("write conflict")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Entity order keys accepted by EntityQuery.OrderBy.
const (
	OrderByStrength      = "strength"
	OrderByMentionCount  = "mentionCount"
	OrderByLastMentioned = "lastMentionedAt"
	OrderByName          = "name"
)

// EntityQuery selects entities within a scope. Zero values mean "no filter".
type EntityQuery struct {
	// Type filters to a single entity type; Types to a set. At most one of
	// the two should be set.
	Type  string
	Types []string

	// OrderBy is one of the OrderBy* constants (default: strength).
	// Descending for numeric/time keys, ascending for name.
	OrderBy string

	// Limit caps the result count (default: 50).
	Limit int
}

// Normalize applies defaults in place.
func (q *EntityQuery) Normalize() {
	if q.OrderBy == "" {
		q.OrderBy = OrderByStrength
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
}

// EdgeQuery selects edges within a scope. Zero values mean "no filter".
type EdgeQuery struct {
	// EdgeType filters to a single edge type; EdgeTypes to a set.
	EdgeType  string
	EdgeTypes []string

	// SourceID / TargetID match the respective endpoint exactly.
	SourceID string
	TargetID string

	// EitherID matches edges where either endpoint equals the given entity
	// ID. Ignored when SourceID or TargetID is set.
	EitherID string

	// MinWeight drops edges below the threshold.
	MinWeight float64

	// Limit caps the result count; 0 means unlimited (per-child graphs are
	// small).
	Limit int
}

// typeSet returns the effective edge-type filter as a set, or nil for "all".
func (q *EdgeQuery) typeSet() map[string]bool {
	if q.EdgeType == "" && len(q.EdgeTypes) == 0 {
		return nil
	}
	set := make(map[string]bool, len(q.EdgeTypes)+1)
	if q.EdgeType != "" {
		set[q.EdgeType] = true
	}
	for _, t := range q.EdgeTypes {
		set[t] = true
	}
	return set
}

// Matches reports whether the edge satisfies the query filters. Backends use
// it to post-filter when their indexes cover only part of the query.
func (q *EdgeQuery) Matches(edgeType string, sourceID, targetID string, weight float64) bool {
	if set := q.typeSet(); set != nil && !set[edgeType] {
		return false
	}
	if q.SourceID != "" && sourceID != q.SourceID {
		return false
	}
	if q.TargetID != "" && targetID != q.TargetID {
		return false
	}
	if q.SourceID == "" && q.TargetID == "" && q.EitherID != "" &&
		sourceID != q.EitherID && targetID != q.EitherID {
		return false
	}
	if weight < q.MinWeight {
		return false
	}
	return true
}
