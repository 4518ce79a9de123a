// Package storage defines the document store contract the knowledge graph is
// built on: hierarchical collections keyed by a (user, child) scope, get/put,
// transactional read-modify-write mutation, and simple indexed queries. There
// are no joins; all cross-collection resolution happens in application code.
//
// The interfaces are small and composable in the interest-segregation style:
// the extraction pipeline needs GraphStore, the relay needs ConversationStore
// and ChildStore, and backends implement Store (everything plus Close).
package storage

import (
	"context"

	"github.com/lunalabs/luna-relay/pkg/types"
)

// Scope identifies one child's document tree. Every operation is confined to
// a single scope; there is no cross-child sharing.
type Scope struct {
	UserID  string
	ChildID string
}

// EntityMutator transforms an entity inside a transaction. It receives the
// current document and returns the replacement. Mutators must be pure with
// respect to the store: the backend may call them more than once when a
// transaction is retried after a conflict.
type EntityMutator func(entity *types.Entity) (*types.Entity, error)

// EdgeMutator transforms an edge inside a transaction, with the same retry
// contract as EntityMutator.
type EdgeMutator func(edge *types.Edge) (*types.Edge, error)

// GraphStore provides access to one child's knowledge graph documents:
// entities, edges, observations, and the aggregate summary.
type GraphStore interface {
	// GetEntity retrieves an entity by ID. Returns ErrNotFound if absent.
	GetEntity(ctx context.Context, scope Scope, id string) (*types.Entity, error)

	// PutEntity creates an entity document. Returns ErrAlreadyExists if an
	// entity with the same ID already exists in the scope.
	PutEntity(ctx context.Context, scope Scope, entity *types.Entity) error

	// MutateEntity applies fn to the entity inside a transaction, so that
	// concurrent merges serialize instead of clobbering each other. Returns
	// ErrNotFound if the entity is absent.
	MutateEntity(ctx context.Context, scope Scope, id string, fn EntityMutator) (*types.Entity, error)

	// ListEntities runs a simple indexed query over a scope's entities.
	ListEntities(ctx context.Context, scope Scope, q EntityQuery) ([]*types.Entity, error)

	// GetEdge retrieves an edge by ID. Returns ErrNotFound if absent.
	GetEdge(ctx context.Context, scope Scope, id string) (*types.Edge, error)

	// PutEdge creates an edge document. Returns ErrAlreadyExists if present.
	PutEdge(ctx context.Context, scope Scope, edge *types.Edge) error

	// MutateEdge applies fn to the edge inside a transaction. The moving
	// average weight update depends on this being a serialized
	// read-modify-write; backends retry on conflict.
	MutateEdge(ctx context.Context, scope Scope, id string, fn EdgeMutator) (*types.Edge, error)

	// ListEdges runs a simple indexed query over a scope's edges.
	ListEdges(ctx context.Context, scope Scope, q EdgeQuery) ([]*types.Edge, error)

	// PutObservation writes an immutable extraction audit record.
	PutObservation(ctx context.Context, scope Scope, obs *types.Observation) error

	// GetSummary retrieves the per-child aggregate. Returns ErrNotFound when
	// no extraction has ever completed for the child.
	GetSummary(ctx context.Context, scope Scope) (*types.Summary, error)

	// PutSummary overwrites the per-child aggregate.
	PutSummary(ctx context.Context, scope Scope, summary *types.Summary) error
}

// ConversationStore persists conversations and their messages. Messages are
// saved on every turn, independently of extraction, so a failed extraction
// never loses conversation data.
type ConversationStore interface {
	// CreateConversation persists a new conversation document.
	CreateConversation(ctx context.Context, scope Scope, conv *types.Conversation) error

	// GetConversation retrieves a conversation with its messages.
	GetConversation(ctx context.Context, scope Scope, id string) (*types.Conversation, error)

	// AppendMessages atomically appends messages and bumps the activity
	// timestamp and message counter.
	AppendMessages(ctx context.Context, scope Scope, id string, msgs ...types.Message) error

	// EndConversation marks the conversation ended with the given reason.
	// Ending an already-ended conversation is a no-op.
	EndConversation(ctx context.Context, scope Scope, id, reason string) (*types.Conversation, error)

	// SetConversationFlag marks or unmarks a conversation for parental
	// review.
	SetConversationFlag(ctx context.Context, scope Scope, id string, flagged bool) error

	// ActiveConversationForToy returns the most recent active conversation
	// for a toy, or ErrNotFound.
	ActiveConversationForToy(ctx context.Context, scope Scope, toyID string) (*types.Conversation, error)

	// ListConversations returns a child's conversations, newest first.
	ListConversations(ctx context.Context, scope Scope, limit int) ([]*types.Conversation, error)
}

// ChildStore provides child profile lookups.
type ChildStore interface {
	// GetChild retrieves a child profile. Returns ErrNotFound if absent.
	GetChild(ctx context.Context, scope Scope) (*types.Child, error)

	// PutChild creates or replaces a child profile.
	PutChild(ctx context.Context, scope Scope, child *types.Child) error
}

// Store is the full backend contract.
type Store interface {
	GraphStore
	ConversationStore
	ChildStore

	// Close releases any resources held by the store.
	Close() error
}
