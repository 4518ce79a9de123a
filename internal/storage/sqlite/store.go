// Package sqlite implements the document store contract on SQLite via
// modernc.org/sqlite (pure Go, no cgo). It is the default backend: a relay
// instance serves a modest fleet and SQLite's single-writer model gives the
// transactional read-modify-write semantics the edge merge requires for free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// Ensure *Store implements the full backend contract at compile time.
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens a SQLite database, configures WAL mode, and creates the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- entities ---

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, scope storage.Scope, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM entities WHERE user_id = ? AND child_id = ? AND id = ?`,
		scope.UserID, scope.ChildID, id)
	return scanDoc[types.Entity](row)
}

// PutEntity creates an entity document.
func (s *Store) PutEntity(ctx context.Context, scope storage.Scope, entity *types.Entity) error {
	doc, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal entity %s: %w", entity.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (user_id, child_id, id, type, name, strength, mention_count, last_mentioned_at, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scope.UserID, scope.ChildID, entity.ID, entity.Type, entity.Name,
		entity.Strength, entity.MentionCount, entity.LastMentionedAt.UTC().Format(time.RFC3339Nano), doc)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("sqlite: failed to insert entity %s: %w", entity.ID, err)
	}
	return nil
}

// MutateEntity applies fn to an entity inside an immediate transaction. The
// single write connection serialises concurrent mutators, so read-modify-write
// inside the transaction cannot lose updates.
func (s *Store) MutateEntity(ctx context.Context, scope storage.Scope, id string, fn storage.EntityMutator) (*types.Entity, error) {
	var result *types.Entity
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT doc FROM entities WHERE user_id = ? AND child_id = ? AND id = ?`,
			scope.UserID, scope.ChildID, id)
		entity, err := scanDoc[types.Entity](row)
		if err != nil {
			return err
		}

		mutated, err := fn(entity)
		if err != nil {
			return err
		}

		doc, err := json.Marshal(mutated)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal entity %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE entities SET type = ?, name = ?, strength = ?, mention_count = ?, last_mentioned_at = ?, doc = ?
			 WHERE user_id = ? AND child_id = ? AND id = ?`,
			mutated.Type, mutated.Name, mutated.Strength, mutated.MentionCount,
			mutated.LastMentionedAt.UTC().Format(time.RFC3339Nano), doc,
			scope.UserID, scope.ChildID, id)
		if err != nil {
			return fmt.Errorf("sqlite: failed to update entity %s: %w", id, err)
		}
		result = mutated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListEntities runs an indexed query over a scope's entities.
func (s *Store) ListEntities(ctx context.Context, scope storage.Scope, q storage.EntityQuery) ([]*types.Entity, error) {
	q.Normalize()

	var (
		where = []string{"user_id = ?", "child_id = ?"}
		args  = []any{scope.UserID, scope.ChildID}
	)
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	} else if len(q.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}

	orderBy, err := entityOrderClause(q.OrderBy)
	if err != nil {
		return nil, err
	}
	args = append(args, q.Limit)

	query := `SELECT doc FROM entities WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + orderBy + ` LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: entity query failed: %w", err)
	}
	defer rows.Close()

	return scanDocs[types.Entity](rows)
}

// --- edges ---

// GetEdge retrieves an edge by ID.
func (s *Store) GetEdge(ctx context.Context, scope storage.Scope, id string) (*types.Edge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM edges WHERE user_id = ? AND child_id = ? AND id = ?`,
		scope.UserID, scope.ChildID, id)
	return scanDoc[types.Edge](row)
}

// PutEdge creates an edge document.
func (s *Store) PutEdge(ctx context.Context, scope storage.Scope, edge *types.Edge) error {
	doc, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal edge %s: %w", edge.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO edges (user_id, child_id, id, edge_type, source_id, target_id, weight, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scope.UserID, scope.ChildID, edge.ID, edge.EdgeType,
		edge.SourceEntityID, edge.TargetEntityID, edge.Weight, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("sqlite: failed to insert edge %s: %w", edge.ID, err)
	}
	return nil
}

// MutateEdge applies fn to an edge inside an immediate transaction. The moving
// average weight update relies on this serialisation.
func (s *Store) MutateEdge(ctx context.Context, scope storage.Scope, id string, fn storage.EdgeMutator) (*types.Edge, error) {
	var result *types.Edge
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT doc FROM edges WHERE user_id = ? AND child_id = ? AND id = ?`,
			scope.UserID, scope.ChildID, id)
		edge, err := scanDoc[types.Edge](row)
		if err != nil {
			return err
		}

		mutated, err := fn(edge)
		if err != nil {
			return err
		}

		doc, err := json.Marshal(mutated)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal edge %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE edges SET edge_type = ?, source_id = ?, target_id = ?, weight = ?, doc = ?
			 WHERE user_id = ? AND child_id = ? AND id = ?`,
			mutated.EdgeType, mutated.SourceEntityID, mutated.TargetEntityID, mutated.Weight, doc,
			scope.UserID, scope.ChildID, id)
		if err != nil {
			return fmt.Errorf("sqlite: failed to update edge %s: %w", id, err)
		}
		result = mutated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListEdges runs an indexed query over a scope's edges. Endpoint and type
// filters use the indexes; EitherID requires a union of the source and target
// indexes, expressed here as an OR the planner splits.
func (s *Store) ListEdges(ctx context.Context, scope storage.Scope, q storage.EdgeQuery) ([]*types.Edge, error) {
	var (
		where = []string{"user_id = ?", "child_id = ?"}
		args  = []any{scope.UserID, scope.ChildID}
	)
	if q.EdgeType != "" {
		where = append(where, "edge_type = ?")
		args = append(args, q.EdgeType)
	} else if len(q.EdgeTypes) > 0 {
		where = append(where, "edge_type IN ("+placeholders(len(q.EdgeTypes))+")")
		for _, t := range q.EdgeTypes {
			args = append(args, t)
		}
	}
	if q.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, q.SourceID)
	}
	if q.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, q.TargetID)
	}
	if q.SourceID == "" && q.TargetID == "" && q.EitherID != "" {
		where = append(where, "(source_id = ? OR target_id = ?)")
		args = append(args, q.EitherID, q.EitherID)
	}
	if q.MinWeight > 0 {
		where = append(where, "weight >= ?")
		args = append(args, q.MinWeight)
	}

	query := `SELECT doc FROM edges WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY weight DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: edge query failed: %w", err)
	}
	defer rows.Close()

	return scanDocs[types.Edge](rows)
}

// --- observations and summary ---

// PutObservation writes an immutable extraction audit record.
func (s *Store) PutObservation(ctx context.Context, scope storage.Scope, obs *types.Observation) error {
	doc, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal observation %s: %w", obs.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO observations (user_id, child_id, id, doc) VALUES (?, ?, ?, ?)`,
		scope.UserID, scope.ChildID, obs.ID, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("sqlite: failed to insert observation %s: %w", obs.ID, err)
	}
	return nil
}

// GetSummary retrieves the per-child aggregate.
func (s *Store) GetSummary(ctx context.Context, scope storage.Scope) (*types.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM summaries WHERE user_id = ? AND child_id = ?`,
		scope.UserID, scope.ChildID)
	return scanDoc[types.Summary](row)
}

// PutSummary overwrites the per-child aggregate.
func (s *Store) PutSummary(ctx context.Context, scope storage.Scope, summary *types.Summary) error {
	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO summaries (user_id, child_id, doc) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, child_id) DO UPDATE SET doc = excluded.doc`,
		scope.UserID, scope.ChildID, doc)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert summary: %w", err)
	}
	return nil
}

// --- conversations ---

// CreateConversation persists a new conversation document.
func (s *Store) CreateConversation(ctx context.Context, scope storage.Scope, conv *types.Conversation) error {
	doc, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal conversation %s: %w", conv.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, child_id, id, toy_id, status, started_at, last_activity, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scope.UserID, scope.ChildID, conv.ID, conv.ToyID, conv.Status,
		conv.StartedAt.UTC().Format(time.RFC3339Nano),
		conv.LastActivity.UTC().Format(time.RFC3339Nano), doc)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("sqlite: failed to insert conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation retrieves a conversation with its messages.
func (s *Store) GetConversation(ctx context.Context, scope storage.Scope, id string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM conversations WHERE user_id = ? AND child_id = ? AND id = ?`,
		scope.UserID, scope.ChildID, id)
	return scanDoc[types.Conversation](row)
}

// AppendMessages atomically appends messages to a conversation.
func (s *Store) AppendMessages(ctx context.Context, scope storage.Scope, id string, msgs ...types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	_, err := s.mutateConversation(ctx, scope, id, func(conv *types.Conversation) (*types.Conversation, error) {
		conv.Messages = append(conv.Messages, msgs...)
		conv.MessageCount = len(conv.Messages)
		conv.LastActivity = msgs[len(msgs)-1].Timestamp
		return conv, nil
	})
	return err
}

// EndConversation marks the conversation ended. Already-ended conversations
// are returned unchanged.
func (s *Store) EndConversation(ctx context.Context, scope storage.Scope, id, reason string) (*types.Conversation, error) {
	return s.mutateConversation(ctx, scope, id, func(conv *types.Conversation) (*types.Conversation, error) {
		if conv.Status == types.ConversationEnded {
			return conv, nil
		}
		conv.Status = types.ConversationEnded
		conv.EndedAt = time.Now().UTC()
		conv.EndReason = reason
		return conv, nil
	})
}

// SetConversationFlag marks or unmarks a conversation for parental review.
func (s *Store) SetConversationFlag(ctx context.Context, scope storage.Scope, id string, flagged bool) error {
	_, err := s.mutateConversation(ctx, scope, id, func(conv *types.Conversation) (*types.Conversation, error) {
		conv.Flagged = flagged
		return conv, nil
	})
	return err
}

// ActiveConversationForToy returns the most recently active conversation for
// a toy, or ErrNotFound.
func (s *Store) ActiveConversationForToy(ctx context.Context, scope storage.Scope, toyID string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM conversations
		 WHERE user_id = ? AND child_id = ? AND toy_id = ? AND status = ?
		 ORDER BY last_activity DESC LIMIT 1`,
		scope.UserID, scope.ChildID, toyID, types.ConversationActive)
	return scanDoc[types.Conversation](row)
}

// ListConversations returns a child's conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, scope storage.Scope, limit int) ([]*types.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM conversations WHERE user_id = ? AND child_id = ?
		 ORDER BY started_at DESC LIMIT ?`,
		scope.UserID, scope.ChildID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: conversation query failed: %w", err)
	}
	defer rows.Close()
	return scanDocs[types.Conversation](rows)
}

func (s *Store) mutateConversation(ctx context.Context, scope storage.Scope, id string, fn func(*types.Conversation) (*types.Conversation, error)) (*types.Conversation, error) {
	var result *types.Conversation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT doc FROM conversations WHERE user_id = ? AND child_id = ? AND id = ?`,
			scope.UserID, scope.ChildID, id)
		conv, err := scanDoc[types.Conversation](row)
		if err != nil {
			return err
		}
		mutated, err := fn(conv)
		if err != nil {
			return err
		}
		doc, err := json.Marshal(mutated)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal conversation %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET toy_id = ?, status = ?, last_activity = ?, doc = ?
			 WHERE user_id = ? AND child_id = ? AND id = ?`,
			mutated.ToyID, mutated.Status,
			mutated.LastActivity.UTC().Format(time.RFC3339Nano), doc,
			scope.UserID, scope.ChildID, id)
		if err != nil {
			return fmt.Errorf("sqlite: failed to update conversation %s: %w", id, err)
		}
		result = mutated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- children ---

// GetChild retrieves a child profile.
func (s *Store) GetChild(ctx context.Context, scope storage.Scope) (*types.Child, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM children WHERE user_id = ? AND child_id = ?`,
		scope.UserID, scope.ChildID)
	return scanDoc[types.Child](row)
}

// PutChild creates or replaces a child profile.
func (s *Store) PutChild(ctx context.Context, scope storage.Scope, child *types.Child) error {
	doc, err := json.Marshal(child)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal child %s: %w", scope.ChildID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO children (user_id, child_id, doc) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, child_id) DO UPDATE SET doc = excluded.doc`,
		scope.UserID, scope.ChildID, doc)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert child %s: %w", scope.ChildID, err)
	}
	return nil
}

// --- helpers ---

// inTx runs fn inside an immediate transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit transaction: %w", err)
	}
	return nil
}

// scanDoc unmarshals a single-row doc column, mapping sql.ErrNoRows to
// storage.ErrNotFound.
func scanDoc[T any](row *sql.Row) (*T, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: scan failed: %w", err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal document: %w", err)
	}
	return &v, nil
}

// scanDocs unmarshals every row's doc column.
func scanDocs[T any](rows *sql.Rows) ([]*T, error) {
	var out []*T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan failed: %w", err)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal document: %w", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration failed: %w", err)
	}
	return out, nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// entityOrderClause maps an EntityQuery order key to a SQL clause over the
// denormalized index columns.
func entityOrderClause(orderBy string) (string, error) {
	switch orderBy {
	case storage.OrderByStrength:
		return "strength DESC", nil
	case storage.OrderByMentionCount:
		return "mention_count DESC", nil
	case storage.OrderByLastMentioned:
		return "last_mentioned_at DESC", nil
	case storage.OrderByName:
		return "name ASC", nil
	default:
		return "", fmt.Errorf("%w: unknown order key %q", storage.ErrInvalidInput, orderBy)
	}
}

// isUniqueViolation reports whether err is a primary-key collision.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
