// Package relay implements the conversation loop between a toy and the
// language model: session lifecycle, speech-to-text and text-to-speech,
// personalized reply generation, and the background extraction scheduler that
// turns finished conversations into knowledge graph updates.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// Session end reasons.
const (
	EndReasonExplicit      = "explicit"
	EndReasonInactivity    = "inactivity_timeout"
	EndReasonServerRestart = "server_restart"
)

// Session is the in-memory handle for one active conversation. The session ID
// and the conversation ID are the same value.
type Session struct {
	ConversationID string
	UserID         string
	ChildID        string
	ToyID          string
	StartedAt      time.Time
	LastActivity   time.Time
	MessageCount   int
}

// SessionManager owns the conversation session lifecycle: an in-memory cache
// of active sessions in front of the conversation store, inactivity expiry,
// and staleness detection across server restarts. Sessions persist as
// conversation documents, so a restart loses only the cache, not the
// conversation.
type SessionManager struct {
	store   storage.ConversationStore
	timeout time.Duration
	log     *log.Logger

	// startedAt marks process start; conversations created before it are
	// stale leftovers of a previous process and get ended on first touch.
	startedAt time.Time

	mu     sync.Mutex
	active map[string]*Session // key: userID + "/" + toyID

	now func() time.Time
}

// NewSessionManager builds a session manager with the given inactivity timeout.
func NewSessionManager(store storage.ConversationStore, timeout time.Duration, logger *log.Logger) *SessionManager {
	return &SessionManager{
		store:     store,
		timeout:   timeout,
		log:       logger.With("component", "session"),
		startedAt: time.Now(),
		active:    make(map[string]*Session),
		now:       time.Now,
	}
}

// GetOrCreate returns the active session for the toy, reviving it from the
// store if the cache lost it, or creates a fresh conversation. Expired and
// stale sessions are ended before a new one is created.
func (m *SessionManager) GetOrCreate(ctx context.Context, scope storage.Scope, toyID string) (*Session, error) {
	key := scope.UserID + "/" + toyID

	m.mu.Lock()
	cached := m.active[key]
	m.mu.Unlock()

	if cached != nil {
		idle := m.now().Sub(cached.LastActivity)
		if idle <= m.timeout {
			return cached, nil
		}
		m.log.Info("session expired", "conversation", cached.ConversationID, "idle", idle.Truncate(time.Second))
		if _, err := m.End(ctx, scope, cached.ConversationID, EndReasonInactivity); err != nil {
			m.log.Error("failed to end expired session", "conversation", cached.ConversationID, "error", err)
		}
	}

	conv, err := m.store.ActiveConversationForToy(ctx, scope, toyID)
	switch {
	case err == nil:
		if session, ok := m.reviveConversation(ctx, scope, conv); ok {
			m.mu.Lock()
			m.active[key] = session
			m.mu.Unlock()
			return session, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to look up active conversation: %w", err)
	}

	return m.create(ctx, scope, toyID, key)
}

// reviveConversation validates a stored active conversation. Stale (created
// before this process started) and inactive conversations are ended; a valid
// one becomes a live session.
func (m *SessionManager) reviveConversation(ctx context.Context, scope storage.Scope, conv *types.Conversation) (*Session, bool) {
	if conv.StartedAt.Before(m.startedAt) {
		m.log.Info("ending stale conversation from before restart", "conversation", conv.ID)
		if _, err := m.End(ctx, scope, conv.ID, EndReasonServerRestart); err != nil {
			m.log.Error("failed to end stale conversation", "conversation", conv.ID, "error", err)
		}
		return nil, false
	}

	lastActivity := conv.LastActivity
	if lastActivity.IsZero() {
		lastActivity = conv.StartedAt
	}
	if idle := m.now().Sub(lastActivity); idle > m.timeout {
		m.log.Info("ending inactive conversation", "conversation", conv.ID, "idle", idle.Truncate(time.Second))
		if _, err := m.End(ctx, scope, conv.ID, EndReasonInactivity); err != nil {
			m.log.Error("failed to end inactive conversation", "conversation", conv.ID, "error", err)
		}
		return nil, false
	}

	m.log.Info("revived conversation from store", "conversation", conv.ID)
	return &Session{
		ConversationID: conv.ID,
		UserID:         scope.UserID,
		ChildID:        conv.ChildID,
		ToyID:          conv.ToyID,
		StartedAt:      conv.StartedAt,
		LastActivity:   lastActivity,
		MessageCount:   conv.MessageCount,
	}, true
}

func (m *SessionManager) create(ctx context.Context, scope storage.Scope, toyID, key string) (*Session, error) {
	now := m.now()
	conv := &types.Conversation{
		ID:           fmt.Sprintf("%s_%s_%d", toyID, scope.UserID, now.UnixMilli()),
		ChildID:      scope.ChildID,
		ToyID:        toyID,
		Type:         "conversation",
		Status:       types.ConversationActive,
		StartedAt:    now,
		LastActivity: now,
	}
	if err := m.store.CreateConversation(ctx, scope, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	session := &Session{
		ConversationID: conv.ID,
		UserID:         scope.UserID,
		ChildID:        scope.ChildID,
		ToyID:          toyID,
		StartedAt:      now,
		LastActivity:   now,
	}
	m.mu.Lock()
	m.active[key] = session
	m.mu.Unlock()

	m.log.Info("created conversation", "conversation", conv.ID, "toy", toyID)
	return session, nil
}

// Touch records turn activity on the session. The persistent lastActivityAt
// is maintained by AppendMessages, so only the cache is updated here.
func (m *SessionManager) Touch(session *Session, messages int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session.LastActivity = m.now()
	session.MessageCount += messages
}

// End marks the conversation ended and drops it from the cache. Ending an
// already-ended conversation is a no-op at the store level. The ended
// conversation is returned with its messages for extraction.
func (m *SessionManager) End(ctx context.Context, scope storage.Scope, conversationID, reason string) (*types.Conversation, error) {
	conv, err := m.store.EndConversation(ctx, scope, conversationID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to end conversation %s: %w", conversationID, err)
	}

	m.mu.Lock()
	for key, session := range m.active {
		if session.ConversationID == conversationID {
			delete(m.active, key)
			break
		}
	}
	m.mu.Unlock()

	m.log.Info("ended conversation", "conversation", conversationID, "reason", reason)
	return conv, nil
}

// ActiveCount reports the number of cached live sessions.
func (m *SessionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
