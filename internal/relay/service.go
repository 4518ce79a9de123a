package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// Service is the top-level conversation orchestrator: it owns the session
// manager, the reply service, the speech clients, and the extraction
// scheduler, and exposes the operations a device gateway calls.
type Service struct {
	store     storage.ConversationStore
	sessions  *SessionManager
	replies   *ReplyService
	stt       Transcriber
	tts       Synthesizer
	scheduler *Scheduler
	log       *log.Logger

	now func() time.Time
}

// NewService wires the conversation orchestrator. stt and tts may be nil when
// the deployment handles speech on the device.
func NewService(store storage.ConversationStore, sessions *SessionManager, replies *ReplyService, stt Transcriber, tts Synthesizer, scheduler *Scheduler, logger *log.Logger) *Service {
	return &Service{
		store:     store,
		sessions:  sessions,
		replies:   replies,
		stt:       stt,
		tts:       tts,
		scheduler: scheduler,
		log:       logger.With("component", "relay"),
		now:       time.Now,
	}
}

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	ConversationID string
	Transcript     string // what the child said (as understood)
	Reply          string // Luna's answer
	Audio          []byte // synthesized reply, nil when TTS is disabled
}

// ProcessText handles one text turn from a toy: resolve the session, generate
// the personalized reply, and persist both messages. Message persistence
// happens even when reply generation fell back, so extraction always sees the
// full exchange.
func (s *Service) ProcessText(ctx context.Context, scope storage.Scope, toyID, text string) (*TurnResult, error) {
	session, err := s.sessions.GetOrCreate(ctx, scope, toyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	conv, err := s.store.GetConversation(ctx, scope, session.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	reply := s.replies.Reply(ctx, scope, conv.Messages, text)

	now := s.now()
	err = s.store.AppendMessages(ctx, scope, session.ConversationID,
		types.Message{Sender: types.SenderChild, Content: text, Timestamp: now},
		types.Message{Sender: types.SenderToy, Content: reply, Timestamp: now},
	)
	if err != nil {
		// The child already heard the reply; losing the transcript is worth a
		// log line, not a failed turn.
		s.log.Error("failed to persist turn", "conversation", session.ConversationID, "error", err)
	} else {
		s.sessions.Touch(session, 2)
	}

	result := &TurnResult{ConversationID: session.ConversationID, Transcript: text, Reply: reply}
	if s.tts != nil {
		audio, err := s.tts.Synthesize(ctx, reply)
		if err != nil {
			s.log.Error("speech synthesis failed", "error", err)
		} else {
			result.Audio = audio
		}
	}
	return result, nil
}

// ProcessAudio transcribes recorded audio and runs the text turn.
func (s *Service) ProcessAudio(ctx context.Context, scope storage.Scope, toyID string, audio []byte, filename string) (*TurnResult, error) {
	if s.stt == nil {
		return nil, fmt.Errorf("speech-to-text is not configured")
	}
	text, err := s.stt.Transcribe(ctx, audio, filename)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	if text == "" {
		return nil, fmt.Errorf("transcription produced no text")
	}
	return s.ProcessText(ctx, scope, toyID, text)
}

// EndConversation ends the conversation and queues knowledge extraction over
// its messages. Extraction is fire-and-forget: a full queue or failed run
// never affects the caller, and the conversation stays ended either way.
func (s *Service) EndConversation(ctx context.Context, scope storage.Scope, conversationID, reason string) error {
	conv, err := s.sessions.End(ctx, scope, conversationID, reason)
	if err != nil {
		return err
	}

	if len(conv.Messages) == 0 {
		s.log.Info("skipping extraction for empty conversation", "conversation", conversationID)
		return nil
	}
	s.scheduler.Enqueue(ExtractionJob{
		Scope:          scope,
		ConversationID: conversationID,
		Messages:       conv.Messages,
	})
	return nil
}

// FlagConversation marks or unmarks a conversation for parental review.
func (s *Service) FlagConversation(ctx context.Context, scope storage.Scope, conversationID string, flagged bool) error {
	if err := s.store.SetConversationFlag(ctx, scope, conversationID, flagged); err != nil {
		return fmt.Errorf("failed to flag conversation %s: %w", conversationID, err)
	}
	return nil
}
