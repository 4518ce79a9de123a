package relay

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/lunalabs/luna-relay/internal/kg/contextbuilder"
	"github.com/lunalabs/luna-relay/internal/llm"
	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// FallbackReply is spoken when reply generation fails for any reason. The toy
// must always say something.
const FallbackReply = "Hi! I'm Luna! Sorry, I had a little hiccup. Can you try again?"

const replyTemperature = 0.7

// ReplyService produces the toy's next line: character prompt plus the
// child's knowledge context as the system message, a bounded window of
// conversation history, and the child's latest utterance.
type ReplyService struct {
	gen           llm.TextGenerator
	contexts      *contextbuilder.Builder
	historyWindow int
	log           *log.Logger
}

// NewReplyService builds a reply service. historyWindow is the number of
// prior messages sent to the model.
func NewReplyService(gen llm.TextGenerator, contexts *contextbuilder.Builder, historyWindow int, logger *log.Logger) *ReplyService {
	return &ReplyService{
		gen:           gen,
		contexts:      contexts,
		historyWindow: historyWindow,
		log:           logger.With("component", "reply"),
	}
}

// Reply generates Luna's answer to userText. history is the conversation so
// far, oldest first, not yet including userText. Errors never propagate: any
// failure returns FallbackReply so the toy stays responsive.
func (s *ReplyService) Reply(ctx context.Context, scope storage.Scope, history []types.Message, userText string) string {
	system := llm.CharacterPrompt + s.contexts.Build(ctx, scope, userText)

	if n := len(history); n > s.historyWindow {
		history = history[n-s.historyWindow:]
	}
	turns := make([]llm.Turn, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Sender == types.SenderToy {
			role = "assistant"
		}
		turns = append(turns, llm.Turn{Role: role, Content: msg.Content})
	}

	reply, err := s.gen.Complete(ctx, llm.CompletionRequest{
		System:      system,
		History:     turns,
		Prompt:      userText,
		Temperature: replyTemperature,
	})
	if err != nil {
		s.log.Error("reply generation failed", "error", err)
		return FallbackReply
	}
	if reply == "" {
		s.log.Warn("model returned empty reply")
		return FallbackReply
	}
	return reply
}
