// Package llm provides the completion providers the relay depends on: reply
// generation for the toy's voice and strict-JSON knowledge extraction. It
// includes hand-rolled HTTP clients for OpenAI, Gemini, and Grok behind a
// circuit breaker, prompt templates, and a tolerant JSON response parser.
package llm

import (
	"context"
	"errors"
)

// ErrMalformedResponse indicates the provider returned text that could not be
// parsed as the expected JSON. Extraction treats this as a soft failure: the
// run is skipped, never retried.
var ErrMalformedResponse = errors.New("malformed llm response")

// Turn is one prior message in a chat exchange.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// CompletionRequest is a single completion call. Extraction uses Prompt only;
// reply generation adds the character system prompt and a bounded history
// window.
type CompletionRequest struct {
	System      string
	History     []Turn
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// TextGenerator is the interface all completion providers implement.
type TextGenerator interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Model() string
}
