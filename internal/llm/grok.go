package llm

import "time"

// GrokConfig holds configuration for the Grok client.
type GrokConfig struct {
	APIKey  string
	Model   string        // default: grok-2-latest
	BaseURL string        // default: https://api.x.ai
	Timeout time.Duration // default: 30s
}

// NewGrokClient creates a Grok client. The xAI API is wire-compatible with
// the OpenAI chat completions API, so the client reuses the OpenAI transport
// with a different base URL and its own circuit breaker.
func NewGrokClient(cfg GrokConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "grok-2-latest"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai"
	}
	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	client.breaker = NewCircuitBreaker("grok")
	return client
}
