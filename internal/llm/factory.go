package llm

import (
	"fmt"

	"github.com/lunalabs/luna-relay/internal/config"
)

// NewTextGenerator creates the reply-generation provider selected by config.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.Timeout,
		}), nil
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.Timeout,
		}), nil
	case "grok":
		return NewGrokClient(GrokConfig{
			APIKey:  cfg.GrokAPIKey,
			Model:   cfg.GrokModel,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

// NewExtractionGenerator creates the provider used by the knowledge
// extraction pipeline. Extraction always runs against OpenAI with the cheaper
// extraction model regardless of the reply provider, because the extraction
// prompt depends on strict JSON-mode behavior.
func NewExtractionGenerator(cfg config.LLMConfig) TextGenerator {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.ExtractionModel,
		Timeout: cfg.Timeout,
	})
}
