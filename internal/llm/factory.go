package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/logger"
)

// NewClient builds the configured provider. It returns nil, nil when no
// provider is set; extraction then accepts only inline candidates and
// ambiguous matches get no advisory suggestion.
func NewClient(ctx context.Context, cfg config.LLMConfig, log *logger.Logger) (LLMClient, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	var c LLMClient
	switch provider {
	case "", "none":
		return nil, nil
	case "openai":
		c = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, maxTokens)
	case "ollama":
		// Ollama serves the OpenAI chat API under /v1
		baseURL := strings.TrimRight(cfg.BaseURL, "/")
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		c = NewOpenAIClient(apiKey, cfg.Model, baseURL, maxTokens)
	case "gemini":
		g, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, maxTokens)
		if err != nil {
			return nil, err
		}
		c = g
	case "claude", "anthropic":
		c = NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL, maxTokens)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
	return WithLogging(c, provider, log), nil
}
