package llm

import (
	"context"
	"io"
	"time"

	"github.com/agenthands/geargraph/internal/logger"
)

// LLMClient generates a completion for a single prompt. Collaborators that
// expect JSON back parse the reply with common.ParseJSON.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type loggingClient struct {
	next     LLMClient
	provider string
	log      *logger.Logger
}

// WithLogging records latency and failures of every call.
func WithLogging(c LLMClient, provider string, log *logger.Logger) LLMClient {
	if log == nil {
		return c
	}
	return &loggingClient{next: c, provider: provider, log: log.With("component", "llm", "provider", provider)}
}

func (c *loggingClient) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := c.next.Generate(ctx, prompt)
	if err != nil {
		c.log.Warn("llm call failed", "elapsed", time.Since(start), "error", err)
		return "", err
	}
	c.log.Debug("llm call", "elapsed", time.Since(start), "prompt_chars", len(prompt), "reply_chars", len(out))
	return out, nil
}

func (c *loggingClient) Close() error {
	if closer, ok := c.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
