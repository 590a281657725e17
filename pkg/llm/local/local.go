// Package local implements llm.Client against a local/air-gapped model
// server via langchaingo's Ollama binding, selected when LLM_PROVIDER=local
// (§4.10; mirrors the teacher's LocalAI provider knob).
package local

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/oncallops/incident-core/internal/apperrors"
)

// Client wraps a langchaingo Ollama LLM behind llm.Client.
type Client struct {
	llm *ollama.LLM
}

// New constructs a Client against endpoint (e.g. "http://localhost:11434")
// serving model.
func New(endpoint, model string) (*Client, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if endpoint != "" {
		opts = append(opts, ollama.WithServerURL(endpoint))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "construct local LLM client")
	}
	return &Client{llm: llm}, nil
}

// Generate issues a single completion request.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	completion, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithMaxTokens(maxTokens))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "local LLM request failed")
	}
	return completion, nil
}
