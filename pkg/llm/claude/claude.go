// Package claude implements llm.Client against the Anthropic Messages API,
// the default provider (§4.10).
package claude

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/oncallops/incident-core/internal/apperrors"
)

// Client wraps the Anthropic SDK's Messages endpoint behind llm.Client.
type Client struct {
	api         anthropic.Client
	model       anthropic.Model
	temperature float64
}

// New constructs a Client. apiKey is an opaque credential handle resolved by
// the caller from the secret store; model falls back to a current Sonnet
// snapshot when empty.
func New(apiKey, model string, temperature float64) *Client {
	if model == "" {
		model = string(anthropic.ModelClaude3_5SonnetLatest)
	}
	return &Client{
		api:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       anthropic.Model(model),
		temperature: temperature,
	}
}

// Generate issues a single Messages.New call and concatenates the returned
// text blocks.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "anthropic messages request failed")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
