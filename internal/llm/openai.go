// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pdiddy/mesh-augment/internal/schedule"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

// OpenAIBackend calls the chat completions API. One call can return
// several choices through the n parameter.
type OpenAIBackend struct {
	client    openai.Client
	maxTokens int
}

// NewOpenAIBackend builds a backend on httpClient. The SDK's own retries are
// disabled; httpClient is expected to handle 429 responses.
func NewOpenAIBackend(cfg types.AIConfig, httpClient *http.Client) *OpenAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIBackend{client: openai.NewClient(opts...), maxTokens: cfg.MaxTokens}
}

// SupportsN implements schedule.Backend.
func (o *OpenAIBackend) SupportsN() bool { return true }

// Generate implements schedule.Backend.
func (o *OpenAIBackend) Generate(ctx context.Context, c schedule.Completion) ([]string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.Messages))
	for _, m := range c.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	n := c.N
	if n < 1 {
		n = 1
	}
	params := openai.ChatCompletionNewParams{
		Model:           openai.ChatModel(c.Model),
		Messages:        msgs,
		Temperature:     openai.Float(c.Temperature),
		TopP:            openai.Float(c.TopP),
		PresencePenalty: openai.Float(c.PresencePenalty),
		N:               openai.Int(int64(n)),
	}
	if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("calling OpenAI API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("OpenAI API returned no choices")
	}

	out := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		out = append(out, choice.Message.Content)
	}
	return out, nil
}
