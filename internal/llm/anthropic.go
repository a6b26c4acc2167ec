// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/mesh-augment/internal/httputil"
	"github.com/pdiddy/mesh-augment/internal/schedule"
)

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// AnthropicBackend calls the Claude Messages API. The API returns one
// completion per call, so the scheduler replicates calls instead of asking
// for n choices.
type AnthropicBackend struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
	Client    *http.Client
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SupportsN implements schedule.Backend.
func (c *AnthropicBackend) SupportsN() bool { return false }

// Generate implements schedule.Backend. It always returns one choice.
// Claude caps temperature at 1, rejects temperature and top_p together and
// takes no presence penalty, so only the capped temperature is sent.
func (c *AnthropicBackend) Generate(ctx context.Context, comp schedule.Completion) ([]string, error) {
	reqBody := claudeRequest{
		Model:     comp.Model,
		MaxTokens: c.MaxTokens,
	}
	if reqBody.MaxTokens <= 0 {
		reqBody.MaxTokens = defaultMaxTokens
	}
	for _, m := range comp.Messages {
		if m.Role == "system" {
			reqBody.System = m.Content
			continue
		}
		reqBody.Messages = append(reqBody.Messages, claudeMessage{Role: m.Role, Content: m.Content})
	}
	temp := min(comp.Temperature, 1)
	reqBody.Temperature = &temp

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := claudeAPIURL
	if c.BaseURL != "" {
		url = strings.TrimSuffix(c.BaseURL, "/") + "/v1/messages"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, transportRetries)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, fmt.Errorf("decoding Claude response: %w", err)
	}

	var text strings.Builder
	for _, block := range cResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("no text content in Claude API response")
	}
	return []string{text.String()}, nil
}
