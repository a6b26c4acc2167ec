// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm provides the chat-completion backends the scheduler calls.
// The model key selects the provider; credentials and endpoints come from
// types.AIConfig.
package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/mesh-augment/internal/httputil"
	"github.com/pdiddy/mesh-augment/internal/schedule"
	"github.com/pdiddy/mesh-augment/internal/secrets"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

var (
	// ErrUnsupportedModel is returned for model keys no backend serves.
	ErrUnsupportedModel = errors.New("unsupported model")
	// ErrMissingAPIKey is returned when the provider needs a key and none is set.
	ErrMissingAPIKey = errors.New("missing API key")
)

const (
	defaultTimeout   = 2 * time.Minute
	defaultMaxTokens = 1024
	// 429 retries at the transport level, below any scheduler retry policy.
	transportRetries = 3
)

// Provider identifies the API family behind a model key.
type Provider int

const (
	OpenAI Provider = iota + 1
	Anthropic
)

func (p Provider) String() string {
	switch p {
	case OpenAI:
		return "openai"
	case Anthropic:
		return "anthropic"
	default:
		return "unknown"
	}
}

// SecretKey is the secrets key holding the provider's credential.
func (p Provider) SecretKey() string {
	if p == Anthropic {
		return secrets.AnthropicKey
	}
	return secrets.OpenAIKey
}

var openAIPrefixes = []string{"gpt-3.5-turbo", "gpt-4", "text-davinci"}

// ProviderFor maps a model key to its provider. Matching ignores case and
// surrounding space.
func ProviderFor(model string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range openAIPrefixes {
		if strings.HasPrefix(key, prefix) {
			return OpenAI, nil
		}
	}
	if strings.HasPrefix(key, "claude-") {
		return Anthropic, nil
	}
	return 0, fmt.Errorf("%w: %q (use gpt-3.5-turbo*, gpt-4*, text-davinci* or claude-*)", ErrUnsupportedModel, model)
}

// New returns the backend serving cfg.Model.
func New(cfg types.AIConfig, logger *zap.Logger) (schedule.Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider, err := ProviderFor(cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for %s: set %s in .secrets/ or the environment", ErrMissingAPIKey, provider, provider.SecretKey())
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	switch provider {
	case Anthropic:
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		return &AnthropicBackend{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			MaxTokens: maxTokens,
			// 429s are retried per request by httputil.DoWithRetry.
			Client: &http.Client{Timeout: timeout},
		}, nil
	default:
		return NewOpenAIBackend(cfg, httputil.NewClient(timeout, transportRetries, logger.Named("http"))), nil
	}
}
