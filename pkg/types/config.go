// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RetryPolicyName selects how the scheduler treats a failed outbound call.
type RetryPolicyName string

const (
	// RetryNone drops a failed call; its label simply gets fewer examples.
	RetryNone RetryPolicyName = "none"
	// RetryBackoff retries a failed call with exponential backoff.
	RetryBackoff RetryPolicyName = "backoff"
)

// AIConfig holds settings for the LLM backend.
type AIConfig struct {
	// Model is the model key (e.g. "gpt-3.5-turbo", "gpt-4o", "claude-sonnet-4-5").
	Model string `json:"model" yaml:"model" mapstructure:"model" validate:"required"`

	// APIKey is the credential for the model provider.
	APIKey string `json:"-" yaml:"-" mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible servers).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// Timeout bounds a single outbound call.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// MaxTokens caps each completion (Anthropic requires it; 0 means 1024).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
}

// GenerationConfig holds the sampling and dispatch settings.
type GenerationConfig struct {
	// ConcurrentCalls is the ceiling on in-flight outbound calls.
	ConcurrentCalls int `json:"concurrent_calls" yaml:"concurrent_calls" mapstructure:"concurrent_calls" validate:"gte=1"`

	Temperature     float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	TopP            float64 `json:"top_p" yaml:"top_p" mapstructure:"top_p" validate:"gte=0,lte=1"`
	PresencePenalty float64 `json:"presence_penalty" yaml:"presence_penalty" mapstructure:"presence_penalty" validate:"gte=-2,lte=2"`

	// NumReplicasPerRequest caps the choices asked for in one call. 0 means
	// no cap: a seed's whole replication factor goes into one call.
	NumReplicasPerRequest int `json:"num_replicas_per_request" yaml:"num_replicas_per_request" mapstructure:"num_replicas_per_request" validate:"gte=0"`

	// RetryPolicy is "none" (default) or "backoff".
	RetryPolicy RetryPolicyName `json:"retry_policy" yaml:"retry_policy" mapstructure:"retry_policy" validate:"omitempty,oneof=none backoff"`

	// MaxRetries applies to the backoff policy only.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
}

// AugmentConfig is the full configuration of an augmentation run.
type AugmentConfig struct {
	AIConfig         `yaml:",inline" mapstructure:",squash"`
	GenerationConfig `yaml:",inline" mapstructure:",squash"`

	// DataPath is the input corpus (line-delimited JSON, *.jsonl).
	DataPath string `json:"data_path" yaml:"data_path" mapstructure:"data_path" validate:"required"`

	// OutputPath is the augmented dataset; <OutputPath>.count holds the
	// frequency report.
	OutputPath string `json:"output_path" yaml:"output_path" mapstructure:"output_path" validate:"required"`

	// PromptTemplate is a template file path; empty uses the built-in template.
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template" mapstructure:"prompt_template"`

	// LedgerPath is the SQLite audit ledger; empty means <OutputPath>.db.
	LedgerPath string `json:"ledger_path" yaml:"ledger_path" mapstructure:"ledger_path"`

	// MinExamples is the augmentation threshold.
	MinExamples int `json:"min_examples" yaml:"min_examples" mapstructure:"min_examples" validate:"gte=1"`

	// FewShotExamples is accepted for CLI compatibility; planning uses every
	// available seed up to the deficit.
	FewShotExamples int `json:"few_shot_examples" yaml:"few_shot_examples" mapstructure:"few_shot_examples" validate:"gte=0"`

	// Workers is the number of shards for label counting.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers" validate:"gte=1"`

	// TrainYears restricts the corpus to these years (string compare).
	TrainYears []string `json:"train_years,omitempty" yaml:"train_years,omitempty" mapstructure:"train_years"`

	// TestYears removes these years from the corpus.
	TestYears []string `json:"test_years,omitempty" yaml:"test_years,omitempty" mapstructure:"test_years"`

	// Resume skips seeds whose calls the ledger already records as completed.
	Resume bool `json:"resume" yaml:"resume" mapstructure:"resume"`
}

// Default values for an augmentation run.
const (
	DefaultModel           = "gpt-3.5-turbo"
	DefaultMinExamples     = 15
	DefaultConcurrentCalls = 5
	DefaultFewShotExamples = 5
	DefaultTemperature     = 1.5
	DefaultTopP            = 1.0
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and required paths. All violations are
// reported in one error.
func (c AugmentConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", e.Field(), e.Param(), e.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s, got %v", e.Field(), e.Tag(), e.Param(), e.Value()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
