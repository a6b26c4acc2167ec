package main

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/mesh-augment/internal/corpus"
	"github.com/pdiddy/mesh-augment/internal/llm"
	"github.com/pdiddy/mesh-augment/internal/secrets"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

// configPrefix namespaces run settings in the config file and environment
// (augment.min_examples, MESH_AUGMENT_AUGMENT_MIN_EXAMPLES).
const configPrefix = "augment."

var errNoPaths = errors.New("provide <data.jsonl> and <output.jsonl> or set augment.data_path and augment.output_path")

// flagKeys maps each run flag to its viper key.
var flagKeys = map[string]string{
	"model":                    "model",
	"base-url":                 "base_url",
	"timeout":                  "timeout",
	"max-tokens":               "max_tokens",
	"min-examples":             "min_examples",
	"concurrent-calls":         "concurrent_calls",
	"few-shot-examples":        "few_shot_examples",
	"temperature":              "temperature",
	"top-p":                    "top_p",
	"presence-penalty":         "presence_penalty",
	"num-replicas-per-request": "num_replicas_per_request",
	"retry-policy":             "retry_policy",
	"max-retries":              "max_retries",
	"workers":                  "workers",
	"train-years":              "train_years",
	"test-years":               "test_years",
	"prompt-template":          "prompt_template",
	"ledger":                   "ledger_path",
	"resume":                   "resume",
}

func init() {
	setDefaults()
}

// setDefaults gives keys whose flags a subcommand does not register a
// usable value.
func setDefaults() {
	viper.SetDefault(configPrefix+"model", types.DefaultModel)
	viper.SetDefault(configPrefix+"min_examples", types.DefaultMinExamples)
	viper.SetDefault(configPrefix+"workers", runtime.NumCPU())
	viper.SetDefault(configPrefix+"concurrent_calls", types.DefaultConcurrentCalls)
	viper.SetDefault(configPrefix+"few_shot_examples", types.DefaultFewShotExamples)
	viper.SetDefault(configPrefix+"temperature", types.DefaultTemperature)
	viper.SetDefault(configPrefix+"top_p", types.DefaultTopP)
	viper.SetDefault(configPrefix+"retry_policy", string(types.RetryNone))
}

// addCorpusFlags registers the flags shared by count, plan and augment.
func addCorpusFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("model", types.DefaultModel, "LLM model key (gpt-3.5-turbo*, gpt-4*, text-davinci*, claude-*)")
	f.Int("min-examples", types.DefaultMinExamples, "labels with fewer examples than this are augmented")
	f.Int("workers", runtime.NumCPU(), "shards for label counting")
	f.String("train-years", "", "comma-separated years to keep (default: all)")
	f.String("test-years", "", "comma-separated years to drop")
}

// addGenerationFlags registers the flags only augment and plan use.
func addGenerationFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("base-url", "", "override the provider endpoint")
	f.Duration("timeout", 0, "per-call timeout (default 2m)")
	f.Int("max-tokens", 0, "completion token cap (default 1024 for claude-*)")
	f.Int("concurrent-calls", types.DefaultConcurrentCalls, "maximum LLM calls in flight")
	f.Int("few-shot-examples", types.DefaultFewShotExamples, "accepted for compatibility; planning uses every seed up to the deficit")
	f.Float64("temperature", types.DefaultTemperature, "sampling temperature [0,2]")
	f.Float64("top-p", types.DefaultTopP, "nucleus sampling [0,1]")
	f.Float64("presence-penalty", 0, "presence penalty [-2,2]")
	f.Int("num-replicas-per-request", 0, "cap on choices per call (0: whole replication factor)")
	f.String("retry-policy", string(types.RetryNone), "failed call policy: none or backoff")
	f.Int("max-retries", 0, "retries for the backoff policy (default 3)")
	f.String("prompt-template", "", "prompt template file with {TOPIC} and {ABSTRACT} (default: built-in)")
	f.String("ledger", "", "SQLite ledger path (default: <output>.db)")
	f.Bool("resume", false, "skip seeds an earlier run already completed")
}

// bindFlags binds every registered run flag of cmd to its viper key. It
// runs in PreRunE so that commands sharing flag names do not overwrite
// each other's bindings.
func bindFlags(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(configPrefix+key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig assembles the run configuration from positional arguments
// (data path, output path), flags, the config file and the environment,
// then validates it. The corpus path is checked before anything is read.
func loadConfig(args []string) (types.AugmentConfig, error) {
	cfg := types.AugmentConfig{
		AIConfig: types.AIConfig{
			Model:     strings.TrimSpace(viper.GetString(configPrefix + "model")),
			APIKey:    viper.GetString(configPrefix + "api_key"),
			BaseURL:   viper.GetString(configPrefix + "base_url"),
			Timeout:   viper.GetDuration(configPrefix + "timeout"),
			MaxTokens: viper.GetInt(configPrefix + "max_tokens"),
		},
		GenerationConfig: types.GenerationConfig{
			ConcurrentCalls:       viper.GetInt(configPrefix + "concurrent_calls"),
			Temperature:           viper.GetFloat64(configPrefix + "temperature"),
			TopP:                  viper.GetFloat64(configPrefix + "top_p"),
			PresencePenalty:       viper.GetFloat64(configPrefix + "presence_penalty"),
			NumReplicasPerRequest: viper.GetInt(configPrefix + "num_replicas_per_request"),
			RetryPolicy:           types.RetryPolicyName(viper.GetString(configPrefix + "retry_policy")),
			MaxRetries:            viper.GetInt(configPrefix + "max_retries"),
		},
		DataPath:        viper.GetString(configPrefix + "data_path"),
		OutputPath:      viper.GetString(configPrefix + "output_path"),
		PromptTemplate:  viper.GetString(configPrefix + "prompt_template"),
		LedgerPath:      viper.GetString(configPrefix + "ledger_path"),
		MinExamples:     viper.GetInt(configPrefix + "min_examples"),
		FewShotExamples: viper.GetInt(configPrefix + "few_shot_examples"),
		Workers:         viper.GetInt(configPrefix + "workers"),
		TrainYears:      years(configPrefix + "train_years"),
		TestYears:       years(configPrefix + "test_years"),
		Resume:          viper.GetBool(configPrefix + "resume"),
	}
	if len(args) > 0 {
		cfg.DataPath = args[0]
	}
	if len(args) > 1 {
		cfg.OutputPath = args[1]
	}
	if cfg.DataPath == "" || cfg.OutputPath == "" {
		return cfg, errNoPaths
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := corpus.CheckPath(cfg.DataPath); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// resolveAPIKey fills cfg.APIKey from secrets when the config leaves it empty.
func resolveAPIKey(cfg *types.AugmentConfig) error {
	provider, err := llm.ProviderFor(cfg.Model)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		cfg.APIKey = secrets.Lookup(loadedSecrets, provider.SecretKey())
	}
	return nil
}

// years reads a year list that may be a comma-separated string (flags,
// environment) or a YAML list (config file).
func years(key string) []string {
	switch v := viper.Get(key).(type) {
	case nil:
		return nil
	case string:
		return corpus.ParseYears(v)
	default:
		var out []string
		for _, y := range viper.GetStringSlice(key) {
			out = append(out, corpus.ParseYears(y)...)
		}
		return out
	}
}
