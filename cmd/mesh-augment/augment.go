package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/mesh-augment/internal/augment"
	"github.com/pdiddy/mesh-augment/internal/llm"
)

var augmentCmd = &cobra.Command{
	Use:   "augment <data.jsonl> <output.jsonl>",
	Short: "Generate synthetic examples for labels below min-examples",
	Long: `Augment counts every MeSH major label in the corpus, writes the counts to
<output>.count, and for each label with fewer than min-examples occurrences
sends its existing abstracts to the LLM as seeds. Each seed is replicated
ceil(missing / seeds) times. Parsed generations are appended to the output
file as they arrive; failed calls and unparseable outputs are logged and
skipped. Call outcomes go to the SQLite ledger (<output>.db) and a run
summary to <output>.summary.yaml.`,
	Args:    cobra.MaximumNArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error { return bindFlags(cmd) },
	RunE:    runAugment,
}

func init() {
	addCorpusFlags(augmentCmd)
	addGenerationFlags(augmentCmd)

	rootCmd.AddCommand(augmentCmd)
}

func runAugment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if err := resolveAPIKey(&cfg); err != nil {
		return err
	}

	backend, err := llm.New(cfg.AIConfig, logger.Named("llm"))
	if err != nil {
		return err
	}
	logger.Info("augmenting",
		zap.String("model", cfg.Model),
		zap.String("data_path", cfg.DataPath),
		zap.String("output_path", cfg.OutputPath),
		zap.Int("min_examples", cfg.MinExamples),
		zap.Int("concurrent_calls", cfg.ConcurrentCalls),
	)

	sum, err := augment.Run(cmd.Context(), cfg, backend, logger, cmd.OutOrStdout())
	if err != nil {
		if augment.IsInterrupted(err) {
			return fmt.Errorf("interrupted after writing %d records: %w", sum.Generation.Written, err)
		}
		return err
	}
	if sum.Generation.HasFailures() {
		// Dropped generations are expected; the run still succeeds.
		logger.Warn("some generations were dropped",
			zap.Int("failed_calls", sum.Generation.Failed),
			zap.Int("parse_failures", sum.Generation.ParseFailures),
		)
	}
	return nil
}
