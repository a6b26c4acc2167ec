package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/mesh-augment/internal/augment"
	"github.com/pdiddy/mesh-augment/internal/frequency"
)

var countCmd = &cobra.Command{
	Use:   "count <data.jsonl> <output.jsonl>",
	Short: "Count labels and report the ones below min-examples",
	Long: `Count writes the label frequency report to <output>.count and lists the
labels augment would work on. No LLM is called.`,
	Args:    cobra.MaximumNArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error { return bindFlags(cmd) },
	RunE:    runCount,
}

func init() {
	addCorpusFlags(countCmd)

	rootCmd.AddCommand(countCmd)
}

func runCount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	a, err := augment.Analyze(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%d records, %d labels, report written to %s\n",
		len(a.Records), len(a.Table), frequency.ReportPath(cfg.OutputPath))
	if len(a.Deficits) == 0 {
		fmt.Fprintf(w, "no labels below %d examples\n", cfg.MinExamples)
		return nil
	}
	biggest, smallest := frequency.Extremes(a.Deficits, 5)
	fmt.Fprintf(w, "augmenting a total of %d labels, from [%s] to [%s]\n",
		len(a.Deficits), augment.FormatDeficits(biggest), augment.FormatDeficits(smallest))
	return nil
}
