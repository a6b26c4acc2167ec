package main

import (
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/mesh-augment/internal/augment"
)

var planCmd = &cobra.Command{
	Use:   "plan <data.jsonl> <output.jsonl>",
	Short: "Print the augmentation requests without calling the LLM",
	Long: `Plan runs the same counting and planning as augment and prints one entry
per seed: the label, the seed pmid, the label's deficit, how many seeds the
label uses and how many generations each seed gets. With --resume, seeds the
ledger records as completed are left out, as augment --resume would.`,
	Args:    cobra.MaximumNArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error { return bindFlags(cmd) },
	RunE:    runPlan,
}

func init() {
	addCorpusFlags(planCmd)
	addGenerationFlags(planCmd)

	rootCmd.AddCommand(planCmd)
}

// planEntry is the printed form of one request; the seed record itself is
// reduced to its pmid.
type planEntry struct {
	Label             string `yaml:"label"`
	SeedPMID          string `yaml:"seed_pmid"`
	RequiredCount     int    `yaml:"required_count"`
	SeedsUsed         int    `yaml:"seeds_used"`
	ReplicationFactor int    `yaml:"replication_factor"`
	Year              int    `yaml:"year"`
}

type planOutput struct {
	Requests    int         `yaml:"requests"`
	Generations int         `yaml:"generations"`
	Resumed     int         `yaml:"resumed_requests,omitempty"`
	Skipped     []string    `yaml:"skipped_labels,omitempty"`
	Plan        []planEntry `yaml:"plan"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	_, plan, err := augment.BuildRunPlan(cmd.Context(), cfg, augment.PlanOptions{}, logger)
	if err != nil {
		return err
	}

	resumed := 0
	if cfg.Resume {
		done, err := augment.CompletedSeeds(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		plan, resumed = plan.WithoutCompleted(done)
	}

	out := planOutput{
		Resumed:     resumed,
		Requests:    len(plan.Requests),
		Generations: plan.Generations(),
		Skipped:     plan.Skipped,
	}
	for _, r := range plan.Requests {
		out.Plan = append(out.Plan, planEntry{
			Label:             r.Label,
			SeedPMID:          r.Seed.PMID,
			RequiredCount:     r.RequiredCount,
			SeedsUsed:         r.SeedsUsed,
			ReplicationFactor: r.ReplicationFactor,
			Year:              r.Year,
		})
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
