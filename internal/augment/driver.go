// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package augment wires the augmentation pipeline together: corpus load,
// label counting, planning, generation and the run summary.
package augment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/mesh-augment/internal/corpus"
	"github.com/pdiddy/mesh-augment/internal/frequency"
	"github.com/pdiddy/mesh-augment/internal/ledger"
	"github.com/pdiddy/mesh-augment/internal/prompt"
	"github.com/pdiddy/mesh-augment/internal/schedule"
	"github.com/pdiddy/mesh-augment/internal/writer"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

const extremesShown = 5

// Analysis is the corpus view the plan is built from.
type Analysis struct {
	// Records is the corpus after year filters.
	Records  []types.CorpusRecord
	Table    frequency.Table
	Deficits []frequency.Deficit
}

// Summary is written next to the output as <output>.summary.yaml.
type Summary struct {
	RunID      string           `yaml:"run_id,omitempty"`
	Model      string           `yaml:"model"`
	DataPath   string           `yaml:"data_path"`
	OutputPath string           `yaml:"output_path"`
	Status     string           `yaml:"status"`
	Error      string           `yaml:"error,omitempty"`
	StartedAt  time.Time        `yaml:"started_at"`
	FinishedAt time.Time        `yaml:"finished_at"`
	Records    int              `yaml:"records"`
	Labels     int              `yaml:"labels"`
	Deficits   int              `yaml:"deficit_labels"`
	Skipped    []string         `yaml:"skipped_labels,omitempty"`
	Resumed    int              `yaml:"resumed_requests,omitempty"`
	Requests   int              `yaml:"requests"`
	Planned    int              `yaml:"planned_generations"`
	Generation schedule.Summary `yaml:"generation"`
}

// SummaryPath returns the run summary location for an output file.
func SummaryPath(outputPath string) string {
	return outputPath + ".summary.yaml"
}

// Analyze loads the corpus, applies the year filters, counts labels and
// writes the <output>.count report.
func Analyze(ctx context.Context, cfg types.AugmentConfig, logger *zap.Logger) (Analysis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := corpus.CheckPath(cfg.DataPath); err != nil {
		return Analysis{}, err
	}

	records, err := corpus.Load(ctx, cfg.DataPath)
	if err != nil {
		return Analysis{}, fmt.Errorf("loading corpus: %w", err)
	}
	loaded := len(records)
	records = corpus.FilterYears(records, cfg.TrainYears, cfg.TestYears)
	logger.Info("corpus loaded",
		zap.String("path", cfg.DataPath),
		zap.Int("records", loaded),
		zap.Int("after_year_filter", len(records)),
	)

	logger.Info("obtaining count values from the labels", zap.Int("workers", cfg.Workers))
	counts, err := frequency.Count(ctx, records, cfg.Workers)
	if err != nil {
		return Analysis{}, fmt.Errorf("counting labels: %w", err)
	}
	table := frequency.NewTable(counts)

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil {
		return Analysis{}, fmt.Errorf("creating output directory: %w", err)
	}
	reportPath := frequency.ReportPath(cfg.OutputPath)
	if err := frequency.WriteReport(reportPath, table); err != nil {
		return Analysis{}, fmt.Errorf("writing count report: %w", err)
	}

	deficits := frequency.Deficits(table, cfg.MinExamples)
	biggest, smallest := frequency.Extremes(deficits, extremesShown)
	logger.Info("labels to augment",
		zap.Int("labels", len(table)),
		zap.Int("augmenting", len(deficits)),
		zap.Strings("biggest", describe(biggest)),
		zap.Strings("smallest", describe(smallest)),
		zap.String("report", reportPath),
	)

	return Analysis{Records: records, Table: table, Deficits: deficits}, nil
}

// BuildRunPlan runs Analyze and plans requests from its deficits.
func BuildRunPlan(ctx context.Context, cfg types.AugmentConfig, opts PlanOptions, logger *zap.Logger) (Analysis, Plan, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a, err := Analyze(ctx, cfg, logger)
	if err != nil {
		return Analysis{}, Plan{}, err
	}

	logger.Info("collecting existing examples of those labels")
	wanted := make(map[string]bool, len(a.Deficits))
	for _, d := range a.Deficits {
		wanted[d.Label] = true
	}
	seeds := corpus.WithAnyLabel(a.Records, wanted)

	if len(opts.Years) == 0 {
		opts.Years = cfg.TrainYears
	}
	plan := BuildPlan(a.Deficits, seeds, opts)
	for _, label := range plan.Skipped {
		logger.Warn("no seed examples for label, skipping", zap.String("label", label))
	}
	return a, plan, nil
}

// Run executes a full augmentation: analyze, plan, generate into
// cfg.OutputPath and write the run summary. Progress lines go to w.
func Run(ctx context.Context, cfg types.AugmentConfig, backend schedule.Backend, logger *zap.Logger, w io.Writer) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sum := Summary{
		Model:      cfg.Model,
		DataPath:   cfg.DataPath,
		OutputPath: cfg.OutputPath,
		StartedAt:  time.Now().UTC(),
		Status:     ledger.StatusRunning,
	}

	if err := corpus.CheckPath(cfg.DataPath); err != nil {
		return sum, err
	}
	template, err := prompt.LoadTemplate(cfg.PromptTemplate)
	if err != nil {
		return sum, err
	}
	retry, err := schedule.PolicyFor(cfg.GenerationConfig)
	if err != nil {
		return sum, err
	}

	store, err := ledger.Open(LedgerPath(cfg))
	if err != nil {
		return sum, fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()

	// Completed seeds are read before this run adds its own calls.
	var done map[ledger.SeedKey]bool
	if cfg.Resume {
		if done, err = store.CompletedSeeds(ctx); err != nil {
			return sum, err
		}
	}

	if sum.RunID, err = store.StartRun(ctx, cfg); err != nil {
		return sum, fmt.Errorf("starting run: %w", err)
	}
	logger = logger.With(zap.String("run_id", sum.RunID))

	runErr := run(ctx, cfg, backend, store, done, template, retry, logger, w, &sum)

	sum.FinishedAt = time.Now().UTC()
	sum.Status = ledger.StatusCompleted
	if runErr != nil {
		sum.Status = ledger.StatusFailed
		sum.Error = runErr.Error()
	}
	if err := store.FinishRun(context.WithoutCancel(ctx), sum.Status, sum.Generation.Written); err != nil {
		logger.Warn("ledger finish failed", zap.Error(err))
	}
	if err := WriteSummary(SummaryPath(cfg.OutputPath), sum); err != nil {
		logger.Warn("writing run summary failed", zap.Error(err))
	}

	logger.Info("augmentation finished",
		zap.String("status", sum.Status),
		zap.Int("requests", sum.Requests),
		zap.Int("calls", sum.Generation.Calls),
		zap.Int("succeeded", sum.Generation.Succeeded),
		zap.Int("failed", sum.Generation.Failed),
		zap.Int("parse_failures", sum.Generation.ParseFailures),
		zap.Int("written", sum.Generation.Written),
	)
	return sum, runErr
}

func run(ctx context.Context, cfg types.AugmentConfig, backend schedule.Backend, store *ledger.Store,
	done map[ledger.SeedKey]bool, template string, retry schedule.RetryPolicy, logger *zap.Logger, w io.Writer, sum *Summary) error {
	a, plan, err := BuildRunPlan(ctx, cfg, PlanOptions{}, logger)
	if err != nil {
		return err
	}
	sum.Records = len(a.Records)
	sum.Labels = len(a.Table)
	sum.Deficits = len(a.Deficits)
	sum.Skipped = plan.Skipped

	if err := store.SaveCounts(ctx, a.Table); err != nil {
		logger.Warn("ledger counts failed", zap.Error(err))
	}

	plan, sum.Resumed = plan.WithoutCompleted(done)
	if sum.Resumed > 0 {
		logger.Info("resuming, skipping completed seeds", zap.Int("skipped", sum.Resumed))
	}
	sum.Requests = len(plan.Requests)
	sum.Planned = plan.Generations()

	fmt.Fprintf(w, "augmenting %d labels below %d examples: %d requests, %d generations\n",
		len(a.Deficits)-len(plan.Skipped), cfg.MinExamples, sum.Requests, sum.Planned)
	if len(plan.Requests) == 0 {
		return nil
	}

	out, err := writer.Open(cfg.OutputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	sched := schedule.New(backend, out, cfg.Model, cfg.GenerationConfig,
		schedule.WithLogger(logger),
		schedule.WithRetryPolicy(retry),
		schedule.WithLedger(store),
		schedule.WithTemplate(template),
	)
	gen, err := sched.Run(ctx, plan.Requests)
	sum.Generation = gen

	fmt.Fprintf(w, "written %d records to %s (%d calls failed, %d outputs unparseable)\n",
		gen.Written, cfg.OutputPath, gen.Failed, gen.ParseFailures)
	return err
}

// LedgerPath returns cfg.LedgerPath, or the default next to the output.
func LedgerPath(cfg types.AugmentConfig) string {
	if cfg.LedgerPath != "" {
		return cfg.LedgerPath
	}
	return ledger.Path(cfg.OutputPath)
}

// CompletedSeeds reads the seeds an earlier run completed from the ledger
// of cfg without starting a run. A missing ledger means nothing completed.
func CompletedSeeds(ctx context.Context, cfg types.AugmentConfig) (map[ledger.SeedKey]bool, error) {
	path := LedgerPath(cfg)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	store, err := ledger.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()
	return store.CompletedSeeds(ctx)
}

// WriteSummary writes sum as YAML to path.
func WriteSummary(path string, sum Summary) error {
	data, err := yaml.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadSummary reads a run summary written by WriteSummary.
func ReadSummary(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	if err := yaml.Unmarshal(data, &sum); err != nil {
		return Summary{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return sum, nil
}

// IsInterrupted reports whether err came from cancelling the run.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func describe(deficits []frequency.Deficit) []string {
	out := make([]string, len(deficits))
	for i, d := range deficits {
		out[i] = fmt.Sprintf("%s(%d)", d.Label, d.Count)
	}
	return out
}

// FormatDeficits renders deficits as "Label(count)" joined by commas.
func FormatDeficits(deficits []frequency.Deficit) string {
	return strings.Join(describe(deficits), ", ")
}
