// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package augment

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/pdiddy/mesh-augment/internal/frequency"
	"github.com/pdiddy/mesh-augment/internal/ledger"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

// PlanOptions controls how requests are stamped.
type PlanOptions struct {
	// Years is the include-years set; each request gets a random one of
	// them as its target year. Empty means the current year.
	Years []string
	// Rand picks target years. Nil uses a time-seeded source.
	Rand *rand.Rand
	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// Plan is the ordered list of augmentation requests for one run.
type Plan struct {
	Requests []types.AugmentationRequest `yaml:"requests"`
	// Skipped lists deficit labels with no seed in the corpus.
	Skipped []string `yaml:"skipped,omitempty"`
}

// Generations returns the number of records the plan asks for.
func (p Plan) Generations() int {
	total := 0
	for _, r := range p.Requests {
		total += r.ReplicationFactor
	}
	return total
}

// BuildPlan turns deficits into augmentation requests, one per seed, in
// deficit order. A label with deficit d and s available seeds uses
// min(d, s) seeds, each replicated ceil(d / seeds) times. Seeds are taken
// in corpus order.
func BuildPlan(deficits []frequency.Deficit, records []types.CorpusRecord, opts PlanOptions) Plan {
	index := seedIndex(deficits, records)
	pickYear := yearPicker(opts)

	var plan Plan
	for _, d := range deficits {
		if d.Missing <= 0 {
			continue
		}
		seeds := index[d.Label]
		if len(seeds) == 0 {
			plan.Skipped = append(plan.Skipped, d.Label)
			continue
		}

		used := min(d.Missing, len(seeds))
		factor := ReplicationFactor(d.Missing, used)
		for _, seed := range seeds[:used] {
			plan.Requests = append(plan.Requests, types.AugmentationRequest{
				Label:             d.Label,
				Seed:              seed,
				RequiredCount:     d.Missing,
				SeedsUsed:         used,
				ReplicationFactor: factor,
				Year:              pickYear(),
			})
		}
	}
	return plan
}

// ReplicationFactor is ceil(required / seeds). seeds must be positive.
func ReplicationFactor(required, seeds int) int {
	return (required + seeds - 1) / seeds
}

// WithoutCompleted drops requests whose (label, seed) the ledger already
// records as completed.
func (p Plan) WithoutCompleted(done map[ledger.SeedKey]bool) (Plan, int) {
	if len(done) == 0 {
		return p, 0
	}
	out := Plan{Skipped: p.Skipped}
	dropped := 0
	for _, r := range p.Requests {
		if done[ledger.SeedKey{Label: r.Label, Seed: r.Seed.SeedID()}] {
			dropped++
			continue
		}
		out.Requests = append(out.Requests, r)
	}
	return out, dropped
}

// seedIndex maps each deficit label to its corpus records in order.
func seedIndex(deficits []frequency.Deficit, records []types.CorpusRecord) map[string][]types.CorpusRecord {
	wanted := make(map[string]bool, len(deficits))
	for _, d := range deficits {
		wanted[d.Label] = true
	}
	index := make(map[string][]types.CorpusRecord, len(deficits))
	for _, rec := range records {
		seen := make(map[string]bool, len(rec.MeshMajor))
		for _, l := range rec.MeshMajor {
			if wanted[l] && !seen[l] {
				seen[l] = true
				index[l] = append(index[l], rec)
			}
		}
	}
	return index
}

func yearPicker(opts PlanOptions) func() int {
	var years []int
	for _, y := range opts.Years {
		if n, err := strconv.Atoi(y); err == nil {
			years = append(years, n)
		}
	}
	if len(years) == 0 {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		year := now().Year()
		return func() int { return year }
	}
	r := opts.Rand
	if r == nil {
		seed := uint64(time.Now().UnixNano())
		r = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return func() int { return years[r.IntN(len(years))] }
}
