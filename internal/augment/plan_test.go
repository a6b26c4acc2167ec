// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package augment

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/mesh-augment/internal/frequency"
	"github.com/pdiddy/mesh-augment/internal/ledger"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

func rec(pmid string, year int, labels ...string) types.CorpusRecord {
	return types.CorpusRecord{
		PMID:         pmid,
		Title:        "title " + pmid,
		AbstractText: "abstract " + pmid,
		MeshMajor:    labels,
		Year:         year,
	}
}

func fixedNow() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

func TestBuildPlan(t *testing.T) {
	records := []types.CorpusRecord{
		rec("1", 2019, "Humans", "Malaria"),
		rec("2", 2019, "Malaria"),
		rec("3", 2020, "Dengue", "Malaria"),
		rec("4", 2020, "Dengue"),
	}
	deficits := []frequency.Deficit{
		{Label: "Malaria", Count: 3, Missing: 12},
		{Label: "Dengue", Count: 2, Missing: 1},
		{Label: "Zika Virus", Count: 0, Missing: 15},
	}

	plan := BuildPlan(deficits, records, PlanOptions{Now: fixedNow})
	require.Len(t, plan.Requests, 4)
	assert.Equal(t, []string{"Zika Virus"}, plan.Skipped)
	assert.Equal(t, 13, plan.Generations())

	for i, want := range []string{"1", "2", "3"} {
		r := plan.Requests[i]
		assert.Equal(t, "Malaria", r.Label)
		assert.Equal(t, want, r.Seed.PMID)
		assert.Equal(t, 12, r.RequiredCount)
		assert.Equal(t, 3, r.SeedsUsed)
		assert.Equal(t, 4, r.ReplicationFactor)
		assert.Equal(t, 2026, r.Year)
	}

	d := plan.Requests[3]
	assert.Equal(t, "Dengue", d.Label)
	assert.Equal(t, "3", d.Seed.PMID)
	assert.Equal(t, 1, d.SeedsUsed)
	assert.Equal(t, 1, d.ReplicationFactor)
}

func TestBuildPlan_DuplicateTagCountsOnce(t *testing.T) {
	records := []types.CorpusRecord{rec("1", 2019, "Malaria", "Malaria")}
	plan := BuildPlan([]frequency.Deficit{{Label: "Malaria", Count: 2, Missing: 4}}, records, PlanOptions{Now: fixedNow})
	require.Len(t, plan.Requests, 1)
	assert.Equal(t, 4, plan.Requests[0].ReplicationFactor)
}

func TestBuildPlan_TargetYears(t *testing.T) {
	records := []types.CorpusRecord{rec("1", 2019, "A"), rec("2", 2019, "A"), rec("3", 2019, "A")}
	opts := PlanOptions{
		Years: []string{"2016", "2017", "not-a-year"},
		Rand:  rand.New(rand.NewPCG(1, 2)),
	}
	plan := BuildPlan([]frequency.Deficit{{Label: "A", Count: 3, Missing: 12}}, records, opts)
	require.Len(t, plan.Requests, 3)
	for _, r := range plan.Requests {
		assert.Contains(t, []int{2016, 2017}, r.Year)
	}
}

// The seeds times the replication factor always covers the deficit, and
// one fewer replica would not.
func TestReplicationFactorBounds(t *testing.T) {
	for required := 1; required <= 40; required++ {
		for available := 1; available <= 20; available++ {
			used := min(required, available)
			k := ReplicationFactor(required, used)
			assert.GreaterOrEqual(t, used*k, required, fmt.Sprintf("d=%d s=%d", required, available))
			assert.Less(t, used*(k-1), required, fmt.Sprintf("d=%d s=%d", required, available))
		}
	}
}

func TestWithoutCompleted(t *testing.T) {
	records := []types.CorpusRecord{rec("1", 2019, "A"), rec("2", 2019, "A")}
	plan := BuildPlan([]frequency.Deficit{{Label: "A", Count: 2, Missing: 4}}, records, PlanOptions{Now: fixedNow})

	same, dropped := plan.WithoutCompleted(nil)
	assert.Equal(t, plan, same)
	assert.Zero(t, dropped)

	rest, dropped := plan.WithoutCompleted(map[ledger.SeedKey]bool{{Label: "A", Seed: "1"}: true})
	assert.Equal(t, 1, dropped)
	require.Len(t, rest.Requests, 1)
	assert.Equal(t, "2", rest.Requests[0].Seed.PMID)
}

func TestWithoutCompleted_SeedsWithoutPMID(t *testing.T) {
	records := []types.CorpusRecord{rec("", 2019, "A"), rec("", 2019, "A"), rec("", 2019, "A")}
	records[0].AbstractText = "first"
	records[1].AbstractText = "second"
	records[2].AbstractText = "third"
	plan := BuildPlan([]frequency.Deficit{{Label: "A", Count: 3, Missing: 6}}, records, PlanOptions{Now: fixedNow})
	require.Len(t, plan.Requests, 3)

	done := map[ledger.SeedKey]bool{{Label: "A", Seed: records[1].SeedID()}: true}
	rest, dropped := plan.WithoutCompleted(done)
	assert.Equal(t, 1, dropped)
	require.Len(t, rest.Requests, 2)
	assert.Equal(t, "first", rest.Requests[0].Seed.AbstractText)
	assert.Equal(t, "third", rest.Requests[1].Seed.AbstractText)
}
