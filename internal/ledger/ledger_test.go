// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/mesh-augment/internal/frequency"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "out", "augmented.jsonl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() types.AugmentConfig {
	cfg := types.AugmentConfig{
		DataPath:    "corpus.jsonl",
		OutputPath:  "augmented.jsonl",
		MinExamples: 15,
	}
	cfg.Model = "gpt-3.5-turbo"
	return cfg
}

func TestOpenCreatesSchema(t *testing.T) {
	s := testStore(t)

	for _, table := range []string{"runs", "label_counts", "calls"} {
		var n int
		err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "data/aug.jsonl.db", Path("data/aug.jsonl"))
}

func TestRequiresRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	assert.Error(t, s.SaveCounts(ctx, frequency.Table{{Label: "A", Count: 1}}))
	assert.Error(t, s.RecordCall(ctx, types.CallResult{CallID: 1}))
	assert.Error(t, s.QueueCalls(ctx, []types.CallResult{{CallID: 1}}))
	assert.NoError(t, s.FinishRun(ctx, StatusCompleted, 0))
}

func TestSaveCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, testConfig())
	require.NoError(t, err)
	assert.Equal(t, runID, s.RunID())

	table := frequency.NewTable(frequency.Counts{"Humans": 20, "Malaria": 3})
	require.NoError(t, s.SaveCounts(ctx, table))

	got, err := s.Counts(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, frequency.Counts{"Humans": 20, "Malaria": 3}, got)
}

func TestRecordCallConcurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, testConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.RecordCall(ctx, types.CallResult{
				CallID:  i,
				Label:   "Malaria",
				Seed:    fmt.Sprintf("p%d", i%4),
				N:       1,
				State:   "completed_ok",
				Written: 1,
			}))
		}(i)
	}
	wg.Wait()

	calls, err := s.Calls(ctx, runID)
	require.NoError(t, err)
	require.Len(t, calls, 20)
	for i, c := range calls {
		assert.Equal(t, i, c.CallID)
		assert.Empty(t, c.Error)
	}
}

func TestCompletedSeeds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.StartRun(ctx, testConfig())
	require.NoError(t, err)

	results := []types.CallResult{
		{CallID: 0, Label: "Malaria", Seed: "p1", N: 2, State: "completed_ok", Written: 2},
		{CallID: 1, Label: "Malaria", Seed: "p2", N: 2, State: "completed_ok", Written: 1},
		{CallID: 2, Label: "Malaria", Seed: "p2", N: 2, State: "completed_failed", Error: "timeout"},
		{CallID: 3, Label: "Dengue", Seed: "p1", N: 1, State: "completed_failed", Error: "429"},
	}
	for _, r := range results {
		require.NoError(t, s.RecordCall(ctx, r))
	}
	require.NoError(t, s.FinishRun(ctx, StatusCompleted, 3))

	done, err := s.CompletedSeeds(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[SeedKey]bool{{Label: "Malaria", Seed: "p1"}: true}, done)

	// A later run that completes p2 cleanly marks it done.
	_, err = s.StartRun(ctx, testConfig())
	require.NoError(t, err)
	require.NoError(t, s.RecordCall(ctx, types.CallResult{CallID: 0, Label: "Malaria", Seed: "p2", N: 2, State: "completed_ok", Written: 2}))

	done, err = s.CompletedSeeds(ctx)
	require.NoError(t, err)
	assert.True(t, done[SeedKey{Label: "Malaria", Seed: "p2"}])
	assert.False(t, done[SeedKey{Label: "Dengue", Seed: "p1"}])
}

func TestCompletedSeeds_QueuedCallsKeepSeedOpen(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, testConfig())
	require.NoError(t, err)

	var queued []types.CallResult
	for i := 0; i < 4; i++ {
		queued = append(queued, types.CallResult{CallID: i, Label: "Malaria", Seed: "p1", N: 1, State: "queued"})
	}
	queued = append(queued, types.CallResult{CallID: 4, Label: "Malaria", Seed: "p2", N: 1, State: "queued"})
	require.NoError(t, s.QueueCalls(ctx, queued))

	// The run is interrupted after p1's first call and p2's only call.
	require.NoError(t, s.RecordCall(ctx, types.CallResult{CallID: 0, Label: "Malaria", Seed: "p1", N: 1, State: "completed_ok", Written: 1}))
	require.NoError(t, s.RecordCall(ctx, types.CallResult{CallID: 4, Label: "Malaria", Seed: "p2", N: 1, State: "completed_ok", Written: 1}))

	done, err := s.CompletedSeeds(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[SeedKey]bool{{Label: "Malaria", Seed: "p2"}: true}, done)

	calls, err := s.Calls(ctx, runID)
	require.NoError(t, err)
	require.Len(t, calls, 5)
	assert.Equal(t, "completed_ok", calls[0].State)
	for _, c := range calls[1:4] {
		assert.Equal(t, "queued", c.State)
	}
}

func TestFinishRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, testConfig())
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, StatusFailed, 7))

	var status string
	var written int
	var finished *string
	require.NoError(t, s.db.QueryRow(`SELECT status, written, finished_at FROM runs WHERE id = ?`, runID).Scan(&status, &written, &finished))
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, 7, written)
	require.NotNil(t, finished)
}
