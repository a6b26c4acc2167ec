// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package frequency

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/mesh-augment/pkg/types"
)

func syntheticCorpus(n int, seed uint64) []types.CorpusRecord {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	vocab := []string{"Humans", "Malaria", "Dengue", "Neoplasms", "Zika Virus", "Anopheles"}
	records := make([]types.CorpusRecord, n)
	for i := range records {
		k := 1 + rng.IntN(3)
		tags := make([]string, k)
		for j := range tags {
			tags[j] = vocab[rng.IntN(len(vocab))]
		}
		records[i] = types.CorpusRecord{PMID: fmt.Sprint(i), MeshMajor: tags}
	}
	return records
}

func TestCountShard(t *testing.T) {
	records := []types.CorpusRecord{
		{MeshMajor: []string{"Humans", "Malaria"}},
		{MeshMajor: []string{"Humans"}},
		{MeshMajor: nil},
	}
	got := CountShard(records)
	want := Counts{"Humans": 2, "Malaria": 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CountShard mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	records := syntheticCorpus(500, 7)
	direct := CountShard(records)

	for _, n := range []int{1, 2, 3, 7, 64, 500, 1000} {
		t.Run(fmt.Sprintf("shards=%d", n), func(t *testing.T) {
			shards := Partition(records, n)
			counts := make([]Counts, len(shards))
			for i, s := range shards {
				counts[i] = CountShard(s)
			}

			forward := Merge(counts...)
			if diff := cmp.Diff(direct, forward); diff != "" {
				t.Errorf("forward merge mismatch (-direct +merged):\n%s", diff)
			}

			rng := rand.New(rand.NewPCG(uint64(n), 99))
			rng.Shuffle(len(counts), func(i, j int) { counts[i], counts[j] = counts[j], counts[i] })
			shuffled := Merge(counts...)
			if diff := cmp.Diff(direct, shuffled); diff != "" {
				t.Errorf("shuffled merge mismatch (-direct +merged):\n%s", diff)
			}
		})
	}
}

func TestCount_MatchesDirect(t *testing.T) {
	records := syntheticCorpus(1000, 3)
	for _, workers := range []int{0, 1, 4, 16} {
		got, err := Count(context.Background(), records, workers)
		require.NoError(t, err)
		if diff := cmp.Diff(CountShard(records), got); diff != "" {
			t.Errorf("workers=%d mismatch (-direct +sharded):\n%s", workers, diff)
		}
	}
}

func TestCount_Empty(t *testing.T) {
	got, err := Count(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPartition(t *testing.T) {
	records := syntheticCorpus(10, 1)
	shards := Partition(records, 3)
	require.Len(t, shards, 3)
	assert.Len(t, shards[0], 4)
	assert.Len(t, shards[1], 3)
	assert.Len(t, shards[2], 3)

	assert.Len(t, Partition(records, 50), 10)
	assert.Len(t, Partition(records, 0), 1)
	assert.Nil(t, Partition(nil, 4))
}

func TestNewTable_Ordering(t *testing.T) {
	table := NewTable(Counts{"b": 2, "a": 2, "c": 9, "d": 1})
	want := Table{{"c", 9}, {"a", 2}, {"b", 2}, {"d", 1}}
	assert.Equal(t, want, table)
}

func TestDeficits(t *testing.T) {
	table := Table{{"Humans", 40}, {"Neoplasms", 15}, {"Malaria", 3}, {"Zika Virus", 1}}
	got := Deficits(table, 15)
	want := []Deficit{
		{Label: "Malaria", Count: 3, Missing: 12},
		{Label: "Zika Virus", Count: 1, Missing: 14},
	}
	assert.Equal(t, want, got)

	for _, d := range got {
		assert.Less(t, d.Count, 15)
		assert.Equal(t, 15-d.Count, d.Missing)
	}
	assert.Empty(t, Deficits(table, 1))
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl.count")
	table := Table{{"Humans", 40}, {"Malaria \"falciparum\"", 3}, {"Anopheles", 1}}
	require.NoError(t, WriteReport(path, table))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "{\n  \"Humans\": 40,"), text)
	assert.Less(t, strings.Index(text, "Humans"), strings.Index(text, "Anopheles"))

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, map[string]int{"Humans": 40, "Malaria \"falciparum\"": 3, "Anopheles": 1}, decoded)
}

func TestExtremes(t *testing.T) {
	ds := make([]Deficit, 12)
	for i := range ds {
		ds[i] = Deficit{Label: fmt.Sprint(i)}
	}
	big, small := Extremes(ds, 5)
	assert.Equal(t, "0", big[0].Label)
	assert.Equal(t, "11", small[4].Label)

	big, small = Extremes(ds[:3], 5)
	assert.Len(t, big, 3)
	assert.Len(t, small, 3)
}
