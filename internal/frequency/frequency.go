// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package frequency counts MeSH label occurrences across the corpus and
// selects the labels that fall below the augmentation threshold.
//
// Counting is sharded: each shard is counted independently and the shard
// counts are summed, so the result does not depend on how the corpus was
// partitioned or the order shards finish in.
package frequency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/mesh-augment/pkg/types"
)

// Counts maps a label to its number of occurrences.
type Counts map[string]int

// LabelCount is one row of a frequency table.
type LabelCount struct {
	Label string `json:"label" yaml:"label"`
	Count int    `json:"count" yaml:"count"`
}

// Table is a frequency table ordered by descending count, then label.
type Table []LabelCount

// Deficit is a label that needs Missing more examples.
type Deficit struct {
	Label   string `json:"label" yaml:"label"`
	Count   int    `json:"count" yaml:"count"`
	Missing int    `json:"missing" yaml:"missing"`
}

// CountShard counts label occurrences in one shard. A label repeated within
// a record counts once per occurrence.
func CountShard(records []types.CorpusRecord) Counts {
	counts := make(Counts)
	for _, rec := range records {
		for _, label := range rec.MeshMajor {
			counts[label]++
		}
	}
	return counts
}

// Merge sums shard counts per label.
func Merge(shards ...Counts) Counts {
	merged := make(Counts)
	for _, shard := range shards {
		for label, n := range shard {
			merged[label] += n
		}
	}
	return merged
}

// Count splits records into up to workers contiguous shards, counts them
// concurrently and merges the result.
func Count(ctx context.Context, records []types.CorpusRecord, workers int) (Counts, error) {
	shards := Partition(records, workers)
	results := make([]Counts, len(shards))

	g, ctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = CountShard(shard)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("counting labels: %w", err)
	}
	return Merge(results...), nil
}

// Partition splits records into at most n contiguous, non-empty shards of
// near-equal size.
func Partition(records []types.CorpusRecord, n int) [][]types.CorpusRecord {
	if n < 1 {
		n = 1
	}
	if n > len(records) {
		n = len(records)
	}
	if n == 0 {
		return nil
	}

	shards := make([][]types.CorpusRecord, 0, n)
	size, rem := len(records)/n, len(records)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		shards = append(shards, records[start:end])
		start = end
	}
	return shards
}

// NewTable orders counts by descending count. Ties sort by label so the
// table is deterministic.
func NewTable(counts Counts) Table {
	table := make(Table, 0, len(counts))
	for label, n := range counts {
		table = append(table, LabelCount{Label: label, Count: n})
	}
	sort.Slice(table, func(i, j int) bool {
		if table[i].Count != table[j].Count {
			return table[i].Count > table[j].Count
		}
		return table[i].Label < table[j].Label
	})
	return table
}

// Deficits returns the labels with fewer than minExamples occurrences, in
// table order.
func Deficits(table Table, minExamples int) []Deficit {
	var out []Deficit
	for _, lc := range table {
		if lc.Count < minExamples {
			out = append(out, Deficit{
				Label:   lc.Label,
				Count:   lc.Count,
				Missing: minExamples - lc.Count,
			})
		}
	}
	return out
}

// MarshalJSON renders the table as a JSON object whose keys keep the table
// order. encoding/json sorts map keys, which would lose the ordering.
func (t Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, lc := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(lc.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", lc.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ReportPath is where the frequency report for outputPath lives.
func ReportPath(outputPath string) string {
	return outputPath + ".count"
}

// WriteReport writes the table as an indented JSON object, label to count,
// in descending-count order.
func WriteReport(path string, table Table) error {
	compact, err := table.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding frequency report: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, compact, "", "  "); err != nil {
		return fmt.Errorf("indenting frequency report: %w", err)
	}
	if err := os.WriteFile(path, pretty.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing frequency report %s: %w", path, err)
	}
	return nil
}

// Extremes returns up to n deficits from each end of the list, for the
// "from biggest to smallest" progress line.
func Extremes(deficits []Deficit, n int) (biggest, smallest []Deficit) {
	if len(deficits) <= n {
		return deficits, deficits
	}
	return deficits[:n], deficits[len(deficits)-n:]
}
