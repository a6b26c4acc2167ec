// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus reads the line-delimited JSON MeSH corpus and applies the
// year filters used to carve out a training split.
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pdiddy/mesh-augment/pkg/types"
)

// ErrNotJSONL is returned for input paths that are not line-delimited JSON.
var ErrNotJSONL = errors.New("input corpus is not in jsonl format")

// maxLineBytes bounds a single record. Abstracts are long but not this long.
const maxLineBytes = 16 << 20

// CheckPath rejects corpus paths that do not end in "jsonl".
func CheckPath(path string) error {
	if !strings.HasSuffix(path, "jsonl") {
		return fmt.Errorf("%w: %s (expected a .jsonl file, one JSON record per line)", ErrNotJSONL, path)
	}
	return nil
}

// Load reads every record from the corpus file at path.
func Load(ctx context.Context, path string) ([]types.CorpusRecord, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus %s: %w", path, err)
	}
	defer f.Close()

	records, err := Read(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}
	return records, nil
}

// Read decodes one record per non-blank line.
func Read(ctx context.Context, r io.Reader) ([]types.CorpusRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []types.CorpusRecord
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec types.CorpusRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
	}
	return records, nil
}

// ParseYears splits a comma-separated year list. Blank input yields nil.
func ParseYears(s string) []string {
	var years []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			years = append(years, part)
		}
	}
	return years
}

// FilterYears keeps records whose year is in include (when non-empty) and
// not in exclude. Years compare on their decimal string form.
func FilterYears(records []types.CorpusRecord, include, exclude []string) []types.CorpusRecord {
	if len(include) == 0 && len(exclude) == 0 {
		return records
	}
	inc := toSet(include)
	exc := toSet(exclude)

	out := make([]types.CorpusRecord, 0, len(records))
	for _, rec := range records {
		y := strconv.Itoa(rec.Year)
		if len(inc) > 0 && !inc[y] {
			continue
		}
		if exc[y] {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// WithAnyLabel keeps records carrying at least one of labels.
func WithAnyLabel(records []types.CorpusRecord, labels map[string]bool) []types.CorpusRecord {
	var out []types.CorpusRecord
	for _, rec := range records {
		for _, l := range rec.MeshMajor {
			if labels[l] {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
