// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CorpusRecord is one line of the MeSH corpus file. Records are immutable
// once loaded and identified by PMID.
type CorpusRecord struct {
	AbstractText string   `json:"abstractText" yaml:"abstract_text"`
	MeshMajor    []string `json:"meshMajor" yaml:"mesh_major"`
	Year         int      `json:"year" yaml:"year"`
	Title        string   `json:"title" yaml:"title"`
	PMID         string   `json:"pmid" yaml:"pmid"`
	Journal      string   `json:"journal" yaml:"journal"`
}

// UnmarshalJSON accepts the year as a number, a numeric string, or null.
// MeSH dumps carry the year as a string; synthetic records carry an int.
func (r *CorpusRecord) UnmarshalJSON(data []byte) error {
	type plain CorpusRecord
	aux := struct {
		*plain
		Year json.RawMessage `json:"year"`
		PMID json.RawMessage `json:"pmid"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	year, err := parseLooseInt(aux.Year)
	if err != nil {
		return fmt.Errorf("year: %w", err)
	}
	r.Year = year

	pmid, err := parseLooseString(aux.PMID)
	if err != nil {
		return fmt.Errorf("pmid: %w", err)
	}
	r.PMID = pmid
	return nil
}

// HasLabel reports whether label is one of the record's MeSH major terms.
func (r CorpusRecord) HasLabel(label string) bool {
	for _, l := range r.MeshMajor {
		if l == label {
			return true
		}
	}
	return false
}

// SeedID identifies the record as a generation seed: its pmid, or a hash of
// the abstract when the record has no pmid.
func (r CorpusRecord) SeedID() string {
	if r.PMID != "" {
		return r.PMID
	}
	sum := sha256.Sum256([]byte(r.AbstractText))
	return "sha256:" + hex.EncodeToString(sum[:12])
}

func parseLooseInt(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func parseLooseString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	// Numeric pmids are kept verbatim.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// OutputRecord is one synthetic example appended to the augmented dataset.
// It has the corpus record shape plus provenance fields.
type OutputRecord struct {
	Journal      string   `json:"journal"`
	MeshMajor    []string `json:"meshMajor"`
	Year         int      `json:"year"`
	AbstractText string   `json:"abstractText"`
	PMID         string   `json:"pmid"`
	Title        string   `json:"title"`

	// ExistingExample is the seed abstract the generation was conditioned on.
	ExistingExample string `json:"existing_example"`

	// RequiredExamples is the label's deficit at planning time.
	RequiredExamples int `json:"required_examples"`

	// FeaturedTag is the label the record was generated for.
	FeaturedTag string `json:"featured_tag"`
}

// AugmentationRequest asks for ReplicationFactor generations of Label using
// one seed example. Requests are built once at planning time and consumed
// exactly once by the scheduler.
type AugmentationRequest struct {
	Label string `json:"label" yaml:"label"`

	// Seed is the existing corpus record used as context.
	Seed CorpusRecord `json:"seed" yaml:"seed"`

	// RequiredCount is the label's global deficit (threshold - count).
	RequiredCount int `json:"required_count" yaml:"required_count"`

	// SeedsUsed is min(RequiredCount, available seeds) for the label.
	SeedsUsed int `json:"seeds_used" yaml:"seeds_used"`

	// ReplicationFactor is ceil(RequiredCount / SeedsUsed).
	ReplicationFactor int `json:"replication_factor" yaml:"replication_factor"`

	// Year is the publication year stamped on the synthetic records.
	Year int `json:"year" yaml:"year"`
}

// CallResult is the state of one outbound call, as kept in the audit
// ledger. Seed is the seed record's SeedID.
type CallResult struct {
	CallID  int    `json:"call_id" yaml:"call_id"`
	Label   string `json:"label" yaml:"label"`
	Seed    string `json:"seed" yaml:"seed"`
	N       int    `json:"n" yaml:"n"`
	State   string `json:"state" yaml:"state"`
	Written int    `json:"written" yaml:"written"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}
