// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schedule

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/pdiddy/mesh-augment/internal/parse"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

// Outcome is the result of one outbound call: the choices the backend
// returned, or the error it reported.
type Outcome struct {
	Call    Call
	Choices []string
	Err     error
}

// EventKind classifies a log event produced by Handle.
type EventKind int

const (
	// BackendFailed means the call itself failed; no choices to parse.
	BackendFailed EventKind = iota
	// ParseFailed means one choice could not be decoded and was dropped.
	ParseFailed
)

func (k EventKind) String() string {
	switch k {
	case BackendFailed:
		return "backend_failed"
	case ParseFailed:
		return "parse_failed"
	default:
		return "unknown"
	}
}

// Event is a recoverable failure to log. Events never stop the run.
type Event struct {
	Kind   EventKind
	Label  string
	Choice int
	Err    error
}

// Command is what the scheduler does with one piece of an Outcome: append
// a record or log an event. Exactly one field is set.
type Command struct {
	Write *types.OutputRecord
	Log   *Event
}

// Handle turns an Outcome into commands. It has no side effects: newID is
// the only source of variation and is called once per successful choice.
func Handle(o Outcome, newID func() string) []Command {
	if o.Err != nil {
		return []Command{{Log: &Event{Kind: BackendFailed, Label: o.Call.Label, Choice: -1, Err: o.Err}}}
	}

	cmds := make([]Command, 0, len(o.Choices))
	for i, raw := range o.Choices {
		gen, err := parse.Parse(raw)
		if err != nil {
			cmds = append(cmds, Command{Log: &Event{Kind: ParseFailed, Label: o.Call.Label, Choice: i, Err: err}})
			continue
		}
		rec := o.Call.Record(gen, newID())
		cmds = append(cmds, Command{Write: &rec})
	}
	return cmds
}

// Record builds the output record for one parsed generation of c.
func (c Call) Record(gen parse.Generation, pmid string) types.OutputRecord {
	tags := slices.Clone(c.SeedTags)
	if !slices.Contains(tags, c.Label) {
		tags = append(tags, c.Label)
	}
	return types.OutputRecord{
		Journal:          c.Model,
		MeshMajor:        tags,
		Year:             c.Year,
		AbstractText:     gen.Abstract,
		PMID:             pmid,
		Title:            gen.Title,
		ExistingExample:  c.SeedAbstract,
		RequiredExamples: c.RequiredExamples,
		FeaturedTag:      c.Label,
	}
}

// NewPMID returns a random 32-character hex identifier for a synthetic record.
func NewPMID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
