// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schedule

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/mesh-augment/internal/parse"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

func testCall() Call {
	return Call{
		ID:               7,
		Label:            "Malaria",
		SeedPMID:         "p1",
		SeedTags:         []string{"Humans", "Plasmodium"},
		SeedAbstract:     "seed",
		RequiredExamples: 12,
		ExistingSeeds:    3,
		Year:             2021,
		Model:            "gpt-4",
		N:                3,
	}
}

func TestHandle_BackendError(t *testing.T) {
	called := false
	cmds := Handle(Outcome{Call: testCall(), Err: errors.New("timeout")}, func() string {
		called = true
		return "x"
	})

	require.Len(t, cmds, 1)
	require.NotNil(t, cmds[0].Log)
	assert.Nil(t, cmds[0].Write)
	assert.Equal(t, BackendFailed, cmds[0].Log.Kind)
	assert.Equal(t, -1, cmds[0].Log.Choice)
	assert.False(t, called)
}

func TestHandle_MixedChoices(t *testing.T) {
	ids := []string{"a", "b"}
	next := func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	out := Outcome{Call: testCall(), Choices: []string{
		`{"title":"One","abstract":"First"}`,
		`not json`,
		`Sure! {"title":"Two","abstract":"Second"}`,
	}}

	cmds := Handle(out, next)
	require.Len(t, cmds, 3)

	require.NotNil(t, cmds[0].Write)
	assert.Equal(t, "a", cmds[0].Write.PMID)
	assert.Equal(t, "One", cmds[0].Write.Title)

	require.NotNil(t, cmds[1].Log)
	assert.Equal(t, ParseFailed, cmds[1].Log.Kind)
	assert.Equal(t, 1, cmds[1].Log.Choice)
	assert.ErrorIs(t, cmds[1].Log.Err, parse.ErrNoJSONObject)

	require.NotNil(t, cmds[2].Write)
	assert.Equal(t, "b", cmds[2].Write.PMID)
	assert.Equal(t, "Second", cmds[2].Write.AbstractText)
}

func TestHandle_IsDeterministic(t *testing.T) {
	out := Outcome{Call: testCall(), Choices: []string{`{"title":"T","abstract":"A"}`, `{}`}}
	fixed := func() string { return "same" }

	first := Handle(out, fixed)
	second := Handle(out, fixed)
	assert.Equal(t, first, second)
}

func TestCallRecord(t *testing.T) {
	c := testCall()
	rec := c.Record(parse.Generation{Title: "T", Abstract: "A"}, "pmid")

	want := types.OutputRecord{
		Journal:          "gpt-4",
		MeshMajor:        []string{"Humans", "Plasmodium", "Malaria"},
		Year:             2021,
		AbstractText:     "A",
		PMID:             "pmid",
		Title:            "T",
		ExistingExample:  "seed",
		RequiredExamples: 12,
		FeaturedTag:      "Malaria",
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("Record() mismatch (-want +got):\n%s", diff)
	}
	// The call's own tag slice is not mutated.
	assert.Equal(t, []string{"Humans", "Plasmodium"}, c.SeedTags)
}

func TestCallRecord_LabelAlreadyPresent(t *testing.T) {
	c := testCall()
	c.SeedTags = []string{"Malaria", "Humans"}
	rec := c.Record(parse.Generation{Title: "T", Abstract: "A"}, "p")
	assert.Equal(t, []string{"Malaria", "Humans"}, rec.MeshMajor)
}

func TestNewPMID(t *testing.T) {
	hex := regexp.MustCompile(`^[0-9a-f]{32}$`)
	a, b := NewPMID(), NewPMID()
	assert.Regexp(t, hex, a)
	assert.Regexp(t, hex, b)
	assert.NotEqual(t, a, b)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "queued", Queued.String())
	assert.Equal(t, "in_flight", InFlight.String())
	assert.Equal(t, "completed_ok", CompletedOK.String())
	assert.Equal(t, "completed_failed", CompletedFailed.String())
	assert.Equal(t, "parse_failed", ParseFailed.String())
}

// --- retry policies ---

func TestNoRetry(t *testing.T) {
	calls := 0
	_, err := NoRetry{}.Do(context.Background(), func(context.Context) ([]string, error) {
		calls++
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff{MaxRetries: 2}.Do(context.Background(), func(context.Context) ([]string, error) {
		calls++
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryWithBackoff{MaxRetries: 5, Base: time.Hour}.Do(ctx, func(context.Context) ([]string, error) {
		calls++
		cancel()
		return nil, errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicyFor(t *testing.T) {
	p, err := PolicyFor(types.GenerationConfig{})
	require.NoError(t, err)
	assert.IsType(t, NoRetry{}, p)

	p, err = PolicyFor(types.GenerationConfig{RetryPolicy: types.RetryBackoff, MaxRetries: 4})
	require.NoError(t, err)
	assert.Equal(t, RetryWithBackoff{MaxRetries: 4}, p)

	_, err = PolicyFor(types.GenerationConfig{RetryPolicy: "forever"})
	assert.Error(t, err)
}
