// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Tolerant(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Generation
	}{
		{
			name: "fenced with prose",
			raw:  "Sure! ```json\n{\"title\":\"T\",\"abstract\":\"A\"}\n```",
			want: Generation{Title: "T", Abstract: "A"},
		},
		{
			name: "bare object",
			raw:  `{"title": "Vector control", "abstract": "We studied nets."}`,
			want: Generation{Title: "Vector control", Abstract: "We studied nets."},
		},
		{
			name: "trailing punctuation and prose",
			raw:  "Here you go:\n{\"abstract\": \"B\", \"title\": \"T2\"}.\nLet me know if you need more!",
			want: Generation{Title: "T2", Abstract: "B"},
		},
		{
			name: "braces inside strings",
			raw:  `{"title": "Sets {a, b}", "abstract": "Uses } and { in text \"quoted\"."}`,
			want: Generation{Title: "Sets {a, b}", Abstract: "Uses } and { in text \"quoted\"."},
		},
		{
			name: "stray brace in prose before object",
			raw:  "Note: {incomplete thought\n{\"title\":\"T\",\"abstract\":\"A\"}",
			want: Generation{Title: "T", Abstract: "A"},
		},
		{
			name: "capitalised keys and extra fields",
			raw:  `{"Title": "T", "Abstract": "A", "mesh": ["Malaria"]}`,
			want: Generation{Title: "T", Abstract: "A"},
		},
		{
			name: "whitespace trimmed",
			raw:  `{"title": "  T ", "abstract": "\nA\n"}`,
			want: Generation{Title: "T", Abstract: "A"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"missing abstract", `{"title":"T"}`, ErrMissingField},
		{"missing title", "```json\n{\"abstract\":\"A\"}\n```", ErrMissingField},
		{"blank abstract", `{"title":"T","abstract":"  "}`, ErrMissingField},
		{"no json", "I cannot help with that.", ErrNoJSONObject},
		{"unbalanced", `{"title":"T","abstract":"A"`, ErrNoJSONObject},
		{"json array", `[{"title":"T"}]`, ErrMissingField},
		{"non-string field", `{"title":"T","abstract":42}`, ErrInvalidField},
		{"empty", "", ErrNoJSONObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFirstObject(t *testing.T) {
	obj, ok := FirstObject(`prefix {"a": {"b": 1}} {"c": 2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}}`, obj)

	_, ok = FirstObject("{not json}")
	assert.False(t, ok)
}

func TestFirstObject_ManyUnclosedBraces(t *testing.T) {
	raw := strings.Repeat("{", 2000) + `{"title":"T","abstract":"A"}`
	obj, ok := FirstObject(raw)
	require.True(t, ok)
	assert.Equal(t, `{"title":"T","abstract":"A"}`, obj)

	_, ok = FirstObject(strings.Repeat("{ \"", 1000))
	assert.False(t, ok)
}
