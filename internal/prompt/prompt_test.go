// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		tmpl     string
		label    string
		abstract string
		want     string
	}{
		{
			name:     "both placeholders",
			tmpl:     "Topic: {TOPIC}\nExample: {ABSTRACT}",
			label:    "Malaria",
			abstract: "Plasmodium falciparum ...",
			want:     "Topic: Malaria\nExample: Plasmodium falciparum ...",
		},
		{
			name:  "repeated placeholder",
			tmpl:  "{TOPIC} and {TOPIC}",
			label: "Dengue",
			want:  "Dengue and Dengue",
		},
		{
			name:  "no escaping",
			tmpl:  "{\"topic\": \"{TOPIC}\"}",
			label: `Say "hi"`,
			want:  `{"topic": "Say "hi""}`,
		},
		{
			name:     "label containing abstract placeholder",
			tmpl:     "{TOPIC}|{ABSTRACT}",
			label:    "{ABSTRACT}",
			abstract: "x",
			want:     "x|x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, tt.label, tt.abstract))
		})
	}
}

func TestDefaultTemplateIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultTemplate))
	out := Render(DefaultTemplate, "Malaria", "seed abstract")
	assert.Contains(t, out, `"Malaria"`)
	assert.Contains(t, out, "seed abstract")
	assert.NotContains(t, out, TopicPlaceholder)
}

func TestLoadTemplate(t *testing.T) {
	got, err := LoadTemplate("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplate, got)

	dir := t.TempDir()
	good := filepath.Join(dir, "prompt.template")
	require.NoError(t, os.WriteFile(good, []byte("{TOPIC}: {ABSTRACT}"), 0o644))
	got, err = LoadTemplate(good)
	require.NoError(t, err)
	assert.Equal(t, "{TOPIC}: {ABSTRACT}", got)

	bad := filepath.Join(dir, "bad.template")
	require.NoError(t, os.WriteFile(bad, []byte("only {TOPIC}"), 0o644))
	_, err = LoadTemplate(bad)
	assert.ErrorIs(t, err, ErrMissingPlaceholder)

	_, err = LoadTemplate(filepath.Join(dir, "missing.template"))
	assert.Error(t, err)
}
