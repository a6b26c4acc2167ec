// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prompt renders the generation prompt sent to the LLM for one
// (label, seed abstract) pair.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// TopicPlaceholder is replaced with the MeSH label.
	TopicPlaceholder = "{TOPIC}"
	// AbstractPlaceholder is replaced with the seed abstract.
	AbstractPlaceholder = "{ABSTRACT}"
)

// ErrMissingPlaceholder is returned for templates lacking {TOPIC} or {ABSTRACT}.
var ErrMissingPlaceholder = errors.New("prompt template is missing a placeholder")

// DefaultTemplate is used when no template file is configured. It asks for
// a single JSON object with the two fields the response parser requires.
const DefaultTemplate = `You are a biomedical researcher writing abstracts for a MeSH-indexed literature database.

Here is an example abstract of an article indexed with the MeSH heading "{TOPIC}":

{ABSTRACT}

Write a new, original abstract for a different study that would also be indexed with "{TOPIC}".
Do not copy sentences from the example. Vary the study design, population and findings.

Respond with a single JSON object with exactly two fields, "title" and "abstract".
Do not include any text outside the JSON object.`

// Render substitutes label for every {TOPIC} and exampleAbstract for every
// {ABSTRACT}. Replacement is literal: {TOPIC} goes first, so a label that
// itself contains "{ABSTRACT}" is substituted again.
func Render(template, label, exampleAbstract string) string {
	out := strings.ReplaceAll(template, TopicPlaceholder, label)
	return strings.ReplaceAll(out, AbstractPlaceholder, exampleAbstract)
}

// LoadTemplate reads a template file. An empty path returns DefaultTemplate.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return DefaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt template %s: %w", path, err)
	}
	tmpl := string(data)
	if err := Validate(tmpl); err != nil {
		return "", fmt.Errorf("prompt template %s: %w", path, err)
	}
	return tmpl, nil
}

// Validate checks that both placeholders are present.
func Validate(template string) error {
	for _, p := range []string{TopicPlaceholder, AbstractPlaceholder} {
		if !strings.Contains(template, p) {
			return fmt.Errorf("%w: %s", ErrMissingPlaceholder, p)
		}
	}
	return nil
}
