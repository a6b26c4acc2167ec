// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package parse extracts the {title, abstract} pair from raw LLM output.
//
// Models wrap the JSON in prose, markdown fences or trailing punctuation, so
// the parser looks for the first balanced-brace substring that decodes as a
// JSON object and ignores everything around it.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSONObject means no balanced {...} span in the output is valid JSON.
	ErrNoJSONObject = errors.New("no JSON object in model output")
	// ErrMissingField means the object lacks a non-blank title or abstract.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField means title or abstract is not a string.
	ErrInvalidField = errors.New("invalid field type")
)

// Generation is one synthetic example as returned by the model.
type Generation struct {
	Title    string
	Abstract string
}

type generationJSON struct {
	Title    *string `json:"title"`
	Abstract *string `json:"abstract"`
}

// Parse decodes the first JSON object found in raw.
func Parse(raw string) (Generation, error) {
	obj, ok := FirstObject(raw)
	if !ok {
		return Generation{}, ErrNoJSONObject
	}

	var g generationJSON
	if err := json.Unmarshal([]byte(obj), &g); err != nil {
		return Generation{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	if g.Title == nil || strings.TrimSpace(*g.Title) == "" {
		return Generation{}, fmt.Errorf("%w: title", ErrMissingField)
	}
	if g.Abstract == nil || strings.TrimSpace(*g.Abstract) == "" {
		return Generation{}, fmt.Errorf("%w: abstract", ErrMissingField)
	}

	return Generation{
		Title:    strings.TrimSpace(*g.Title),
		Abstract: strings.TrimSpace(*g.Abstract),
	}, nil
}

// FirstObject returns the first substring of s that starts with '{', ends at
// its matching '}' and is a valid JSON object.
//
// Every '{' starts a new scan to the end of s, so input with many unclosed
// braces costs O(n²) in len(s).
func FirstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			candidate := s[start : end+1]
			var probe map[string]json.RawMessage
			if json.Unmarshal([]byte(candidate), &probe) == nil {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return "", false
}

// matchBrace finds the '}' closing the '{' at s[start]. Braces inside JSON
// strings do not count.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
