// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files and
// from dotenv files. Each file in the directory represents one secret: the
// filename is the key name and the file contents (trimmed) are the value.
//
// Supported keys: openai-api-key, anthropic-api-key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Key names understood by the LLM backends.
const (
	OpenAIKey    = "openai-api-key"
	AnthropicKey = "anthropic-api-key"
)

// envNames maps a key name to the environment variable that can carry it.
var envNames = map[string]string{
	OpenAIKey:    "OPENAI_API_KEY",
	AnthropicKey: "ANTHROPIC_API_KEY",
}

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// LoadAll reads dir, then fills keys still missing from each dotenv file in
// order. Known environment variable names (OPENAI_API_KEY, ...) are stored
// under their key names; other dotenv entries are ignored. Missing dotenv
// files are skipped.
func LoadAll(dir string, envFiles ...string) (map[string]string, error) {
	secrets, err := Load(dir)
	if err != nil {
		return nil, err
	}

	for _, path := range envFiles {
		env, err := godotenv.Read(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for key, name := range envNames {
			if _, ok := secrets[key]; ok {
				continue
			}
			if v := strings.TrimSpace(env[name]); v != "" {
				secrets[key] = v
			}
		}
	}
	return secrets, nil
}

// Lookup returns the value for key from secrets, falling back to the
// process environment.
func Lookup(secrets map[string]string, key string) string {
	if v := secrets[key]; v != "" {
		return v
	}
	if name, ok := envNames[key]; ok {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ""
}
