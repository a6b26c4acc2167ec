//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Pipeline targets read MESH_DATA (default data/mesh.jsonl) and MESH_OUT
// (default output/augmented.jsonl).
func pipelinePaths() (string, string) {
	data := os.Getenv("MESH_DATA")
	if data == "" {
		data = filepath.Join("data", "mesh.jsonl")
	}
	out := os.Getenv("MESH_OUT")
	if out == "" {
		out = filepath.Join("output", "augmented.jsonl")
	}
	return data, out
}

func runCLI(sub string, extra ...string) error {
	mg.Deps(Build)
	data, out := pipelinePaths()
	args := append([]string{sub, data, out}, extra...)
	bin := filepath.Join(binDir, binName)
	fmt.Printf("[%s] %s -> %s\n", sub, data, out)
	return sh.RunV(bin, args...)
}

// Count writes the label frequency report for MESH_DATA.
func Count() error {
	return runCLI("count")
}

// Plan prints the augmentation requests for MESH_DATA without calling the LLM.
func Plan() error {
	return runCLI("plan")
}

// Augment generates synthetic examples for MESH_DATA into MESH_OUT, resuming
// from the ledger when one exists.
func Augment() error {
	return runCLI("augment", "--resume")
}
