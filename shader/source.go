// Package shader resolves shader source (inline text, a root-relative
// path, or precompiled SPIR-V), preprocesses #pragma once, and walks
// #include directives for the pipeline compiler, per spec §4.6.
package shader

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stage selects the compiler entry point / profile family.
type Stage int

const (
	StageVertex Stage = iota
	StageFragment
	StageCompute
)

// Source is a shader's input: exactly one of Inline, Path, or SpirV
// should be set, matching spec §4.6's three source kinds.
type Source struct {
	Inline string
	Path   string
	SpirV  []byte
}

func (s Source) isSpirV() bool { return s.SpirV != nil }
func (s Source) isPath() bool  { return s.Path != "" }

// Resolve returns the source's text contents, reading from disk when
// Source names a path. Precompiled SPIR-V sources have no text form and
// return an error if Resolve is called on them.
func (s Source) Resolve(roots []string) (string, string, error) {
	if s.isSpirV() {
		return "", "", fmt.Errorf("shader: source is precompiled SPIR-V, nothing to resolve")
	}
	if s.Inline != "" {
		return s.Inline, "<inline>", nil
	}
	full, err := findInRoots(s.Path, roots)
	if err != nil {
		return "", "", err
	}
	text, err := readWithRetry(full)
	if err != nil {
		return "", "", err
	}
	return text, full, nil
}

// findInRoots scans root paths in order for a file matching name,
// returning the first absolute match (spec §4.6 include resolver step 1).
func findInRoots(name string, roots []string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	for _, root := range roots {
		candidate := filepath.Join(root, name)
		if _, err := os.Stat(candidate); err == nil {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", err
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("shader: %q not found in any root path", name)
}
