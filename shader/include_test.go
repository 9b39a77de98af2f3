package shader

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIncludeResolverSecondRequestReturnsBlob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "common.hlsl")
	if err := os.WriteFile(path, []byte("struct Common {};\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewIncludeResolver([]string{dir})
	first, err := r.Resolve("common.hlsl")
	if err != nil {
		t.Fatal(err)
	}
	if first == " " {
		t.Fatalf("first resolve should return file contents, got blob")
	}

	second, err := r.Resolve("common.hlsl")
	if err != nil {
		t.Fatal(err)
	}
	if second != " " {
		t.Fatalf("second resolve of an already-seen file should return a one-byte whitespace blob, got %q", second)
	}
}

func TestIncludeResolverMissingFileErrors(t *testing.T) {
	r := NewIncludeResolver([]string{t.TempDir()})
	if _, err := r.Resolve("missing.hlsl"); err == nil {
		t.Fatal("expected error resolving a nonexistent include")
	}
}

func TestIncludeResolverRecordsObservation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.hlsl")
	if err := os.WriteFile(path, []byte("int x;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewIncludeResolver([]string{dir})
	if _, err := r.Resolve("a.hlsl"); err != nil {
		t.Fatal(err)
	}
	obs := r.Observations()
	if len(obs) != 1 {
		t.Fatalf("expected exactly one observation, got %d", len(obs))
	}
}

func TestIncludeCycleResolvesOnce(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.hlsl")
	b := filepath.Join(dir, "b.hlsl")
	if err := os.WriteFile(a, []byte("#pragma once\n#include \"b.hlsl\"\nstruct A {};\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("#pragma once\n#include \"a.hlsl\"\nstruct B {};\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewIncludeResolver([]string{dir})
	aText, err := r.Resolve("a.hlsl")
	if err != nil {
		t.Fatal(err)
	}
	bText, err := r.Resolve("b.hlsl")
	if err != nil {
		t.Fatal(err)
	}
	aAgain, err := r.Resolve("a.hlsl")
	if err != nil {
		t.Fatal(err)
	}
	if aAgain != " " {
		t.Fatalf("revisiting a.hlsl mid-cycle should return the whitespace blob, got %q", aAgain)
	}
	if aText == "" || bText == "" {
		t.Fatal("first visits of each file must return real contents")
	}
}
