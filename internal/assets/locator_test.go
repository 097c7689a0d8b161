// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocateFindsFirstRoot(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	if err := os.WriteFile(filepath.Join(first, "a.txt"), []byte("first"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(second, "a.txt"), []byte("second"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLocatorWithRoots(first, second)

	path, ok := l.Locate("a.txt")
	if !ok {
		t.Fatal("asset present in both roots should be found")
	}
	if filepath.Dir(path) != first {
		t.Errorf("earlier root must win, got %s", path)
	}
}

func TestLocateFallsThroughRoots(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	if err := os.WriteFile(filepath.Join(second, "b.txt"), []byte("only here"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLocatorWithRoots(first, second)

	path, ok := l.Locate("b.txt")
	if !ok || filepath.Dir(path) != second {
		t.Errorf("asset in a later root should be found, got %q ok=%v", path, ok)
	}
}

func TestLocateMissingReportsFalse(t *testing.T) {
	l := NewLocatorWithRoots(t.TempDir(), filepath.Join(t.TempDir(), "never-created"))

	if path, ok := l.Locate("ghost.bin"); ok {
		t.Errorf("missing asset should report false, got %q", path)
	}
}

func TestLocateSkipsDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "runtime.tar.gz"), 0755); err != nil {
		t.Fatal(err)
	}

	l := NewLocatorWithRoots(root)

	if _, ok := l.Locate("runtime.tar.gz"); ok {
		t.Error("a directory must not satisfy a file lookup")
	}
}

func TestRootsReturnsCopy(t *testing.T) {
	l := NewLocatorWithRoots("/a", "/b")

	roots := l.Roots()
	roots[0] = "/mutated"

	if l.Roots()[0] != "/a" {
		t.Error("Roots must return a copy, not the internal slice")
	}
}
