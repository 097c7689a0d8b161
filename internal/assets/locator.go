// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assets resolves named installer assets (runtime archives,
// requirement manifests, configuration) to absolute paths across "running
// from source" and "running as packaged bundle" modes.
package assets

import (
	"os"
	"path/filepath"
)

// Locator resolves asset names against an ordered list of search roots.
// Pure lookup; no state beyond the roots.
type Locator struct {
	roots []string
}

// NewLocator creates a locator that searches, in order, the asset directory
// next to the running executable (packaged bundle) and the development-tree
// asset directory under the current working directory.
func NewLocator() *Locator {
	var roots []string

	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Join(filepath.Dir(exe), "assets"))
	}
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, filepath.Join(wd, "assets"))
	}

	return &Locator{roots: roots}
}

// NewLocatorWithRoots creates a locator over explicit search roots. Used by
// tests and by callers that ship assets in a non-standard location.
func NewLocatorWithRoots(roots ...string) *Locator {
	return &Locator{roots: roots}
}

// Locate returns the absolute path of the first existing file with the given
// name, trying each root in order. The second return is false when no root
// contains the asset; Locate never returns an error so callers can produce a
// descriptive provisioning failure instead.
func (l *Locator) Locate(name string) (string, bool) {
	for _, root := range l.roots {
		candidate := filepath.Join(root, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		return abs, true
	}
	return "", false
}

// Roots returns the search roots in probe order.
func (l *Locator) Roots() []string {
	out := make([]string, len(l.roots))
	copy(out, l.roots)
	return out
}
