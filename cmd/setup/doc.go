// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package main provides phrasepack-setup, the guided first-run setup tool for
phrasepack.

# Overview

On first launch phrasepack needs an isolated Python runtime with the
noun-phrase-extraction dependencies and two language models (the spaCy
pipeline and the Benepar constituency parser). This tool provisions all of
it: it extracts the architecture-specific runtime archive, bootstraps pip if
the runtime ships without one, installs build tooling and the dependency
manifest, then runs the model setup command and tracks its progress.

# Command Line Options

	--text, -t           Run in text mode (copy/paste friendly, no TUI)
	--force, -f          Re-run setup even if already provisioned
	--install-dir=PATH   Override the install directory
	--help, -h           Show help information
	--version, -v        Show version number

# Files Created

	~/.phrasepack/
	    .provisioned       # Completion marker; presence means setup is done
	    runtime/           # Extracted Python runtime
	    setup-history.db   # Record of setup runs for diagnostics

# Architecture

main.go parses flags and wires the orchestrator; ui.go renders orchestrator
events with Bubble Tea; text.go prints the same events line-by-line. All
setup logic lives in internal/provision — the front-end only renders events
and forwards a cancel request.

# Dependencies

  - github.com/charmbracelet/bubbletea - TUI framework
  - github.com/charmbracelet/bubbles - TUI components (spinner, progress)
  - github.com/charmbracelet/lipgloss - Terminal styling
*/
package main
