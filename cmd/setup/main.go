// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main provides the phrasepack first-run setup tool: a guided
// experience that provisions the embedded Python runtime, installs
// dependencies, and downloads the language models.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/phrasepack/internal/assets"
	"github.com/jeranaias/phrasepack/internal/config"
	"github.com/jeranaias/phrasepack/internal/history"
	"github.com/jeranaias/phrasepack/internal/provision"
)

const version = "1.0.0"

// minFreeBytes is the free-space threshold below which setup warns before
// starting. Runtime plus models land around 2 GB.
const minFreeBytes = 2 * 1024 * 1024 * 1024

func main() {
	textMode := false
	force := false
	installDir := ""

	for _, arg := range os.Args[1:] {
		switch {
		case arg == "--text" || arg == "-t":
			textMode = true
		case arg == "--force" || arg == "-f":
			force = true
		case strings.HasPrefix(arg, "--install-dir="):
			installDir = strings.TrimPrefix(arg, "--install-dir=")
		case arg == "--help" || arg == "-h":
			printHelp()
			return
		case arg == "--version" || arg == "-v":
			fmt.Printf("phrasepack-setup v%s\n", version)
			return
		default:
			fmt.Printf("unknown option: %s (try --help)\n", arg)
			os.Exit(2)
		}
	}

	locator := assets.NewLocator()
	cfg, err := config.Load(locator)
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if installDir != "" {
		cfg.InstallDir = installDir
	}

	if !force && !provision.NeedsSetup(cfg.InstallDir) {
		fmt.Printf("phrasepack is already set up in %s (use --force to redo)\n", cfg.InstallDir)
		return
	}

	if free, err := getFreeDiskSpace(filepath.Dir(cfg.InstallDir)); err == nil && free < minFreeBytes {
		fmt.Printf("Warning: only %.1f GB free near %s; setup needs about 2 GB\n",
			float64(free)/(1024*1024*1024), cfg.InstallDir)
	}

	orch := provision.NewOrchestrator(cfg, locator, openHistory(cfg))

	if textMode || !isTerminal() {
		os.Exit(runTextSetup(cfg, orch))
	}

	if err := orch.Start(); err != nil {
		fmt.Printf("Error starting setup: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(
		newSetupModel(cfg, orch),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running setup: %v\n", err)
		os.Exit(1)
	}

	if res, ok := orch.Result(); ok && !res.Success {
		fmt.Printf("Setup failed: %s\n", res.Err)
		os.Exit(1)
	}
}

// openHistory opens the run-history store. Best effort: setup proceeds
// without history when the store cannot be opened.
func openHistory(cfg *config.Config) *history.Store {
	if err := os.MkdirAll(cfg.InstallDir, 0755); err != nil {
		return nil
	}
	store, err := history.Open(filepath.Join(cfg.InstallDir, "setup-history.db"))
	if err != nil {
		return nil
	}
	return store
}

// printHelp shows usage information
func printHelp() {
	fmt.Println(`phrasepack-setup v` + version + `

Usage: phrasepack-setup [OPTIONS]

Options:
  --text, -t           Run in text mode (copy/paste friendly)
  --force, -f          Re-run setup even if already provisioned
  --install-dir=PATH   Override the install directory
  --help, -h           Show this help
  --version, -v        Show version

The default mode is an interactive terminal UI. Use --text in
non-interactive environments (CI, logs, screen readers).`)
}

// isTerminal checks if we're running in an interactive terminal
func isTerminal() bool {
	if runtime.GOOS == "windows" {
		return true // Windows terminal detection is complex, assume yes
	}

	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
