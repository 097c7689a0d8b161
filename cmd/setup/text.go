// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/jeranaias/phrasepack/internal/config"
	"github.com/jeranaias/phrasepack/internal/provision"
)

// =============================================================================
// TEXT MODE (Copy/Paste Friendly)
// =============================================================================

// runTextSetup drives the orchestrator without a TUI, printing each event as
// a line. Returns the process exit code.
func runTextSetup(cfg *config.Config, orch *provision.Orchestrator) int {
	fmt.Println()
	fmt.Println("================================================================================")
	fmt.Println("                          PHRASEPACK FIRST-RUN SETUP")
	fmt.Println("================================================================================")
	fmt.Println()
	fmt.Printf("Install directory: %s\n\n", cfg.InstallDir)

	if err := orch.Start(); err != nil {
		fmt.Printf("Error starting setup: %v\n", err)
		return 1
	}

	// Ctrl+C requests a cooperative cancel; the terminal result still
	// arrives on the event channel.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nCancelling...")
		orch.Cancel()
	}()

	exitCode := 1
	for ev := range orch.Events() {
		switch ev := ev.(type) {
		case provision.StatusEvent:
			fmt.Printf("--- %s\n", ev.Message)

		case provision.TaskEvent:
			fmt.Printf("  %s %s\n", statusIcon(ev.Status), ev.Label)

		case provision.LogEvent:
			fmt.Printf("      %s\n", ev.Line)

		case provision.ResultEvent:
			fmt.Println()
			if ev.Success {
				fmt.Println("Setup complete! phrasepack is ready to use.")
				fmt.Printf("Runtime: %s\n", ev.Artifact)
				exitCode = 0
			} else {
				fmt.Printf("Setup failed: %s\n", ev.Err)
				fmt.Println("Fix the problem and run phrasepack-setup again.")
			}
		}
	}

	return exitCode
}

// statusIcon maps a task status to its text-mode marker.
func statusIcon(s provision.TaskStatus) string {
	switch s {
	case provision.StatusProcessing:
		return "[..]"
	case provision.StatusNeedsAction:
		return "[->]"
	case provision.StatusCompleted:
		return "[OK]"
	case provision.StatusFailed:
		return "[FAIL]"
	default:
		return "[ ]"
	}
}
