// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"fmt"
	"strings"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError reports an unusable install path. Fatal, no retry.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("install path %q is not usable: %s", e.Path, e.Reason)
}

// ProvisionError reports a failure while provisioning the runtime: a missing
// archive, a failed extraction, or an extracted tree with an unexpected
// layout. The install directory is left as-is for diagnosis.
type ProvisionError struct {
	Op     string
	Detail string
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// BootstrapError reports that the package manager is unusable even after a
// bootstrap attempt. Distinct from ProvisionError: the runtime itself
// unpacked fine, tooling setup failed. Output carries the check command's
// captured output.
type BootstrapError struct {
	Output string
}

func (e *BootstrapError) Error() string {
	msg := "pip is not usable after bootstrap"
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// InstallError reports a non-zero exit from a dependency or model install.
// Stderr is attached verbatim so network or permission problems stay
// diagnosable.
type InstallError struct {
	What   string
	Stderr string
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("installing %s failed", e.What)
	if out := strings.TrimSpace(e.Stderr); out != "" {
		msg += ": " + out
	}
	return msg
}

// LaunchError reports that an executable could not be started at all.
// Distinct from a non-zero exit.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("could not launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ErrCancelled is the message attached to a user-initiated cancellation.
// Cancellation is reported as a failure, never as a silent no-op.
const ErrCancelled = "cancelled by user"
