// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/jeranaias/phrasepack/internal/assets"
	"github.com/jeranaias/phrasepack/internal/config"
	"github.com/jeranaias/phrasepack/internal/procutil"
)

// =============================================================================
// WORKER RESULT
// =============================================================================

// WorkerResult is the terminal outcome of one worker run. Artifact is the
// provisioned interpreter path; it is empty unless Success is true — a
// caller must never receive a runtime path alongside a failure.
type WorkerResult struct {
	Success  bool
	Err      string
	Artifact string
}

// =============================================================================
// ENVIRONMENT SETUP WORKER
// =============================================================================

// Environment task identifiers.
const (
	TaskValidatePath    = "validate_path"
	TaskSetupRuntime    = "setup_runtime"
	TaskInstallPackages = "install_packages"
)

// EnvironmentTasks returns the ordered environment-stage task definitions.
func EnvironmentTasks() []Task {
	return []Task{
		{ID: TaskValidatePath, Label: "Validating install location"},
		{ID: TaskSetupRuntime, Label: "Setting up the Python runtime"},
		{ID: TaskInstallPackages, Label: "Installing dependencies"},
	}
}

// runFunc matches procutil.Run; swappable in tests.
type runFunc func(ctx context.Context, spec procutil.Spec) procutil.Result

// fetchFunc downloads a URL to a local file; swappable in tests.
type fetchFunc func(ctx context.Context, url, dest string) error

// EnvironmentWorker provisions the isolated runtime: extracts the
// architecture-specific archive, locates the interpreter, bootstraps pip,
// and installs build tooling plus the dependency manifest.
//
// The worker blocks its own goroutine for the full duration of each
// synchronous subprocess call; it must never run on the interactive context.
// Created per stage, run exactly once, then discarded.
type EnvironmentWorker struct {
	cfg     *config.Config
	locator *assets.Locator
	emitter *Emitter
	tasks   *TaskList

	run   runFunc
	fetch fetchFunc
}

// NewEnvironmentWorker creates a worker for one environment-setup run.
func NewEnvironmentWorker(cfg *config.Config, locator *assets.Locator, emitter *Emitter) *EnvironmentWorker {
	return &EnvironmentWorker{
		cfg:     cfg,
		locator: locator,
		emitter: emitter,
		tasks:   NewTaskList(EnvironmentTasks()...),
		run:     procutil.Run,
		fetch:   fetchURL,
	}
}

// Tasks exposes the worker's task registry for progress display. Read-only
// for everyone but the worker itself.
func (w *EnvironmentWorker) Tasks() *TaskList {
	return w.tasks
}

// Run executes the three environment tasks in order and returns the terminal
// result. On any error the active and all not-yet-completed tasks are marked
// Failed and the artifact is empty.
func (w *EnvironmentWorker) Run(ctx context.Context) WorkerResult {
	interpreter, err := w.provision(ctx)
	if err != nil {
		w.failRemaining()
		return WorkerResult{Success: false, Err: err.Error()}
	}
	return WorkerResult{Success: true, Artifact: interpreter}
}

// provision runs the ordered tasks, returning the interpreter path.
func (w *EnvironmentWorker) provision(ctx context.Context) (string, error) {
	w.startActive()
	if err := w.validatePath(); err != nil {
		return "", err
	}
	w.completeActive()

	w.startActive()
	interpreter, err := w.setupRuntime(ctx)
	if err != nil {
		return "", err
	}
	w.completeActive()

	w.startActive()
	if err := w.installPackages(ctx, interpreter); err != nil {
		return "", err
	}
	w.completeActive()

	return interpreter, nil
}

// =============================================================================
// TASK 1: VALIDATE PATH
// =============================================================================

// validatePath confirms the target install path is usable.
func (w *EnvironmentWorker) validatePath() error {
	dir := w.cfg.InstallDir
	if dir == "" {
		return &ValidationError{Path: dir, Reason: "no install directory configured"}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &ValidationError{Path: dir, Reason: err.Error()}
	}

	// Probe writability; a read-only mount passes MkdirAll when the
	// directory already exists.
	probe := filepath.Join(dir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return &ValidationError{Path: dir, Reason: "directory is not writable: " + err.Error()}
	}
	os.Remove(probe)

	w.emitter.Log("install directory ready: " + dir)
	return nil
}

// =============================================================================
// TASK 2: SETUP RUNTIME
// =============================================================================

// setupRuntime extracts the host-architecture runtime archive, locates the
// interpreter inside it, and makes sure pip works.
func (w *EnvironmentWorker) setupRuntime(ctx context.Context) (string, error) {
	archiveName, ok := w.cfg.ArchiveName()
	if !ok {
		return "", &ProvisionError{
			Op:     "selecting runtime archive",
			Detail: fmt.Sprintf("no packaged runtime for %s/%s", runtime.GOOS, runtime.GOARCH),
		}
	}

	archivePath, ok := w.locator.Locate(archiveName)
	if !ok {
		return "", &ProvisionError{
			Op:     "locating runtime archive",
			Detail: fmt.Sprintf("asset %q not found (searched %v)", archiveName, w.locator.Roots()),
		}
	}

	extractDir := w.cfg.ExtractPath()
	w.emitter.Status("Extracting the Python runtime")
	w.emitter.Log("extracting " + archiveName + " to " + extractDir)

	// A partial previous extraction must not leak stale files into this one.
	if err := os.RemoveAll(extractDir); err != nil {
		return "", &ProvisionError{Op: "clearing previous runtime", Detail: err.Error()}
	}
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return "", &ProvisionError{Op: "creating extraction directory", Detail: err.Error()}
	}
	if err := extractArchive(archivePath, extractDir); err != nil {
		return "", &ProvisionError{Op: "extracting runtime archive", Detail: err.Error()}
	}

	interpreter, err := w.locateInterpreter(extractDir)
	if err != nil {
		return "", err
	}
	w.emitter.Log("runtime interpreter: " + interpreter)

	if err := w.ensurePip(ctx, interpreter); err != nil {
		return "", err
	}

	return interpreter, nil
}

// locateInterpreter checks the configured relative paths inside the
// extracted tree; the first existing executable file wins.
func (w *EnvironmentWorker) locateInterpreter(extractDir string) (string, error) {
	for _, rel := range w.cfg.Runtime.InterpreterCandidates {
		candidate := filepath.Join(extractDir, rel)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", &ProvisionError{
		Op:     "locating runtime executable",
		Detail: fmt.Sprintf("archive extracted but no interpreter found under %s in any known layout", extractDir),
	}
}

// ensurePip verifies pip, bootstrapping it with get-pip.py when missing.
// A passing check makes the bootstrap a no-op.
func (w *EnvironmentWorker) ensurePip(ctx context.Context, interpreter string) error {
	check := w.pipCheck(ctx, interpreter)
	if check.State == procutil.StateLaunchFailed {
		return &LaunchError{Path: interpreter, Err: check.Err}
	}
	if check.Success() {
		w.emitter.Log("pip present: " + firstLine(check.Stdout))
		return nil
	}

	w.emitter.Status("Bootstrapping pip")
	w.emitter.Log("pip missing, downloading bootstrap script")

	script, err := os.CreateTemp("", "get-pip-*.py")
	if err != nil {
		return &ProvisionError{Op: "creating bootstrap temp file", Detail: err.Error()}
	}
	scriptPath := script.Name()
	script.Close()
	defer os.Remove(scriptPath)

	if err := w.fetch(ctx, w.cfg.Bootstrap.URL, scriptPath); err != nil {
		return &ProvisionError{Op: "downloading bootstrap script", Detail: err.Error()}
	}

	boot := w.run(ctx, procutil.Spec{
		Path:          interpreter,
		Args:          []string{scriptPath},
		RuntimeLibDir: w.cfg.RuntimeLibPath(),
	})
	if boot.State == procutil.StateLaunchFailed {
		return &LaunchError{Path: interpreter, Err: boot.Err}
	}

	recheck := w.pipCheck(ctx, interpreter)
	if !recheck.Success() {
		return &BootstrapError{Output: recheck.Combined()}
	}
	w.emitter.Log("pip bootstrapped: " + firstLine(recheck.Stdout))
	return nil
}

// pipCheck runs the pip version probe.
func (w *EnvironmentWorker) pipCheck(ctx context.Context, interpreter string) procutil.Result {
	return w.run(ctx, procutil.Spec{
		Path:          interpreter,
		Args:          []string{"-m", "pip", "--version"},
		RuntimeLibDir: w.cfg.RuntimeLibPath(),
	})
}

// =============================================================================
// TASK 3: INSTALL PACKAGES
// =============================================================================

// installPackages installs baseline build tooling, then everything in the
// dependency manifest. Failures surface the captured stderr verbatim; there
// is no retry — transient network failures go to the user, who restarts the
// stage with diagnostics in hand.
func (w *EnvironmentWorker) installPackages(ctx context.Context, interpreter string) error {
	w.emitter.Status("Installing build tooling")
	args := append([]string{"-m", "pip", "install"}, w.cfg.Packages.BuildTools...)
	res := w.run(ctx, procutil.Spec{
		Path:          interpreter,
		Args:          args,
		RuntimeLibDir: w.cfg.RuntimeLibPath(),
	})
	if res.State == procutil.StateLaunchFailed {
		return &LaunchError{Path: interpreter, Err: res.Err}
	}
	if !res.Success() {
		return &InstallError{What: "build tooling", Stderr: res.Stderr}
	}

	manifest, ok := w.locator.Locate(w.cfg.Packages.Manifest)
	if !ok {
		return &ProvisionError{
			Op:     "locating dependency manifest",
			Detail: fmt.Sprintf("asset %q not found", w.cfg.Packages.Manifest),
		}
	}

	w.emitter.Status("Installing dependencies")
	w.emitter.Log("installing from " + manifest)
	res = w.run(ctx, procutil.Spec{
		Path:          interpreter,
		Args:          []string{"-m", "pip", "install", "-r", manifest},
		RuntimeLibDir: w.cfg.RuntimeLibPath(),
	})
	if res.State == procutil.StateLaunchFailed {
		return &LaunchError{Path: interpreter, Err: res.Err}
	}
	if !res.Success() {
		return &InstallError{What: "dependency manifest", Stderr: res.Stderr}
	}

	return nil
}

// =============================================================================
// TASK BOOKKEEPING
// =============================================================================

// startActive marks the active task Processing and reports it.
func (w *EnvironmentWorker) startActive() {
	if w.tasks.SetActiveStatus(StatusProcessing) {
		if t, ok := w.tasks.Active(); ok {
			w.emitter.Task(t)
			w.emitter.Status(t.Label)
		}
	}
}

// completeActive marks the active task Completed, reports it, and advances.
func (w *EnvironmentWorker) completeActive() {
	if t, ok := w.tasks.Active(); ok {
		w.tasks.SetActiveStatus(StatusCompleted)
		t.Status = StatusCompleted
		w.emitter.Task(t)
	}
	w.tasks.Advance()
}

// failRemaining cascades Failed from the active task onward and reports
// every change, so no task is left Pending or Processing after a terminal
// failure.
func (w *EnvironmentWorker) failRemaining() {
	w.tasks.FailRemaining()
	for _, t := range w.tasks.Snapshot() {
		if t.Status == StatusFailed {
			w.emitter.Task(t)
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// fetchURL downloads url to dest over HTTP.
func fetchURL(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// firstLine trims output to its first line for compact status logs.
func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return s[:i]
		}
	}
	return s
}
