// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package procutil invokes external executables with a controlled, cleaned
// environment, either waiting synchronously for completion or streaming
// output line-by-line.
package procutil

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// =============================================================================
// INVOCATION RECORD
// =============================================================================

// ExitState classifies how an invocation ended.
type ExitState int

const (
	// StateExited means the process ran to completion and reported an exit
	// code (which may be non-zero).
	StateExited ExitState = iota

	// StateCrashed means the process was terminated abnormally (signal).
	StateCrashed

	// StateLaunchFailed means the executable could not be started at all.
	// Distinct from a non-zero exit.
	StateLaunchFailed
)

// String returns a short name for the exit state.
func (s ExitState) String() string {
	switch s {
	case StateExited:
		return "exited"
	case StateCrashed:
		return "crashed"
	case StateLaunchFailed:
		return "launch failed"
	default:
		return "unknown"
	}
}

// Spec describes one subprocess invocation.
type Spec struct {
	// Path is the executable to run.
	Path string

	// Args are the arguments (not including the executable name).
	Args []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// RuntimeLibDir is the provisioned runtime's library directory. When
	// non-empty and existing, the platform library-path variable in the
	// child environment points exclusively at it.
	RuntimeLibDir string
}

// Result captures exit code, exit-status kind, and output for one
// invocation. Consumed immediately by callers; not retained.
type Result struct {
	ExitCode int
	State    ExitState
	Stdout   string
	Stderr   string

	// Err is set when State is StateLaunchFailed.
	Err error
}

// Success reports a normal exit with code zero.
func (r Result) Success() bool {
	return r.State == StateExited && r.ExitCode == 0
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// =============================================================================
// ENVIRONMENT ISOLATION
// =============================================================================

// libPathVar returns the platform's shared-library path variable, or "" on
// platforms that resolve libraries beside the executable.
func libPathVar() string {
	switch runtime.GOOS {
	case "darwin":
		return "DYLD_LIBRARY_PATH"
	case "windows":
		return ""
	default:
		return "LD_LIBRARY_PATH"
	}
}

// strippedVars are inherited variables that would make the embedded runtime
// resolve modules or libraries against the wrong installation.
var strippedVars = []string{"PYTHONHOME", "PYTHONPATH"}

// BuildEnv constructs the child environment: the host environment with
// runtime-home variables removed and the library path pointing exclusively
// at libDir. If libDir is empty or missing, the library-path variable is
// unset entirely and the child is left to fail with a diagnosable error.
func BuildEnv(libDir string) []string {
	libVar := libPathVar()

	drop := func(key string) bool {
		for _, s := range strippedVars {
			if key == s {
				return true
			}
		}
		return libVar != "" && key == libVar
	}

	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if ok && drop(key) {
			continue
		}
		env = append(env, kv)
	}

	if libVar != "" && libDir != "" {
		if info, err := os.Stat(libDir); err == nil && info.IsDir() {
			env = append(env, libVar+"="+libDir)
		}
	}

	return env
}

// =============================================================================
// SYNCHRONOUS MODE
// =============================================================================

// Run invokes the executable and blocks until it exits, capturing stdout and
// stderr in full. Intended to be called from a worker's own background
// goroutine, never from the interactive context.
func Run(ctx context.Context, spec Spec) Result {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = BuildEnv(spec.RuntimeLibDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{State: StateLaunchFailed, ExitCode: -1, Err: err}
	}

	err := cmd.Wait()
	return finish(err, cmd, stdout.String(), stderr.String())
}

// =============================================================================
// STREAMING MODE
// =============================================================================

// StreamEvent is one unit of streamed output. Events with Done false carry a
// single output line; the final event has Done true and the full Result.
type StreamEvent struct {
	Line   string
	Done   bool
	Result Result
}

// Stream starts a long-running process and delivers merged stdout/stderr
// output line-by-line on the returned channel, followed by exactly one
// terminal event. The channel is closed after the terminal event.
//
// Line ordering between the two pipes is not deterministic; callers must
// treat lines as advisory relative to the exit status.
func Stream(ctx context.Context, spec Spec) <-chan StreamEvent {
	events := make(chan StreamEvent, 64)

	go func() {
		defer close(events)

		cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
		cmd.Dir = spec.Dir
		cmd.Env = BuildEnv(spec.RuntimeLibDir)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			events <- StreamEvent{Done: true, Result: Result{State: StateLaunchFailed, ExitCode: -1, Err: err}}
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			events <- StreamEvent{Done: true, Result: Result{State: StateLaunchFailed, ExitCode: -1, Err: err}}
			return
		}

		if err := cmd.Start(); err != nil {
			events <- StreamEvent{Done: true, Result: Result{State: StateLaunchFailed, ExitCode: -1, Err: err}}
			return
		}

		var tail tailBuffer
		var wg sync.WaitGroup
		wg.Add(2)
		go scanLines(stdout, events, &tail, &wg)
		go scanLines(stderr, events, &tail, &wg)
		wg.Wait()

		err = cmd.Wait()
		res := finish(err, cmd, "", tail.String())
		events <- StreamEvent{Done: true, Result: res}
	}()

	return events
}

// scanLines forwards each line from the pipe as a stream event and records
// it in the shared tail for error reporting. A scan error (e.g. a line
// exceeding the buffer) ends delivery for this pipe; it is recorded in the
// tail so the truncation stays diagnosable in the terminal result.
func scanLines(r io.Reader, events chan<- StreamEvent, tail *tailBuffer, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Add(line)
		events <- StreamEvent{Line: line}
	}
	if err := scanner.Err(); err != nil {
		tail.Add("output truncated: " + err.Error())
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// finish classifies a completed cmd.Wait into a Result.
func finish(err error, cmd *exec.Cmd, stdout, stderr string) Result {
	res := Result{Stdout: stdout, Stderr: stderr}

	state := cmd.ProcessState
	if state == nil {
		res.State = StateLaunchFailed
		res.ExitCode = -1
		res.Err = err
		return res
	}

	res.ExitCode = state.ExitCode()
	if res.ExitCode == -1 {
		// Terminated by a signal (including context cancellation kills).
		res.State = StateCrashed
		return res
	}

	res.State = StateExited
	_ = err // non-zero exits are represented by ExitCode, not an error
	return res
}

// tailBuffer keeps the last few output lines for attaching to errors.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
}

const tailKeep = 20

// Add appends a line, discarding the oldest beyond the keep window.
func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > tailKeep {
		t.lines = t.lines[len(t.lines)-tailKeep:]
	}
}

// String joins the retained lines.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
