// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/phrasepack/internal/assets"
	"github.com/jeranaias/phrasepack/internal/config"
	"github.com/jeranaias/phrasepack/internal/history"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is the orchestrator's coarse state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunningEnvironment
	PhaseRunningModels
	PhaseCancelling
	PhaseSucceeded
	PhaseFailed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunningEnvironment:
		return "setting up environment"
	case PhaseRunningModels:
		return "setting up models"
	case PhaseCancelling:
		return "cancelling"
	case PhaseSucceeded:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase is final.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// =============================================================================
// COMPLETION MARKER
// =============================================================================

// MarkerFileName is written to the install directory only after both stages
// succeed. Its presence is the durable signal that provisioning is done; its
// absence on launch re-triggers the whole orchestrator.
const MarkerFileName = ".provisioned"

// NeedsSetup reports whether the install directory lacks a completion
// marker.
func NeedsSetup(installDir string) bool {
	_, err := os.Stat(filepath.Join(installDir, MarkerFileName))
	return err != nil
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// stageWorker is the contract both setup workers satisfy.
type stageWorker interface {
	Run(ctx context.Context) WorkerResult
	Tasks() *TaskList
}

// workerHandle owns one running stage: its cancel function and the channel
// its result arrives on. Held by the orchestrator while the stage runs and
// cleared only after a confirmed (or timed-out) stop, so "worker just
// finished" and "cancel requested" cannot race on a stale reference.
type workerHandle struct {
	cancel context.CancelFunc
	done   chan WorkerResult
}

// Orchestrator sequences environment setup, then model setup, owning each
// worker's lifecycle. Progress, logs, and the terminal result cross to the
// interactive context only through the event channel.
type Orchestrator struct {
	cfg     *config.Config
	locator *assets.Locator
	emitter *Emitter
	hist    *history.Store // optional; nil disables run recording

	mu     sync.Mutex
	phase  Phase
	tasks  *TaskList // active stage's registry, read-only here
	handle *workerHandle
	result *WorkerResult
	runID  string

	cancelCh   chan struct{}
	cancelOnce sync.Once

	// Stage factories; swappable in tests.
	newEnvWorker   func() stageWorker
	newModelWorker func(interpreter string) stageWorker
}

// NewOrchestrator creates an orchestrator. hist may be nil.
func NewOrchestrator(cfg *config.Config, locator *assets.Locator, hist *history.Store) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		locator:  locator,
		emitter:  NewEmitter(256),
		hist:     hist,
		phase:    PhaseIdle,
		cancelCh: make(chan struct{}),
	}
	o.newEnvWorker = func() stageWorker {
		return NewEnvironmentWorker(o.cfg, o.locator, o.emitter)
	}
	o.newModelWorker = func(interpreter string) stageWorker {
		return NewModelWorker(o.cfg, o.emitter, interpreter)
	}
	return o
}

// Events returns the channel the interactive context drains. It is closed
// after the terminal ResultEvent.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Tasks returns a snapshot of the active stage's task registry.
func (o *Orchestrator) Tasks() []Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tasks == nil {
		return nil
	}
	return o.tasks.Snapshot()
}

// Result returns the terminal result once the run has finished.
func (o *Orchestrator) Result() (WorkerResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result == nil {
		return WorkerResult{}, false
	}
	return *o.result, true
}

// Start begins the pipeline on a background goroutine. Only valid from
// Idle; a second start is an error, never a second run.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase != PhaseIdle {
		return fmt.Errorf("setup already started (phase %s)", o.phase)
	}
	o.phase = PhaseRunningEnvironment
	o.runID = uuid.New().String()

	go o.run()
	return nil
}

// Cancel requests a user-initiated stop. Cooperative: the active subprocess
// is asked to terminate and the run transitions to failure within the
// bounded stop wait, regardless of how quickly the external tool reacts.
func (o *Orchestrator) Cancel() {
	o.cancelOnce.Do(func() {
		close(o.cancelCh)
	})
}

// =============================================================================
// PIPELINE
// =============================================================================

// run executes environment setup, then model setup, then writes the
// completion marker.
func (o *Orchestrator) run() {
	o.recordStart()
	o.emitter.Status("Starting first-run setup")

	env := o.newEnvWorker()
	o.setStage(PhaseRunningEnvironment, env.Tasks())
	res, cancelled := o.runStage(env)
	if cancelled {
		o.finish(WorkerResult{Success: false, Err: ErrCancelled})
		return
	}
	if !res.Success {
		o.finish(res)
		return
	}
	interpreter := res.Artifact

	models := o.newModelWorker(interpreter)
	o.setStage(PhaseRunningModels, models.Tasks())
	res, cancelled = o.runStage(models)
	if cancelled {
		o.finish(WorkerResult{Success: false, Err: ErrCancelled})
		return
	}
	if !res.Success {
		o.finish(res)
		return
	}

	if err := o.writeMarker(); err != nil {
		o.finish(WorkerResult{Success: false, Err: "writing completion marker: " + err.Error()})
		return
	}

	o.finish(WorkerResult{Success: true, Artifact: interpreter})
}

// runStage runs one worker on its own goroutine and waits for its result or
// a cancellation. The returned bool is true when the stage was cancelled.
//
// On cancellation the subprocess is asked to terminate via context cancel; a
// worker blocked inside a synchronous call cannot be interrupted mid-call,
// so the wait is bounded by the stop timeout and the handle is discarded
// either way to keep the interactive surface responsive.
func (o *Orchestrator) runStage(w stageWorker) (WorkerResult, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &workerHandle{cancel: cancel, done: make(chan WorkerResult, 1)}

	o.mu.Lock()
	o.handle = h
	o.mu.Unlock()

	go func() {
		h.done <- w.Run(ctx)
	}()

	select {
	case res := <-h.done:
		cancel()
		o.clearHandle()
		return res, false

	case <-o.cancelCh:
		o.setPhase(PhaseCancelling)
		o.emitter.Status("Cancelling setup")
		h.cancel()

		select {
		case <-h.done:
		case <-time.After(o.cfg.StopWait()):
			// Still blocked in the external tool. The buffered done
			// channel lets the goroutine exit later without leaking.
		}
		o.clearHandle()
		o.forceFailTasks(w.Tasks())
		return WorkerResult{}, true
	}
}

// finish records the terminal result and emits the single ResultEvent.
func (o *Orchestrator) finish(res WorkerResult) {
	o.mu.Lock()
	o.result = &res
	if res.Success {
		o.phase = PhaseSucceeded
	} else {
		o.phase = PhaseFailed
	}
	o.mu.Unlock()

	o.recordFinish(res)
	o.emitter.Result(res.Success, res.Err, res.Artifact)
}

// =============================================================================
// STATE HELPERS
// =============================================================================

func (o *Orchestrator) setStage(phase Phase, tasks *TaskList) {
	o.mu.Lock()
	o.phase = phase
	o.tasks = tasks
	o.mu.Unlock()
}

func (o *Orchestrator) setPhase(phase Phase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
}

func (o *Orchestrator) clearHandle() {
	o.mu.Lock()
	o.handle = nil
	o.mu.Unlock()
}

// forceFailTasks is the one place the orchestrator mutates task entries: a
// cross-cutting cancellation must leave no task Pending or Processing.
func (o *Orchestrator) forceFailTasks(tasks *TaskList) {
	tasks.FailRemaining()
	for _, t := range tasks.Snapshot() {
		if t.Status == StatusFailed {
			o.emitter.Task(t)
		}
	}
}

// writeMarker persists the completion marker after both stages succeed.
func (o *Orchestrator) writeMarker() error {
	content := fmt.Sprintf("run_id=%s\ncompleted_at=%s\n", o.runID, time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(o.cfg.InstallDir, MarkerFileName), []byte(content), 0644)
}

// =============================================================================
// RUN HISTORY
// =============================================================================

// recordStart logs the run start. History is best-effort diagnostics and
// never fails a run.
func (o *Orchestrator) recordStart() {
	if o.hist == nil {
		return
	}
	if err := o.hist.Begin(history.Run{ID: o.runID, StartedAt: time.Now().UTC()}); err != nil {
		o.emitter.Log("history: " + err.Error())
	}
}

// recordFinish logs the terminal outcome.
func (o *Orchestrator) recordFinish(res WorkerResult) {
	if o.hist == nil {
		return
	}
	if err := o.hist.Finish(o.runID, res.Success, res.Err, res.Artifact); err != nil {
		// The event channel is about to close; plain log only.
		log.Printf("WARNING: recording setup history: %v", err)
	}
}
