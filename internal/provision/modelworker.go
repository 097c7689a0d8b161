// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jeranaias/phrasepack/internal/config"
	"github.com/jeranaias/phrasepack/internal/procutil"
)

// =============================================================================
// MODEL TASKS
// =============================================================================

// Model task identifiers: check/install for the spaCy pipeline and the
// Benepar parser.
const (
	TaskCheckSpacy     = "check_spacy"
	TaskInstallSpacy   = "install_spacy"
	TaskCheckBenepar   = "check_benepar"
	TaskInstallBenepar = "install_benepar"
)

// ModelTasks returns the ordered model-stage task definitions.
func ModelTasks() []Task {
	return []Task{
		{ID: TaskCheckSpacy, Label: "Checking spaCy model"},
		{ID: TaskInstallSpacy, Label: "Installing spaCy model"},
		{ID: TaskCheckBenepar, Label: "Checking Benepar model"},
		{ID: TaskInstallBenepar, Label: "Installing Benepar model"},
	}
}

// isInstallTask distinguishes install tasks from their paired checks.
func isInstallTask(id string) bool {
	return id == TaskInstallSpacy || id == TaskInstallBenepar
}

// =============================================================================
// LOG CLASSIFIER
// =============================================================================

// Line heuristics. The model setup tool is an external, independently
// evolving command whose exact wording is not a stable contract; these
// patterns degrade gracefully and the exit code has the final word.
var (
	errorLineRe    = regexp.MustCompile(`(?i)\b(error|failed|failure|exception|traceback)\b`)
	allDoneLineRe  = regexp.MustCompile(`(?i)setup completed successfully`)
	presentLineRe  = regexp.MustCompile(`(?i)(already\s+(present|installed|downloaded|available)|up[\s-]to[\s-]date)`)
	missingLineRe  = regexp.MustCompile(`(?i)(not\s+(found|installed|present)|\bmissing\b|needs?\s+(to\s+be\s+)?download)`)
	finishedLineRe = regexp.MustCompile(`(?i)(successfully\s+installed|installed\s+successfully|download\s+complete|installation\s+complete)`)
	activityLineRe = regexp.MustCompile(`(?i)(downloading|download\s+started|fetching|collecting|installing)`)
)

// Classifier is the log-driven state machine for the model tasks. Observe is
// a pure state transition over the task list — no I/O — so canned log
// fixtures can drive it in tests.
//
// Once a fatal error line is recorded, later lines no longer change task
// state (they are still logged by the worker, just not classified).
type Classifier struct {
	tasks    *TaskList
	errLine  string
	finished bool
	onChange func(Task)
}

// NewClassifier creates a classifier over the given registry.
func NewClassifier(tasks *TaskList) *Classifier {
	return &Classifier{tasks: tasks}
}

// OnChange registers a callback invoked for every task status change.
func (c *Classifier) OnChange(fn func(Task)) {
	c.onChange = fn
}

// ErrLine returns the first fatal log line seen, or "".
func (c *Classifier) ErrLine() string {
	return c.errLine
}

// Finished reports whether a final success line was observed.
func (c *Classifier) Finished() bool {
	return c.finished
}

// Observe classifies one output line and applies the resulting transition.
func (c *Classifier) Observe(line string) {
	if c.finished || c.errLine != "" {
		return
	}

	if errorLineRe.MatchString(line) {
		c.errLine = line
		c.failRemaining()
		return
	}

	if allDoneLineRe.MatchString(line) {
		c.finished = true
		c.completeRemaining()
		return
	}

	active, ok := c.tasks.Active()
	if !ok {
		return
	}

	if !isInstallTask(active.ID) {
		c.observeCheck(active, line)
		return
	}
	c.observeInstall(active, line)
}

// observeCheck handles lines while a check task is active.
func (c *Classifier) observeCheck(active Task, line string) {
	switch {
	case presentLineRe.MatchString(line):
		// Model already on disk: the paired install is skipped-complete.
		c.set(active.ID, StatusCompleted)
		c.tasks.Advance()
		if inst, ok := c.tasks.Active(); ok && isInstallTask(inst.ID) {
			c.set(inst.ID, StatusCompleted)
			c.tasks.Advance()
		}

	case missingLineRe.MatchString(line):
		// Known missing; installation has not started yet.
		c.set(active.ID, StatusCompleted)
		c.tasks.Advance()
		if inst, ok := c.tasks.Active(); ok && isInstallTask(inst.ID) {
			c.set(inst.ID, StatusNeedsAction)
		}
	}
}

// observeInstall handles lines while an install task is active.
func (c *Classifier) observeInstall(active Task, line string) {
	switch {
	case finishedLineRe.MatchString(line):
		c.set(active.ID, StatusCompleted)
		c.tasks.Advance()

	case activityLineRe.MatchString(line):
		// NeedsAction (or Pending, if the check line was missed) becomes
		// Processing once download traffic shows up.
		if active.Status != StatusProcessing {
			c.set(active.ID, StatusProcessing)
		}
	}
}

// completeRemaining forces all non-terminal tasks Completed, compensating
// for log lines that matched no heuristic.
func (c *Classifier) completeRemaining() {
	before := c.tasks.Snapshot()
	c.tasks.CompleteRemaining()
	c.reportChanges(before)
}

// failRemaining cascades Failed from the active task onward.
func (c *Classifier) failRemaining() {
	before := c.tasks.Snapshot()
	c.tasks.FailRemaining()
	c.reportChanges(before)
}

// set applies one status change and reports it.
func (c *Classifier) set(id string, status TaskStatus) {
	if !c.tasks.SetStatus(id, status) {
		return
	}
	if c.onChange != nil {
		if t, ok := c.tasks.Get(id); ok {
			c.onChange(t)
		}
	}
}

// reportChanges invokes the callback for every task whose status changed
// relative to the snapshot.
func (c *Classifier) reportChanges(before []Task) {
	if c.onChange == nil {
		return
	}
	after := c.tasks.Snapshot()
	for i := range after {
		if i < len(before) && before[i].Status != after[i].Status {
			c.onChange(after[i])
		}
	}
}

// =============================================================================
// MODEL SETUP WORKER
// =============================================================================

// streamFunc matches procutil.Stream; swappable in tests.
type streamFunc func(ctx context.Context, spec procutil.Spec) <-chan procutil.StreamEvent

// ModelWorker runs the external model-installation command against the
// provisioned interpreter and classifies its streamed output. Unlike the
// environment worker it never blocks on a full subprocess wait; it reacts to
// output events as they arrive.
type ModelWorker struct {
	cfg         *config.Config
	emitter     *Emitter
	interpreter string
	tasks       *TaskList
	classifier  *Classifier
	stream      streamFunc
}

// NewModelWorker creates a worker bound to the interpreter produced by the
// environment stage.
func NewModelWorker(cfg *config.Config, emitter *Emitter, interpreter string) *ModelWorker {
	tasks := NewTaskList(ModelTasks()...)
	classifier := NewClassifier(tasks)
	w := &ModelWorker{
		cfg:         cfg,
		emitter:     emitter,
		interpreter: interpreter,
		tasks:       tasks,
		classifier:  classifier,
		stream:      procutil.Stream,
	}
	classifier.OnChange(emitter.Task)
	return w
}

// Tasks exposes the worker's task registry for progress display.
func (w *ModelWorker) Tasks() *TaskList {
	return w.tasks
}

// Run starts the model setup command, feeds every line through the
// classifier, and derives the terminal result from the exit status.
func (w *ModelWorker) Run(ctx context.Context) WorkerResult {
	w.emitter.Status("Setting up language models")

	events := w.stream(ctx, procutil.Spec{
		Path:          w.interpreter,
		Args:          w.cfg.Models.Args,
		RuntimeLibDir: w.cfg.RuntimeLibPath(),
	})

	for ev := range events {
		if !ev.Done {
			w.emitter.Log(ev.Line)
			w.classifier.Observe(ev.Line)
			continue
		}
		return w.finish(ev.Result)
	}

	// The stream closed without a terminal event; treat as a crash.
	return w.fail("model setup ended unexpectedly")
}

// finish maps the process result onto the terminal worker result.
func (w *ModelWorker) finish(res procutil.Result) WorkerResult {
	switch {
	case res.State == procutil.StateLaunchFailed:
		return w.fail((&LaunchError{Path: w.interpreter, Err: res.Err}).Error())

	case res.State == procutil.StateCrashed:
		return w.fail("model setup tool crashed before finishing")

	case w.classifier.ErrLine() != "":
		// Explicit error lines are sticky; even a zero exit cannot
		// override them.
		return w.fail((&InstallError{What: "language models", Stderr: w.classifier.ErrLine()}).Error())

	case res.ExitCode == 0:
		// Clean exit implies success even when expected phrases were never
		// seen in the log.
		w.classifier.completeRemaining()
		return WorkerResult{Success: true}

	default:
		msg := (&InstallError{
			What:   "language models",
			Stderr: fmt.Sprintf("exit code %d\n%s", res.ExitCode, res.Stderr),
		}).Error()
		return w.fail(msg)
	}
}

// fail cascades task failure and produces the failure result.
func (w *ModelWorker) fail(msg string) WorkerResult {
	w.classifier.failRemaining()
	return WorkerResult{Success: false, Err: msg}
}
