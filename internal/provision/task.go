// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provision drives the staged first-run setup: extracting the
// embedded Python runtime, bootstrapping pip, installing dependencies, and
// downloading the spaCy and Benepar models.
package provision

import (
	"sync"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus represents the current state of a setup sub-task.
type TaskStatus string

const (
	// StatusPending indicates the task has not started yet.
	StatusPending TaskStatus = "Pending"

	// StatusProcessing indicates the task is actively running.
	StatusProcessing TaskStatus = "Processing"

	// StatusNeedsAction indicates the task is known to be required but work
	// has not started yet (e.g. a model is missing and will be downloaded).
	StatusNeedsAction TaskStatus = "NeedsAction"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted TaskStatus = "Completed"

	// StatusFailed indicates the task failed. Terminal.
	StatusFailed TaskStatus = "Failed"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// Terminal reports whether the status can no longer change within a run.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// =============================================================================
// TASK
// =============================================================================

// Task is a named unit of setup work with an observable status.
type Task struct {
	// ID is a stable identifier (e.g. "setup_runtime", "check_spacy").
	ID string

	// Label is the human-readable description shown in the progress UI.
	Label string

	// Status is the current state of the task.
	Status TaskStatus
}

// =============================================================================
// TASK LIST
// =============================================================================

// TaskList is an ordered registry of tasks with a single active pointer.
// Exactly one task is active at a time; advancing moves the pointer to the
// next non-completed task. A task that reached Completed or Failed is never
// regressed within the same run.
//
// The list is mutated only by the worker that owns the current stage; the
// orchestrator and UI read snapshots.
type TaskList struct {
	mu     sync.RWMutex
	tasks  []Task
	active int
}

// NewTaskList creates a registry from ordered tasks. All tasks start Pending
// and the first task is active.
func NewTaskList(tasks ...Task) *TaskList {
	list := make([]Task, len(tasks))
	for i, t := range tasks {
		t.Status = StatusPending
		list[i] = t
	}
	return &TaskList{tasks: list}
}

// Active returns a copy of the active task, or false if every task is done.
func (l *TaskList) Active() (Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.active >= len(l.tasks) {
		return Task{}, false
	}
	return l.tasks[l.active], true
}

// SetActiveStatus updates the active task's status. Returns false if there is
// no active task or the update would regress a terminal status.
func (l *TaskList) SetActiveStatus(status TaskStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setLocked(l.active, status)
}

// SetStatus updates a task by ID under the same no-regress rule.
func (l *TaskList) SetStatus(id string, status TaskStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.tasks {
		if l.tasks[i].ID == id {
			return l.setLocked(i, status)
		}
	}
	return false
}

// setLocked applies a status change if it does not regress a terminal task.
// Must be called with the lock held.
func (l *TaskList) setLocked(i int, status TaskStatus) bool {
	if i < 0 || i >= len(l.tasks) {
		return false
	}
	if l.tasks[i].Status.Terminal() && l.tasks[i].Status != status {
		return false
	}
	l.tasks[i].Status = status
	return true
}

// Advance moves the active pointer to the next task that is not yet
// completed. Failed tasks are skipped as well: they are terminal.
func (l *TaskList) Advance() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.active < len(l.tasks) && l.tasks[l.active].Status.Terminal() {
		l.active++
	}
}

// FailRemaining marks the active task and every not-yet-completed task after
// it as Failed. Completed tasks keep their status: there is no partial
// silent success, but finished work is not rewritten either.
func (l *TaskList) FailRemaining() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := l.active; i < len(l.tasks); i++ {
		if l.tasks[i].Status != StatusCompleted {
			l.tasks[i].Status = StatusFailed
		}
	}
	l.active = len(l.tasks)
}

// CompleteRemaining forces every not-yet-completed, not-failed task to
// Completed. Used when the external tool reports overall success even though
// some per-task log phrases were never matched.
func (l *TaskList) CompleteRemaining() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.tasks {
		if !l.tasks[i].Status.Terminal() {
			l.tasks[i].Status = StatusCompleted
		}
	}
	l.active = len(l.tasks)
}

// Snapshot returns a copy of all tasks in order.
func (l *TaskList) Snapshot() []Task {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}

// Get returns a copy of the task with the given ID.
func (l *TaskList) Get(id string) (Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, t := range l.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Done reports whether every task reached a terminal status.
func (l *TaskList) Done() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, t := range l.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Completed counts tasks that reached Completed.
func (l *TaskList) Completed() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, t := range l.tasks {
		if t.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// Len returns the number of tasks.
func (l *TaskList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tasks)
}
