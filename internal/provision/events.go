// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"log"
	"sync"

	"golang.org/x/time/rate"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event is delivered from background workers to the interactive context.
// Workers never touch the UI directly; the UI drains the event channel on its
// own schedule.
type Event interface {
	event()
}

// TaskEvent reports a task status change.
type TaskEvent struct {
	ID     string
	Label  string
	Status TaskStatus
}

// LogEvent carries a free-text diagnostic line. Log events are advisory:
// they may be throttled or dropped under load and are never authoritative
// for task state.
type LogEvent struct {
	Line string
}

// StatusEvent carries a coarse, human-readable stage description.
type StatusEvent struct {
	Message string
}

// ResultEvent is the terminal event of a setup run. Exactly one is emitted
// per run; Artifact is the provisioned interpreter path and is empty unless
// Success is true.
type ResultEvent struct {
	Success  bool
	Err      string
	Artifact string
}

func (TaskEvent) event()   {}
func (LogEvent) event()    {}
func (StatusEvent) event() {}
func (ResultEvent) event() {}

// =============================================================================
// EMITTER
// =============================================================================

// logEventsPerSecond caps advisory log traffic to the UI. Dependency and
// model installs can emit thousands of progress lines; the UI only needs a
// readable tail.
const logEventsPerSecond = 50

// Emitter publishes events on a buffered channel. Status, task, and result
// events block until delivered; log events are rate-limited and dropped when
// the consumer falls behind.
//
// The emitter is terminal-safe: after the ResultEvent it accepts and drops
// further events instead of panicking. A worker that outlived the bounded
// stop wait may still report task changes long after the run finished.
type Emitter struct {
	ch      chan Event
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an emitter with the given channel capacity.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{
		ch:      make(chan Event, buffer),
		limiter: rate.NewLimiter(rate.Limit(logEventsPerSecond), 2*logEventsPerSecond),
	}
}

// Events returns the receive side of the event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Task publishes a task status change.
func (e *Emitter) Task(t Task) {
	e.send(TaskEvent{ID: t.ID, Label: t.Label, Status: t.Status})
}

// Status publishes a coarse status message.
func (e *Emitter) Status(message string) {
	e.send(StatusEvent{Message: message})
}

// Log publishes an advisory log line, subject to rate limiting.
func (e *Emitter) Log(line string) {
	if line == "" {
		return
	}
	if !e.limiter.Allow() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- LogEvent{Line: line}:
	default:
		// Consumer is not draining; advisory lines are droppable.
		log.Printf("WARNING: event channel full, dropped log line")
	}
}

// Result publishes the terminal result and closes the channel. Anything
// emitted afterwards is dropped.
func (e *Emitter) Result(success bool, errMsg, artifact string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.ch <- ResultEvent{Success: success, Err: errMsg, Artifact: artifact}
	e.closed = true
	close(e.ch)
}

// send delivers one event, dropping it if the terminal result was already
// published.
func (e *Emitter) send(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.ch <- ev
}
