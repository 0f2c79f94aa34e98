package target

import (
	"time"

	"github.com/cuemby/fleetagent/pkg/events"
)

// AddEvent queues ev against this target; safe bypasses the per-name
// cool-down for programmatic inserts (spec §3).
func (t *Target) AddEvent(ev *events.Event, safe bool) {
	ev.Safe = safe
	t.queue.Add(ev)
}

// DelEvent removes every queued event for task.
func (t *Target) DelEvent(task string) {
	t.queue.Del(task)
}

// NextEvent returns the head event iff its rundate has arrived (spec
// §4.D).
func (t *Target) NextEvent() *events.Event {
	return t.queue.Next(time.Now())
}

// QueuedEvents reports how many events are pending.
func (t *Target) QueuedEvents() int {
	return t.queue.Len()
}

// TriggerTaskInitEvents posts one init event per planned task so each
// task gets a chance to initialize before its first real run (spec
// §4.D).
func (t *Target) TriggerTaskInitEvents() {
	now := time.Now()
	for _, name := range t.PlannedTasks() {
		t.AddEvent(&events.Event{Kind: events.KindInit, Task: name, RunDate: now}, true)
	}
}

// TriggerRunTasksNow expands a taskrun event into one event per
// planned task (or just the named one), honoring full/partial. With
// Reschedule set, the expansion's last entry carries the flag so the
// normal plan resumes after it (spec §5 ordering guarantees).
func (t *Target) TriggerRunTasksNow(ev *events.Event) {
	now := time.Now()

	if !ev.AllTasks {
		t.AddEvent(&events.Event{
			Kind:    events.KindTaskRun,
			Task:    ev.Task,
			RunDate: now,
			Full:    ev.Full,
		}, true)
		return
	}

	planned := t.PlannedTasks()
	for i, name := range planned {
		run := &events.Event{
			Kind:    events.KindTaskRun,
			Task:    name,
			RunDate: now,
			Full:    ev.Full,
		}
		if ev.Reschedule && i == len(planned)-1 {
			run.Reschedule = true
		}
		t.AddEvent(run, true)
	}
}
