// Package task implements the base task lifecycle and the process-
// global task registry the agent plans its runs against (spec §4.F
// "Task pipeline"): {isEnabled(contact), run(), abort(), newEvent()}
// over concrete tasks (this repository carries one, the inventory task
// in pkg/tasks/inventorytask), discovered by
// registration rather than a filesystem scan of a package hierarchy
// (spec §9 "Dynamic module discovery without runtime reflection" —
// the same re-cast applies one level up, to tasks).
package task

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/fleetagent/pkg/events"
)

// Contact is the minimal view of a server's `contact` response a
// task's IsEnabled needs (spec §4.H "contact response shape": the
// per-task entry under `tasks`).
type Contact struct {
	Tasks map[string]ContactTask
}

// ContactTask is one entry of contact's `tasks` map.
type ContactTask struct {
	Version string
	Server  string
	Params  []map[string]any
}

// RunContext carries everything a task's Run needs for one
// invocation: the triggering event (nil for a normal planned run),
// and an abort flag checked between expensive steps (spec §4.F
// "graceful termination... abort flag").
type RunContext struct {
	context.Context

	Event      *events.Event
	TargetName string
	Abort      func() bool
}

// Result is what a task's Run reports back to the agent loop.
type Result struct {
	Err     error
	Skipped bool
}

// Task is the capability set spec §4.F assigns every concrete task.
type Task interface {
	Name() string
	IsEnabled(contact Contact) bool
	Run(rc RunContext) Result
	Abort()
	NewEvent() *events.Event
}

var (
	mu       sync.Mutex
	registry = map[string]Task{}
)

// Register adds t to the process-global task registry. Call from an
// init() in each task's package-aggregating file (spec §9).
func Register(t Task) {
	mu.Lock()
	defer mu.Unlock()
	registry[t.Name()] = t
}

// Discover returns every registered task whose name is not in
// noTask, sorted by name (spec §4.F "Discovery excludes names listed
// in no-task").
func Discover(noTask map[string]bool) []Task {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Task, 0, len(registry))
	for name, t := range registry {
		if noTask[name] {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Lookup returns the task named name, if registered.
func Lookup(name string) (Task, bool) {
	mu.Lock()
	defer mu.Unlock()
	t, ok := registry[name]
	return t, ok
}

// reset clears the registry; test-only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = map[string]Task{}
}
