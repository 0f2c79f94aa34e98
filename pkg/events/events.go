// Package events implements the per-target event queue (spec §3
// "Event", §5 ordering guarantees). It keeps the teacher's broker
// shape — a small mutex-guarded structure owning a slice plus
// bookkeeping maps — but repurposes it: instead of fanning broadcast
// notifications out to subscriber channels, a Queue holds the ordered,
// capacity-bounded, debounced directives belonging to one Target.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/fleetagent/pkg/log"
)

// Kind is the event's tag, one of the five recognized in spec §3.
type Kind string

const (
	KindInit        Kind = "init"
	KindTaskRun     Kind = "taskrun"
	KindPartial     Kind = "partial"
	KindMaintenance Kind = "maintenance"
	KindJob         Kind = "job"
)

// Event is a tagged scheduling directive queued against a target. Only
// the fields relevant to its Kind are meaningful; see spec §3 for the
// obligatory fields per kind.
type Event struct {
	Kind       Kind
	Task       string
	RunDate    time.Time
	Full       bool     // taskrun: full vs partial
	Reschedule bool     // taskrun: append a resume-normal-plan marker
	AllTasks   bool     // taskrun: expand to every planned task
	Categories []string // partial: restricted category set
	Target     string   // maintenance: target identifier the duty applies to
	Safe       bool     // bypass the per-name cooldown (programmatic inserts)
}

// name identifies an event for cooldown and supersession purposes.
func (e *Event) name() string {
	switch e.Kind {
	case KindMaintenance:
		return string(e.Kind) + ":" + e.Task + ":" + e.Target
	default:
		return string(e.Kind) + ":" + e.Task
	}
}

const (
	defaultCapacity = 1024
	cooldown        = 15 * time.Second
)

// Queue is a single target's ordered event queue.
type Queue struct {
	mu       sync.Mutex
	events   []*Event
	lastFire map[string]time.Time
	capacity int
}

// NewQueue creates an empty queue with the spec's default capacity.
func NewQueue() *Queue {
	return &Queue{
		capacity: defaultCapacity,
		lastFire: make(map[string]time.Time),
	}
}

// Add inserts ev in rundate order, honoring the cooldown, the bounded
// capacity, and the partial/maintenance supersession rules from §5.
func (q *Queue) Add(ev *Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	logger := log.WithComponent("events")

	if !ev.Safe {
		if last, ok := q.lastFire[ev.name()]; ok && time.Since(last) < cooldown {
			logger.Debug().Str("event", ev.name()).Msg("event suppressed by cool-down")
			return
		}
	}

	switch ev.Kind {
	case KindPartial:
		q.removeWhere(func(e *Event) bool { return e.Kind == KindPartial && e.Task == ev.Task })
	case KindMaintenance:
		q.removeWhere(func(e *Event) bool { return e.Kind == KindMaintenance && e.Task == ev.Task && e.Target == ev.Target })
	}

	if len(q.events) >= q.capacity {
		logger.Debug().Str("event", ev.name()).Msg("event queue at capacity, dropping new event")
		return
	}

	q.lastFire[ev.name()] = time.Now()
	idx := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].RunDate.After(ev.RunDate)
	})
	q.events = append(q.events, nil)
	copy(q.events[idx+1:], q.events[idx:])
	q.events[idx] = ev
}

func (q *Queue) removeWhere(match func(*Event) bool) {
	kept := q.events[:0]
	for _, e := range q.events {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	q.events = kept
}

// Next returns and removes the head event iff its rundate has arrived.
func (q *Queue) Next(now time.Time) *Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	head := q.events[0]
	if head.RunDate.After(now) {
		return nil
	}
	q.events = q.events[1:]
	return head
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Del removes every queued event whose Task is task.
func (q *Queue) Del(task string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeWhere(func(e *Event) bool { return e.Task == task })
}
