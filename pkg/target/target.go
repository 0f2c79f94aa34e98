// Package target models one configured destination (server, local
// path, or the embedded listener) together with its schedule, its
// event queue, and its private storage directory (spec §4.D). Its
// scheduling state is changed by the agent runtime and by the HTTP
// server's /now route (SetNextRunNow).
package target

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/storage"
)

// TaskSupport records what a server advertised for one task in its
// contact response (spec §3 "per-task support map task -> {server,
// version} learned from contact responses").
type TaskSupport struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// randDuration returns a uniform duration in [0, max). Package-level
// so tests can pin the jitter.
var randDuration = func(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Target is one scheduled destination.
type Target struct {
	spec  config.TargetSpec
	dir   string
	store *storage.Store
	queue *events.Queue

	mu           sync.Mutex
	maxDelay     time.Duration
	errMaxDelay  time.Duration
	initialDelay time.Duration
	baseRunDate  time.Time
	nextRunDate  time.Time
	paused       bool
	plannedTasks []string

	retry *backoff.ExponentialBackOff

	// server subtype
	isGlpiServer bool
	taskSupport  map[string]TaskSupport

	// listener subtype
	sessions *Sessions
}

// Options tunes a new Target beyond its spec.
type Options struct {
	VarDir       string
	OldVarDir    string
	MaxDelay     time.Duration // 0 means the 1h default
	ErrMaxDelay  time.Duration // retry cap; 0 means 30m
	InitialDelay time.Duration // --delaytime, first run only
}

// New opens the target's private storage sub-directory under
// opts.VarDir and restores any persisted scheduling state.
func New(spec config.TargetSpec, opts Options) (*Target, error) {
	dir := filepath.Join(opts.VarDir, subdirFor(spec))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("target %s: create state dir: %w", spec.ID, err)
	}

	var storeOpts []storage.Option
	if opts.OldVarDir != "" {
		storeOpts = append(storeOpts, storage.WithOldVarDir(filepath.Join(opts.OldVarDir, subdirFor(spec))))
	}
	store, err := storage.Open(dir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("target %s: open storage: %w", spec.ID, err)
	}

	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}
	errMaxDelay := opts.ErrMaxDelay
	if errMaxDelay <= 0 {
		errMaxDelay = 30 * time.Minute
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Minute
	retry.MaxInterval = minDuration(maxDelay, errMaxDelay)
	retry.Multiplier = 2
	retry.RandomizationFactor = 0

	t := &Target{
		spec:         spec,
		dir:          dir,
		store:        store,
		queue:        events.NewQueue(),
		maxDelay:     maxDelay,
		errMaxDelay:  errMaxDelay,
		initialDelay: opts.InitialDelay,
		taskSupport:  make(map[string]TaskSupport),
		retry:        retry,
	}
	if spec.Kind == config.TargetListener {
		t.sessions = newSessions(store)
	}
	t.restoreState()
	if t.nextRunDate.IsZero() {
		t.computeNextRunDate(time.Now())
	}
	return t, nil
}

// Close flushes listener sessions and releases the storage handle.
func (t *Target) Close() error {
	if t.sessions != nil {
		t.sessions.Flush()
	}
	t.saveState()
	return t.store.Close()
}

// ID returns the target's identity (server0, local0, listener).
func (t *Target) ID() string { return t.spec.ID }

// Kind returns the target subtype.
func (t *Target) Kind() config.TargetKind { return t.spec.Kind }

// IsType reports whether the target is of the named subtype (spec
// §4.D `isType("server"|"local"|"listener")`).
func (t *Target) IsType(kind string) bool { return string(t.spec.Kind) == kind }

// URL returns the canonicalized server URL (server subtype only).
func (t *Target) URL() string { return t.spec.URL }

// Path returns the output directory or "-" (local subtype only).
func (t *Target) Path() string { return t.spec.Path }

// Store exposes the target's private blob store for task-private
// state (spec §3 "Per-target persistent sub-store").
func (t *Target) Store() *storage.Store { return t.store }

// Dir returns the target's private state directory (deploy fileparts
// and other on-disk artifacts live under it).
func (t *Target) Dir() string { return t.dir }

// Sessions returns the listener session table; nil for other kinds.
func (t *Target) Sessions() *Sessions { return t.sessions }

// SetMaxDelay updates the scheduling upper bound, typically from a
// server's contact response expiration.
func (t *Target) SetMaxDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.maxDelay = d
	t.retry.MaxInterval = minDuration(d, t.errMaxDelay)
	t.mu.Unlock()
}

// MaxDelay returns the current scheduling upper bound.
func (t *Target) MaxDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxDelay
}

// GetNextRunDate returns the next scheduled run instant.
func (t *Target) GetNextRunDate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextRunDate
}

// Due reports whether the target should run now.
func (t *Target) Due(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.paused && !t.nextRunDate.After(now)
}

// SetNextRunNow advances the next run to the current instant (the
// /now route, spec §4.I).
func (t *Target) SetNextRunNow() {
	t.mu.Lock()
	t.nextRunDate = time.Now()
	t.mu.Unlock()
	t.saveState()
}

// SetNextRunDateFromNow schedules a retry after a failure, doubling
// the previous retry delay up to min(maxDelay, errMaxDelay) (spec
// §4.D "exponential backoff").
func (t *Target) SetNextRunDateFromNow() {
	t.mu.Lock()
	delay := t.retry.NextBackOff()
	t.nextRunDate = time.Now().Add(delay)
	t.mu.Unlock()
	t.saveState()
	log.WithTarget(t.spec.ID).Debug().Dur("delay", delay).Msg("run failed, retrying with backoff")
}

// SetNextRunOnExpiration schedules the next run a fixed number of
// seconds out, as directed by a server response's expiration field.
func (t *Target) SetNextRunOnExpiration(seconds int) {
	if seconds <= 0 {
		return
	}
	t.mu.Lock()
	t.nextRunDate = time.Now().Add(time.Duration(seconds) * time.Second)
	t.baseRunDate = t.nextRunDate
	t.mu.Unlock()
	t.saveState()
}

// ResetNextRunDate recomputes the schedule after a successful run and
// clears the retry backoff.
func (t *Target) ResetNextRunDate() {
	t.mu.Lock()
	t.retry.Reset()
	t.computeNextRunDateLocked(time.Now())
	t.mu.Unlock()
	t.saveState()
}

// computeNextRunDate implements the §4.D scheduling algorithm.
func (t *Target) computeNextRunDate(timeref time.Time) {
	t.mu.Lock()
	t.computeNextRunDateLocked(timeref)
	t.mu.Unlock()
	t.saveState()
}

func (t *Target) computeNextRunDateLocked(timeref time.Time) {
	// Drift beyond maxDelay forces recomputation from now (spec §3
	// invariants).
	if !t.baseRunDate.IsZero() && timeref.Sub(t.baseRunDate) > t.maxDelay {
		t.baseRunDate = time.Time{}
	}

	if t.initialDelay > 0 {
		// First run only: apply the configured delay with up to 50%
		// random reduction, then clear it.
		delay := t.initialDelay - randDuration(t.initialDelay/2)
		t.initialDelay = 0
		t.nextRunDate = timeref.Add(delay)
		t.baseRunDate = timeref.Add(t.maxDelay)
		return
	}

	maxRandom := time.Hour
	switch {
	case t.maxDelay < 6*time.Hour:
		maxRandom = t.maxDelay / 6
	case t.maxDelay > 24*time.Hour:
		maxRandom = t.maxDelay / 24
	}

	t.baseRunDate = timeref.Add(t.maxDelay)
	t.nextRunDate = t.baseRunDate.Add(-randDuration(maxRandom))
}

// BaseRunDate returns the current scheduling anchor.
func (t *Target) BaseRunDate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseRunDate
}

// Pause freezes scheduling without losing state (spec §3 "Pausing
// freezes scheduling").
func (t *Target) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// Resume lifts a Pause.
func (t *Target) Resume() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
}

// Paused reports whether the target is paused.
func (t *Target) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// SetPlannedTasks records the task names the agent plans for this
// target. Local targets only run inventory-family tasks (spec §4.D
// "only inventory-family tasks are permissible").
func (t *Target) SetPlannedTasks(names []string) {
	filtered := names
	if t.spec.Kind == config.TargetLocal || t.spec.Kind == config.TargetListener {
		filtered = filtered[:0:0]
		for _, n := range names {
			if isInventoryFamily(n) {
				filtered = append(filtered, n)
			}
		}
	}
	t.mu.Lock()
	t.plannedTasks = filtered
	t.mu.Unlock()
}

// PlannedTasks returns the task names planned for this target.
func (t *Target) PlannedTasks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.plannedTasks))
	copy(out, t.plannedTasks)
	return out
}

func isInventoryFamily(task string) bool {
	switch task {
	case "inventory", "remoteinventory":
		return true
	}
	return false
}

// SetServerTaskSupport records what the server advertised for one
// task (spec §4.D).
func (t *Target) SetServerTaskSupport(task string, support TaskSupport) {
	t.mu.Lock()
	t.taskSupport[task] = support
	t.mu.Unlock()
	t.saveState()
}

// TaskSupportFor returns the advertised support entry for task.
func (t *Target) TaskSupportFor(task string) (TaskSupport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.taskSupport[task]
	return s, ok
}

// DoProlog reports whether any task is served by a legacy inventory
// server requiring the PROLOG handshake (spec §4.D).
func (t *Target) DoProlog() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.taskSupport {
		if strings.EqualFold(s.Server, "ocs") || strings.EqualFold(s.Server, "legacy") {
			return true
		}
	}
	return false
}

// SetIsGlpiServer flags the server as speaking the JSON contact
// protocol.
func (t *Target) SetIsGlpiServer(v bool) {
	t.mu.Lock()
	changed := t.isGlpiServer != v
	t.isGlpiServer = v
	t.mu.Unlock()
	if changed {
		t.saveState()
	}
}

// IsGlpiServer reports whether the server was identified as GLPI.
func (t *Target) IsGlpiServer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isGlpiServer
}

// subdirFor derives the storage sub-directory name from the target's
// URL or path (spec §6: "/"→"_", on Windows ":"→"..""). The listener
// uses a fixed reserved name.
func subdirFor(spec config.TargetSpec) string {
	switch spec.Kind {
	case config.TargetListener:
		return "__LISTENER__"
	case config.TargetLocal:
		return sanitizeDirName(spec.Path)
	default:
		return sanitizeDirName(spec.URL)
	}
}

func sanitizeDirName(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	if runtime.GOOS == "windows" {
		s = strings.ReplaceAll(s, ":", "..")
	}
	return s
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
