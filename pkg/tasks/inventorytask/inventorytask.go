// Package inventorytask implements the agent's reference task (spec
// §4.G "Inventory task"): building the document, running probe
// modules under the pipeline from pkg/module, computing checksum and
// postpone state, and handing the result to the right submission
// path for the target's kind.
package inventorytask

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/inventory"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/module"
	"github.com/cuemby/fleetagent/pkg/task"
)

// TaskName is this task's registered name.
const TaskName = "inventory"

// Submitter abstracts §4.G step 7's "submit via the appropriate
// client": the JSON protocol client (server target), a local file
// write, or a save into the listener target's store. Kept as a narrow interface
// so the task doesn't import pkg/protocol/pkg/httpd directly and
// create an import cycle; pkg/agent supplies the concrete
// implementation per target kind.
type Submitter interface {
	Submit(ctx context.Context, doc *inventory.Document, env inventory.Envelope, format string) error
}

// Storage is the narrow per-target persistence surface this task
// needs for last-state checksum tracking.
type Storage interface {
	Restore(name string) []byte
	Save(name string, blob []byte) error
}

// Deps bundles everything Task needs that isn't part of the standard
// module.Context, since a task's Run must also know the target's
// kind/format/GLPI version and have a Submitter and Storage to talk
// to (spec §4.G steps 4 and 7).
type Deps struct {
	Storage          Storage
	StorageKey       string
	Submitter        Submitter
	TargetKind       config.TargetKind
	IsGlpiServer     bool
	LocalFormat      string // html|json|xml, local target only
	GlpiVersion      string
	Tag              string
	Itemtype         string
	RequiredCategory []string
	NoCategory       []string
	FullPostpone     int
	ForceFull        bool // --full: always reset postpone and send every section
	AdditionalContent string // path to an XML or JSON file merged into the document
	AgentID          string
	DeviceID         string
	ScanHomedirs     bool
	ScanProfiles     bool
	Credentials      map[string]string
	BackendTimeoutSeconds int
}

// Task is the inventory task (spec §4.F/§4.G).
type Task struct {
	task.Base
	deps Deps

	// cachedBios/cachedHardware let repeated partial runs skip
	// recomputing singleton sections that rarely change (spec §4.F
	// "Between partial runs, cache BIOS and HARDWARE on the task
	// instance").
	cachedBios     inventory.Record
	cachedHardware inventory.Record
}

// New constructs the inventory task with deps.
func New(deps Deps) *Task {
	return &Task{Base: task.Base{TaskName: TaskName}, deps: deps}
}

// IsEnabled reports whether the server's contact response (or the
// absence of one, for local/listener targets) permits this task.
func (t *Task) IsEnabled(contact task.Contact) bool {
	if contact.Tasks == nil {
		return true
	}
	_, ok := contact.Tasks[TaskName]
	return ok
}

// NewEvent returns the init event posted once to let the task warm
// up (spec §3 "init — fires once to let a task initialize").
func (t *Task) NewEvent() *events.Event {
	return &events.Event{Kind: events.KindInit, Task: TaskName}
}

// Run implements spec §4.G's numbered algorithm.
func (t *Task) Run(rc task.RunContext) task.Result {
	logger := log.WithComponent("inventorytask")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.InventorySubmitDuration)

	// Step 2: resolve the disabled-category set (category names, the
	// granularity the module planner filters on).
	disabledCategory := make(map[string]bool, len(t.deps.NoCategory))
	for _, c := range t.deps.NoCategory {
		disabledCategory[c] = true
	}

	// Step 3: event setup — decide full vs. partial category scope,
	// and whether this run is an explicit caller-forced partial (spec
	// §4.E "a caller-forced partial... may still be sent partial,
	// setting the counter past the max").
	full, categories, explicitPartial := t.resolveScope(rc.Event)

	// Step 1: build the document.
	doc := inventory.New(inventory.Options{
		DeviceID:         t.deps.DeviceID,
		GlpiVersion:      t.deps.GlpiVersion,
		RequiredCategory: t.deps.RequiredCategory,
		Itemtype:         t.deps.Itemtype,
		Tag:              t.deps.Tag,
	})

	if !full && len(categories) > 0 {
		// Narrow to the event's categories; they must intersect the
		// declared category map or the run has nothing to collect.
		allowed := make(map[string]bool, len(categories))
		for _, c := range categories {
			if len(inventory.SectionsForCategories([]string{c})) > 0 && !disabledCategory[c] {
				allowed[c] = true
			}
		}
		if len(allowed) == 0 {
			logger.Info().Strs("categories", categories).Msg("partial inventory matches no known category")
			return task.Result{Skipped: true}
		}
		// A partial run for categories including software also keeps
		// OS (spec §4.G step 3 "For partial inventory with software,
		// also keep OS").
		if allowed["software"] {
			allowed["os"] = true
		}
		disabledCategory = make(map[string]bool)
		for _, c := range inventory.Categories() {
			if !allowed[c] {
				disabledCategory[c] = true
			}
		}
	}

	if t.cachedBios != nil {
		doc.SetBios(t.cachedBios)
	}
	if t.cachedHardware != nil {
		doc.SetHardware(t.cachedHardware)
	}

	// Step 4: choose output format.
	format := t.chooseFormat()

	// Step 5: run probe modules in dependency order.
	mctx := &module.Context{
		Context:          rc.Context,
		Document:         doc,
		DisabledCategory: disabledCategory,
		AgentID:          t.deps.AgentID,
		ScanHomedirs:     t.deps.ScanHomedirs,
		ScanProfiles:     t.deps.ScanProfiles,
		Credentials:      t.deps.Credentials,
	}
	plan, err := module.Plan(module.All(), disabledCategory)
	if err != nil {
		return task.Result{Err: fmt.Errorf("inventorytask: plan modules: %w", err)}
	}
	timeout := backendTimeout(t.deps.BackendTimeoutSeconds)
	if err := module.Run(rc.Context, plan, mctx, timeout, func() bool { return rc.Abort != nil && rc.Abort() }); err != nil {
		return task.Result{Err: fmt.Errorf("inventorytask: run modules: %w", err)}
	}

	t.cachedBios = doc.GetSingleton("BIOS")
	t.cachedHardware = doc.GetSingleton("HARDWARE")

	if t.deps.AdditionalContent != "" {
		if err := mergeAdditionalContent(doc, t.deps.AdditionalContent); err != nil {
			logger.Warn().Err(err).Str("path", t.deps.AdditionalContent).Msg("additional-content merge failed")
		}
	}

	// Step 6: checksum and postpone.
	state := inventory.LoadLastState(t.deps.Storage, t.deps.StorageKey)
	cfg := inventory.PostponeConfig{
		MaxPostpone:      t.deps.FullPostpone,
		RequiredSections: inventory.SectionsForCategories(t.deps.RequiredCategory),
		ForceFull:        t.deps.ForceFull,
		ForcePartial:     explicitPartial,
	}
	result := inventory.ComputeChecksum(doc, state, cfg)
	if result.Dropped["OPERATINGSYSTEM"] && inventory.SoftwaresChangedKeepsOS(result.Dropped) {
		delete(result.Dropped, "OPERATINGSYSTEM")
	}
	doc.UsersDroppedClearsLastLoggedUser(result.Dropped)
	if len(result.Dropped) > 0 {
		metrics.InventoryPostponedTotal.Inc()
	}
	if err := inventory.SaveLastState(t.deps.Storage, t.deps.StorageKey, state); err != nil {
		logger.Warn().Err(err).Msg("persist checksum state failed")
	}

	env := doc.BuildEnvelopeDropping(t.deps.GlpiVersion, len(result.Dropped) > 0, result.Dropped)

	// Step 7: submit.
	if err := t.deps.Submitter.Submit(rc.Context, doc, env, format); err != nil {
		return task.Result{Err: fmt.Errorf("inventorytask: submit: %w", err)}
	}

	return task.Result{}
}

// resolveScope implements §4.G step 3's full/partial decision. The
// returned full/categories govern which sections this run even
// attempts to collect (category scope); explicitPartial feeds
// PostponeConfig.ForcePartial, which is a narrower, caller-forced
// override of the checksum engine's own postpone budget.
func (t *Task) resolveScope(ev *events.Event) (full bool, categories []string, explicitPartial bool) {
	if ev == nil {
		return true, nil, false
	}
	switch ev.Kind {
	case events.KindPartial:
		return false, ev.Categories, true
	case events.KindTaskRun:
		return ev.Full, nil, !ev.Full
	default:
		return true, nil, false
	}
}

// chooseFormat implements §4.G step 4: local respects html|json|xml;
// a GLPI server uses json; a non-GLPI server or a listener uses xml.
func (t *Task) chooseFormat() string {
	switch t.deps.TargetKind {
	case config.TargetLocal:
		if t.deps.LocalFormat != "" {
			return t.deps.LocalFormat
		}
		return "xml"
	case config.TargetServer:
		if t.deps.IsGlpiServer {
			return "json"
		}
		return "xml"
	default:
		return "xml"
	}
}

// backendTimeout converts the configured backend-collect-timeout
// (seconds, 0 meaning unset) to a duration, defaulting to 180s per
// spec §4.F.
func backendTimeout(configuredSeconds int) time.Duration {
	if configuredSeconds <= 0 {
		configuredSeconds = 180
	}
	return time.Duration(configuredSeconds) * time.Second
}


