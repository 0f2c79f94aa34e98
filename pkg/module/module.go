// Package module implements the process-global probe registry the
// inventory task plans against (spec §4.F "Dynamic module discovery
// without runtime reflection"): each module registers itself via an
// init()-time side effect instead of a filesystem scan, and the
// planner orders the registry's records without ever opening a
// directory at runtime.
package module

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/fleetagent/pkg/inventory"
)

// Context is what the pipeline hands to every module's entry points
// (spec §4.F "The pipeline provides each module with...").
type Context struct {
	context.Context

	Document         *inventory.Document
	DisabledCategory map[string]bool
	AgentID          string
	RemoteID         string
	ScanHomedirs     bool
	ScanProfiles     bool
	Credentials      map[string]string
	Params           map[string]any
}

// Module is a registered probe. Category groups it for --no-category
// filtering; RunAfter/RunAfterIfEnabled/RunMeIfTheseChecksFailed carry
// the dependency metadata spec §4.F assigns to module records rather
// than to methods.
type Module struct {
	Name     string
	Category string

	RunAfter                 []string
	RunAfterIfEnabled         []string
	RunMeIfTheseChecksFailed []string

	// IsEnabled reports whether this module applies to the current
	// host/contact; nil means always enabled.
	IsEnabled func(ctx *Context) bool

	// DoInventory runs the probe, writing into ctx.Document.
	DoInventory func(ctx *Context) error
}

var (
	mu       sync.Mutex
	registry = map[string]Module{}
)

// Register adds m to the process-global registry. Intended to be
// called from an init() func in each module's source file (spec
// §4.F "each module registers itself... via a constructor side
// effect or an explicit init() call"). Panics on duplicate names,
// since that indicates a programming error, not a runtime condition.
func Register(m Module) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[m.Name]; exists {
		panic(fmt.Sprintf("module: duplicate registration for %q", m.Name))
	}
	registry[m.Name] = m
}

// All returns every registered module, sorted by name for
// deterministic iteration (peer ordering falls out of Plan's
// alphabetical tie-break, not this).
func All() []Module {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Module, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the module named name, if registered.
func Lookup(name string) (Module, bool) {
	mu.Lock()
	defer mu.Unlock()
	m, ok := registry[name]
	return m, ok
}

// reset clears the registry; test-only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = map[string]Module{}
}
