package httpd

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// Plugin is one dispatchable unit of the embedded server (spec §4.I
// "Plugin model"). A plugin advertising a non-default Port gets its
// own listener; Port 0 shares the main one. Handle returns true when
// it served the request; the server then stops trying lower-priority
// plugins and never falls through to the built-in routes.
type Plugin interface {
	Name() string
	Priority() int
	Port() int
	Init() error
	Disabled() bool
	Handle(w http.ResponseWriter, r *http.Request) bool

	// TimerEvent is called when the plugin's previously requested
	// tick arrives; it returns the next tick, or zero for none.
	TimerEvent(now time.Time) time.Time
}

var (
	pluginMu       sync.Mutex
	pluginRegistry []Plugin
)

// RegisterPlugin adds p to the process-global plugin registry, the
// same registration re-cast pkg/module and pkg/task use; pkg/agent
// calls it at startup to register the listener plugin.
func RegisterPlugin(p Plugin) {
	pluginMu.Lock()
	defer pluginMu.Unlock()
	pluginRegistry = append(pluginRegistry, p)
}

// Plugins returns the registered plugins sorted descending by
// priority (spec §4.I "sorted descending by priority").
func Plugins() []Plugin {
	pluginMu.Lock()
	defer pluginMu.Unlock()
	out := make([]Plugin, len(pluginRegistry))
	copy(out, pluginRegistry)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	return out
}

// resetPlugins clears the registry; test-only.
func resetPlugins() {
	pluginMu.Lock()
	defer pluginMu.Unlock()
	pluginRegistry = nil
}
