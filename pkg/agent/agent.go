// Package agent implements the top-level runtime (spec §4.J): it owns
// the target set, drives the per-target loop (events first, then the
// handshake, then planned tasks), recovers panics into the logger,
// and hosts the embedded HTTP server alongside.
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/httpd"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/storage"
	"github.com/cuemby/fleetagent/pkg/target"
	"github.com/cuemby/fleetagent/pkg/task"
)

// Agent is the process under design.
type Agent struct {
	cfg     *config.Config
	version string

	store   *storage.Store
	state   *State
	targets []*target.Target
	httpd   *httpd.Server

	forceRun bool
	aborted  atomic.Bool

	mu      sync.Mutex
	current task.Task
}

// New performs the §4.J startup sequence after config and logger are
// in place: open storage, load identity, materialize targets, and
// prepare the HTTP server.
func New(cfg *config.Config, version string) (*Agent, error) {
	store, err := storage.Open(cfg.Vardir, storageOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("agent: open vardir %s: %w", cfg.Vardir, err)
	}

	state, err := loadState(store, cfg.AssetnameSupport)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &Agent{
		cfg:     cfg,
		version: version,
		store:   store,
		state:   state,
	}

	forcedByState := consumeForceRun(store, state)
	a.forceRun = cfg.Force || forcedByState
	if cfg.SetForcerun {
		state.ForceRun = true
		if err := saveState(store, state); err != nil {
			log.WithComponent("agent").Warn().Err(err).Msg("persist forcerun failed")
		}
	}

	if err := a.buildTargets(); err != nil {
		store.Close()
		return nil, err
	}
	a.planTasks()

	if !cfg.NoHTTPD {
		for _, tgt := range a.targets {
			if tgt.Kind() == config.TargetListener {
				httpd.RegisterPlugin(httpd.NewListenerPlugin(tgt))
			}
		}
		a.httpd = httpd.New(httpd.Options{
			IP:      cfg.HTTPDIP,
			Port:    cfg.HTTPDPort,
			Trust:   cfg.HTTPDTrust,
			Version: version,
		}, a.targets)
	}

	return a, nil
}

func storageOptions(cfg *config.Config) []storage.Option {
	if cfg.OldVardir == "" {
		return nil
	}
	return []storage.Option{storage.WithOldVarDir(cfg.OldVardir)}
}

// DeviceID returns the agent's stable device identity.
func (a *Agent) DeviceID() string { return a.state.DeviceID }

// AgentID returns the agent's immutable UUID.
func (a *Agent) AgentID() string { return a.state.AgentID }

// Targets exposes the target arena (the HTTP server and tests use it;
// the HTTP server's /now route advances a target's next run).
func (a *Agent) Targets() []*target.Target { return a.targets }

func (a *Agent) buildTargets() error {
	specs := config.GetTargets(a.cfg)
	if len(specs) == 0 {
		return fmt.Errorf("agent: no target defined, use --server, --local or --listen")
	}

	maxDelay := time.Duration(a.cfg.DelayTime) * time.Second
	for _, spec := range specs {
		tgt, err := target.New(spec, target.Options{
			VarDir:       a.cfg.Vardir,
			OldVarDir:    a.cfg.OldVardir,
			MaxDelay:     maxDelay,
			InitialDelay: initialDelay(a.cfg),
		})
		if err != nil {
			return err
		}
		a.targets = append(a.targets, tgt)
	}
	return nil
}

// Snapshot implements metrics.Source over the target arena.
func (a *Agent) Snapshot() metrics.Snapshot {
	snap := metrics.Snapshot{
		TargetsByKind:  make(map[string]int),
		QueuedByTarget: make(map[string]int),
	}
	for _, tgt := range a.targets {
		snap.TargetsByKind[string(tgt.Kind())]++
		snap.QueuedByTarget[tgt.ID()] = tgt.QueuedEvents()
	}
	return snap
}

// initialDelay applies --wait to the first run only.
func initialDelay(cfg *config.Config) time.Duration {
	if cfg.Wait <= 0 {
		return 0
	}
	return time.Duration(cfg.Wait) * time.Second
}

// planTasks computes each target's planned task list from the
// registry, the no-task exclusions, and --tasks ordering, then logs
// the plan (spec §4.J "log a plan per target").
func (a *Agent) planTasks() {
	plan := ComputeTaskExecutionPlan(a.cfg.Tasks, availableTaskNames(a.cfg.NoTask))

	logger := log.WithComponent("agent")
	for _, tgt := range a.targets {
		tgt.SetPlannedTasks(plan)
		logger.Info().Str("target", tgt.ID()).Strs("tasks", tgt.PlannedTasks()).Msg("target plan")
	}
}

func availableTaskNames(noTask []string) []string {
	excluded := make(map[string]bool, len(noTask))
	for _, name := range noTask {
		excluded[name] = true
	}
	tasks := task.Discover(excluded)
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Name())
	}
	return names
}

// ComputeTaskExecutionPlan orders the run per --tasks, where a
// literal "..." means "all remaining available tasks in declared
// order"; unknown tasks are silently dropped (spec §8 boundary
// behaviors). An empty request plans every available task.
func ComputeTaskExecutionPlan(requested, available []string) []string {
	if len(requested) == 0 {
		return available
	}

	availSet := make(map[string]bool, len(available))
	for _, name := range available {
		availSet[name] = true
	}

	used := make(map[string]bool)
	var head, tail []string
	ellipsis := false
	for _, name := range requested {
		if name == "..." {
			ellipsis = true
			continue
		}
		if !availSet[name] || used[name] {
			continue
		}
		used[name] = true
		if ellipsis {
			tail = append(tail, name)
		} else {
			head = append(head, name)
		}
	}

	if !ellipsis {
		return head
	}

	var middle []string
	for _, name := range available {
		if !used[name] {
			middle = append(middle, name)
		}
	}
	out := append(head, middle...)
	return append(out, tail...)
}

// Run drives the main loop until ctx is cancelled: one pass in
// foreground mode, a per-target loop in daemon mode. The HTTP server
// runs alongside either way.
func (a *Agent) Run(ctx context.Context) error {
	if a.httpd != nil {
		if err := a.httpd.Init(); err != nil {
			// Fatal to the server component only; the agent continues
			// without it (spec §7).
			log.WithComponent("agent").Error().Err(err).Msg("embedded HTTP server unavailable")
			a.httpd = nil
		}
	}

	go a.watchShutdown(ctx)
	if a.cfg.Daemon && a.cfg.ConfReloadInterval > 0 && a.cfg.ConfFile != "" {
		go a.reloadLoop(ctx)
	}

	collector := metrics.NewCollector(a, 15*time.Second)
	collector.Start()

	var err error
	if a.cfg.Daemon {
		err = a.runDaemon(ctx)
	} else {
		err = a.runOnce(ctx)
	}

	collector.Stop()
	a.shutdown()
	return err
}

// runOnce services every target a single time (the one-shot CLI
// path).
func (a *Agent) runOnce(ctx context.Context) error {
	var firstErr error
	now := time.Now()
	for _, tgt := range a.targets {
		if a.aborted.Load() {
			break
		}
		if a.cfg.Lazy && !a.forceRun && !tgt.Due(now) {
			log.WithTarget(tgt.ID()).Info().Time("next", tgt.GetNextRunDate()).Msg("lazy mode, target not due")
			continue
		}
		if err := a.safeRunTarget(ctx, tgt); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			tgt.SetNextRunDateFromNow()
			continue
		}
		tgt.ResetNextRunDate()
	}
	return firstErr
}

// runDaemon services each target in its own goroutine until ctx ends
// (spec §5 "a daemon variant may service multiple targets
// concurrently by running each target loop in its own lightweight
// thread").
func (a *Agent) runDaemon(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, tgt := range a.targets {
		wg.Add(1)
		go func(tgt *target.Target) {
			defer wg.Done()
			a.targetLoop(ctx, tgt)
		}(tgt)
	}
	wg.Wait()
	return nil
}

func (a *Agent) targetLoop(ctx context.Context, tgt *target.Target) {
	// forceRun only applies to the first pass of each target's loop.
	force := a.forceRun

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if a.aborted.Load() {
				return
			}
			if !tgt.Due(now) && !force && tgt.QueuedEvents() == 0 {
				continue
			}
			force = false
			if err := a.safeRunTarget(ctx, tgt); err != nil {
				tgt.SetNextRunDateFromNow()
				continue
			}
			tgt.ResetNextRunDate()
		}
	}
}

// reloadLoop re-reads the config file on the clamped
// conf-reload-interval (spec §4.B) and hands the reloaded HTTP server
// settings to NeedToRestart, which updates trust in place; a change
// that would require rebinding the HTTP server is logged and deferred
// to the next restart. Other reloaded options, scheduling included,
// are not applied to the running agent.
func (a *Agent) reloadLoop(ctx context.Context) {
	logger := log.WithComponent("agent")
	ticker := time.NewTicker(a.cfg.ReloadInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg := config.Defaults()
			if err := config.LoadFile(a.cfg.ConfFile, cfg); err != nil {
				logger.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
				continue
			}
			if err := config.Validate(cfg); err != nil {
				logger.Warn().Err(err).Msg("reloaded config invalid, keeping previous configuration")
				continue
			}
			if a.httpd != nil && a.httpd.NeedToRestart(httpd.Options{
				IP:      cfg.HTTPDIP,
				Port:    cfg.HTTPDPort,
				Trust:   cfg.HTTPDTrust,
				Version: a.version,
			}) {
				logger.Info().Msg("httpd configuration changed, restart required to apply")
			}
		}
	}
}

// safeRunTarget recovers panics into the logger so a task can never
// take the process down (spec §7 "tasks never raise out of the main
// loop").
func (a *Agent) safeRunTarget(ctx context.Context, tgt *target.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent: target %s panicked: %v", tgt.ID(), r)
			log.WithTarget(tgt.ID()).Error().Interface("panic", r).Msg("recovered panic in target run")
		}
	}()
	return a.runTarget(ctx, tgt)
}

// watchShutdown reacts to context cancellation: set the abort flag,
// stop new runs, and abort the current task (spec §5 "Cancellation").
func (a *Agent) watchShutdown(ctx context.Context) {
	<-ctx.Done()
	a.aborted.Store(true)

	a.mu.Lock()
	current := a.current
	a.mu.Unlock()
	if current != nil {
		current.Abort()
	}
}

func (a *Agent) shutdown() {
	if a.httpd != nil {
		a.httpd.Stop()
	}
	for _, tgt := range a.targets {
		tgt.Close()
	}
	a.targets = nil
	a.store.Close()
}

func (a *Agent) setStatus(status string) {
	if a.httpd != nil {
		a.httpd.SetStatus(status)
	}
}

func (a *Agent) setCurrent(t task.Task) {
	a.mu.Lock()
	a.current = t
	a.mu.Unlock()
}
