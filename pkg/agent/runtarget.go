package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/inventory"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/protocol"
	"github.com/cuemby/fleetagent/pkg/target"
	"github.com/cuemby/fleetagent/pkg/task"
	"github.com/cuemby/fleetagent/pkg/tasks/inventorytask"
	"github.com/cuemby/fleetagent/pkg/tlsconfig"
)

// runTarget implements the §4.J per-target algorithm: drain ready
// events, handshake with a server target, then run the planned tasks.
func (a *Agent) runTarget(ctx context.Context, tgt *target.Target) error {
	logger := log.WithTarget(tgt.ID())

	// 1. Events first: each ready event either runs a specific task
	// or mutates planning state.
	for {
		ev := tgt.NextEvent()
		if ev == nil {
			break
		}
		if a.aborted.Load() {
			return nil
		}
		a.handleEvent(ctx, tgt, ev)
	}

	// 2. Server handshake.
	contact := task.Contact{}
	if tgt.IsType("server") {
		var err error
		contact, err = a.handshake(ctx, tgt)
		if err != nil {
			return err
		}
	}

	// 3. Planned tasks.
	for _, name := range tgt.PlannedTasks() {
		if a.aborted.Load() {
			a.setStatus("paused")
			break
		}
		if tgt.Paused() {
			a.setStatus("paused")
			break
		}
		a.setStatus("running task " + name)
		if err := a.runTask(ctx, tgt, name, nil, contact); err != nil {
			logger.Warn().Str("task", name).Err(err).Msg("task failed")
		}
		a.setStatus("waiting")
	}

	return nil
}

// handleEvent dispatches one ready event (spec §3's five kinds).
func (a *Agent) handleEvent(ctx context.Context, tgt *target.Target, ev *events.Event) {
	logger := log.WithTarget(tgt.ID())
	metrics.SchedulingLatency.Observe(time.Since(ev.RunDate).Seconds())

	switch ev.Kind {
	case events.KindInit:
		// Give the task a chance to warm up; a task with nothing to
		// initialize just runs its normal path next time.
		logger.Debug().Str("task", ev.Task).Msg("task init event")
	case events.KindTaskRun:
		if ev.AllTasks {
			tgt.TriggerRunTasksNow(ev)
			return
		}
		if err := a.runTask(ctx, tgt, ev.Task, ev, task.Contact{}); err != nil {
			logger.Warn().Str("task", ev.Task).Err(err).Msg("taskrun event failed")
		}
		if ev.Reschedule {
			tgt.ResetNextRunDate()
		}
	case events.KindPartial:
		if err := a.runTask(ctx, tgt, inventorytask.TaskName, ev, task.Contact{}); err != nil {
			logger.Warn().Err(err).Msg("partial inventory event failed")
		}
	case events.KindMaintenance:
		a.runMaintenance(tgt, ev)
	case events.KindJob:
		if err := a.runTask(ctx, tgt, ev.Task, ev, task.Contact{}); err != nil {
			logger.Warn().Str("task", ev.Task).Err(err).Msg("job event failed")
		}
	}
}

// runMaintenance handles a maintenance event: it scrubs expired
// sessions on a listener target and does nothing on other targets.
// No remote-state files are garbage-collected here.
func (a *Agent) runMaintenance(tgt *target.Target, ev *events.Event) {
	log.WithTarget(tgt.ID()).Debug().Str("task", ev.Task).Msg("maintenance event")
	if sessions := tgt.Sessions(); sessions != nil {
		sessions.Scrub()
	}
}

// handshake issues contact against a GLPI server, or PROLOG against a
// legacy one, and folds the response into the target (spec §4.J step
// 2).
func (a *Agent) handshake(ctx context.Context, tgt *target.Target) (task.Contact, error) {
	client, err := a.newClient(tgt)
	if err != nil {
		return task.Contact{}, err
	}

	if tgt.DoProlog() && !tgt.IsGlpiServer() {
		prolog, err := client.Prolog(ctx, a.state.DeviceID)
		if err != nil {
			return task.Contact{}, err
		}
		if prolog.PrologFreq > 0 {
			tgt.SetMaxDelay(time.Duration(prolog.PrologFreq) * time.Hour)
		}
		return task.Contact{}, nil
	}

	req := protocol.ContactRequest{
		DeviceID:       a.state.DeviceID,
		Action:         protocol.ActionContact,
		Name:           "FleetAgent",
		Version:        a.version,
		InstalledTasks: availableTaskNames(nil),
		EnabledTasks:   tgt.PlannedTasks(),
		Tag:            a.cfg.Tag,
	}
	if !a.cfg.NoHTTPD {
		req.HTTPDPort = a.cfg.HTTPDPort
	}

	resp, err := client.Send(ctx, protocol.ActionContact, req)
	if err != nil {
		return task.Contact{}, err
	}
	if !resp.OK() {
		return task.Contact{}, fmt.Errorf("agent: contact refused: %s", resp.Message)
	}

	tgt.SetIsGlpiServer(true)
	contact := task.Contact{Tasks: make(map[string]task.ContactTask, len(resp.Tasks))}
	for name, ct := range resp.Tasks {
		tgt.SetServerTaskSupport(name, target.TaskSupport{Server: ct.Server, Version: ct.Version})
		contact.Tasks[name] = task.ContactTask{Version: ct.Version, Server: ct.Server, Params: ct.Params}
	}
	if resp.Expiration > 0 {
		tgt.SetMaxDelay(time.Duration(resp.Expiration) * time.Hour)
	}
	return contact, nil
}

// runTask instantiates and runs one task against tgt. Only the
// inventory task is built in; other registered tasks run through the
// generic registry path.
func (a *Agent) runTask(ctx context.Context, tgt *target.Target, name string, ev *events.Event, contact task.Contact) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TaskRunDuration, name)

	var t task.Task
	if name == inventorytask.TaskName {
		t = inventorytask.New(a.inventoryDeps(tgt))
	} else {
		registered, ok := task.Lookup(name)
		if !ok {
			return fmt.Errorf("agent: unknown task %q", name)
		}
		t = registered
	}

	if !t.IsEnabled(contact) {
		metrics.TaskRunsTotal.WithLabelValues(name, "skipped").Inc()
		return nil
	}

	a.setCurrent(t)
	defer a.setCurrent(nil)

	result := t.Run(task.RunContext{
		Context:    ctx,
		Event:      ev,
		TargetName: tgt.ID(),
		Abort:      a.aborted.Load,
	})
	if result.Err != nil {
		metrics.TaskRunsTotal.WithLabelValues(name, "error").Inc()
		return result.Err
	}
	if result.Skipped {
		metrics.TaskRunsTotal.WithLabelValues(name, "skipped").Inc()
		return nil
	}
	metrics.TaskRunsTotal.WithLabelValues(name, "ok").Inc()
	return nil
}

// inventoryDeps assembles the inventory task's dependencies for one
// target (spec §4.G).
func (a *Agent) inventoryDeps(tgt *target.Target) inventorytask.Deps {
	return inventorytask.Deps{
		Storage:               tgt.Store(),
		StorageKey:            inventory.ServerStateKey,
		Submitter:             a.submitterFor(tgt),
		TargetKind:            tgt.Kind(),
		IsGlpiServer:          tgt.IsGlpiServer(),
		LocalFormat:           a.localFormat(),
		GlpiVersion:           a.cfg.GlpiVersion,
		Tag:                   a.cfg.Tag,
		Itemtype:              a.cfg.Itemtype,
		RequiredCategory:      a.cfg.RequiredCategory,
		NoCategory:            a.cfg.NoCategory,
		FullPostpone:          a.cfg.FullInventoryPostpone,
		ForceFull:             a.cfg.Full,
		AdditionalContent:     a.cfg.AdditionalContent,
		AgentID:               a.state.AgentID,
		DeviceID:              a.state.DeviceID,
		ScanHomedirs:          a.cfg.ScanHomedirs,
		ScanProfiles:          a.cfg.ScanProfiles,
		Credentials:           parseCredentials(a.cfg.Credentials),
		BackendTimeoutSeconds: a.cfg.BackendCollectTimeout,
	}
}

// localFormat resolves the --html/--json flags for local targets
// (spec §4.G step 4: local target respects html|json|xml).
func (a *Agent) localFormat() string {
	switch {
	case a.cfg.HTML:
		return "html"
	case a.cfg.JSON:
		return "json"
	default:
		return "xml"
	}
}

// parseCredentials splits --credentials K:V pairs into a map.
func parseCredentials(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for _, pair := range raw {
		for i := 0; i < len(pair); i++ {
			if pair[i] == ':' {
				out[pair[:i]] = pair[i+1:]
				break
			}
		}
	}
	return out
}

// newClient builds a short-lived protocol client for tgt.
func (a *Agent) newClient(tgt *target.Target) (*protocol.Client, error) {
	compression := protocol.CompressionZlib
	if a.cfg.NoCompression {
		compression = protocol.CompressionNone
	}
	return protocol.New(protocol.Options{
		URL:               tgt.URL(),
		Timeout:           time.Duration(a.cfg.Timeout) * time.Second,
		Compression:       compression,
		Proxy:             a.cfg.Proxy,
		User:              a.cfg.User,
		Password:          a.cfg.Password,
		OAuthClientID:     a.cfg.OAuthClientID,
		OAuthClientSecret: a.cfg.OAuthClientSecret,
		AgentID:           a.state.AgentID,
		AgentVersion:      a.version,
		Debug:             a.cfg.Debug > 0,
		TLS:               a.tlsOptions(),
	})
}

func (a *Agent) tlsOptions() tlsconfig.Options {
	return tlsconfig.Options{
		CACertFile:   a.cfg.CACertFile,
		CACertDir:    a.cfg.CACertDir,
		NoSSLCheck:   a.cfg.NoSSLCheck,
		Fingerprints: a.cfg.SSLFingerprint,
	}
}
