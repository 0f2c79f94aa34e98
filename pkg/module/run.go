package module

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
)

// Run executes modules in plan order under ctx, giving each module's
// isEnabled/doInventory pair its own timeout (spec §4.F "run under a
// per-module timeout (backend-collect-timeout, default 180s)... a
// timeout logs and aborts the module without failing the task"),
// following the teacher's context.WithTimeout + goroutine pattern for
// bounding a blocking call (see DESIGN.md, grounded on
// pkg/health/exec.go's ExecChecker.Check).
//
// abort, if non-nil, is polled between modules; when it returns true
// the remaining plan is skipped (spec §4.F "graceful termination...
// sets an abort flag checked between modules").
func Run(ctx context.Context, plan []Module, mctx *Context, timeout time.Duration, abort func() bool) error {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	for _, m := range plan {
		if abort != nil && abort() {
			log.WithComponent("module").Info().Str("module", m.Name).Msg("aborting before run: termination requested")
			return nil
		}

		if m.IsEnabled != nil && !runIsEnabled(ctx, m, mctx, timeout) {
			continue
		}
		if m.DoInventory == nil {
			continue
		}
		if err := runDoInventory(ctx, m, mctx, timeout); err != nil {
			log.WithComponent("module").Warn().Str("module", m.Name).Err(err).Msg("module aborted")
		}
	}
	return nil
}

func runIsEnabled(ctx context.Context, m Module, mctx *Context, timeout time.Duration) bool {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		child := *mctx
		child.Context = runCtx
		done <- m.IsEnabled(&child)
	}()

	select {
	case ok := <-done:
		return ok
	case <-runCtx.Done():
		metrics.ModuleTimeoutsTotal.WithLabelValues(m.Name).Inc()
		log.WithComponent("module").Warn().Str("module", m.Name).Msg("isEnabled timed out")
		return false
	}
}

func runDoInventory(ctx context.Context, m Module, mctx *Context, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		child := *mctx
		child.Context = runCtx
		done <- m.DoInventory(&child)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		metrics.ModuleTimeoutsTotal.WithLabelValues(m.Name).Inc()
		return fmt.Errorf("module %s: %w", m.Name, runCtx.Err())
	}
}
