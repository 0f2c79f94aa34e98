package task

import "sync/atomic"

// Base provides the bookkeeping every concrete task needs (an abort
// flag, a name) so a concrete task only has to embed it and implement
// IsEnabled/Run/NewEvent. Grounded on the teacher's small-mutex-guarded-
// struct convention rather than any single file, since no corpus task
// shares this exact lifecycle shape.
type Base struct {
	TaskName string
	aborted  atomic.Bool
}

// Name implements Task.
func (b *Base) Name() string { return b.TaskName }

// Abort implements Task: sets the flag a long-running Run should poll
// via RunContext.Abort or b.Aborted.
func (b *Base) Abort() { b.aborted.Store(true) }

// Aborted reports whether Abort was called.
func (b *Base) Aborted() bool { return b.aborted.Load() }
