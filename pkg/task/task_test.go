package task

import (
	"context"
	"testing"

	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTask struct {
	Base
}

func (s *stubTask) IsEnabled(Contact) bool { return true }
func (s *stubTask) Run(rc RunContext) Result {
	return Result{Skipped: s.Aborted()}
}
func (s *stubTask) NewEvent() *events.Event { return &events.Event{Kind: events.KindInit, Task: s.TaskName} }

func TestDiscoverExcludesNoTask(t *testing.T) {
	defer reset()
	Register(&stubTask{Base: Base{TaskName: "inventory"}})
	Register(&stubTask{Base: Base{TaskName: "deploy"}})

	discovered := Discover(map[string]bool{"deploy": true})
	require.Len(t, discovered, 1)
	assert.Equal(t, "inventory", discovered[0].Name())
}

func TestDiscoverSortsByName(t *testing.T) {
	defer reset()
	Register(&stubTask{Base: Base{TaskName: "wakeonlan"}})
	Register(&stubTask{Base: Base{TaskName: "deploy"}})
	Register(&stubTask{Base: Base{TaskName: "collect"}})

	discovered := Discover(nil)
	require.Len(t, discovered, 3)
	assert.Equal(t, "collect", discovered[0].Name())
	assert.Equal(t, "deploy", discovered[1].Name())
	assert.Equal(t, "wakeonlan", discovered[2].Name())
}

func TestAbortFlagObservedByRun(t *testing.T) {
	st := &stubTask{Base: Base{TaskName: "inventory"}}
	st.Abort()
	res := st.Run(RunContext{Context: context.Background()})
	assert.True(t, res.Skipped)
}

func TestLookup(t *testing.T) {
	defer reset()
	Register(&stubTask{Base: Base{TaskName: "inventory"}})
	found, ok := Lookup("inventory")
	require.True(t, ok)
	assert.Equal(t, "inventory", found.Name())

	_, ok = Lookup("missing")
	assert.False(t, ok)
}
