package inventorytask

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/inventory"
	"github.com/cuemby/fleetagent/pkg/module"
	"github.com/cuemby/fleetagent/pkg/task"
)

// fakeStore is an in-memory Storage.
type fakeStore struct {
	blobs map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{blobs: map[string][]byte{}} }

func (s *fakeStore) Restore(name string) []byte { return s.blobs[name] }
func (s *fakeStore) Save(name string, blob []byte) error {
	s.blobs[name] = blob
	return nil
}

// fakeSubmitter records what the task handed over.
type fakeSubmitter struct {
	envs    []inventory.Envelope
	formats []string
}

func (s *fakeSubmitter) Submit(_ context.Context, _ *inventory.Document, env inventory.Envelope, format string) error {
	s.envs = append(s.envs, env)
	s.formats = append(s.formats, format)
	return nil
}

func registerStubModules(t *testing.T) {
	t.Helper()
	// The module registry is process-global and panics on duplicate
	// names; registering inside a sync-once-per-binary guard keeps
	// reruns of individual tests safe.
	if _, ok := module.Lookup("invtest-hardware"); ok {
		return
	}
	module.Register(module.Module{
		Name:     "invtest-hardware",
		Category: "hardware",
		DoInventory: func(ctx *module.Context) error {
			ctx.Document.SetHardware(inventory.Record{"NAME": "h1"})
			return nil
		},
	})
	module.Register(module.Module{
		Name:     "invtest-cpu",
		Category: "cpu",
		DoInventory: func(ctx *module.Context) error {
			ctx.Document.AddEntry("CPUS", inventory.Record{"NAME": "x86", "CORE": 4})
			return nil
		},
	})
}

func newTaskForTest(store *fakeStore, sub *fakeSubmitter, mutate func(*Deps)) *Task {
	deps := Deps{
		Storage:     store,
		StorageKey:  inventory.ServerStateKey,
		Submitter:   sub,
		TargetKind:  config.TargetLocal,
		LocalFormat: "json",
		Itemtype:    "Computer",
		DeviceID:    "h1-2026-01-01-00-00-00",
	}
	if mutate != nil {
		mutate(&deps)
	}
	return New(deps)
}

func runTask(t *testing.T, tk *Task, ev *events.Event) task.Result {
	t.Helper()
	return tk.Run(task.RunContext{
		Context: context.Background(),
		Event:   ev,
	})
}

func TestRunSubmitsEnvelope(t *testing.T) {
	registerStubModules(t)
	store := newFakeStore()
	sub := &fakeSubmitter{}
	tk := newTaskForTest(store, sub, nil)

	result := runTask(t, tk, nil)
	require.NoError(t, result.Err)
	require.Len(t, sub.envs, 1)

	env := sub.envs[0]
	assert.Equal(t, "inventory", env.Action)
	assert.Equal(t, "h1-2026-01-01-00-00-00", env.DeviceID)
	assert.Equal(t, "Computer", env.Itemtype)
	assert.False(t, env.Partial)
	assert.Contains(t, env.Content, "hardware")
	assert.Contains(t, env.Content, "cpus")
	assert.Equal(t, "json", sub.formats[0])
}

func TestRunPartialDropsUnchangedSections(t *testing.T) {
	registerStubModules(t)
	store := newFakeStore()
	sub := &fakeSubmitter{}
	tk := newTaskForTest(store, sub, func(d *Deps) { d.FullPostpone = 2 })

	// First run establishes the checksum state.
	require.NoError(t, runTask(t, tk, nil).Err)
	require.Len(t, sub.envs, 1)

	// Second run, partial for cpu with nothing changed: CPUS is
	// unchanged so it drops out, and the envelope flags partial.
	ev := &events.Event{Kind: events.KindPartial, Task: TaskName, Categories: []string{"cpu"}, RunDate: time.Now()}
	require.NoError(t, runTask(t, tk, ev).Err)
	require.Len(t, sub.envs, 2)

	env := sub.envs[1]
	assert.True(t, env.Partial)
	assert.NotContains(t, env.Content, "cpus", "unchanged section dropped from partial submission")
	assert.Contains(t, env.Content, "hardware", "always-keep section survives via the task cache")

	state := inventory.LoadLastState(store, inventory.ServerStateKey)
	assert.Equal(t, 1, state.PostponeCount)
}

func TestChooseFormat(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Deps)
		want   string
	}{
		{"local html", func(d *Deps) { d.TargetKind = config.TargetLocal; d.LocalFormat = "html" }, "html"},
		{"local default xml", func(d *Deps) { d.TargetKind = config.TargetLocal; d.LocalFormat = "" }, "xml"},
		{"glpi server json", func(d *Deps) { d.TargetKind = config.TargetServer; d.IsGlpiServer = true }, "json"},
		{"legacy server xml", func(d *Deps) { d.TargetKind = config.TargetServer; d.IsGlpiServer = false }, "xml"},
		{"listener xml", func(d *Deps) { d.TargetKind = config.TargetListener }, "xml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tk := newTaskForTest(newFakeStore(), &fakeSubmitter{}, tc.mutate)
			assert.Equal(t, tc.want, tk.chooseFormat())
		})
	}
}

func TestResolveScope(t *testing.T) {
	tk := newTaskForTest(newFakeStore(), &fakeSubmitter{}, nil)

	full, cats, explicit := tk.resolveScope(nil)
	assert.True(t, full)
	assert.Nil(t, cats)
	assert.False(t, explicit)

	full, cats, explicit = tk.resolveScope(&events.Event{Kind: events.KindPartial, Categories: []string{"cpu"}})
	assert.False(t, full)
	assert.Equal(t, []string{"cpu"}, cats)
	assert.True(t, explicit)

	full, _, explicit = tk.resolveScope(&events.Event{Kind: events.KindTaskRun, Full: true})
	assert.True(t, full)
	assert.False(t, explicit)
}

func TestIsEnabled(t *testing.T) {
	tk := newTaskForTest(newFakeStore(), &fakeSubmitter{}, nil)

	assert.True(t, tk.IsEnabled(task.Contact{}), "no contact restriction means enabled")
	assert.True(t, tk.IsEnabled(task.Contact{Tasks: map[string]task.ContactTask{"inventory": {Version: "1.0"}}}))
	assert.False(t, tk.IsEnabled(task.Contact{Tasks: map[string]task.ContactTask{"deploy": {}}}))
}

func TestMergeAdditionalContentJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"accountinfo": [{"KEYNAME": "TAG", "KEYVALUE": "datacenter-3"}],
		"hardware": {"NAME": "override"}
	}`), 0644))

	doc := inventory.New(inventory.Options{DeviceID: "d", Itemtype: "Computer"})
	require.NoError(t, mergeAdditionalContent(doc, path))

	assert.Equal(t, "override", doc.GetSingleton("HARDWARE")["NAME"])
	recs := doc.GetList("ACCOUNTINFO")
	require.Len(t, recs, 1)
	assert.Equal(t, "TAG", recs[0]["KEYNAME"])
}

func TestMergeAdditionalContentXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0"?>
<REQUEST>
  <CONTENT>
    <CPUS><NAME>imported</NAME><CORE>2</CORE></CPUS>
  </CONTENT>
</REQUEST>`), 0644))

	doc := inventory.New(inventory.Options{DeviceID: "d", Itemtype: "Computer"})
	require.NoError(t, mergeAdditionalContent(doc, path))

	recs := doc.GetList("CPUS")
	require.Len(t, recs, 1)
	assert.Equal(t, "imported", recs[0]["NAME"])
}
