package module

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanOrdersByDependency(t *testing.T) {
	modules := []Module{
		{Name: "cpu", Category: "cpu"},
		{Name: "network", Category: "network", RunAfter: []string{"cpu"}},
		{Name: "storage", Category: "storage", RunAfter: []string{"network"}},
	}
	plan, err := Plan(modules, nil)
	require.NoError(t, err)
	names := namesOf(plan)
	assert.Equal(t, []string{"cpu", "network", "storage"}, names)
}

func TestPlanExcludesDisabledCategory(t *testing.T) {
	modules := []Module{
		{Name: "cpu", Category: "cpu"},
		{Name: "video", Category: "video"},
	}
	plan, err := Plan(modules, map[string]bool{"video": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu"}, namesOf(plan))
}

func TestPlanAlphabeticalAmongPeers(t *testing.T) {
	modules := []Module{
		{Name: "zeta", Category: "a"},
		{Name: "alpha", Category: "a"},
		{Name: "mike", Category: "a"},
	}
	plan, err := Plan(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mike", "zeta"}, namesOf(plan))
}

func TestPlanDetectsCycle(t *testing.T) {
	modules := []Module{
		{Name: "a", Category: "x", RunAfter: []string{"b"}},
		{Name: "b", Category: "x", RunAfter: []string{"a"}},
	}
	_, err := Plan(modules, nil)
	require.Error(t, err)
}

func TestPlanRunMeIfTheseChecksFailed(t *testing.T) {
	modules := []Module{
		{Name: "primary", Category: "x"},
		{Name: "fallback", Category: "x", RunMeIfTheseChecksFailed: []string{"primary"}},
	}
	plan, err := Plan(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, namesOf(plan), "fallback should be disabled when its target is enabled")

	onlyFallback := []Module{
		{Name: "fallback", Category: "x", RunMeIfTheseChecksFailed: []string{"primary"}},
	}
	plan, err = Plan(onlyFallback, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback"}, namesOf(plan), "fallback runs when its target isn't present at all")
}

func TestPlanSoftDependencyOnlyWhenEnabled(t *testing.T) {
	modules := []Module{
		{Name: "cpu", Category: "cpu"},
		{Name: "video", Category: "video", RunAfterIfEnabled: []string{"cpu"}},
	}
	plan, err := Plan(modules, map[string]bool{"cpu": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"video"}, namesOf(plan))
}

func TestRunHonorsTimeout(t *testing.T) {
	ran := false
	modules := []Module{
		{
			Name:     "slow",
			Category: "x",
			DoInventory: func(ctx *Context) error {
				select {
				case <-time.After(50 * time.Millisecond):
					ran = true
				case <-ctx.Done():
				}
				return nil
			},
		},
	}
	err := Run(context.Background(), modules, &Context{Context: context.Background()}, 5*time.Millisecond, nil)
	require.NoError(t, err)
	assert.False(t, ran, "module should have been aborted before completing")
}

func TestRunStopsOnAbort(t *testing.T) {
	called := 0
	modules := []Module{
		{Name: "first", DoInventory: func(ctx *Context) error { called++; return nil }},
		{Name: "second", DoInventory: func(ctx *Context) error { called++; return nil }},
	}
	abort := func() bool { return true }
	err := Run(context.Background(), modules, &Context{Context: context.Background()}, time.Second, abort)
	require.NoError(t, err)
	assert.Equal(t, 0, called)
}

func TestRegisterAndLookup(t *testing.T) {
	defer reset()
	Register(Module{Name: "probe-x", Category: "x"})
	m, ok := Lookup("probe-x")
	require.True(t, ok)
	assert.Equal(t, "x", m.Category)
}

func namesOf(modules []Module) []string {
	out := make([]string, len(modules))
	for i, m := range modules {
		out[i] = m.Name
	}
	return out
}
