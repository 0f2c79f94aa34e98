package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueOrdersByRunDate(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	q.Add(&Event{Kind: KindJob, Task: "c", RunDate: now.Add(3 * time.Hour), Safe: true})
	q.Add(&Event{Kind: KindJob, Task: "a", RunDate: now.Add(1 * time.Hour), Safe: true})
	q.Add(&Event{Kind: KindJob, Task: "b", RunDate: now.Add(2 * time.Hour), Safe: true})

	require.Equal(t, "a", q.Next(now.Add(24*time.Hour)).Task)
	require.Equal(t, "b", q.Next(now.Add(24*time.Hour)).Task)
	require.Equal(t, "c", q.Next(now.Add(24*time.Hour)).Task)
	require.Nil(t, q.Next(now.Add(24*time.Hour)))
}

func TestNextWithheldUntilRunDate(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.Add(&Event{Kind: KindJob, Task: "later", RunDate: now.Add(time.Hour), Safe: true})

	require.Nil(t, q.Next(now))
	require.NotNil(t, q.Next(now.Add(2*time.Hour)))
}

func TestPartialEventSupersedesOlder(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.Add(&Event{Kind: KindPartial, Task: "inventory", Categories: []string{"cpu"}, RunDate: now, Safe: true})
	q.Add(&Event{Kind: KindPartial, Task: "inventory", Categories: []string{"network"}, RunDate: now, Safe: true})

	require.Equal(t, 1, q.Len())
	ev := q.Next(now)
	require.Equal(t, []string{"network"}, ev.Categories)
}

func TestMaintenanceEventReplacesSameTargetTask(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.Add(&Event{Kind: KindMaintenance, Task: "gc", Target: "server0", RunDate: now, Safe: true})
	q.Add(&Event{Kind: KindMaintenance, Task: "gc", Target: "server0", RunDate: now.Add(time.Minute), Safe: true})
	q.Add(&Event{Kind: KindMaintenance, Task: "gc", Target: "local0", RunDate: now, Safe: true})

	require.Equal(t, 2, q.Len())
}

func TestCooldownSuppressesRapidReinsertion(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.Add(&Event{Kind: KindTaskRun, Task: "inventory", RunDate: now})
	q.Add(&Event{Kind: KindTaskRun, Task: "inventory", RunDate: now})

	require.Equal(t, 1, q.Len())
}

func TestCapacityDropsExcessEvents(t *testing.T) {
	q := NewQueue()
	q.capacity = 2
	now := time.Now()
	q.Add(&Event{Kind: KindJob, Task: "1", RunDate: now, Safe: true})
	q.Add(&Event{Kind: KindJob, Task: "2", RunDate: now, Safe: true})
	q.Add(&Event{Kind: KindJob, Task: "3", RunDate: now, Safe: true})

	require.Equal(t, 2, q.Len())
}
