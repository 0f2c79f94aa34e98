package metrics

import "time"

// Snapshot is the set of point-in-time gauges a Collector samples from
// the running agent. It is a plain struct rather than an interface onto
// pkg/agent/pkg/target directly, so metrics has no import-time
// dependency on the runtime packages that depend on it.
type Snapshot struct {
	TargetsByKind map[string]int
	QueuedByTarget map[string]int
}

// Source supplies the current Snapshot; pkg/agent's runtime implements
// this by reading its target table.
type Source interface {
	Snapshot() Snapshot
}

// Collector periodically samples a Source into the gauge metrics,
// mirroring cuemby/warren's pkg/metrics ticker-driven Collector.
type Collector struct {
	source Source
	period time.Duration
	stopCh chan struct{}
}

// NewCollector creates a Collector sampling source every period.
func NewCollector(source Source, period time.Duration) *Collector {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Collector{source: source, period: period, stopCh: make(chan struct{})}
}

// Start begins sampling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.Snapshot()

	TargetsTotal.Reset()
	for kind, n := range snap.TargetsByKind {
		TargetsTotal.WithLabelValues(kind).Set(float64(n))
	}

	QueuedEvents.Reset()
	for target, n := range snap.QueuedByTarget {
		QueuedEvents.WithLabelValues(target).Set(float64(n))
	}
}
