package allocation

import (
	"github.com/uber-go/tally"
)

// Metrics is the struct containing all the counters and gauges that track
// internal state of the allocation table
type Metrics struct {
	AssignedChannelizers tally.Gauge
	BoundElements        tally.Gauge
	ModeConflicts        tally.Counter
}

// NewMetrics returns a new Metrics struct, with all metrics
// initialized and rooted at the given tally.Scope
func NewMetrics(scope tally.Scope) *Metrics {
	return &Metrics{
		AssignedChannelizers: scope.Gauge("assigned_channelizers"),
		BoundElements:        scope.Gauge("bound_elements"),
		ModeConflicts:        scope.Counter("mode_conflicts"),
	}
}
