// Package metrics collects runtime observability data for the command
// execution engine.
//
// # Concurrency
//
// All recording methods use atomic operations exclusively; there is no
// lock on the hot path between a worker finishing a Job and the counters
// being visible to a concurrent Prometheus scrape.
package metrics

import "sync/atomic"

// Counters holds the in-process counters mirrored into Prometheus by
// prometheus.go. A single instance is shared process-wide across all
// Instances, since the spec's per-table REQUESTS counters are already
// per-instance in the SQL store; these are the cross-instance aggregate.
type Counters struct {
	JobsDispatched atomic.Int64
	JobsOK         atomic.Int64
	JobsTimedOut   atomic.Int64
	JobsCrashed    atomic.Int64
	JobsDropped    atomic.Int64 // Module unloaded between enqueue and dispatch

	OutboundLinesSent   atomic.Int64
	OutboundTicksThrottled atomic.Int64

	AccessDenials atomic.Int64
}

var global = &Counters{}

// Global returns the process-wide counters.
func Global() *Counters { return global }

// RecordJobOutcome increments the dispatched counter and the matching
// outcome counter. outcome must be one of "ok", "timeout", "crashed",
// "dropped".
func (c *Counters) RecordJobOutcome(outcome string) {
	c.JobsDispatched.Add(1)
	switch outcome {
	case "ok":
		c.JobsOK.Add(1)
	case "timeout":
		c.JobsTimedOut.Add(1)
	case "crashed":
		c.JobsCrashed.Add(1)
	case "dropped":
		c.JobsDropped.Add(1)
	}
	recordJobOutcomeProm(outcome)
}

// RecordOutboundLines adds n to the sent-line counter.
func (c *Counters) RecordOutboundLines(n int) {
	c.OutboundLinesSent.Add(int64(n))
	recordOutboundLinesProm(n)
}

// RecordThrottledTick marks one multiplexer tick where the flood limiter
// suppressed transmission for an instance.
func (c *Counters) RecordThrottledTick() {
	c.OutboundTicksThrottled.Add(1)
	recordThrottledTickProm()
}

// RecordAccessDenial marks one access-control operation that returned a
// denied or no-exist-invoker verdict.
func (c *Counters) RecordAccessDenial() {
	c.AccessDenials.Add(1)
	recordAccessDenialProm()
}
