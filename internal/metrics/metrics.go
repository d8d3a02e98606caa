// Package metrics holds the process-wide atomic counters spec.md §1 calls
// out as in-scope observable state even though the metrics snapshotter that
// would export them is out of scope. No export pipeline lives here — just
// the counters themselves, read-only to the outside.
package metrics

import "sync/atomic"

// Counters aggregates the Validation Oracle Client's call/cache-hit tallies
// (spec.md §4.A Observability) plus the queue-depth and active-session gauges
// spec.md §1 names as part of the core's observable state.
type Counters struct {
	oracleTotalCalls atomic.Int64
	oracleCacheHits  atomic.Int64
	activeSessions   atomic.Int64
	queueDepth       atomic.Int64
}

func New() *Counters {
	return &Counters{}
}

// IncOracleCall records one external LLM round trip (a cache miss).
func (c *Counters) IncOracleCall() { c.oracleTotalCalls.Add(1) }

// IncOracleCacheHit records one Validate call served from the Submission
// Record cache without any external call.
func (c *Counters) IncOracleCacheHit() { c.oracleCacheHits.Add(1) }
func (c *Counters) IncActiveSessions() { c.activeSessions.Add(1) }
func (c *Counters) DecActiveSessions() { c.activeSessions.Add(-1) }
func (c *Counters) SetQueueDepth(n int64) { c.queueDepth.Store(n) }

// Snapshot is a read-only view suitable for logging or an admin endpoint.
type Snapshot struct {
	OracleTotalCalls int64
	OracleCacheHits  int64
	ActiveSessions   int64
	QueueDepth       int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		OracleTotalCalls: c.oracleTotalCalls.Load(),
		OracleCacheHits:  c.oracleCacheHits.Load(),
		ActiveSessions:   c.activeSessions.Load(),
		QueueDepth:       c.queueDepth.Load(),
	}
}
