// Package observability implements the Observability component (C11)'s
// coarse in-process counter snapshot, grounded on the teacher's ui/stats.go
// collector. It holds no loggers; components log through log/slog.
package observability

import "sync/atomic"

// Stats holds coarse in-process counters for dispatch throughput and
// resilience events. All fields are updated with atomic ops so any
// goroutine (dispatch loop, health-check loop, stream handler) can record
// without a lock, mirroring the teacher's atomic-counter collector.
type Stats struct {
	claims          atomic.Int64
	claimConflicts  atomic.Int64
	orphanRecoveries atomic.Int64
	offlineTransitions atomic.Int64
	healthCheckFailures atomic.Int64
}

// New returns a zeroed Stats collector.
func New() *Stats {
	return &Stats{}
}

// RecordClaim increments the successful-claim counter.
func (s *Stats) RecordClaim() { s.claims.Add(1) }

// RecordClaimConflict increments the counter for a claim attempt that lost
// a race to another agent's transaction.
func (s *Stats) RecordClaimConflict() { s.claimConflicts.Add(1) }

// RecordOrphanRecovery increments the orphan-reconciliation counter.
func (s *Stats) RecordOrphanRecovery(n int) { s.orphanRecoveries.Add(int64(n)) }

// RecordOfflineTransition increments the agent-offline counter.
func (s *Stats) RecordOfflineTransition() { s.offlineTransitions.Add(1) }

// RecordHealthCheckFailure increments the failed-ping counter.
func (s *Stats) RecordHealthCheckFailure() { s.healthCheckFailures.Add(1) }

// Snapshot is a point-in-time copy of every counter, safe to serialize.
type Snapshot struct {
	Claims              int64 `json:"claims"`
	ClaimConflicts      int64 `json:"claim_conflicts"`
	OrphanRecoveries    int64 `json:"orphan_recoveries"`
	OfflineTransitions  int64 `json:"offline_transitions"`
	HealthCheckFailures int64 `json:"health_check_failures"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Claims:              s.claims.Load(),
		ClaimConflicts:      s.claimConflicts.Load(),
		OrphanRecoveries:    s.orphanRecoveries.Load(),
		OfflineTransitions:  s.offlineTransitions.Load(),
		HealthCheckFailures: s.healthCheckFailures.Load(),
	}
}
