// Package dispatch implements the Preprocess Step (C5), the per-agent
// Dispatch Workflow (C6), and the Health-Check Workflow (C8): the periodic
// machinery that drives one agent at a time through orphan recovery,
// heartbeat, and claim.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/observability"
	"github.com/relayforge/dispatch/internal/streaming"
)

// PreprocessResult is the {job_id?, queue_type?, org_id?} tuple §4.4
// specifies as Preprocess's output.
type PreprocessResult struct {
	JobID     string
	QueueType core.QueueType
	OrgID     string
}

// Claimed reports whether this result carries a claimed job.
func (r PreprocessResult) Claimed() bool { return r.JobID != "" }

// Preprocessor implements §4.4's five-step algorithm.
type Preprocessor struct {
	store core.Storage
	sess  *streaming.Manager
	log   *slog.Logger

	// Stats is optional; set by cmd/dispatchd's wiring to feed C11's
	// coarse counters. A nil Stats disables recording, so tests that
	// construct a Preprocessor directly need no changes.
	Stats *observability.Stats
}

// NewPreprocessor constructs a Preprocessor over store and sess.
func NewPreprocessor(store core.Storage, sess *streaming.Manager, log *slog.Logger) *Preprocessor {
	if log == nil {
		log = slog.Default()
	}
	return &Preprocessor{store: store, sess: sess, log: log}
}

// queuePriorityOrder is rework-first, per §4.4 step 4: "rework has strict
// priority" over backlog.
var queuePriorityOrder = []core.QueueType{core.QueueRework, core.QueueBacklog}

// Run executes the Preprocess activity for one agent (§4.4).
func (p *Preprocessor) Run(ctx context.Context, agentID string) (PreprocessResult, error) {
	// Step 1: load agent.
	agent, err := p.store.GetAgent(ctx, agentID)
	if err != nil {
		return PreprocessResult{}, err
	}
	if agent.Status != core.AgentActive {
		return PreprocessResult{}, nil
	}

	// Step 2: orphan reconciliation. Fatal to the activity on failure —
	// the caller (Dispatch Workflow) retries the whole activity.
	orphans, err := p.store.ReconcileOrphans(ctx, agent.OrgID, agentID, core.OrphanTimeout)
	if err != nil {
		return PreprocessResult{}, err
	}
	if p.Stats != nil && len(orphans) > 0 {
		p.Stats.RecordOrphanRecovery(len(orphans))
	}

	// Step 3: in-progress heartbeat. Step 2 requeues every in-progress job
	// held by this agent, so this normally finds none; if one is found, the
	// agent heartbeats instead of claiming a second job.
	if job, err := p.store.InProgressJobForAgent(ctx, agentID); err != nil {
		return PreprocessResult{}, err
	} else if job != nil {
		p.heartbeat(ctx, agent)
		return PreprocessResult{OrgID: agent.OrgID}, nil
	}

	// Step 4: queue selection, rework first.
	for _, queue := range queuePriorityOrder {
		paused, err := p.store.IsQueuePaused(ctx, agent.OrgID, queue)
		if err != nil {
			return PreprocessResult{}, err
		}
		if paused {
			continue
		}

		job, err := p.store.ClaimNext(ctx, agent.OrgID, queue, agentID)
		if err != nil {
			return PreprocessResult{}, err
		}
		if job != nil {
			p.recordClaim(ctx, job, agentID)
			if p.Stats != nil {
				p.Stats.RecordClaim()
			}
			return PreprocessResult{JobID: job.ID, QueueType: queue, OrgID: agent.OrgID}, nil
		}
	}

	// Step 5.
	return PreprocessResult{OrgID: agent.OrgID}, nil
}

// heartbeat implements step 3's stream-write side effect. A stream write
// failure here is explicitly non-fatal (§4.4 "Ordering contract").
func (p *Preprocessor) heartbeat(ctx context.Context, agent *core.Agent) {
	if p.sess != nil {
		if err := p.sess.WriteHealthCheckPing(agent.ID, ""); err != nil {
			p.log.Warn("in-progress heartbeat ping failed", "agent_id", agent.ID, "error", err)
		}
	}
	if err := p.store.MarkAgentPingSuccess(ctx, agent.ID); err != nil {
		p.log.Warn("failed to touch agent liveness on heartbeat", "agent_id", agent.ID, "error", err)
	}
}

// recordClaim writes the JobClaimed activity/event trail for a successful
// step-4 claim.
func (p *Preprocessor) recordClaim(ctx context.Context, job *core.Job, agentID string) {
	activity := &core.Activity{
		JobID:     job.ID,
		OrgID:     job.OrgID,
		Name:      core.ActivityJobClaimed,
		Summary:   "claimed by agent " + agentID,
		UpdatedBy: agentID,
	}
	if err := p.store.RecordActivity(ctx, activity); err != nil {
		p.log.Warn("failed to record claim activity", "job_id", job.ID, "error", err)
	}
}
