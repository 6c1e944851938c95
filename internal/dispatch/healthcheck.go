package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/observability"
	"github.com/relayforge/dispatch/internal/streaming"
)

// PingTimeout is how long a Health-Check firing waits for an inbound
// HEARTBEAT acknowledgment before counting the ping as failed (§4.7 step 2).
const PingTimeout = 5 * time.Second

// ReconnectTimeout is the manual-reconnect endpoint's synchronous ping
// timeout (§4.7, "User-initiated reconnect").
const ReconnectTimeout = 10 * time.Second

// HealthCheckRunner implements the Health-Check Workflow (C8): §4.7.
type HealthCheckRunner struct {
	store     core.Storage
	sess      *streaming.Manager
	scheduler *Scheduler
	log       *slog.Logger

	// Stats is optional; see Preprocessor.Stats.
	Stats *observability.Stats
}

// NewHealthCheckRunner constructs a HealthCheckRunner.
func NewHealthCheckRunner(store core.Storage, sess *streaming.Manager, scheduler *Scheduler, log *slog.Logger) *HealthCheckRunner {
	if log == nil {
		log = slog.Default()
	}
	return &HealthCheckRunner{store: store, sess: sess, scheduler: scheduler, log: log}
}

// Run executes one Health-Check firing for agentID (§4.7 steps 1-4).
func (h *HealthCheckRunner) Run(ctx context.Context, agentID string) error {
	agent, err := h.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status != core.AgentActive {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	nonce := agentID + ":" + time.Now().Format(time.RFC3339Nano)
	err = h.ping(pingCtx, agent.ID, nonce)
	cancel()

	if err == nil {
		return h.store.MarkAgentPingSuccess(ctx, agent.ID)
	}

	if h.Stats != nil {
		h.Stats.RecordHealthCheckFailure()
	}
	failures, incErr := h.store.IncrementAgentFailures(ctx, agent.ID)
	if incErr != nil {
		return incErr
	}
	if failures >= core.OfflineThreshold {
		if err := h.store.SetAgentStatus(ctx, agent.ID, core.AgentOffline); err != nil {
			return err
		}
		h.scheduler.PauseSchedules(ctx, agent.ID)
		if h.Stats != nil {
			h.Stats.RecordOfflineTransition()
		}
	}
	return nil
}

// ping sends a HEALTH_CHECK_PING and blocks for the matching HEARTBEAT
// acknowledgment, or until ctx times out.
func (h *HealthCheckRunner) ping(ctx context.Context, agentID, nonce string) error {
	if err := h.sess.WriteHealthCheckPing(agentID, nonce); err != nil {
		return err
	}
	// The HEARTBEAT frame updates agents.last_active directly (§4.3
	// table); there is no separate ack channel to await beyond that
	// write succeeding and a subsequent heartbeat landing before timeout.
	return h.awaitHeartbeat(ctx, agentID)
}

// awaitHeartbeat polls for a fresh last_active timestamp, standing in for
// an explicit ack-correlation channel: the agent's only obligation on a
// HEALTH_CHECK_PING is to reply with a bare HEARTBEAT frame, which carries
// no payload to correlate against a nonce.
func (h *HealthCheckRunner) awaitHeartbeat(ctx context.Context, agentID string) error {
	before, err := h.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	baseline := before.LastActive

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return core.ErrHeartbeatTimeout
		case <-ticker.C:
			agent, err := h.store.GetAgent(ctx, agentID)
			if err != nil {
				return err
			}
			if agent.LastActive != nil && (baseline == nil || agent.LastActive.After(*baseline)) {
				return nil
			}
		}
	}
}

// Reconnect implements the manual reconnect endpoint (§4.7): a synchronous
// ping with a 10-second timeout; on success, activates the agent and
// resumes its schedules.
func (h *HealthCheckRunner) Reconnect(ctx context.Context, agentID string) error {
	pingCtx, cancel := context.WithTimeout(ctx, ReconnectTimeout)
	defer cancel()

	nonce := agentID + ":reconnect:" + time.Now().Format(time.RFC3339Nano)
	if err := h.ping(pingCtx, agentID, nonce); err != nil {
		return err
	}

	if err := h.store.MarkAgentPingSuccess(ctx, agentID); err != nil {
		return err
	}
	if err := h.store.SetAgentStatus(ctx, agentID, core.AgentActive); err != nil {
		return err
	}
	h.scheduler.EnsureSchedules(ctx, agentID)
	return nil
}

var _ HealthChecker = (*HealthCheckRunner)(nil)
