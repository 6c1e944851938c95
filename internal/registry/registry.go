// Package registry implements the Agent Registry (C2): API-key-authenticated
// agent registration and its post-registration schedule hook.
package registry

import (
	"context"
	"log/slog"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/dispatch"
	"github.com/relayforge/dispatch/internal/security"
)

// RegisterResult is register()'s {agent_id, org_id, created|updated} output.
// PriorStatus is exactly what UpsertAgent reports: "offline" covers both a
// brand-new agent row and a previously-offline one, since the store's
// upsert does not distinguish the two beyond that shared prior state.
type RegisterResult struct {
	AgentID     string
	OrgID       string
	PriorStatus core.AgentStatus
}

// Registry implements §4.2's register() and the manual reconnect surface
// backing the /agents/:id/reconnect route.
type Registry struct {
	store     core.Storage
	scheduler *dispatch.Scheduler
	health    *dispatch.HealthCheckRunner
	log       *slog.Logger
}

// New constructs a Registry.
func New(store core.Storage, scheduler *dispatch.Scheduler, health *dispatch.HealthCheckRunner, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: store, scheduler: scheduler, health: health, log: log}
}

// Register hashes apiKey, resolves it to an owning org through the
// provisioned OrgAPIKey table, and upserts the agent on (org_id, hostname),
// per §4.2. The org's API key is provisioned out of band (before any agent
// registers, e.g. via ProvisionKey below or the admin CLI); a miss means
// the key was never issued.
func (r *Registry) Register(ctx context.Context, apiKey, hostname string, ip *string, port int) (RegisterResult, error) {
	keyHash, err := security.HashAPIKey(apiKey)
	if err != nil {
		return RegisterResult{}, err
	}

	orgID, err := r.store.ResolveOrgByKeyHash(ctx, keyHash)
	if err != nil {
		return RegisterResult{}, core.ErrInvalidCredentials
	}

	agent, priorStatus, err := r.store.UpsertAgent(ctx, orgID, hostname, port, ip, keyHash)
	if err != nil {
		return RegisterResult{}, err
	}

	// Post-condition hook (§4.2): best-effort, never fails registration.
	if priorStatus != core.AgentActive {
		r.scheduler.EnsureSchedules(ctx, agent.ID)
	}

	return RegisterResult{AgentID: agent.ID, OrgID: agent.OrgID, PriorStatus: priorStatus}, nil
}

// HealthCheck implements the synchronous `HealthCheck(agentId)` backend
// surface named in §6, used by the reconnect endpoint's ping path.
func (r *Registry) HealthCheck(ctx context.Context, agentID string) error {
	return r.health.Reconnect(ctx, agentID)
}

// ProvisionKey issues a new API key for orgID, hashing it before storage.
// Used by cmd/dispatchctl's org-provisioning path and by tests; there is no
// REST route for it since key issuance is an operator action, not a
// tenant-facing one.
func (r *Registry) ProvisionKey(ctx context.Context, orgID, rawKey, label string) error {
	keyHash, err := security.HashAPIKey(rawKey)
	if err != nil {
		return err
	}
	return r.store.CreateOrgAPIKey(ctx, orgID, keyHash, label)
}
