// Package agentclient defines the stable interface the Job-Execution
// Workflow's activities call against an agent, and a WebSocket-stream-backed
// implementation of it.
//
// Per the Design Notes' "generated activity-client with unstable typing"
// strategy: the source calls into a loosely-typed generated RPC client
// (`(this.client as any).runVerification`). Here the contract is a single
// Go interface with concrete method signatures — any drift between what an
// activity calls and what the transport can deliver fails to compile
// instead of failing at runtime.
package agentclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relayforge/dispatch/internal/streaming"
)

// ExecuteJobRequest is the input to ExecuteJob.
type ExecuteJobRequest struct {
	JobID   string
	OrgID   string
	Prompt  string
	RepoID  *string
	Details json.RawMessage
}

// VerificationResult is the outcome of RunVerification.
type VerificationResult struct {
	Success         bool
	ConfidenceScore *float64
}

// PRResult is the outcome of CreatePR.
type PRResult struct {
	PRLink string
}

// AgentClient is the set of activities the Job-Execution Workflow (C7)
// and Health-Check Workflow (C8) invoke against a specific agent's stream.
// Mirrors the spec's Agent gRPC surface (§6) one-to-one.
type AgentClient interface {
	// ExecuteJob starts code generation for a job. Log lines arrive as
	// LOG_MESSAGE frames on the same stream and are routed to the log
	// sink out-of-band; this call blocks until the terminal
	// EXECUTE_RESULT frame arrives or ctx is done.
	ExecuteJob(ctx context.Context, req ExecuteJobRequest) error

	// CancelJob asks the agent to abandon a running job.
	CancelJob(ctx context.Context, jobID string) error

	// RunVerification asks the agent to verify a completed execution.
	RunVerification(ctx context.Context, jobID string) (VerificationResult, error)

	// CreatePR asks the agent to open a pull request for a job's branch.
	CreatePR(ctx context.Context, jobID, repoID, branch, title, body string) (PRResult, error)

	// CleanupWorkspace tears down a job's workspace. Always called, even
	// on failure, in the Job-Execution Workflow's terminal block.
	CleanupWorkspace(ctx context.Context, jobID string) error

	// HealthCheck sends a synchronous HEALTH_CHECK frame to the agent and
	// waits for its HEALTH_RESULT. The manual reconnect endpoint does not
	// use it; it pings through dispatch.HealthCheckRunner.Reconnect.
	HealthCheck(ctx context.Context, agentID string) error
}

// streamClient implements AgentClient over a streaming.Manager.
type streamClient struct {
	agentID string
	mgr     *streaming.Manager
}

// New returns an AgentClient that addresses agentID's live stream session
// through mgr.
func New(mgr *streaming.Manager, agentID string) AgentClient {
	return &streamClient{agentID: agentID, mgr: mgr}
}

func (c *streamClient) ExecuteJob(ctx context.Context, req ExecuteJobRequest) error {
	payload := streaming.TaskAssignmentPayload{
		JobID:   req.JobID,
		OrgID:   req.OrgID,
		Prompt:  req.Prompt,
		RepoID:  req.RepoID,
		Details: req.Details,
	}
	raw, err := c.mgr.Request(ctx, c.agentID, req.JobID, streaming.FrameTaskAssignment, payload, streaming.FrameExecuteResult)
	if err != nil {
		return err
	}
	var result streaming.ExecuteResultPayload
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("agentclient: decode execute result: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("agentclient: execute_job failed: %s", result.Error)
	}
	return nil
}

func (c *streamClient) CancelJob(ctx context.Context, jobID string) error {
	_, err := c.mgr.Request(ctx, c.agentID, jobID, streaming.FrameCancelJob,
		streaming.CancelJobPayload{JobID: jobID}, streaming.FrameCancelResult)
	return err
}

func (c *streamClient) RunVerification(ctx context.Context, jobID string) (VerificationResult, error) {
	raw, err := c.mgr.Request(ctx, c.agentID, jobID, streaming.FrameRunVerification,
		streaming.RunVerificationPayload{JobID: jobID}, streaming.FrameVerificationResult)
	if err != nil {
		return VerificationResult{}, err
	}
	var result streaming.VerificationResultPayload
	if err := json.Unmarshal(raw, &result); err != nil {
		return VerificationResult{}, fmt.Errorf("agentclient: decode verification result: %w", err)
	}
	if !result.Success {
		return VerificationResult{}, fmt.Errorf("agentclient: verification failed: %s", result.Error)
	}
	return VerificationResult{Success: true, ConfidenceScore: result.ConfidenceScore}, nil
}

func (c *streamClient) CreatePR(ctx context.Context, jobID, repoID, branch, title, body string) (PRResult, error) {
	raw, err := c.mgr.Request(ctx, c.agentID, jobID, streaming.FrameCreatePR, streaming.CreatePRPayload{
		JobID: jobID, RepoID: repoID, Branch: branch, Title: title, Body: body,
	}, streaming.FramePRResult)
	if err != nil {
		return PRResult{}, err
	}
	var result streaming.PRResultPayload
	if err := json.Unmarshal(raw, &result); err != nil {
		return PRResult{}, fmt.Errorf("agentclient: decode PR result: %w", err)
	}
	if result.Error != "" {
		return PRResult{}, fmt.Errorf("agentclient: create_pr failed: %s", result.Error)
	}
	return PRResult{PRLink: result.PRLink}, nil
}

func (c *streamClient) CleanupWorkspace(ctx context.Context, jobID string) error {
	raw, err := c.mgr.Request(ctx, c.agentID, jobID, streaming.FrameCleanupWorkspace,
		streaming.CleanupWorkspacePayload{JobID: jobID}, streaming.FrameCleanupResult)
	if err != nil {
		return err
	}
	var result streaming.CleanupResultPayload
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("agentclient: decode cleanup result: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("agentclient: cleanup_workspace failed: %s", result.Error)
	}
	return nil
}

func (c *streamClient) HealthCheck(ctx context.Context, agentID string) error {
	_, err := c.mgr.Request(ctx, agentID, agentID, streaming.FrameHealthCheckReq,
		streaming.HealthCheckRequestPayload{}, streaming.FrameHealthResult)
	return err
}
