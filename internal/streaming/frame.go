// Package streaming implements the Agent Stream Manager (§4.3): a
// process-local mapping of agent_id to a live bidirectional WebSocket
// session, and the tagged-frame codec both sides speak over it.
//
// The source protocol carries dynamic any-typed JSON payloads inside stream
// frames. Per the Design Notes' "dynamic any-typed frame payloads" strategy,
// each frame is a tagged sum type: a stable Kind discriminator plus a
// per-kind payload, decoded from a single json.RawMessage field so the wire
// format never loses type information the way an untyped map would.
package streaming

import (
	"encoding/json"
	"time"

	"github.com/relayforge/dispatch/internal/core"
)

// FrameKind discriminates the payload carried by a Frame.
type FrameKind string

const (
	// Inbound (agent -> backend)
	FrameInit       FrameKind = "INIT"
	FrameHeartbeat  FrameKind = "HEARTBEAT"
	FrameLogMessage FrameKind = "LOG_MESSAGE"

	// Inbound responses to an outbound activity request, correlated by job ID.
	FrameExecuteResult      FrameKind = "EXECUTE_RESULT"
	FrameCancelResult       FrameKind = "CANCEL_RESULT"
	FrameVerificationResult FrameKind = "VERIFICATION_RESULT"
	FramePRResult           FrameKind = "PR_RESULT"
	FrameCleanupResult      FrameKind = "CLEANUP_RESULT"
	FrameHealthResult       FrameKind = "HEALTH_RESULT"

	// Outbound (backend -> agent)
	FrameHealthCheckPing FrameKind = "HEALTH_CHECK_PING"
	FrameTaskAssignment  FrameKind = "TASK_ASSIGNMENT"
	FrameCancelJob       FrameKind = "CANCEL_JOB"
	FrameRunVerification FrameKind = "RUN_VERIFICATION"
	FrameCreatePR        FrameKind = "CREATE_PR"
	FrameCleanupWorkspace FrameKind = "CLEANUP_WORKSPACE"
	FrameHealthCheckReq  FrameKind = "HEALTH_CHECK"
)

// Frame is the wire envelope for every message exchanged over an agent
// stream. Payload is decoded according to Kind by the handler that reads it.
type Frame struct {
	Kind    FrameKind       `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitPayload binds a freshly opened stream to an agent identity. Must be
// the first frame sent by the agent (§4.3).
type InitPayload struct {
	AgentID string `json:"agent_id"`
	OrgID   string `json:"org_id"`
}

// HeartbeatPayload carries no data; its arrival alone is the signal.
type HeartbeatPayload struct{}

// LogMessagePayload is one line of agent-reported output.
type LogMessagePayload struct {
	JobID      string        `json:"job_id"`
	JobVersion int           `json:"job_version"`
	Level      core.LogLevel `json:"level"`
	Timestamp  time.Time     `json:"timestamp"`
	Message    string        `json:"message"`
	Stage      string        `json:"stage,omitempty"`
}

// TaskAssignmentPayload instructs the agent to begin work on a claimed job.
type TaskAssignmentPayload struct {
	JobID   string          `json:"job_id"`
	OrgID   string          `json:"org_id"`
	Prompt  string          `json:"prompt"`
	RepoID  *string         `json:"repo_id,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// HealthCheckPingPayload carries a per-ping nonce. HEARTBEAT frames carry no
// payload, so the Health-Check Workflow does not match a reply to a nonce: it
// treats any heartbeat after the ping as the acknowledgment (§4.7 step 2).
type HealthCheckPingPayload struct {
	Nonce string `json:"nonce"`
}

// CancelJobPayload asks the agent to abandon a running job (§5 Cancellation).
type CancelJobPayload struct {
	JobID string `json:"job_id"`
}

// CancelResultPayload acknowledges a CANCEL_JOB request.
type CancelResultPayload struct {
	JobID string `json:"job_id"`
}

// RunVerificationPayload asks the agent to verify a completed execution.
type RunVerificationPayload struct {
	JobID string `json:"job_id"`
}

// VerificationResultPayload carries the agent's verification verdict.
type VerificationResultPayload struct {
	JobID           string   `json:"job_id"`
	Success         bool     `json:"success"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// CreatePRPayload asks the agent to open a pull request for a job's branch.
type CreatePRPayload struct {
	JobID  string `json:"job_id"`
	RepoID string `json:"repo_id"`
	Branch string `json:"branch"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// PRResultPayload carries the created PR's URL, or an error.
type PRResultPayload struct {
	JobID  string `json:"job_id"`
	PRLink string `json:"pr_link,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CleanupWorkspacePayload asks the agent to tear down a job's workspace.
type CleanupWorkspacePayload struct {
	JobID string `json:"job_id"`
}

// CleanupResultPayload acknowledges a CLEANUP_WORKSPACE request.
type CleanupResultPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
}

// HealthCheckRequestPayload is the synchronous variant of
// HEALTH_CHECK_PING used by the manual reconnect endpoint (§4.7).
type HealthCheckRequestPayload struct{}

// HealthResultPayload acknowledges a HEALTH_CHECK request. Correlated by
// AgentID rather than a job ID, since a health check is per agent.
type HealthResultPayload struct {
	AgentID string `json:"agent_id"`
	Version string `json:"version,omitempty"`
}

// ExecuteResultPayload terminates the LOG_MESSAGE stream an ExecuteJob
// request produced, carrying the terminal success/failure of execution.
type ExecuteResultPayload struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// encode marshals kind and payload into a Frame ready to write to the wire.
func encode(kind FrameKind, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, Payload: raw}, nil
}
