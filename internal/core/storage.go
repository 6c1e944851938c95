package core

import (
	"context"
	"time"
)

// Storage is the persistence layer the dispatch engine is built against.
// One implementation (internal/storage.GormStore) backs it with GORM; tests
// use the same interface against an in-memory SQLite database, exactly as
// the teacher's pkg/core.Storage is exercised in pkg/storage/gorm_test.go.
type Storage interface {
	Migrate(ctx context.Context) error

	// Agents (C2)
	UpsertAgent(ctx context.Context, orgID, host string, port int, ip *string, apiKeyHash string) (agent *Agent, priorStatus AgentStatus, err error)
	CreateOrgAPIKey(ctx context.Context, orgID, keyHash, label string) error
	ResolveOrgByKeyHash(ctx context.Context, keyHash string) (orgID string, err error)
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	ListAgents(ctx context.Context, orgID string) ([]*Agent, error)
	DeleteAgent(ctx context.Context, agentID string) error
	MarkAgentPingSuccess(ctx context.Context, agentID string) error
	IncrementAgentFailures(ctx context.Context, agentID string) (consecutiveFailures int, err error)
	SetAgentStatus(ctx context.Context, agentID string, status AgentStatus) error
	TouchStreamConnected(ctx context.Context, agentID string) error

	// Jobs — CRUD over the latest version (C1)
	CreateJob(ctx context.Context, job *Job) error
	LatestJob(ctx context.Context, orgID, jobID string) (*Job, error)
	JobVersion(ctx context.Context, orgID, jobID string, version int) (*Job, error)
	SaveJob(ctx context.Context, job *Job) error
	InsertJobVersion(ctx context.Context, job *Job) error
	ListJobsByStatus(ctx context.Context, orgID string, status JobStatus, limit int) ([]*Job, error)

	// Queue model (C4)
	NextPosition(ctx context.Context, orgID string, queue QueueType) (int, error)
	ClaimNext(ctx context.Context, orgID string, queue QueueType, agentID string) (*Job, error)
	RemoveFromQueue(ctx context.Context, job *Job) error
	ReprioritizeAfterRemoval(ctx context.Context, orgID string, queue QueueType, removedPosition int) error
	InsertAtTail(ctx context.Context, job *Job, orgID string, queue QueueType) error
	MoveToPosition(ctx context.Context, orgID string, queue QueueType, jobID string, newPosition int) error
	ListQueued(ctx context.Context, orgID string, queue QueueType) ([]*Job, error)

	// Orphan / heartbeat (C5)
	ReconcileOrphans(ctx context.Context, orgID, agentID string, olderThan time.Duration) ([]*Job, error)
	InProgressJobForAgent(ctx context.Context, agentID string) (*Job, error)

	// Queue pause state
	IsQueuePaused(ctx context.Context, orgID string, queue QueueType) (bool, error)
	SetQueuePaused(ctx context.Context, orgID string, queue QueueType, paused bool, by string) error

	// Schedule bindings (C6/C8 registry bookkeeping)
	SetScheduleBinding(ctx context.Context, agentID string, queueActive, healthActive bool) error
	GetScheduleBinding(ctx context.Context, agentID string) (*ScheduleBinding, error)

	// Execution checkpoints (C7 idempotent resumption)
	SaveCheckpoint(ctx context.Context, jobID string, version int, phase ExecutionPhase) error
	LoadCheckpoint(ctx context.Context, jobID string, version int) (ExecutionPhase, error)

	// Activity audit (C12)
	RecordActivity(ctx context.Context, a *Activity) error
	ListActivities(ctx context.Context, jobID string) ([]*Activity, error)

	// Log sink (C9)
	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLogs(ctx context.Context, jobID string, version int) ([]*LogEntry, error)
}
