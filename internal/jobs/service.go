// Package jobs implements the job-lifecycle operations the REST façade (C13)
// exposes: create, update (with §4.8's reprioritization and rework-transition
// orchestration), archive, manual dispatch, and reprioritize. It is the thin
// core the façade's HTTP handlers translate JSON into, mirroring the
// teacher's separation between ui/service.go's RPC handlers and pkg/queue's
// invariant-bearing logic.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/dispatch"
	"github.com/relayforge/dispatch/internal/security"
)

// CreateInput is POST /jobs's body.
type CreateInput struct {
	Source         string
	Prompt         string
	SourceMetadata string
	Priority       core.Priority
	RepoID         *string
	CreatedBy      string
}

// UpdateInput is PUT /jobs/:id's body. A nil pointer field means "leave
// unchanged"; UserComments is a full replacement list, since the caller
// always resubmits the whole comment thread (nil means unchanged).
type UpdateInput struct {
	Status               *core.JobStatus
	QueueType            *core.QueueType
	UserAcceptanceStatus *core.AcceptanceStatus
	UserComments         []string
	Prompt               *string
	RepoID               *string
	UpdatedBy            string
}

// Service implements the job-lifecycle operations named in §6's REST table
// and orchestrated in §4.8.
type Service struct {
	store     core.Storage
	scheduler *dispatch.Scheduler
	runner    dispatch.JobRunner
	log       *slog.Logger
}

// NewService constructs a Service.
func NewService(store core.Storage, scheduler *dispatch.Scheduler, runner dispatch.JobRunner, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, scheduler: scheduler, runner: runner, log: log}
}

// Create implements POST /jobs: a new version-1 job at the tail of backlog.
func (s *Service) Create(ctx context.Context, orgID string, in CreateInput) (*core.Job, error) {
	priority := in.Priority
	if priority == "" {
		priority = core.PriorityMedium
	}

	job := &core.Job{
		ID:                   uuid.NewString(),
		Version:              1,
		OrgID:                orgID,
		Status:               core.StatusQueued,
		Priority:             priority,
		UserInputSource:      in.Source,
		UserInputPrompt:      in.Prompt,
		UserInputMetadata:    in.SourceMetadata,
		RepoID:               in.RepoID,
		UserAcceptanceStatus: core.AcceptanceNotReviewed,
		CreatedBy:            in.CreatedBy,
		UpdatedBy:            in.CreatedBy,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.store.InsertAtTail(ctx, job, orgID, core.QueueBacklog); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, job, core.ActivityJobCreated, "created", in.CreatedBy)
	return job, nil
}

// Get resolves the latest version, or a specific version when version > 0.
func (s *Service) Get(ctx context.Context, orgID, jobID string, version int) (*core.Job, error) {
	if version > 0 {
		return s.store.JobVersion(ctx, orgID, jobID, version)
	}
	return s.store.LatestJob(ctx, orgID, jobID)
}

// Update applies §4.8's orchestrated transition rules to the latest version
// of jobID, in the order the spec states them. Each rule reads and mutates
// the job's live queue_type/status, so a rule that already relocated the job
// makes the following rules' guards false — this is what keeps two rules
// from both trying to enqueue the same job.
func (s *Service) Update(ctx context.Context, orgID, jobID string, in UpdateInput) (*core.Job, error) {
	job, err := s.store.LatestJob(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}

	origStatus := job.Status
	origAcceptance := job.UserAcceptanceStatus
	origCommentCount := len(job.UserComments)

	targetStatus := origStatus
	if in.Status != nil {
		targetStatus = *in.Status
	}
	if origStatus == core.StatusQueued && targetStatus == core.StatusInProgress {
		return nil, core.ErrInvalidTransition
	}
	if in.QueueType != nil {
		if err := security.ValidateQueueType(*in.QueueType); err != nil {
			return nil, err
		}
	}

	if in.Prompt != nil {
		job.UserInputPrompt = *in.Prompt
	}
	if in.RepoID != nil {
		job.RepoID = in.RepoID
	}
	if in.UserComments != nil {
		job.UserComments = security.ClampComments(in.UserComments)
	}
	if in.UserAcceptanceStatus != nil {
		job.UserAcceptanceStatus = *in.UserAcceptanceStatus
	}

	// status -> in-review dequeues a queued job.
	if targetStatus == core.StatusInReview && job.IsQueued() {
		if err := s.dequeue(ctx, job); err != nil {
			return nil, err
		}
	}

	// acceptance -> reviewed_and_asked_rework always lands at rework's tail;
	// if it was sitting in backlog, that slot is freed and reprioritized.
	if job.UserAcceptanceStatus == core.AcceptanceAskedRework && origAcceptance != core.AcceptanceAskedRework {
		if job.QueueType == core.QueueBacklog {
			if err := s.dequeue(ctx, job); err != nil {
				return nil, err
			}
		}
		if err := s.store.InsertAtTail(ctx, job, orgID, core.QueueRework); err != nil {
			return nil, err
		}
		targetStatus = core.StatusQueued
	}

	// acceptance reverting from reviewed_and_asked_rework while still queued
	// moves the job from rework to backlog's tail.
	if job.UserAcceptanceStatus == core.AcceptanceNotReviewed && origAcceptance == core.AcceptanceAskedRework && job.QueueType == core.QueueRework {
		if err := s.dequeue(ctx, job); err != nil {
			return nil, err
		}
		if err := s.store.InsertAtTail(ctx, job, orgID, core.QueueBacklog); err != nil {
			return nil, err
		}
	}

	// status -> queued from anything else places the job at a tail, honoring
	// an explicit queue_type override; skipped if a rule above already
	// enqueued it (job.QueueType is no longer none).
	if targetStatus == core.StatusQueued && origStatus != core.StatusQueued && job.QueueType == core.QueueNone {
		dest := core.QueueBacklog
		if job.UserAcceptanceStatus == core.AcceptanceAskedRework {
			dest = core.QueueRework
		}
		if in.QueueType != nil {
			if *in.QueueType != core.QueueBacklog && *in.QueueType != core.QueueRework {
				return nil, core.ErrInvalidQueueType
			}
			dest = *in.QueueType
		}
		if err := s.store.InsertAtTail(ctx, job, orgID, dest); err != nil {
			return nil, err
		}
	}

	job.Status = targetStatus

	// A retry: queued into rework with a grown comment thread. Written as a
	// new version rather than an in-place update, per §4.8.
	if job.Status == core.StatusQueued && job.QueueType == core.QueueRework && len(job.UserComments) > origCommentCount {
		return s.retry(ctx, job, in.UpdatedBy)
	}

	job.UpdatedBy = in.UpdatedBy
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	s.recordActivity(ctx, job, core.ActivityJobUpdated, "updated", in.UpdatedBy)
	return job, nil
}

// retry writes job as a new version: cleared execution logs, an appended
// updates line embedding the latest comment, and the queue slot the caller
// already computed on the in-memory job (job.QueueType/OrderInQueue).
func (s *Service) retry(ctx context.Context, job *core.Job, updatedBy string) (*core.Job, error) {
	next := *job
	next.Version = job.Version + 1
	next.CodeGenerationLogs = ""
	next.CodeVerificationLogs = ""
	next.ConfidenceScore = nil
	next.PRLink = ""
	next.AgentID = nil
	next.UpdatedBy = updatedBy

	latestComment := ""
	if n := len(next.UserComments); n > 0 {
		latestComment = next.UserComments[n-1]
	}
	sanitizedComment := security.SanitizeErrorMessage(latestComment)
	next.Updates = appendUpdate(next.Updates, "retry requested: "+sanitizedComment)

	if err := s.store.InsertJobVersion(ctx, &next); err != nil {
		return nil, err
	}
	s.recordActivity(ctx, &next, core.ActivityJobRetried, "retried: "+sanitizedComment, updatedBy)
	return &next, nil
}

// Archive implements DELETE /jobs/:id: dequeue-then-archive, so a queued
// job never leaves a gap in its queue's ordering (Q3, P1 must hold after).
// Archiving a job that is currently in progress first cancels its agent run
// (§5): CancelJob over the stream, then cleanup_workspace, so the agent
// doesn't keep working a job the system has already closed out.
func (s *Service) Archive(ctx context.Context, orgID, jobID string) (*core.Job, error) {
	job, err := s.store.LatestJob(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == core.StatusArchived {
		return nil, core.ErrAlreadyArchived
	}

	wasInProgress := job.Status == core.StatusInProgress
	if job.IsQueued() {
		if err := s.dequeue(ctx, job); err != nil {
			return nil, err
		}
	} else if wasInProgress && s.runner != nil {
		if err := s.runner.Cancel(ctx, job.ID); err != nil && !errors.Is(err, core.ErrJobNotRunning) {
			s.log.Warn("failed to cancel in-progress job before archiving", "job_id", job.ID, "error", err)
		}
	}

	job.Status = core.StatusArchived
	if wasInProgress {
		job.Updates = appendUpdate(job.Updates, "archived while in progress: cancellation requested")
		job.AgentID = nil
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	s.recordActivity(ctx, job, core.ActivityJobArchived, "archived", "")
	return job, nil
}

// Reprioritize implements POST /jobs/:id/reprioritize: only valid for a
// currently-queued job; position is clamped to [0, n-1] by the store.
func (s *Service) Reprioritize(ctx context.Context, orgID, jobID string, position int) error {
	job, err := s.store.LatestJob(ctx, orgID, jobID)
	if err != nil {
		return err
	}
	if !job.IsQueued() {
		return core.ErrJobNotQueued
	}
	if err := s.store.MoveToPosition(ctx, orgID, job.QueueType, jobID, position); err != nil {
		return err
	}
	s.recordActivity(ctx, job, core.ActivityJobReprioritized, fmt.Sprintf("moved to position %d", position), "")
	return nil
}

// Execute implements POST /jobs/:id/execute: manual dispatch to the first
// active agent found for the org, bypassing the periodic Preprocess claim.
func (s *Service) Execute(ctx context.Context, orgID, jobID string) error {
	job, err := s.store.LatestJob(ctx, orgID, jobID)
	if err != nil {
		return err
	}
	if !job.IsQueued() {
		return core.ErrJobNotQueued
	}

	agents, err := s.store.ListAgents(ctx, orgID)
	if err != nil {
		return err
	}
	var agentID string
	for _, a := range agents {
		if a.Status == core.AgentActive {
			agentID = a.ID
			break
		}
	}
	if agentID == "" {
		return core.ErrAgentNotFound
	}

	queue := job.QueueType
	if err := s.dequeue(ctx, job); err != nil {
		return err
	}
	job.Status = core.StatusInProgress
	job.AgentID = &agentID
	if err := s.store.SaveJob(ctx, job); err != nil {
		return err
	}
	s.recordActivity(ctx, job, core.ActivityJobExecuted, "manually dispatched to agent "+agentID, "")

	go s.runner.Run(context.Background(), job.ID, orgID, queue, agentID)
	return nil
}

// dequeue removes job from its current queue slot and reprioritizes the
// remainder, capturing the slot's position before RemoveFromQueue clears it.
func (s *Service) dequeue(ctx context.Context, job *core.Job) error {
	removedFrom := job.QueueType
	removedPosition := job.OrderInQueue
	if err := s.store.RemoveFromQueue(ctx, job); err != nil {
		return err
	}
	return s.store.ReprioritizeAfterRemoval(ctx, job.OrgID, removedFrom, removedPosition)
}

func (s *Service) recordActivity(ctx context.Context, job *core.Job, name, summary, updatedBy string) {
	activity := &core.Activity{
		JobID:     job.ID,
		OrgID:     job.OrgID,
		Name:      name,
		Summary:   summary,
		UpdatedBy: updatedBy,
	}
	if err := s.store.RecordActivity(ctx, activity); err != nil {
		s.log.Warn("failed to record activity", "job_id", job.ID, "name", name, "error", err)
	}
}

func appendUpdate(existing, line string) string {
	entry := "[" + time.Now().Format(time.RFC3339) + "] " + line
	if existing == "" {
		return entry
	}
	return existing + "\n" + entry
}
