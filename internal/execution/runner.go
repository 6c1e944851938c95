// Package execution implements the Job-Execution Workflow (C7): the linear
// execute -> verify -> pr -> cleanup activity chain that drives one claimed
// job to completion against the agent stream.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayforge/dispatch/internal/agentclient"
	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/logsink"
	"github.com/relayforge/dispatch/internal/security"
	"github.com/relayforge/dispatch/internal/streaming"
)

// HeartbeatTimeout is execute_job's framework-level heartbeat timeout
// (§4.6 step 1): silence exceeding this triggers cancellation and retry.
const HeartbeatTimeout = 5 * time.Minute

// Runner implements the Job-Execution Workflow (§4.6).
type Runner struct {
	store core.Storage
	sink  *logsink.Sink
	sess  *streaming.Manager
	log   *slog.Logger
	retry RetryConfig

	runningMu sync.Mutex
	running   map[string]*runningJob
}

// runningJob is the entry a currently in-flight Run holds in the running
// registry, adapted from the teacher's pkg/queue Queue.runningJobs
// cancel-function registry so an out-of-band Cancel can reach a run without
// threading a channel through every caller.
type runningJob struct {
	cancel    context.CancelFunc
	client    agentclient.AgentClient
	cancelled atomic.Bool
}

// NewRunner constructs a Runner.
func NewRunner(store core.Storage, sink *logsink.Sink, sess *streaming.Manager, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		store:   store,
		sink:    sink,
		sess:    sess,
		log:     log,
		retry:   DefaultRetryConfig(),
		running: make(map[string]*runningJob),
	}
}

// Cancel implements §5's cancellation path for a job this Runner currently
// has in flight: send CancelJob over the agent stream, then cancel the run's
// local context so Run's own cleanup_workspace/finalize sequence completes
// with a failed status and a cancellation marker. Returns
// core.ErrJobNotRunning if this Runner has no in-flight run for jobID (it
// already finished, or is running under a different process) — callers fall
// back to storage-level bookkeeping only in that case.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	r.runningMu.Lock()
	rj, ok := r.running[jobID]
	r.runningMu.Unlock()
	if !ok {
		return core.ErrJobNotRunning
	}

	rj.cancelled.Store(true)
	if err := rj.client.CancelJob(ctx, jobID); err != nil {
		r.log.Warn("job-execution: cancel_job frame failed", "job_id", jobID, "error", err)
	}
	rj.cancel()
	return nil
}

func (r *Runner) registerRunning(jobID string, rj *runningJob) {
	r.runningMu.Lock()
	r.running[jobID] = rj
	r.runningMu.Unlock()
}

func (r *Runner) unregisterRunning(jobID string) {
	r.runningMu.Lock()
	delete(r.running, jobID)
	r.runningMu.Unlock()
}

// Run drives job jobID through §4.6's activity chain. It never returns an
// error to the caller — the Dispatch Workflow "awaits completion" but
// terminal failure is recorded on the job itself, not surfaced as a Go
// error, matching a durable workflow's fire-and-observe execution model.
func (r *Runner) Run(ctx context.Context, jobID, orgID string, queue core.QueueType, agentID string) {
	job, err := r.store.LatestJob(ctx, orgID, jobID)
	if err != nil {
		r.log.Error("job-execution: failed to load job", "job_id", jobID, "error", err)
		return
	}

	client := agentclient.New(r.sess, agentID)
	phase, err := r.store.LoadCheckpoint(ctx, job.ID, job.Version)
	if err != nil {
		r.log.Error("job-execution: failed to load checkpoint", "job_id", jobID, "error", err)
		phase = ""
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	rj := &runningJob{cancel: cancelRun, client: client}
	r.registerRunning(job.ID, rj)
	defer r.unregisterRunning(job.ID)

	execErr := r.drive(runCtx, job, client, phase)
	cancelRun()

	// Step 4: cleanup_workspace always runs, even on failure (§4.6 step 4).
	cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	if err := retryWithBackoff(cleanupCtx, r.retry, r.log, func() error {
		return client.CleanupWorkspace(cleanupCtx, job.ID)
	}); err != nil {
		r.log.Warn("job-execution: cleanup_workspace failed", "job_id", job.ID, "error", err)
	}
	cancel()

	if rj.cancelled.Load() {
		r.finalizeCancelled(ctx, job)
		return
	}
	r.finalize(ctx, job, execErr)
}

// drive runs the execute/verify/pr chain starting from the phase after the
// given checkpoint, so a restart resumes instead of repeating completed
// activities (adapted from the teacher's jobctx phase-checkpoint pattern).
func (r *Runner) drive(ctx context.Context, job *core.Job, client agentclient.AgentClient, from core.ExecutionPhase) error {
	if from == "" {
		if err := r.execute(ctx, job, client); err != nil {
			return fmt.Errorf("execute_job: %w", err)
		}
		r.checkpoint(ctx, job, core.PhaseExecute)
	}

	if from == "" || from == core.PhaseExecute {
		if err := r.verify(ctx, job, client); err != nil {
			return fmt.Errorf("run_verification: %w", err)
		}
		r.checkpoint(ctx, job, core.PhaseVerify)
	}

	if job.RepoID != nil && (from == "" || from == core.PhaseExecute || from == core.PhaseVerify) {
		if err := r.createPR(ctx, job, client); err != nil {
			return fmt.Errorf("create_pr: %w", err)
		}
		r.checkpoint(ctx, job, core.PhasePR)
	}

	return nil
}

// execute runs execute_job, piping log frames into the sink as they
// arrive (they land there directly via the stream manager's LOG_MESSAGE
// handling) and resetting the heartbeat clock on each arrival (§4.6 step 1).
func (r *Runner) execute(ctx context.Context, job *core.Job, client agentclient.AgentClient) error {
	execCtx, cancel := r.withLogHeartbeat(ctx, job)
	defer cancel()

	return retryWithBackoff(execCtx, r.retry, r.log, func() error {
		return client.ExecuteJob(execCtx, agentclient.ExecuteJobRequest{
			JobID:  job.ID,
			OrgID:  job.OrgID,
			Prompt: job.UserInputPrompt,
			RepoID: job.RepoID,
		})
	})
}

// withLogHeartbeat returns a context that is cancelled if no log frame
// arrives for HeartbeatTimeout, implementing "the activity emits a
// framework-level heartbeat every time a log frame arrives" (§4.6 step 1).
func (r *Runner) withLogHeartbeat(parent context.Context, job *core.Job) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	entries, unsubscribe := r.sink.Subscribe(job.ID, job.Version)

	go func() {
		timer := time.NewTimer(HeartbeatTimeout)
		defer timer.Stop()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-entries:
				if !ok {
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(HeartbeatTimeout)
			case <-timer.C:
				cancel()
				return
			}
		}
	}()

	return ctx, cancel
}

func (r *Runner) verify(ctx context.Context, job *core.Job, client agentclient.AgentClient) error {
	var result agentclient.VerificationResult
	err := retryWithBackoff(ctx, r.retry, r.log, func() error {
		var innerErr error
		result, innerErr = client.RunVerification(ctx, job.ID)
		return innerErr
	})
	if err != nil {
		return err
	}
	job.ConfidenceScore = result.ConfidenceScore
	return r.store.SaveJob(ctx, job)
}

// createPR runs create_pr when the job carries a repo and verification
// succeeded (§4.6 step 3), persisting pr_link on success.
func (r *Runner) createPR(ctx context.Context, job *core.Job, client agentclient.AgentClient) error {
	branch := fmt.Sprintf("dispatch/%s", job.ID)
	title := fmt.Sprintf("Automated changes for job %s", job.ID)

	var result agentclient.PRResult
	err := retryWithBackoff(ctx, r.retry, r.log, func() error {
		var innerErr error
		result, innerErr = client.CreatePR(ctx, job.ID, *job.RepoID, branch, title, job.UserInputPrompt)
		return innerErr
	})
	if err != nil {
		return err
	}
	job.PRLink = result.PRLink
	return r.store.SaveJob(ctx, job)
}

// checkpoint persists progress for idempotent replay. A checkpoint write
// failure is logged, not fatal — worst case a restart re-runs one activity.
func (r *Runner) checkpoint(ctx context.Context, job *core.Job, phase core.ExecutionPhase) {
	if err := r.store.SaveCheckpoint(ctx, job.ID, job.Version, phase); err != nil {
		r.log.Warn("job-execution: failed to save checkpoint", "job_id", job.ID, "phase", phase, "error", err)
	}
}

// finalize implements §4.6 step 5: update status, append to updates, and
// write the terminal Activity audit record.
func (r *Runner) finalize(ctx context.Context, job *core.Job, execErr error) {
	latest, err := r.store.LatestJob(ctx, job.OrgID, job.ID)
	if err != nil {
		r.log.Error("job-execution: failed to reload job for finalize", "job_id", job.ID, "error", err)
		return
	}
	if latest.Status == core.StatusArchived {
		// The job was archived out from under this run (§5 cancellation via
		// Archive already recorded the terminal state); don't resurrect it.
		return
	}

	timestamp := time.Now().Format(time.RFC3339)
	activityName := core.ActivityJobCompleted
	if execErr != nil {
		latest.Status = core.StatusFailed
		cause := security.SanitizeErrorMessage(innermostCause(execErr))
		latest.Updates = appendUpdate(latest.Updates, timestamp, "failed: "+cause)
		activityName = core.ActivityJobFailed
	} else {
		latest.Status = core.StatusCompleted
		latest.Updates = appendUpdate(latest.Updates, timestamp, "completed")
	}
	latest.AgentID = nil

	if err := r.store.SaveJob(ctx, latest); err != nil {
		r.log.Error("job-execution: failed to save final job state", "job_id", job.ID, "error", err)
	}
	r.store.SaveCheckpoint(ctx, latest.ID, latest.Version, core.PhaseDone)

	summary := "completed"
	if execErr != nil {
		summary = security.SanitizeErrorMessage(innermostCause(execErr))
	}
	activity := &core.Activity{
		JobID:   latest.ID,
		OrgID:   latest.OrgID,
		Name:    activityName,
		Summary: summary,
	}
	if err := r.store.RecordActivity(ctx, activity); err != nil {
		r.log.Warn("job-execution: failed to record terminal activity", "job_id", job.ID, "error", err)
	}
}

// finalizeCancelled implements §5's cancellation contract: a cancel signal
// sets status to failed with a cancellation marker in updates, distinct
// from finalize's generic "failed: <cause>" text for a genuine activity
// error.
func (r *Runner) finalizeCancelled(ctx context.Context, job *core.Job) {
	latest, err := r.store.LatestJob(ctx, job.OrgID, job.ID)
	if err != nil {
		r.log.Error("job-execution: failed to reload job for cancellation finalize", "job_id", job.ID, "error", err)
		return
	}
	if latest.Status == core.StatusArchived {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)
	latest.Status = core.StatusFailed
	latest.Updates = appendUpdate(latest.Updates, timestamp, "cancelled: job-execution cancelled")
	latest.AgentID = nil

	if err := r.store.SaveJob(ctx, latest); err != nil {
		r.log.Error("job-execution: failed to save cancelled job state", "job_id", job.ID, "error", err)
	}
	r.store.SaveCheckpoint(ctx, latest.ID, latest.Version, core.PhaseDone)

	activity := &core.Activity{
		JobID:   latest.ID,
		OrgID:   latest.OrgID,
		Name:    core.ActivityJobCancelled,
		Summary: "cancelled",
	}
	if err := r.store.RecordActivity(ctx, activity); err != nil {
		r.log.Warn("job-execution: failed to record cancellation activity", "job_id", job.ID, "error", err)
	}
}

// innermostCause extracts the deepest wrapped error message, per §4.6
// "Error surfacing: the workflow extracts the innermost cause of any
// engine-wrapped failure."
func innermostCause(err error) string {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err.Error()
		}
		next := u.Unwrap()
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func appendUpdate(existing, timestamp, line string) string {
	entry := "[" + timestamp + "] " + line
	if existing == "" {
		return entry
	}
	return existing + "\n" + entry
}
