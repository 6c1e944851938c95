package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/pkg/retry"
	"github.com/relayforge/dispatch/pkg/schedule"
)

// DispatchInterval is the per-agent Dispatch Workflow's default cadence
// (§4.5), used when no cron expression is configured. Q2 resolution:
// confirmed at 1 minute.
const DispatchInterval = time.Minute

// HealthCheckInterval is the per-agent Health-Check Workflow's default
// cadence (§4.7), used when no cron expression is configured.
const HealthCheckInterval = 30 * time.Second

// JobRunner is the subset of the Job-Execution Workflow (C7) the Dispatch
// Workflow depends on: given a claim, drive it to completion.
type JobRunner interface {
	Run(ctx context.Context, jobID, orgID string, queue core.QueueType, agentID string)

	// Cancel requests that an in-flight run for jobID stop: send CancelJob
	// over the agent stream and let the run's own cleanup/finalize sequence
	// record the terminal failed+cancellation state (§5). Returns
	// core.ErrJobNotRunning if this runner has no in-flight run for jobID.
	Cancel(ctx context.Context, jobID string) error
}

// HealthChecker is the Health-Check Workflow's single per-tick operation (C8).
type HealthChecker interface {
	Run(ctx context.Context, agentID string) error
}

// agentSchedule tracks the two goroutines a single agent owns and whether
// each is currently paused, mirroring the teacher's Worker.Start
// ticker-plus-goroutine-pool loop, generalized to two independent cadences
// per agent instead of one pool-wide poll loop.
type agentSchedule struct {
	cancel context.CancelFunc

	dispatchPaused atomic.Bool
	healthPaused   atomic.Bool
}

// Scheduler owns the per-agent Dispatch and Health-Check loops (C6, C8),
// and the ScheduleBinding rows that record which agents currently have
// active schedules — the in-process stand-in for the out-of-scope durable
// workflow engine's schedule registry (§9 "Out of scope: the durable-
// workflow runtime").
type Scheduler struct {
	store  core.Storage
	pre    *Preprocessor
	runner JobRunner
	health HealthChecker
	log    *slog.Logger

	dispatchSchedule schedule.Schedule
	healthSchedule   schedule.Schedule

	mu        sync.Mutex
	schedules map[string]*agentSchedule
}

// SchedulerOption configures a Scheduler at construction time, mirroring
// the teacher's WorkerOption/PoolOption functional-option style.
type SchedulerOption func(*Scheduler)

// WithDispatchCron drives the Dispatch Workflow cadence (§4.5) from a
// cron expression or descriptor accepted by schedule.Cron (e.g.
// Config.DispatchCronSpec, "@every 1m" by default)
// instead of the fixed DispatchInterval ticker.
func WithDispatchCron(expr string) SchedulerOption {
	return func(s *Scheduler) { s.dispatchSchedule = schedule.Cron(expr) }
}

// WithHealthCron drives the Health-Check Workflow cadence (§4.7) from a
// cron expression or descriptor accepted by schedule.Cron (e.g.
// Config.HealthCheckCronSpec, "@every 30s" by default)
// instead of the fixed HealthCheckInterval ticker.
func WithHealthCron(expr string) SchedulerOption {
	return func(s *Scheduler) { s.healthSchedule = schedule.Cron(expr) }
}

// NewScheduler constructs a Scheduler. With no options, both cadences fall
// back to fixed-interval ticking (DispatchInterval, HealthCheckInterval);
// cmd/dispatchd wires WithDispatchCron/WithHealthCron from Config's cron
// specs.
func NewScheduler(store core.Storage, pre *Preprocessor, runner JobRunner, health HealthChecker, log *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		store:            store,
		pre:              pre,
		runner:           runner,
		health:           health,
		log:              log,
		dispatchSchedule: schedule.Every(DispatchInterval),
		healthSchedule:   schedule.Every(HealthCheckInterval),
		schedules:        make(map[string]*agentSchedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHealthChecker wires the HealthChecker after construction, breaking the
// constructor cycle between Scheduler and HealthCheckRunner (each needs a
// reference to the other): cmd/dispatchd builds the Scheduler first with a
// nil HealthChecker, builds the HealthCheckRunner against it, then calls
// this before any schedule starts.
func (s *Scheduler) SetHealthChecker(health HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = health
}

// EnsureSchedules implements Agent Registry's post-condition hook (§4.2):
// "if prior_status != active, request that the workflow engine create or
// unpause the agent's queue-dispatch schedule and health-check schedule."
// Failure here must not fail registration — callers log and retry on the
// agent's next reconnect, so this never returns an error.
func (s *Scheduler) EnsureSchedules(ctx context.Context, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sched, ok := s.schedules[agentID]; ok {
		sched.dispatchPaused.Store(false)
		sched.healthPaused.Store(false)
		s.persistBinding(ctx, agentID, true, true)
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sched := &agentSchedule{cancel: cancel}
	s.schedules[agentID] = sched

	go s.runDispatchLoop(loopCtx, agentID, sched)
	go s.runHealthLoop(loopCtx, agentID, sched)
	s.persistBinding(ctx, agentID, true, true)
}

// PauseSchedules implements Health-Check step 4's "request the workflow
// engine to pause both the Dispatch and Health-Check schedules" (§4.7).
func (s *Scheduler) PauseSchedules(ctx context.Context, agentID string) {
	s.mu.Lock()
	sched, ok := s.schedules[agentID]
	s.mu.Unlock()
	if !ok {
		return
	}
	sched.dispatchPaused.Store(true)
	sched.healthPaused.Store(true)
	s.persistBinding(ctx, agentID, false, false)
}

// Stop cancels both loops for agentID entirely, for agent deletion.
func (s *Scheduler) Stop(agentID string) {
	s.mu.Lock()
	sched, ok := s.schedules[agentID]
	delete(s.schedules, agentID)
	s.mu.Unlock()
	if ok {
		sched.cancel()
	}
}

// persistBinding records schedule state for the admin CLI and REST façade
// to display; the goroutines started/paused above are the actual schedule.
// Best-effort: a write failure here must not fail the caller (§4.2's
// post-condition hook is itself explicitly best-effort).
func (s *Scheduler) persistBinding(ctx context.Context, agentID string, queueActive, healthActive bool) {
	if err := s.store.SetScheduleBinding(ctx, agentID, queueActive, healthActive); err != nil {
		s.log.Warn("failed to persist schedule binding", "agent_id", agentID, "error", err)
	}
}

func (s *Scheduler) runDispatchLoop(ctx context.Context, agentID string, sched *agentSchedule) {
	sch := s.dispatchSchedule
	next := sch.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !sched.dispatchPaused.Load() {
				s.fireDispatch(ctx, agentID)
			}
			next = sch.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Scheduler) runHealthLoop(ctx context.Context, agentID string, sched *agentSchedule) {
	sch := s.healthSchedule
	next := sch.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !sched.healthPaused.Load() {
				if err := s.health.Run(ctx, agentID); err != nil {
					s.log.Warn("health check failed", "agent_id", agentID, "error", err)
				}
			}
			next = sch.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

// fireDispatch implements one Dispatch Workflow firing (§4.5): run
// Preprocess, and if it claimed a job, run the Job-Execution workflow to
// completion before the next tick.
func (s *Scheduler) fireDispatch(ctx context.Context, agentID string) {
	activityCtx, cancel := context.WithTimeout(ctx, time.Minute)
	result, err := retry.Do(activityCtx, dispatchRetryConfig, s.log, nil, func() (PreprocessResult, error) {
		return s.pre.Run(activityCtx, agentID)
	})
	cancel()
	if err != nil {
		s.log.Error("preprocess activity failed after retries", "agent_id", agentID, "error", err)
		return
	}
	if !result.Claimed() {
		return
	}

	s.runner.Run(ctx, result.JobID, result.OrgID, result.QueueType, agentID)
}

// dispatchRetryConfig implements §4.5's "Activity timeout 1 min, up to 3
// retries with exponential backoff".
var dispatchRetryConfig = retry.Config{
	MaxAttempts:     4,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
	Multiplier:      2.0,
	JitterFraction:  0.1,
}
