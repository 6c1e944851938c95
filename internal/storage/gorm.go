// Package storage provides the GORM-backed persistence layer for the
// dispatch engine, implementing core.Storage. Grounded on the teacher's
// pkg/storage/gorm.go: the same claim-inside-a-transaction pattern, the
// same ownership-checked UPDATE for orphan reconciliation, and the same
// "latest version" repository idiom that hides version bookkeeping from
// callers above the storage boundary.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/relayforge/dispatch/internal/core"
)

// GormStore implements core.Storage on top of a *gorm.DB.
type GormStore struct {
	db *gorm.DB
}

// New wraps an already-opened *gorm.DB.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying *gorm.DB for callers that need raw access —
// migrations tooling, admin queries, and tests that need to reach past the
// Storage interface. Mirrors the teacher's GormStorage.DB accessor.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate runs AutoMigrate over every table the engine owns, in the same
// spirit as the teacher's GormStorage.Migrate.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Agent{},
		&core.Job{},
		&core.QueueState{},
		&core.ScheduleBinding{},
		&core.Activity{},
		&core.ActivityReadStatus{},
		&core.LogEntry{},
		&core.ExecutionCheckpoint{},
		&core.OrgAPIKey{},
	)
}

// --- Agents (C2) -----------------------------------------------------

// UpsertAgent implements register()'s transactional upsert-on-(org_id,host)
// step, per §4.2. It returns the agent row as it now stands and the status
// it held immediately before this call, so the caller can decide whether
// to fire the post-condition schedule hook.
func (s *GormStore) UpsertAgent(ctx context.Context, orgID, host string, port int, ip *string, apiKeyHash string) (*core.Agent, core.AgentStatus, error) {
	var result *core.Agent
	var prior core.AgentStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing core.Agent
		err := tx.Where("org_id = ? AND host = ?", orgID, host).First(&existing).Error
		now := time.Now()

		switch {
		case err == nil:
			prior = existing.Status
			existing.IP = ip
			existing.Port = port
			existing.APIKeyHash = apiKeyHash
			existing.Status = core.AgentActive
			existing.ConsecutiveFailures = 0
			existing.LastActive = &now
			existing.LastStreamConnectedAt = &now
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result = &existing
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			prior = core.AgentOffline
			created := core.Agent{
				ID:                    uuid.NewString(),
				OrgID:                 orgID,
				Host:                  host,
				Port:                  port,
				IP:                    ip,
				APIKeyHash:            apiKeyHash,
				Status:                core.AgentActive,
				ConsecutiveFailures:   0,
				LastActive:            &now,
				LastStreamConnectedAt: &now,
			}
			if err := tx.Create(&created).Error; err != nil {
				return err
			}
			result = &created
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return nil, "", err
	}
	return result, prior, nil
}

// CreateOrgAPIKey provisions a credential an agent can later register with.
func (s *GormStore) CreateOrgAPIKey(ctx context.Context, orgID, keyHash, label string) error {
	return s.db.WithContext(ctx).Create(&core.OrgAPIKey{
		KeyHash: keyHash,
		OrgID:   orgID,
		Label:   label,
	}).Error
}

// ResolveOrgByKeyHash looks up the org a hashed API key belongs to, for the
// credential-validation step of register() (§4.2).
func (s *GormStore) ResolveOrgByKeyHash(ctx context.Context, keyHash string) (string, error) {
	var key core.OrgAPIKey
	err := s.db.WithContext(ctx).Where("key_hash = ?", keyHash).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", core.ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	return key.OrgID, nil
}

func (s *GormStore) GetAgent(ctx context.Context, agentID string) (*core.Agent, error) {
	var agent core.Agent
	err := s.db.WithContext(ctx).First(&agent, "id = ?", agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *GormStore) ListAgents(ctx context.Context, orgID string) ([]*core.Agent, error) {
	var agents []*core.Agent
	err := s.db.WithContext(ctx).Where("org_id = ?", orgID).Order("host").Find(&agents).Error
	return agents, err
}

func (s *GormStore) DeleteAgent(ctx context.Context, agentID string) error {
	res := s.db.WithContext(ctx).Delete(&core.Agent{}, "id = ?", agentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrAgentNotFound
	}
	return nil
}

// MarkAgentPingSuccess implements the success branch of Health-Check step 3
// (§4.7): resets the failure counter and touches liveness.
func (s *GormStore) MarkAgentPingSuccess(ctx context.Context, agentID string) error {
	res := s.db.WithContext(ctx).Model(&core.Agent{}).Where("id = ?", agentID).Updates(map[string]any{
		"last_active":          time.Now(),
		"consecutive_failures": 0,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrAgentNotFound
	}
	return nil
}

// IncrementAgentFailures implements Health-Check step 4's counter bump,
// returning the post-increment value so the caller can compare against
// core.OfflineThreshold without a second round-trip.
func (s *GormStore) IncrementAgentFailures(ctx context.Context, agentID string) (int, error) {
	var failures int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent core.Agent
		if err := tx.First(&agent, "id = ?", agentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrAgentNotFound
			}
			return err
		}
		agent.ConsecutiveFailures++
		failures = agent.ConsecutiveFailures
		return tx.Model(&agent).Update("consecutive_failures", agent.ConsecutiveFailures).Error
	})
	return failures, err
}

func (s *GormStore) SetAgentStatus(ctx context.Context, agentID string, status core.AgentStatus) error {
	res := s.db.WithContext(ctx).Model(&core.Agent{}).Where("id = ?", agentID).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrAgentNotFound
	}
	return nil
}

func (s *GormStore) TouchStreamConnected(ctx context.Context, agentID string) error {
	res := s.db.WithContext(ctx).Model(&core.Agent{}).Where("id = ?", agentID).Update("last_stream_connected_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrAgentNotFound
	}
	return nil
}

// --- Jobs (C1) ---------------------------------------------------------

func (s *GormStore) CreateJob(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Version == 0 {
		job.Version = 1
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// LatestJob hides the max-version projection behind a single call, per the
// Design Notes' "ORM-object drift between job versions" strategy.
func (s *GormStore) LatestJob(ctx context.Context, orgID, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, jobID).
		Order("version DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *GormStore) JobVersion(ctx context.Context, orgID, jobID string, version int) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND id = ? AND version = ?", orgID, jobID, version).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SaveJob updates the given version row in place — used for in-place
// mutations (§3 versioning rule's "otherwise" branch).
func (s *GormStore) SaveJob(ctx context.Context, job *core.Job) error {
	return s.db.WithContext(ctx).Save(job).Error
}

// InsertJobVersion inserts job as a brand-new version row for an existing
// job ID, per the §3 versioning rule's four triggering conditions.
func (s *GormStore) InsertJobVersion(ctx context.Context, job *core.Job) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *GormStore) ListJobsByStatus(ctx context.Context, orgID string, status core.JobStatus, limit int) ([]*core.Job, error) {
	sub := s.db.Model(&core.Job{}).Select("id, MAX(version) as version").Where("org_id = ?", orgID).Group("id")

	var jobs []*core.Job
	q := s.db.WithContext(ctx).
		Joins("JOIN (?) AS latest ON latest.id = jobs.id AND latest.version = jobs.version", sub).
		Where("jobs.org_id = ? AND jobs.status = ?", orgID, status).
		Order("jobs.updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// --- Queue model (C4) ---------------------------------------------------

// latestQueuedTx returns the latest-version, currently-queued rows for
// (org, queue) ordered by position, within an existing transaction.
func latestQueuedTx(tx *gorm.DB, orgID string, queue core.QueueType) ([]core.Job, error) {
	sub := tx.Model(&core.Job{}).Select("id, MAX(version) as version").Where("org_id = ?", orgID).Group("id")

	var jobs []core.Job
	err := tx.
		Joins("JOIN (?) AS latest ON latest.id = jobs.id AND latest.version = jobs.version", sub).
		Where("jobs.org_id = ? AND jobs.status = ? AND jobs.queue_type = ?", orgID, core.StatusQueued, queue).
		Order("jobs.order_in_queue ASC").
		Find(&jobs).Error
	return jobs, err
}

func (s *GormStore) NextPosition(ctx context.Context, orgID string, queue core.QueueType) (int, error) {
	jobs, err := latestQueuedTx(s.db.WithContext(ctx), orgID, queue)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// ClaimNext implements §4.1's claim_next: one serializable transaction,
// minimum order_in_queue wins, status/agent_id/updated_at set atomically.
// This is the operation P3 (claim atomicity) depends on.
func (s *GormStore) ClaimNext(ctx context.Context, orgID string, queue core.QueueType, agentID string) (*core.Job, error) {
	var claimed *core.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs, err := latestQueuedTx(tx, orgID, queue)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return core.ErrQueueEmpty
		}
		job := jobs[0]
		job.Status = core.StatusInProgress
		job.AgentID = &agentID
		job.UpdatedAt = time.Now()
		// Q1 resolution: keep queue_type and order_in_queue as they are.
		// Orphan reconciliation restores status=queued without touching
		// them, so an orphaned claim remains reachable in its original
		// queue slot instead of becoming queue_type=none.
		if err := tx.Save(&job).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})

	if errors.Is(err, core.ErrQueueEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RemoveFromQueue implements §4.1's remove_from_queue.
func (s *GormStore) RemoveFromQueue(ctx context.Context, job *core.Job) error {
	job.QueueType = core.QueueNone
	job.OrderInQueue = -1
	return s.db.WithContext(ctx).Save(job).Error
}

// ReprioritizeAfterRemoval implements §4.1's reprioritize_after_removal.
func (s *GormStore) ReprioritizeAfterRemoval(ctx context.Context, orgID string, queue core.QueueType, removedPosition int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs, err := latestQueuedTx(tx, orgID, queue)
		if err != nil {
			return err
		}
		for i := range jobs {
			if jobs[i].OrderInQueue > removedPosition {
				jobs[i].OrderInQueue--
				if err := tx.Model(&core.Job{}).
					Where("id = ? AND version = ?", jobs[i].ID, jobs[i].Version).
					Update("order_in_queue", jobs[i].OrderInQueue).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// InsertAtTail implements §4.1's insert_at_tail.
func (s *GormStore) InsertAtTail(ctx context.Context, job *core.Job, orgID string, queue core.QueueType) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs, err := latestQueuedTx(tx, orgID, queue)
		if err != nil {
			return err
		}
		job.QueueType = queue
		job.OrderInQueue = len(jobs)
		return tx.Save(job).Error
	})
}

// MoveToPosition implements §4.1's move_to_position: remove, clamp,
// re-insert, rewrite [0, n-1] in one transaction. This is the operation
// P4 (reprioritize is a permutation) depends on.
func (s *GormStore) MoveToPosition(ctx context.Context, orgID string, queue core.QueueType, jobID string, newPosition int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs, err := latestQueuedTx(tx, orgID, queue)
		if err != nil {
			return err
		}

		idx := -1
		for i, j := range jobs {
			if j.ID == jobID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return core.ErrJobNotQueued
		}

		if newPosition < 0 {
			newPosition = 0
		}
		if max := len(jobs) - 1; newPosition > max {
			newPosition = max
		}
		if newPosition == idx {
			return nil
		}

		moved := jobs[idx]
		rest := make([]core.Job, 0, len(jobs)-1)
		rest = append(rest, jobs[:idx]...)
		rest = append(rest, jobs[idx+1:]...)

		reordered := make([]core.Job, 0, len(jobs))
		reordered = append(reordered, rest[:newPosition]...)
		reordered = append(reordered, moved)
		reordered = append(reordered, rest[newPosition:]...)

		for pos, j := range reordered {
			if j.OrderInQueue == pos {
				continue
			}
			if err := tx.Model(&core.Job{}).
				Where("id = ? AND version = ?", j.ID, j.Version).
				Update("order_in_queue", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) ListQueued(ctx context.Context, orgID string, queue core.QueueType) ([]*core.Job, error) {
	jobs, err := latestQueuedTx(s.db.WithContext(ctx), orgID, queue)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Job, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out, nil
}

// --- Orphan / heartbeat (C5) --------------------------------------------

// ReconcileOrphans implements Preprocess step 2 (§4.4): in one transaction,
// find in-progress jobs for this org that either belong to this agent or
// have gone stale, and return them to status=queued, agent_id=none,
// leaving queue_type/order_in_queue untouched (Q1 resolution).
func (s *GormStore) ReconcileOrphans(ctx context.Context, orgID, agentID string, olderThan time.Duration) ([]*core.Job, error) {
	var recovered []*core.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&core.Job{}).Select("id, MAX(version) as version").Where("org_id = ?", orgID).Group("id")

		var jobs []core.Job
		cutoff := time.Now().Add(-olderThan)
		err := tx.
			Joins("JOIN (?) AS latest ON latest.id = jobs.id AND latest.version = jobs.version", sub).
			Where("jobs.org_id = ? AND jobs.status = ? AND (jobs.agent_id = ? OR jobs.updated_at < ?)",
				orgID, core.StatusInProgress, agentID, cutoff).
			Find(&jobs).Error
		if err != nil {
			return err
		}

		for i := range jobs {
			jobs[i].Status = core.StatusQueued
			jobs[i].AgentID = nil
			jobs[i].UpdatedAt = time.Now()
			if err := tx.Save(&jobs[i]).Error; err != nil {
				return err
			}
			recovered = append(recovered, &jobs[i])
		}
		return nil
	})
	return recovered, err
}

// InProgressJobForAgent implements Preprocess step 3's idempotent lookup.
func (s *GormStore) InProgressJobForAgent(ctx context.Context, agentID string) (*core.Job, error) {
	sub := s.db.Model(&core.Job{}).Select("id, org_id, MAX(version) as version").Group("id, org_id")

	var job core.Job
	err := s.db.WithContext(ctx).
		Joins("JOIN (?) AS latest ON latest.id = jobs.id AND latest.version = jobs.version", sub).
		Where("jobs.status = ? AND jobs.agent_id = ?", core.StatusInProgress, agentID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// --- Queue pause state ---------------------------------------------------

func (s *GormStore) IsQueuePaused(ctx context.Context, orgID string, queue core.QueueType) (bool, error) {
	var state core.QueueState
	err := s.db.WithContext(ctx).Where("org_id = ? AND queue_type = ?", orgID, queue).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}

func (s *GormStore) SetQueuePaused(ctx context.Context, orgID string, queue core.QueueType, paused bool, by string) error {
	now := time.Now()
	state := core.QueueState{
		OrgID:     orgID,
		QueueType: queue,
		Paused:    paused,
		PausedBy:  by,
		UpdatedAt: now,
	}
	if paused {
		state.PausedAt = &now
	}
	return s.db.WithContext(ctx).Save(&state).Error
}

// --- Schedule bindings (C6/C8) --------------------------------------------

func (s *GormStore) SetScheduleBinding(ctx context.Context, agentID string, queueActive, healthActive bool) error {
	binding := core.ScheduleBinding{
		AgentID:                   agentID,
		QueueScheduleActive:       queueActive,
		HealthCheckScheduleActive: healthActive,
		UpdatedAt:                 time.Now(),
	}
	return s.db.WithContext(ctx).Save(&binding).Error
}

func (s *GormStore) GetScheduleBinding(ctx context.Context, agentID string) (*core.ScheduleBinding, error) {
	var binding core.ScheduleBinding
	err := s.db.WithContext(ctx).First(&binding, "agent_id = ?", agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// --- Execution checkpoints (C7) --------------------------------------------

func (s *GormStore) SaveCheckpoint(ctx context.Context, jobID string, version int, phase core.ExecutionPhase) error {
	cp := core.ExecutionCheckpoint{JobID: jobID, JobVersion: version, Phase: phase, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&cp).Error
}

func (s *GormStore) LoadCheckpoint(ctx context.Context, jobID string, version int) (core.ExecutionPhase, error) {
	var cp core.ExecutionCheckpoint
	err := s.db.WithContext(ctx).First(&cp, "job_id = ? AND job_version = ?", jobID, version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cp.Phase, nil
}

// --- Activity audit (C12) ------------------------------------------------

func (s *GormStore) RecordActivity(ctx context.Context, a *core.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *GormStore) ListActivities(ctx context.Context, jobID string) ([]*core.Activity, error) {
	var activities []*core.Activity
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at ASC").Find(&activities).Error
	return activities, err
}

// --- Log sink (C9) --------------------------------------------------------

func (s *GormStore) AppendLog(ctx context.Context, entry *core.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) ListLogs(ctx context.Context, jobID string, version int) ([]*core.LogEntry, error) {
	var entries []*core.LogEntry
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND job_version = ?", jobID, version).
		Order("timestamp ASC").
		Find(&entries).Error
	return entries, err
}

var _ core.Storage = (*GormStore)(nil)
