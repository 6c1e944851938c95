package core

import "time"

// ExecutionPhase names a step of the Job-Execution Workflow (§4.6).
type ExecutionPhase string

const (
	PhaseExecute ExecutionPhase = "execute"
	PhaseVerify  ExecutionPhase = "verify"
	PhasePR      ExecutionPhase = "pr"
	PhaseCleanup ExecutionPhase = "cleanup"
	PhaseDone    ExecutionPhase = "done"
)

// ExecutionCheckpoint records the last completed phase of a job's
// execution run, keyed by (job_id, job_version) so a new version starts a
// fresh checkpoint series exactly like the log sink does. On process
// restart, the runner resumes from the phase after the checkpointed one
// instead of re-running already-completed activities — adapted from the
// teacher's pkg/jobctx phase-checkpoint save/load pattern.
type ExecutionCheckpoint struct {
	JobID      string         `gorm:"primaryKey;size:36"`
	JobVersion int            `gorm:"primaryKey"`
	Phase      ExecutionPhase `gorm:"size:20"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime"`
}

// TableName pins the GORM table name.
func (ExecutionCheckpoint) TableName() string { return "execution_checkpoints" }
