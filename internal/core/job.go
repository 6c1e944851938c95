// Package core provides the domain models and interfaces for the dispatch engine.
package core

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusInProgress JobStatus = "in-progress"
	StatusInReview   JobStatus = "in-review"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusArchived   JobStatus = "archived"
)

// Priority is the user-assigned importance of a job. It does not affect
// dispatch order within a queue — order_in_queue is the sole ordering key —
// but is carried for display and future use.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// QueueType names one of the two priority queues a job can sit in.
// QueueNone marks a job that is not currently queued.
type QueueType string

const (
	QueueBacklog QueueType = "backlog"
	QueueRework  QueueType = "rework"
	QueueNone    QueueType = ""
)

// AcceptanceStatus tracks the user's review verdict on a completed job.
type AcceptanceStatus string

const (
	AcceptanceNotReviewed       AcceptanceStatus = "not_reviewed"
	AcceptanceAccepted          AcceptanceStatus = "reviewed_and_accepted"
	AcceptanceAskedRework       AcceptanceStatus = "reviewed_and_asked_rework"
	AcceptanceRejected          AcceptanceStatus = "rejected"
)

// UserInput captures where a job's prompt came from.
type UserInput struct {
	Source         string `json:"source"`
	Prompt         string `json:"prompt"`
	SourceMetadata string `json:"source_metadata,omitempty"`
}

// Job is a versioned unit of dispatched work. Rows are keyed by (id, version);
// a repository's LatestJob(id, org) hides the max-version projection so
// callers never juggle version numbers directly outside the storage layer.
type Job struct {
	ID       string    `gorm:"primaryKey;size:36;index:idx_job_id_version"`
	Version  int       `gorm:"primaryKey;index:idx_job_id_version"`
	OrgID    string    `gorm:"index:idx_org_queue_order,priority:1;size:36;not null"`
	Status   JobStatus `gorm:"index;size:20;not null"`
	Priority Priority  `gorm:"size:10;default:'medium'"`

	QueueType    QueueType `gorm:"column:queue_type;index:idx_org_queue_order,priority:2;size:10"`
	OrderInQueue int       `gorm:"column:order_in_queue;index:idx_org_queue_order,priority:3;default:-1"`

	AgentID *string `gorm:"index;size:36"`

	UserInputSource   string `gorm:"column:user_input_source;size:255"`
	UserInputPrompt   string `gorm:"column:user_input_prompt;type:text"`
	UserInputMetadata string `gorm:"column:user_input_metadata;type:text"`

	RepoID *string `gorm:"size:36"`

	UserAcceptanceStatus AcceptanceStatus `gorm:"size:30;default:'not_reviewed'"`
	UserComments         StringSlice      `gorm:"type:text"`

	CodeGenerationLogs   string `gorm:"type:text"`
	CodeVerificationLogs string `gorm:"type:text"`
	PRLink               string `gorm:"size:1024"`
	ConfidenceScore      *float64

	Updates string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index"`
	CreatedBy string    `gorm:"size:255"`
	UpdatedBy string    `gorm:"size:255"`
}

// TableName pins the GORM table name so version rows for the same job
// share a table regardless of how the struct is embedded elsewhere.
func (Job) TableName() string { return "jobs" }

// IsQueued reports whether the job currently occupies a queue slot.
func (j *Job) IsQueued() bool {
	return j.Status == StatusQueued && j.QueueType != QueueNone
}
