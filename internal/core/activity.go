package core

import "time"

// ReadStatus is whether a user has seen an activity yet.
type ReadStatus string

const (
	Unread ReadStatus = "unread"
	Read   ReadStatus = "read"
)

// Activity is an append-only, typed audit record tied to a job. It exists
// alongside Job.Updates (a free-form human-readable string): Updates is for
// display, Activity is for machine-readable audit and per-user read state.
type Activity struct {
	ID    string `gorm:"primaryKey;size:36"`
	JobID string `gorm:"index;size:36;not null"`
	OrgID string `gorm:"index;size:36;not null"`

	Name    string `gorm:"size:255;not null"`
	Summary string `gorm:"type:text"`

	CodeGenerationLogs string `gorm:"type:text"`
	VerificationLogs   string `gorm:"type:text"`

	CreatedBy string    `gorm:"size:255"`
	UpdatedBy string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the GORM table name.
func (Activity) TableName() string { return "activities" }

// Activity names emitted by the engine. Kept as constants so callers never
// hand-type these strings differently at different call sites.
const (
	ActivityJobCreated        = "job.created"
	ActivityJobUpdated        = "job.updated"
	ActivityJobArchived       = "job.archived"
	ActivityJobExecuted       = "job.executed"
	ActivityJobReprioritized  = "job.reprioritized"
	ActivityJobClaimed        = "job.claimed"
	ActivityJobOrphaned       = "job.orphaned"
	ActivityJobCompleted      = "job.completed"
	ActivityJobFailed         = "job.failed"
	ActivityJobRetried        = "job.retried"
	ActivityJobCancelled      = "job.cancelled"
)

// ActivityReadStatus tracks whether a specific user has read an activity.
type ActivityReadStatus struct {
	ActivityID string     `gorm:"primaryKey;size:36"`
	UserID     string     `gorm:"primaryKey;size:255"`
	Status     ReadStatus `gorm:"size:10;default:'unread'"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime"`
}

// TableName pins the GORM table name.
func (ActivityReadStatus) TableName() string { return "activity_read_statuses" }
