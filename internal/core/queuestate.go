package core

import "time"

// QueueState tracks the pause state of one (org, queue_type) pair.
// Grounded on the teacher's per-queue QueueState row.
type QueueState struct {
	OrgID     string    `gorm:"primaryKey;size:36"`
	QueueType QueueType `gorm:"primaryKey;size:10"`
	Paused    bool      `gorm:"default:false"`
	PausedAt  *time.Time
	PausedBy  string    `gorm:"size:255"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the GORM table name.
func (QueueState) TableName() string { return "queue_states" }

// ScheduleBinding maps an agent to the two cron schedules the dispatch
// engine holds for it. Exists iff the agent has ever been active (§3).
type ScheduleBinding struct {
	AgentID                string `gorm:"primaryKey;size:36"`
	QueueScheduleActive    bool   `gorm:"default:false"`
	HealthCheckScheduleActive bool `gorm:"default:false"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the GORM table name.
func (ScheduleBinding) TableName() string { return "schedule_bindings" }
