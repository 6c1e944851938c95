package core

import "time"

// LogLevel is the severity of a LogEntry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one line of an agent's code-generation/verification output,
// as received over the agent stream (§4.3 LOG_MESSAGE frame).
type LogEntry struct {
	ID        string    `gorm:"primaryKey;size:36"`
	JobID     string    `gorm:"index:idx_log_job,priority:1;size:36;not null"`
	JobVersion int      `gorm:"index:idx_log_job,priority:2;not null"`
	OrgID     string    `gorm:"index;size:36;not null"`
	Level     LogLevel  `gorm:"size:10"`
	Stage     string    `gorm:"size:100"`
	Message   string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName pins the GORM table name.
func (LogEntry) TableName() string { return "job_log_entries" }
