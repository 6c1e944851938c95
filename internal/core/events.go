package core

import "time"

// Event is the interface for everything the dispatch engine publishes to
// in-process subscribers (log/notification fan-out, the HTTP façade's SSE
// endpoint, tests). Grounded on the teacher's pkg/core/events.go.
type Event interface {
	eventMarker()
}

// JobClaimed is emitted when Preprocess successfully claims a job for an agent.
type JobClaimed struct {
	Job       *Job
	AgentID   string
	Timestamp time.Time
}

func (*JobClaimed) eventMarker() {}

// JobOrphaned is emitted when orphan reconciliation returns a job to its queue.
type JobOrphaned struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobOrphaned) eventMarker() {}

// JobCompleted is emitted when a Job-Execution run finishes successfully.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a Job-Execution run fails terminally.
type JobFailed struct {
	Job       *Job
	Error     string
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// AgentOfflineEvent is emitted when an agent crosses the consecutive-failure threshold.
type AgentOfflineEvent struct {
	AgentID   string
	Timestamp time.Time
}

func (*AgentOfflineEvent) eventMarker() {}

// AgentOnline is emitted when an agent transitions to active, either via
// registration, a successful ping, or a manual reconnect.
type AgentOnline struct {
	AgentID   string
	Timestamp time.Time
}

func (*AgentOnline) eventMarker() {}

// LogAppended is emitted whenever a log line lands in the sink, for the
// per-job notifier fan-out (§4.9).
type LogAppended struct {
	JobID     string
	JobVersion int
	Entry     LogEntry
}

func (*LogAppended) eventMarker() {}
