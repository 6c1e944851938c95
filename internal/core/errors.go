package core

import "errors"

// Sentinel errors, matched with errors.Is at call sites. Grounded on the
// teacher's package-level error-var pattern in pkg/core/errors.go.
var (
	ErrInvalidCredentials   = errors.New("dispatch: invalid credentials")
	ErrAgentNotFound        = errors.New("dispatch: agent not found")
	ErrJobNotFound          = errors.New("dispatch: job not found")
	ErrJobNotOwned          = errors.New("dispatch: job not owned by this agent")
	ErrInvalidTransition    = errors.New("dispatch: invalid status transition")
	ErrQueueEmpty           = errors.New("dispatch: queue is empty")
	ErrQueuePaused          = errors.New("dispatch: queue is paused")
	ErrJobNotQueued         = errors.New("dispatch: job is not queued")
	ErrAlreadyArchived      = errors.New("dispatch: job is already archived")
	ErrInvalidQueueType     = errors.New("dispatch: invalid queue type")
	ErrInvalidJobTypeName   = errors.New("dispatch: invalid job type name")
	ErrStreamClosed         = errors.New("dispatch: agent stream is closed")
	ErrStreamOrgMismatch    = errors.New("dispatch: frame org does not match session org")
	ErrHeartbeatTimeout     = errors.New("dispatch: agent did not acknowledge health check")
	ErrJobNotRunning        = errors.New("dispatch: job has no in-flight execution to cancel")
)
