package core

import "time"

// AgentStatus is the liveness state of a registered agent.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentIdle    AgentStatus = "idle"
	AgentOffline AgentStatus = "offline"
)

// OfflineThreshold is the number of consecutive failed pings after which an
// agent is marked offline (§4.7).
const OfflineThreshold = 3

// OrphanTimeout is how long a job may sit in-progress without an update
// before it is considered abandoned by its agent (§4.4 step 2).
const OrphanTimeout = 5 * time.Minute

// Agent is a remote worker process registered against an organization.
type Agent struct {
	ID     string      `gorm:"primaryKey;size:36"`
	OrgID  string      `gorm:"index:idx_org_host,priority:1;size:36;not null"`
	Name   string      `gorm:"size:255"`
	Status AgentStatus `gorm:"index;size:10;default:'offline'"`

	Host string  `gorm:"index:idx_org_host,priority:2;size:255;not null"`
	Port int     `gorm:"not null"`
	IP   *string `gorm:"size:64"`

	APIKeyHash string `gorm:"size:255;not null"`

	ConsecutiveFailures int `gorm:"default:0"`

	LastActive             *time.Time
	LastStreamConnectedAt  *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the GORM table name.
func (Agent) TableName() string { return "agents" }
