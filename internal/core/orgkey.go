package core

import "time"

// OrgAPIKey is a provisioned credential an org hands to agents it wants to
// admit. Registration (§4.2) resolves an incoming key's hash to its owning
// org through this table before any agent row for that org necessarily
// exists — the agent row itself is only created/updated by the subsequent
// upsert-on-(org_id, hostname) step.
type OrgAPIKey struct {
	KeyHash   string `gorm:"primaryKey;size:64"`
	OrgID     string `gorm:"index;size:36;not null"`
	Label     string `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName pins the GORM table name.
func (OrgAPIKey) TableName() string { return "org_api_keys" }
