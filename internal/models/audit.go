package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionLogout           = "LOGOUT"
	AuditActionSchedulePropose  = "SCHEDULE_PROPOSE"
	AuditActionScheduleReject   = "SCHEDULE_REJECT"
	AuditActionScheduleRollback = "SCHEDULE_ROLLBACK"
	AuditActionVersionPin       = "VERSION_PIN"
	AuditActionVersionPrune     = "VERSION_PRUNE"
	AuditActionPlayerSkip       = "PLAYER_SKIP"
)

// AuditLog represents an audit trail record. Actor is the opaque identity
// supplied by the mutation caller ("system" and "file-watcher" included).
type AuditLog struct {
	ID         string          `db:"id" json:"id"`
	Actor      string          `db:"actor" json:"actor"`
	Action     string          `db:"action" json:"action"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID *string         `db:"resource_id" json:"resource_id,omitempty"`
	Detail     json.RawMessage `db:"detail" json:"detail,omitempty"`
	IPAddress  string          `db:"ip_address" json:"ip_address"`
	UserAgent  string          `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	Actor    string
	Action   string
	Resource string
	Page     int
	PageSize int
}
