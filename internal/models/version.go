package models

import (
	"encoding/json"
	"time"
)

// VersionRecord is one immutable entry of the append-only schedule ledger.
// Only the pinned flag may change after commit; it is retention metadata,
// not part of the recorded history.
type VersionRecord struct {
	VersionID int64           `db:"version_id" json:"version_id"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	Actor     string          `db:"actor" json:"actor"`
	Summary   string          `db:"summary" json:"summary"`
	Document  json.RawMessage `db:"document" json:"document"`
	Pinned    bool            `db:"pinned" json:"pinned"`
}

// VersionFilter narrows version listings.
type VersionFilter struct {
	Actor      string
	PinnedOnly bool
	Page       int
	PageSize   int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
