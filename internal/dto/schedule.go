package dto

import (
	"encoding/json"
	"time"
)

// ProposeScheduleRequest carries a candidate schedule document. The document
// is decoded, migrated and validated before anything is persisted.
type ProposeScheduleRequest struct {
	Document json.RawMessage `json:"document" validate:"required"`
	Summary  string          `json:"summary" validate:"max=200"`
}

// ScheduleVersionResponse is a committed version including its document.
type ScheduleVersionResponse struct {
	VersionID int64           `json:"version_id"`
	CreatedAt time.Time       `json:"created_at"`
	Actor     string          `json:"actor"`
	Summary   string          `json:"summary"`
	Pinned    bool            `json:"pinned"`
	Document  json.RawMessage `json:"document"`
}

// VersionSummary is a ledger row without the document payload.
type VersionSummary struct {
	VersionID int64     `json:"version_id"`
	CreatedAt time.Time `json:"created_at"`
	Actor     string    `json:"actor"`
	Summary   string    `json:"summary"`
	Pinned    bool      `json:"pinned"`
}

// VersionListQuery mirrors the supported listing filters.
type VersionListQuery struct {
	Actor      string
	PinnedOnly bool
	Page       int
	PageSize   int
}

// RollbackRequest re-activates an earlier version by committing its document
// as a new head.
type RollbackRequest struct {
	VersionID int64  `json:"version_id" validate:"required,min=1"`
	Summary   string `json:"summary" validate:"max=200"`
}

// PinRequest toggles retention protection on a version.
type PinRequest struct {
	Pinned bool `json:"pinned"`
}

// PreviewRequest asks for the next screens without touching live state.
// When Document is empty the active version is previewed. At overrides the
// evaluation instant, Seed fixes the variants draws.
type PreviewRequest struct {
	Document json.RawMessage `json:"document,omitempty"`
	Count    int             `json:"count" validate:"min=0,max=500"`
	At       *time.Time      `json:"at,omitempty"`
	Seed     *int64          `json:"seed,omitempty"`
}

// PreviewResponse is the simulated rotation. Halted is set when the walk
// stopped early because no screen was eligible.
type PreviewResponse struct {
	Screens   []string `json:"screens"`
	VersionID *int64   `json:"version_id,omitempty"`
	Halted    string   `json:"halted,omitempty"`
}
