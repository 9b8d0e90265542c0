package dto

import "time"

// CurrentScreenResponse is the player plane's view of the rotation.
type CurrentScreenResponse struct {
	Screen    string    `json:"screen"`
	VersionID int64     `json:"version_id"`
	ChangedAt time.Time `json:"changed_at"`
	Halted    string    `json:"halted,omitempty"`
}
