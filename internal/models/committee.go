package models

import "time"

// Committee is a cached filer name. Provisional entries come from filing
// content rather than the official committee master file.
type Committee struct {
	CommitteeID string    `json:"committee_id"`
	Name        string    `json:"name"`
	Provisional bool      `json:"provisional"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Runtime configuration keys stored in the app_config table.
const (
	ConfigMaxNewPerRun = "max_new_per_run"
	ConfigEmailEnabled = "email_enabled"
)

// DefaultMaxNewPerRun applies when max_new_per_run is unset or invalid.
const DefaultMaxNewPerRun = 50
