package models

import (
	"fmt"
	"time"
)

// FilingType selects which filings a backfill job replays.
type FilingType string

const (
	// FilingType3X replays periodic F3X summary reports.
	FilingType3X FilingType = "3x"
	// FilingTypeE replays independent expenditure reports (F24, F5).
	FilingTypeE FilingType = "e"
)

// ParseFilingType validates a user-supplied filing type.
func ParseFilingType(s string) (FilingType, error) {
	switch FilingType(s) {
	case FilingType3X, FilingTypeE:
		return FilingType(s), nil
	}
	return "", fmt.Errorf("unknown filing type %q (want 3x or e)", s)
}

// FormTypes returns the upstream form codes queried for this filing type.
func (t FilingType) FormTypes() []string {
	if t == FilingType3X {
		return []string{"F3X"}
	}
	return []string{"F24", "F5"}
}

// BackfillStatus is the job-level state of a backfill unit.
type BackfillStatus string

const (
	BackfillPending   BackfillStatus = "pending"
	BackfillRunning   BackfillStatus = "running"
	BackfillCompleted BackfillStatus = "completed"
	BackfillFailed    BackfillStatus = "failed"
)

// BackfillJob tracks replay of one (date, filing type) unit.
type BackfillJob struct {
	TargetDate   time.Time      `json:"target_date"`
	FilingType   FilingType     `json:"filing_type"`
	Status       BackfillStatus `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	FilingsFound int            `json:"filings_found"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// IsStale reports whether a running job started before cutoff.
func (j *BackfillJob) IsStale(cutoff time.Time) bool {
	return j.Status == BackfillRunning && (j.StartedAt == nil || j.StartedAt.Before(cutoff))
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
