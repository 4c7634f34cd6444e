// Package models defines the records persisted by the sludgewire ingestion pipeline.
package models

import "time"

// TaskStatus is the per-filing processing state recorded in the claim ledger.
type TaskStatus string

const (
	TaskClaimed     TaskStatus = "claimed"
	TaskDownloading TaskStatus = "downloading"
	TaskDownloaded  TaskStatus = "downloaded"
	TaskParsing     TaskStatus = "parsing"
	TaskIngested    TaskStatus = "ingested"
	TaskFailed      TaskStatus = "failed"
	TaskSkipped     TaskStatus = "skipped"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskClaimed, TaskDownloading, TaskDownloaded, TaskParsing, TaskIngested, TaskFailed, TaskSkipped:
		return true
	}
	return false
}

// Pipeline steps recorded in FailedStep.
const (
	StepDownloading = "downloading"
	StepParsing     = "parsing"
)

// SkipTooLarge is the skip reason for filings over the configured size ceiling.
const SkipTooLarge = "too_large"

// MaxErrorLen bounds ErrorMessage and BackfillJob.ErrorMessage.
const MaxErrorLen = 500

// IngestionTask is the claim record for one (filing id, source) pair.
// Its existence is the only proof that the pair was claimed.
type IngestionTask struct {
	FilingID     int64      `json:"filing_id"`
	Source       string     `json:"source"`
	Status       TaskStatus `json:"status"`
	FailedStep   *string    `json:"failed_step,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	SkipReason   *string    `json:"skip_reason,omitempty"`
	FileSizeMB   *float64   `json:"file_size_mb,omitempty"`
	SourceURL    *string    `json:"source_url,omitempty"`
	EmailedAt    *time.Time `json:"emailed_at,omitempty"`
	// ResetAt is set when an operator reset returns the task to claimed and
	// cleared when a worker takes it again.
	ResetAt   *time.Time `json:"reset_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskUpdate carries the optional fields written alongside a status transition.
// Nil fields are cleared on failure transitions and left untouched otherwise.
type TaskUpdate struct {
	FailedStep   *string
	ErrorMessage *string
}

// FailedAt builds a TaskUpdate for a failure at step with err's message.
func FailedAt(step string, err error) TaskUpdate {
	msg := TruncateError(err.Error())
	return TaskUpdate{FailedStep: &step, ErrorMessage: &msg}
}

// TaskFilter selects tasks for listing.
type TaskFilter struct {
	Status *TaskStatus
	Source *string
	// ResetOnly keeps tasks returned to claimed by a reset and not yet taken.
	ResetOnly bool
	Limit     int
}

// ResetFilter selects failed tasks to return to claimed.
// Empty FilingIDs means every failed task (optionally limited to Source).
type ResetFilter struct {
	Source    *string
	FilingIDs []int64
}
