package service

import (
	"context"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/lookup"
	"github.com/raphaelgruber/sludgewire/internal/models"
)

// TaskStore is the claim ledger. Uniqueness races surface as false, never
// as errors, and updates of a missing row are no-ops.
type TaskStore interface {
	ClaimFiling(ctx context.Context, filingID int64, source string) (bool, error)
	UpdateTaskStatus(ctx context.Context, filingID int64, source string, status models.TaskStatus, upd models.TaskUpdate) error
	RecordSkipped(ctx context.Context, filingID int64, source, reason string, sizeMB *float64, url string) error
	// ResetFailedTasks returns failed tasks to claimed and stamps reset_at.
	ResetFailedTasks(ctx context.Context, f models.ResetFilter) (int, error)
	// TakeResetTask moves a reset claimed task to downloading and clears
	// reset_at in one conditional update. Only the caller that gets true may
	// process the task.
	TakeResetTask(ctx context.Context, filingID int64, source string) (bool, error)
	ListTasks(ctx context.Context, f models.TaskFilter) ([]models.IngestionTask, error)
	// GetTask returns nil, nil when the task does not exist.
	GetTask(ctx context.Context, filingID int64, source string) (*models.IngestionTask, error)
	MarkTasksEmailed(ctx context.Context, filingIDs []int64, source string) (int, error)
}

// RecordStore holds filing summaries and itemized events.
type RecordStore interface {
	UpsertFiling(ctx context.Context, f models.FilingSummary) error
	// GetFiling returns nil, nil when the filing does not exist.
	GetFiling(ctx context.Context, filingID int64) (*models.FilingSummary, error)
	InsertEvent(ctx context.Context, e models.ItemizedEvent) (bool, error)
	ListEvents(ctx context.Context, filingID int64) ([]models.ItemizedEvent, error)
	ListUnemailedFilings(ctx context.Context, since time.Time, minTotal float64, limit int) ([]models.FilingSummary, error)
	ListUnemailedEvents(ctx context.Context, since time.Time, limit int) ([]models.ItemizedEvent, error)
	MarkFilingsEmailed(ctx context.Context, filingIDs []int64) (int, error)
	MarkEventsEmailed(ctx context.Context, eventIDs []string) (int, error)
}

// BackfillStore tracks job-level backfill state.
type BackfillStore interface {
	GetOrCreateBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error)
	// ResetStaleBackfillJob moves a running job started before cutoff back to pending.
	ResetStaleBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, cutoff time.Time) (bool, error)
	// StartBackfillJob moves a pending or failed job to running; false when
	// another worker holds it or it already completed.
	StartBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (bool, error)
	// ReopenBackfillJob moves a completed job back to pending so a retry can
	// re-drive its reset tasks; false when the job is not completed.
	ReopenBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (bool, error)
	CompleteBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, found int) error
	FailBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, msg string) error
}

// ConfigStore holds run-level settings owned by operators.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
}

// Store is everything the pipeline persists.
type Store interface {
	TaskStore
	RecordStore
	BackfillStore
	ConfigStore
	lookup.CommitteeStore
}
