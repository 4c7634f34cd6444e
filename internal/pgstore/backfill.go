package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

// GetOrCreateBackfillJob returns the job for (date, ft), creating it pending.
func (s *Store) GetOrCreateBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error) {
	day := models.Day(date)
	if _, err := s.insertOnce(ctx, `
		INSERT INTO backfill_job (target_date, filing_type, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (target_date, filing_type) DO NOTHING`,
		day, string(ft), string(models.BackfillPending), s.now()); err != nil {
		return nil, fmt.Errorf("create backfill job: %w", err)
	}

	var j models.BackfillJob
	var filingType, status string
	err := s.pool.QueryRow(ctx, `
		SELECT target_date, filing_type, status, started_at, completed_at, filings_found, error_message, created_at
		FROM backfill_job WHERE target_date = $1 AND filing_type = $2`, day, string(ft)).
		Scan(&j.TargetDate, &filingType, &status, &j.StartedAt, &j.CompletedAt, &j.FilingsFound, &j.ErrorMessage, &j.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get backfill job: %w", err)
	}
	j.TargetDate = models.Day(j.TargetDate)
	j.FilingType = models.FilingType(filingType)
	j.Status = models.BackfillStatus(status)
	j.StartedAt = utcPtr(j.StartedAt)
	j.CompletedAt = utcPtr(j.CompletedAt)
	j.CreatedAt = j.CreatedAt.UTC()
	return &j, nil
}

// ResetStaleBackfillJob moves a running job started before cutoff back to pending.
func (s *Store) ResetStaleBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, cutoff time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backfill_job SET status = 'pending', started_at = NULL
		WHERE target_date = $1 AND filing_type = $2 AND status = 'running'
		  AND (started_at IS NULL OR started_at < $3)`,
		models.Day(date), string(ft), cutoff)
	if err != nil {
		return false, fmt.Errorf("reset stale backfill job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StartBackfillJob moves a pending or failed job to running. The status
// guard in the WHERE clause makes concurrent starts race on the row lock.
func (s *Store) StartBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backfill_job
		SET status = 'running', started_at = $3, completed_at = NULL, error_message = NULL
		WHERE target_date = $1 AND filing_type = $2 AND status IN ('pending', 'failed')`,
		models.Day(date), string(ft), s.now())
	if err != nil {
		return false, fmt.Errorf("start backfill job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReopenBackfillJob moves a completed job back to pending.
func (s *Store) ReopenBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backfill_job SET status = 'pending'
		WHERE target_date = $1 AND filing_type = $2 AND status = 'completed'`,
		models.Day(date), string(ft))
	if err != nil {
		return false, fmt.Errorf("reopen backfill job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteBackfillJob records success with the number of filings found.
func (s *Store) CompleteBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, found int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE backfill_job
		SET status = 'completed', completed_at = $3, filings_found = $4, error_message = NULL
		WHERE target_date = $1 AND filing_type = $2`,
		models.Day(date), string(ft), s.now(), found)
	if err != nil {
		return fmt.Errorf("complete backfill job: %w", err)
	}
	return nil
}

// FailBackfillJob records failure with a bounded message.
func (s *Store) FailBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE backfill_job SET status = 'failed', error_message = $3
		WHERE target_date = $1 AND filing_type = $2`,
		models.Day(date), string(ft), models.TruncateError(msg))
	if err != nil {
		return fmt.Errorf("fail backfill job: %w", err)
	}
	return nil
}
