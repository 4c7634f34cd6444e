package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

func jobVars(date time.Time, ft models.FilingType) map[string]any {
	return map[string]any{"key": jobKey(date, string(ft))}
}

// GetOrCreateBackfillJob returns the job for (date, ft), creating it pending.
func (c *Client) GetOrCreateBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error) {
	vars := jobVars(date, ft)
	vars["date"] = models.Day(date)
	vars["filing_type"] = string(ft)

	if _, err := c.create(ctx, `
		CREATE type::record("backfill_job", $key) CONTENT {
			target_date: $date,
			filing_type: $filing_type,
			status: "pending",
			filings_found: 0,
			created_at: time::now()
		}
	`, vars); err != nil {
		return nil, fmt.Errorf("create backfill job: %w", err)
	}

	job, err := queryOne[models.BackfillJob](ctx, c,
		`SELECT * OMIT id FROM type::record("backfill_job", $key)`, vars)
	if err != nil {
		return nil, fmt.Errorf("get backfill job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("get backfill job %s: %w", vars["key"], ErrNotFound)
	}
	return job, nil
}

// ResetStaleBackfillJob moves a running job started before cutoff back to pending.
func (c *Client) ResetStaleBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, cutoff time.Time) (bool, error) {
	vars := jobVars(date, ft)
	vars["cutoff"] = cutoff
	rows, err := queryRows[any](ctx, c, `
		UPDATE type::record("backfill_job", $key) SET status = "pending", started_at = NONE
		WHERE status = "running" AND (!started_at OR started_at < $cutoff)
		RETURN VALUE status
	`, vars)
	if err != nil {
		return false, fmt.Errorf("reset stale backfill job: %w", err)
	}
	return len(rows) > 0, nil
}

// StartBackfillJob moves a pending or failed job to running in one
// conditional update, so only one worker wins.
func (c *Client) StartBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (bool, error) {
	rows, err := queryRows[any](ctx, c, `
		UPDATE type::record("backfill_job", $key) SET
			status = "running",
			started_at = time::now(),
			completed_at = NONE,
			error_message = NONE
		WHERE status IN ["pending", "failed"]
		RETURN VALUE status
	`, jobVars(date, ft))
	if err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("start backfill job: %w", err)
	}
	return len(rows) > 0, nil
}

// ReopenBackfillJob moves a completed job back to pending.
func (c *Client) ReopenBackfillJob(ctx context.Context, date time.Time, ft models.FilingType) (bool, error) {
	rows, err := queryRows[any](ctx, c, `
		UPDATE type::record("backfill_job", $key) SET status = "pending"
		WHERE status = "completed"
		RETURN VALUE status
	`, jobVars(date, ft))
	if err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("reopen backfill job: %w", err)
	}
	return len(rows) > 0, nil
}

// CompleteBackfillJob records success with the number of filings found.
func (c *Client) CompleteBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, found int) error {
	vars := jobVars(date, ft)
	vars["found"] = found
	err := c.exec(ctx, `
		UPDATE type::record("backfill_job", $key) SET
			status = "completed",
			completed_at = time::now(),
			filings_found = $found,
			error_message = NONE
	`, vars)
	if err != nil {
		return fmt.Errorf("complete backfill job: %w", err)
	}
	return nil
}

// FailBackfillJob records failure with a bounded message.
func (c *Client) FailBackfillJob(ctx context.Context, date time.Time, ft models.FilingType, msg string) error {
	vars := jobVars(date, ft)
	vars["msg"] = models.TruncateError(msg)
	err := c.exec(ctx, `
		UPDATE type::record("backfill_job", $key) SET status = "failed", error_message = $msg
	`, vars)
	if err != nil {
		return fmt.Errorf("fail backfill job: %w", err)
	}
	return nil
}
