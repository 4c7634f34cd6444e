package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

// ClaimFiling creates the task record for (filingID, source). The record id
// is the uniqueness guard, so a second claim reports false.
func (c *Client) ClaimFiling(ctx context.Context, filingID int64, source string) (bool, error) {
	ok, err := c.create(ctx, `
		CREATE type::record("ingestion_task", $key) CONTENT {
			filing_id: $filing_id,
			source: $source,
			status: "claimed",
			created_at: time::now(),
			updated_at: time::now()
		}
	`, map[string]any{
		"key":       taskKey(filingID, source),
		"filing_id": filingID,
		"source":    source,
	})
	if err != nil {
		return false, fmt.Errorf("claim filing %d: %w", filingID, err)
	}
	return ok, nil
}

// UpdateTaskStatus moves a task to status. Failure fields are written only
// when status is failed. A missing task is left missing.
func (c *Client) UpdateTaskStatus(ctx context.Context, filingID int64, source string, status models.TaskStatus, upd models.TaskUpdate) error {
	set := "status = $status, updated_at = time::now()"
	vars := map[string]any{
		"key":    taskKey(filingID, source),
		"status": string(status),
	}
	if status == models.TaskFailed {
		set += ", failed_step = $failed_step, error_message = $error_message"
		vars["failed_step"] = upd.FailedStep
		vars["error_message"] = truncatedPtr(upd.ErrorMessage)
	}

	if err := c.exec(ctx, `UPDATE type::record("ingestion_task", $key) SET `+set, vars); err != nil {
		return fmt.Errorf("update task %d: %w", filingID, err)
	}
	return nil
}

// RecordSkipped marks a task skipped with its reason and observed size.
func (c *Client) RecordSkipped(ctx context.Context, filingID int64, source, reason string, sizeMB *float64, url string) error {
	err := c.exec(ctx, `
		UPDATE type::record("ingestion_task", $key) SET
			status = "skipped",
			skip_reason = $reason,
			file_size_mb = $size,
			source_url = $url,
			updated_at = time::now()
	`, map[string]any{
		"key":    taskKey(filingID, source),
		"reason": reason,
		"size":   sizeMB,
		"url":    url,
	})
	if err != nil {
		return fmt.Errorf("record skipped %d: %w", filingID, err)
	}
	return nil
}

// ResetFailedTasks returns failed tasks to claimed, clears their failure
// fields and stamps reset_at.
func (c *Client) ResetFailedTasks(ctx context.Context, f models.ResetFilter) (int, error) {
	conds := []string{`status = "failed"`}
	vars := map[string]any{}
	if f.Source != nil {
		conds = append(conds, "source = $source")
		vars["source"] = *f.Source
	}
	if len(f.FilingIDs) > 0 {
		conds = append(conds, "filing_id IN $ids")
		vars["ids"] = f.FilingIDs
	}

	rows, err := queryRows[any](ctx, c, `
		UPDATE ingestion_task SET
			status = "claimed",
			failed_step = NONE,
			error_message = NONE,
			reset_at = time::now(),
			updated_at = time::now()
		`+where(conds)+` RETURN VALUE filing_id`, vars)
	if err != nil {
		return 0, fmt.Errorf("reset failed tasks: %w", err)
	}
	return len(rows), nil
}

// TakeResetTask moves a reset claimed task to downloading and clears
// reset_at. The WHERE guard makes it a single conditional update, so only
// one concurrent caller sees a returned row.
func (c *Client) TakeResetTask(ctx context.Context, filingID int64, source string) (bool, error) {
	rows, err := queryRows[any](ctx, c, `
		UPDATE type::record("ingestion_task", $key) SET
			status = "downloading",
			reset_at = NONE,
			updated_at = time::now()
		WHERE status = "claimed" AND reset_at != NONE
		RETURN VALUE filing_id
	`, map[string]any{"key": taskKey(filingID, source)})
	if err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("take reset task %d: %w", filingID, err)
	}
	return len(rows) > 0, nil
}

// ListTasks returns matching tasks, most recently updated first.
func (c *Client) ListTasks(ctx context.Context, f models.TaskFilter) ([]models.IngestionTask, error) {
	var conds []string
	vars := map[string]any{}
	if f.Status != nil {
		conds = append(conds, "status = $status")
		vars["status"] = string(*f.Status)
	}
	if f.Source != nil {
		conds = append(conds, "source = $source")
		vars["source"] = *f.Source
	}
	if f.ResetOnly {
		conds = append(conds, "reset_at != NONE")
	}
	limit := ""
	if f.Limit > 0 {
		limit = "LIMIT $limit"
		vars["limit"] = f.Limit
	}

	sql := fmt.Sprintf(`
		SELECT * OMIT id FROM ingestion_task %s
		ORDER BY updated_at DESC, filing_id ASC, source ASC %s
	`, where(conds), limit)

	tasks, err := queryRows[models.IngestionTask](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []models.IngestionTask{}
	}
	return tasks, nil
}

// GetTask returns the task, or nil when it was never claimed.
func (c *Client) GetTask(ctx context.Context, filingID int64, source string) (*models.IngestionTask, error) {
	t, err := queryOne[models.IngestionTask](ctx, c,
		`SELECT * OMIT id FROM type::record("ingestion_task", $key)`,
		map[string]any{"key": taskKey(filingID, source)})
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", filingID, err)
	}
	return t, nil
}

// MarkTasksEmailed stamps emailed_at on the source's tasks that have none.
func (c *Client) MarkTasksEmailed(ctx context.Context, filingIDs []int64, source string) (int, error) {
	if len(filingIDs) == 0 {
		return 0, nil
	}
	rows, err := queryRows[any](ctx, c, `
		UPDATE ingestion_task SET emailed_at = time::now()
		WHERE source = $source AND filing_id IN $ids AND !emailed_at
		RETURN VALUE filing_id
	`, map[string]any{"source": source, "ids": filingIDs})
	if err != nil {
		return 0, fmt.Errorf("mark tasks emailed: %w", err)
	}
	return len(rows), nil
}

func truncatedPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := models.TruncateError(*p)
	return &s
}
