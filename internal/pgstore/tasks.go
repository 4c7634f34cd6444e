package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

const taskColumns = `filing_id, source, status, failed_step, error_message, skip_reason,
	file_size_mb, source_url, emailed_at, reset_at, created_at, updated_at`

func scanTask(row pgx.Row) (models.IngestionTask, error) {
	var t models.IngestionTask
	var status string
	err := row.Scan(&t.FilingID, &t.Source, &status, &t.FailedStep, &t.ErrorMessage, &t.SkipReason,
		&t.FileSizeMB, &t.SourceURL, &t.EmailedAt, &t.ResetAt, &t.CreatedAt, &t.UpdatedAt)
	t.Status = models.TaskStatus(status)
	t.EmailedAt = utcPtr(t.EmailedAt)
	t.ResetAt = utcPtr(t.ResetAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, err
}

// ClaimFiling inserts a claimed task; false when (filingID, source) exists.
func (s *Store) ClaimFiling(ctx context.Context, filingID int64, source string) (bool, error) {
	now := s.now()
	ok, err := s.insertOnce(ctx, `
		INSERT INTO ingestion_task (filing_id, source, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (filing_id, source) DO NOTHING`,
		filingID, source, string(models.TaskClaimed), now)
	if err != nil {
		return false, fmt.Errorf("claim filing %d: %w", filingID, err)
	}
	return ok, nil
}

// UpdateTaskStatus sets status; failure fields are written only on failed.
func (s *Store) UpdateTaskStatus(ctx context.Context, filingID int64, source string, status models.TaskStatus, upd models.TaskUpdate) error {
	var err error
	if status == models.TaskFailed {
		var msg *string
		if upd.ErrorMessage != nil {
			m := models.TruncateError(*upd.ErrorMessage)
			msg = &m
		}
		_, err = s.pool.Exec(ctx, `
			UPDATE ingestion_task SET status = $3, failed_step = $4, error_message = $5, updated_at = $6
			WHERE filing_id = $1 AND source = $2`,
			filingID, source, string(status), upd.FailedStep, msg, s.now())
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE ingestion_task SET status = $3, updated_at = $4
			WHERE filing_id = $1 AND source = $2`,
			filingID, source, string(status), s.now())
	}
	if err != nil {
		return fmt.Errorf("update task %d: %w", filingID, err)
	}
	return nil
}

// RecordSkipped marks a task skipped with its reason and observed size.
func (s *Store) RecordSkipped(ctx context.Context, filingID int64, source, reason string, sizeMB *float64, url string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_task
		SET status = $3, skip_reason = $4, file_size_mb = $5, source_url = $6, updated_at = $7
		WHERE filing_id = $1 AND source = $2`,
		filingID, source, string(models.TaskSkipped), reason, sizeMB, url, s.now())
	if err != nil {
		return fmt.Errorf("record skipped %d: %w", filingID, err)
	}
	return nil
}

// ResetFailedTasks returns failed tasks to claimed, clears their failure
// fields and stamps reset_at.
func (s *Store) ResetFailedTasks(ctx context.Context, f models.ResetFilter) (int, error) {
	args := []any{string(models.TaskClaimed), s.now(), string(models.TaskFailed)}
	conds := []string{"status = $3"}
	if f.Source != nil {
		args = append(args, *f.Source)
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if len(f.FilingIDs) > 0 {
		args = append(args, f.FilingIDs)
		conds = append(conds, fmt.Sprintf("filing_id = ANY($%d)", len(args)))
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_task
		SET status = $1, failed_step = NULL, error_message = NULL, reset_at = $2, updated_at = $2
		WHERE `+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("reset failed tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TakeResetTask moves a reset claimed task to downloading. The status and
// reset_at guard makes concurrent takers race on the row lock.
func (s *Store) TakeResetTask(ctx context.Context, filingID int64, source string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_task SET status = $3, reset_at = NULL, updated_at = $5
		WHERE filing_id = $1 AND source = $2 AND status = $4 AND reset_at IS NOT NULL`,
		filingID, source, string(models.TaskDownloading), string(models.TaskClaimed), s.now())
	if err != nil {
		return false, fmt.Errorf("take reset task %d: %w", filingID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListTasks returns matching tasks, most recently updated first.
func (s *Store) ListTasks(ctx context.Context, f models.TaskFilter) ([]models.IngestionTask, error) {
	var args []any
	var conds []string
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Source != nil {
		args = append(args, *f.Source)
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if f.ResetOnly {
		conds = append(conds, "reset_at IS NOT NULL")
	}

	sql := "SELECT " + taskColumns + " FROM ingestion_task"
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY updated_at DESC, filing_id, source"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.IngestionTask, error) {
		return scanTask(r)
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// GetTask returns the task, or nil.
func (s *Store) GetTask(ctx context.Context, filingID int64, source string) (*models.IngestionTask, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		"SELECT "+taskColumns+" FROM ingestion_task WHERE filing_id = $1 AND source = $2",
		filingID, source))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", filingID, err)
	}
	return &t, nil
}

// MarkTasksEmailed stamps emailed_at on the source's tasks that have none.
func (s *Store) MarkTasksEmailed(ctx context.Context, filingIDs []int64, source string) (int, error) {
	if len(filingIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_task SET emailed_at = $3
		WHERE source = $1 AND filing_id = ANY($2) AND emailed_at IS NULL`,
		source, filingIDs, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark tasks emailed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
