// Package service implements the sludgewire ingestion pipeline: live feed
// passes, historical backfill and alerting.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a background backfill over a date range.
type Job struct {
	ID         string
	FilingType models.FilingType
	From       time.Time
	To         time.Time

	mu          sync.RWMutex
	status      JobStatus
	done        int
	total       int
	found       int
	failedDays  []string
	err         string
	startedAt   time.Time
	completedAt *time.Time
}

// JobSnapshot is a point-in-time copy of a Job.
type JobSnapshot struct {
	ID           string            `json:"id"`
	FilingType   models.FilingType `json:"filing_type"`
	From         string            `json:"from"`
	To           string            `json:"to"`
	Status       JobStatus         `json:"status"`
	DaysDone     int               `json:"days_done"`
	DaysTotal    int               `json:"days_total"`
	FilingsFound int               `json:"filings_found"`
	FailedDays   []string          `json:"failed_days,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobSnapshot{
		ID:           j.ID,
		FilingType:   j.FilingType,
		From:         j.From.Format(time.DateOnly),
		To:           j.To.Format(time.DateOnly),
		Status:       j.status,
		DaysDone:     j.done,
		DaysTotal:    j.total,
		FilingsFound: j.found,
		FailedDays:   slices.Clone(j.failedDays),
		Error:        j.err,
		StartedAt:    j.startedAt,
		CompletedAt:  j.completedAt,
	}
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (JobSnapshot, error) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		s := j.Snapshot()
		if s.Status == JobStatusCompleted || s.Status == JobStatusFailed {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-t.C:
		}
	}
}

// Backfiller replays one (date, filing type) unit.
type Backfiller interface {
	Run(ctx context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error)
}

// JobManager runs backfill ranges in the background and tracks their progress.
type JobManager struct {
	jobs        map[string]*Job
	mu          sync.RWMutex
	concurrency int
	backfill    Backfiller
	logger      *slog.Logger
}

// NewJobManager creates a new job manager. Each job replays up to
// concurrency days at once.
func NewJobManager(concurrency int, backfill Backfiller, logger *slog.Logger) *JobManager {
	if concurrency <= 0 {
		concurrency = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:        make(map[string]*Job),
		concurrency: concurrency,
		backfill:    backfill,
		logger:      logger,
	}
}

// Concurrency returns the configured concurrency level.
func (m *JobManager) Concurrency() int {
	return m.concurrency
}

// Days lists every day from from to to inclusive, newest first.
func Days(from, to time.Time) ([]time.Time, error) {
	from, to = models.Day(from), models.Day(to)
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s is before %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	var days []time.Time
	for d := to; !d.Before(from); d = d.AddDate(0, 0, -1) {
		days = append(days, d)
	}
	return days, nil
}

// Start creates a job for [from, to] and runs it in the background. The
// job is detached from ctx so it survives the request that started it.
func (m *JobManager) Start(ctx context.Context, from, to time.Time, ft models.FilingType) (*Job, error) {
	days, err := Days(from, to)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:         uuid.New().String()[:8],
		FilingType: ft,
		From:       models.Day(from),
		To:         models.Day(to),
		status:     JobStatusPending,
		total:      len(days),
		startedAt:  time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("job created", "job_id", job.ID, "type", ft, "days", len(days))

	go m.run(context.WithoutCancel(ctx), job, days)
	return job, nil
}

func (m *JobManager) run(ctx context.Context, job *Job, days []time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
			m.finish(job, fmt.Errorf("internal panic: %v", r))
		}
	}()

	m.setStatus(job, JobStatusRunning)

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, day := range days {
		g.Go(func() error {
			res, err := m.backfill.Run(ctx, day, job.FilingType)
			m.recordDay(job, day, res, err)
			return nil
		})
	}
	_ = g.Wait()

	var err error
	if failed := job.Snapshot().FailedDays; len(failed) > 0 {
		err = fmt.Errorf("%d of %d days failed", len(failed), len(days))
	}
	m.finish(job, err)
}

func (m *JobManager) recordDay(job *Job, day time.Time, res *models.BackfillJob, err error) {
	job.mu.Lock()
	defer job.mu.Unlock()
	job.done++
	if res != nil {
		job.found += res.FilingsFound
	}
	if err != nil || res == nil || res.Status == models.BackfillFailed {
		job.failedDays = append(job.failedDays, day.Format(time.DateOnly))
	}
}

func (m *JobManager) setStatus(job *Job, status JobStatus) {
	job.mu.Lock()
	job.status = status
	job.mu.Unlock()
}

func (m *JobManager) finish(job *Job, err error) {
	job.mu.Lock()
	now := time.Now()
	job.completedAt = &now
	if err != nil {
		job.status = JobStatusFailed
		job.err = err.Error()
	} else {
		job.status = JobStatusCompleted
	}
	snap := JobSnapshot{ID: job.ID, DaysDone: job.done, FilingsFound: job.found}
	job.mu.Unlock()

	if err != nil {
		m.logger.Error("job failed", "job_id", snap.ID, "error", err)
		return
	}
	m.logger.Info("job completed", "job_id", snap.ID, "days", snap.DaysDone, "filings_found", snap.FilingsFound)
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns snapshots of all jobs, most recent first.
func (m *JobManager) ListJobs() []JobSnapshot {
	m.mu.RLock()
	jobs := make([]JobSnapshot, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.Snapshot())
	}
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b JobSnapshot) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}
