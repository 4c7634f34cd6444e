package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/fecapi"
	"github.com/raphaelgruber/sludgewire/internal/models"
)

// DefaultStaleAfter is how long a running backfill job may go before it is
// considered abandoned.
const DefaultStaleAfter = 10 * time.Minute

// FilingLister pages through historical filings.
type FilingLister interface {
	ListFilings(ctx context.Context, q fecapi.Query) (*fecapi.FilingsPage, error)
}

// BackfillStateStore is what a backfill run needs from the store.
type BackfillStateStore interface {
	TaskStore
	BackfillStore
}

// BackfillProgress is reported after every page.
type BackfillProgress struct {
	Page      int
	Pages     int
	Processed int
	Found     int
}

// BackfillSource returns the claim source used when replaying ft.
func BackfillSource(ft models.FilingType) string {
	if ft == models.FilingType3X {
		return "BACKFILL-3X"
	}
	return "BACKFILL-E"
}

// BackfillService replays one (date, filing type) unit against the
// historical API.
type BackfillService struct {
	store       BackfillStateStore
	api         FilingLister
	pipeline    *Pipeline
	staleAfter  time.Duration
	maxSizeMB   *float64
	headerBytes int64
	documentURL func(int64) string
	logger      *slog.Logger
	now         func() time.Time
}

// BackfillOptions configures a BackfillService.
type BackfillOptions struct {
	StaleAfter  time.Duration
	MaxSizeMB   *float64
	HeaderBytes int64
	// DocumentURL locates a filing's document. Defaults to fecapi.FilingURL.
	DocumentURL func(filingID int64) string
}

// NewBackfillService creates a backfill service.
func NewBackfillService(store BackfillStateStore, api FilingLister, pipeline *Pipeline, opts BackfillOptions, logger *slog.Logger) *BackfillService {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.DocumentURL == nil {
		opts.DocumentURL = fecapi.FilingURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackfillService{
		store:       store,
		api:         api,
		pipeline:    pipeline,
		staleAfter:  opts.StaleAfter,
		maxSizeMB:   opts.MaxSizeMB,
		headerBytes: opts.HeaderBytes,
		documentURL: opts.DocumentURL,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the clock used for staleness checks.
func (s *BackfillService) SetClock(now func() time.Time) {
	s.now = now
}

// Run replays date for ft. See RunWithProgress.
func (s *BackfillService) Run(ctx context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error) {
	return s.RunWithProgress(ctx, date, ft, nil)
}

// RunWithProgress replays date for ft and returns the job's final state.
// A completed job is returned untouched, and so is a job another worker is
// actively running. Failures during the replay are recorded on the job; the
// returned error is only set when the job state itself cannot be read or
// written.
func (s *BackfillService) RunWithProgress(ctx context.Context, date time.Time, ft models.FilingType, progress func(BackfillProgress)) (*models.BackfillJob, error) {
	date = models.Day(date)
	log := s.logger.With("date", date.Format(time.DateOnly), "type", ft)

	job, err := s.store.GetOrCreateBackfillJob(ctx, date, ft)
	if err != nil {
		return nil, fmt.Errorf("get backfill job: %w", err)
	}
	if job.Status == models.BackfillCompleted {
		log.Info("backfill already completed", "filings_found", job.FilingsFound)
		return job, nil
	}
	if job.Status == models.BackfillRunning {
		if _, err := s.resetStale(ctx, log, date, ft); err != nil {
			return nil, err
		}
	}

	started, err := s.store.StartBackfillJob(ctx, date, ft)
	if err != nil {
		return nil, fmt.Errorf("start backfill job: %w", err)
	}
	if !started {
		log.Info("backfill held by another worker")
		return s.store.GetOrCreateBackfillJob(ctx, date, ft)
	}
	log.Info("backfill started")

	found, runErr := s.replay(ctx, log, date, ft, progress)

	// Job bookkeeping outlives a cancelled caller.
	bctx := context.WithoutCancel(ctx)
	if runErr != nil {
		log.Error("backfill failed", "filings_found", found, "error", runErr)
		if err := s.store.FailBackfillJob(bctx, date, ft, models.TruncateError(runErr.Error())); err != nil {
			return nil, fmt.Errorf("fail backfill job: %w", err)
		}
	} else {
		total := job.FilingsFound + found
		log.Info("backfill completed", "filings_found", total, "new", found)
		if err := s.store.CompleteBackfillJob(bctx, date, ft, total); err != nil {
			return nil, fmt.Errorf("complete backfill job: %w", err)
		}
	}
	return s.store.GetOrCreateBackfillJob(bctx, date, ft)
}

// Retry reopens a completed job and replays it again, so filings whose tasks
// were reset since are re-driven. Filings already claimed and not reset are
// skipped as in any replay. Jobs that are not completed run as usual.
func (s *BackfillService) Retry(ctx context.Context, date time.Time, ft models.FilingType, progress func(BackfillProgress)) (*models.BackfillJob, error) {
	date = models.Day(date)
	if _, err := s.store.GetOrCreateBackfillJob(ctx, date, ft); err != nil {
		return nil, fmt.Errorf("get backfill job: %w", err)
	}
	reopened, err := s.store.ReopenBackfillJob(ctx, date, ft)
	if err != nil {
		return nil, fmt.Errorf("reopen backfill job: %w", err)
	}
	if reopened {
		s.logger.Info("backfill reopened for retry", "date", date.Format(time.DateOnly), "type", ft)
	}
	return s.RunWithProgress(ctx, date, ft, progress)
}

// Status returns the job for (date, ft), resetting it first if it is stale.
func (s *BackfillService) Status(ctx context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error) {
	date = models.Day(date)
	log := s.logger.With("date", date.Format(time.DateOnly), "type", ft)
	if _, err := s.resetStale(ctx, log, date, ft); err != nil {
		return nil, err
	}
	job, err := s.store.GetOrCreateBackfillJob(ctx, date, ft)
	if err != nil {
		return nil, fmt.Errorf("get backfill job: %w", err)
	}
	return job, nil
}

func (s *BackfillService) resetStale(ctx context.Context, log *slog.Logger, date time.Time, ft models.FilingType) (bool, error) {
	reset, err := s.store.ResetStaleBackfillJob(ctx, date, ft, s.now().Add(-s.staleAfter))
	if err != nil {
		return false, fmt.Errorf("reset stale backfill job: %w", err)
	}
	if reset {
		log.Warn("stale backfill job reset", "stale_after", s.staleAfter)
	}
	return reset, nil
}

// replay pages through the API in returned order and processes every
// filing it can claim. It returns the number of filings ingested.
func (s *BackfillService) replay(ctx context.Context, log *slog.Logger, date time.Time, ft models.FilingType, progress func(BackfillProgress)) (int, error) {
	source := BackfillSource(ft)
	found, processed := 0, 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		resp, err := s.api.ListFilings(ctx, fecapi.Query{
			FormTypes:      ft.FormTypes(),
			MinReceiptDate: date,
			MaxReceiptDate: date,
			Page:           page,
			PerPage:        fecapi.DefaultPerPage,
			Sort:           fecapi.SortNewestReceipt,
		})
		if err != nil {
			return found, fmt.Errorf("list filings page %d: %w", page, err)
		}
		if len(resp.Results) == 0 {
			break
		}
		log.Debug("backfill page", "page", page, "pages", resp.Pagination.Pages, "results", len(resp.Results))

		for _, f := range resp.Results {
			if f.FileNumber <= 0 {
				continue
			}
			processed++
			claimed, err := s.store.ClaimFiling(ctx, f.FileNumber, source)
			if err != nil {
				return found, fmt.Errorf("claim filing %d: %w", f.FileNumber, err)
			}
			if !claimed {
				// A task an operator reset is taken back exactly once.
				taken, err := s.store.TakeResetTask(ctx, f.FileNumber, source)
				if err != nil {
					return found, fmt.Errorf("take reset task %d: %w", f.FileNumber, err)
				}
				if !taken {
					continue
				}
				log.Info("retrying reset filing", "filing_id", f.FileNumber)
			}
			if out := s.pipeline.Process(ctx, s.candidate(ft, source, f)); out.Status == models.TaskIngested {
				found++
			}
		}

		if progress != nil {
			progress(BackfillProgress{Page: page, Pages: resp.Pagination.Pages, Processed: processed, Found: found})
		}
		if page >= resp.Pagination.Pages {
			break
		}
	}
	return found, nil
}

func (s *BackfillService) candidate(ft models.FilingType, source string, f fecapi.Filing) Candidate {
	c := Candidate{
		FilingID:      f.FileNumber,
		Source:        source,
		URL:           s.documentURL(f.FileNumber),
		CommitteeID:   f.CommitteeID,
		CommitteeName: nonEmpty(f.CommitteeName),
		FormType:      nonEmpty(f.FormType),
		ReportType:    nonEmpty(f.ReportType),
		CoverageFrom:  f.CoverageFrom(),
		CoverageTo:    f.CoverageThrough(),
		FiledAt:       f.FiledAt(),
		TotalReceipts: f.TotalReceipts,
		RawMeta:       f.Raw,
	}
	if ft == models.FilingType3X {
		c.Kind = KindSummary
		c.HeaderBytes = s.headerBytes
		c.AllowFallback = true
	} else {
		c.Kind = KindEvents
		c.MaxSizeMB = s.maxSizeMB
	}
	return c
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
