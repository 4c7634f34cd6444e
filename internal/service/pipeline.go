package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/fetch"
	"github.com/raphaelgruber/sludgewire/internal/metrics"
	"github.com/raphaelgruber/sludgewire/internal/models"
	"github.com/raphaelgruber/sludgewire/internal/parser"
)

// FeedKind selects what a filing is ingested as.
type FeedKind string

const (
	// KindSummary ingests the filing's header totals as a FilingSummary.
	KindSummary FeedKind = "summary"
	// KindEvents ingests the filing's Schedule E rows as ItemizedEvents.
	KindEvents FeedKind = "events"
)

// ContentFetcher downloads filing documents.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) (string, error)
}

// Candidate is one claimed filing ready to be driven through the task
// state machine. The descriptive fields come from the feed item or the
// historical API result and take precedence over values parsed from the
// document, except for the receipts total.
type Candidate struct {
	FilingID int64
	Source   string
	URL      string
	Kind     FeedKind

	MaxSizeMB   *float64
	HeaderBytes int64

	CommitteeID   string
	CommitteeName *string
	FormType      *string
	ReportType    *string
	CoverageFrom  *time.Time
	CoverageTo    *time.Time
	FiledAt       *time.Time
	TotalReceipts *float64
	RawMeta       map[string]any

	// AllowFallback records a summary from the descriptive fields when the
	// document cannot be downloaded or parsed.
	AllowFallback bool
}

// Outcome is the terminal state a Candidate reached.
type Outcome struct {
	Status    models.TaskStatus
	NewEvents int
	Err       error
}

// Pipeline runs the per-filing download, parse and record steps. Live
// ingestion and backfill share it.
type Pipeline struct {
	tasks    TaskStore
	fetcher  ContentFetcher
	parser   *parser.Parser
	recorder *Recorder
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewPipeline wires the pipeline stages.
func NewPipeline(tasks TaskStore, fetcher ContentFetcher, p *parser.Parser, recorder *Recorder, m *metrics.Collector, logger *slog.Logger) *Pipeline {
	if p == nil {
		p = parser.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{tasks: tasks, fetcher: fetcher, parser: p, recorder: recorder, metrics: m, logger: logger}
}

// Process drives a claimed candidate to ingested, failed or skipped.
// Errors are recorded against the task and returned in the Outcome.
func (p *Pipeline) Process(ctx context.Context, c Candidate) Outcome {
	log := p.logger.With("filing_id", c.FilingID, "source", c.Source)

	p.transition(ctx, log, c, models.TaskDownloading, models.TaskUpdate{})
	text, err := p.fetcher.Fetch(ctx, c.URL, fetch.Options{MaxSizeMB: c.MaxSizeMB, MaxBytes: c.HeaderBytes})
	if err != nil {
		if tl, ok := fetch.IsTooLarge(err); ok {
			return p.skipTooLarge(ctx, log, c, tl)
		}
		if !(c.Kind == KindSummary && c.AllowFallback) {
			return p.fail(ctx, log, c, models.StepDownloading, err)
		}
		log.Warn("download failed, recording API fields", "error", err)
		text = ""
	}
	p.transition(ctx, log, c, models.TaskDownloaded, models.TaskUpdate{})

	p.transition(ctx, log, c, models.TaskParsing, models.TaskUpdate{})
	var out Outcome
	if c.Kind == KindSummary {
		out = p.processSummary(ctx, log, c, text)
	} else {
		out = p.processEvents(ctx, log, c, text)
	}
	if out.Status != models.TaskIngested {
		return out
	}

	p.transition(ctx, log, c, models.TaskIngested, models.TaskUpdate{})
	p.metrics.Add(metrics.CountIngested, 1)
	log.Info("filing ingested", "kind", c.Kind, "new_events", out.NewEvents)
	return out
}

func (p *Pipeline) processSummary(ctx context.Context, log *slog.Logger, c Candidate, text string) Outcome {
	var h parser.Header
	var formName *string
	if text != "" {
		done := p.metrics.Time(metrics.OpParse)
		parsed, err := p.parser.ParseSummaryHeader(text)
		done(err)
		switch {
		case err == nil:
			h = parsed.Header
			formName = parsed.CommitteeName()
		case c.AllowFallback:
			log.Warn("parse failed, recording API fields", "error", err)
		default:
			return p.fail(ctx, log, c, models.StepParsing, err)
		}
	}
	if formName == nil {
		formName = c.CommitteeName
	}

	total := h.TotalReceipts
	if total == nil {
		total = c.TotalReceipts
	}
	summary := models.FilingSummary{
		FilingID:      c.FilingID,
		CommitteeID:   firstString(c.CommitteeID, h.CommitteeID),
		FormType:      first(c.FormType, h.FormType),
		ReportType:    first(c.ReportType, h.ReportCode),
		CoverageFrom:  first(c.CoverageFrom, h.CoverageFrom),
		CoverageTo:    first(c.CoverageTo, h.CoverageThrough),
		FiledAt:       c.FiledAt,
		SourceURL:     c.URL,
		TotalReceipts: total,
		RawMeta:       c.RawMeta,
	}
	if err := p.recorder.SaveSummary(ctx, summary, formName); err != nil {
		return p.fail(ctx, log, c, models.StepParsing, err)
	}
	return Outcome{Status: models.TaskIngested}
}

func (p *Pipeline) processEvents(ctx context.Context, log *slog.Logger, c Candidate, text string) Outcome {
	done := p.metrics.Time(metrics.OpParse)
	parsed, err := p.parser.ParseScheduleE(text)
	done(err)
	if err != nil {
		return p.fail(ctx, log, c, models.StepParsing, err)
	}
	if parsed.Tier == parser.TierHeuristic {
		log.Debug("structured decode fell back to line scan", "items", len(parsed.Expenditures))
	}

	h := parsed.Header
	committeeID := firstString(c.CommitteeID, h.CommitteeID)
	base := models.ItemizedEvent{
		FilingID:     c.FilingID,
		FilerID:      committeeID,
		CommitteeID:  committeeID,
		FormType:     first(c.FormType, h.FormType),
		ReportType:   first(c.ReportType, h.ReportCode),
		CoverageFrom: first(c.CoverageFrom, h.CoverageFrom),
		CoverageTo:   first(c.CoverageTo, h.CoverageThrough),
		FiledAt:      c.FiledAt,
		SourceURL:    c.URL,
	}
	formName := parsed.CommitteeName()
	if formName == nil {
		formName = c.CommitteeName
	}

	n, err := p.recorder.SaveEvents(ctx, base, formName, parsed.Expenditures)
	if err != nil {
		return p.fail(ctx, log, c, models.StepParsing, err)
	}
	return Outcome{Status: models.TaskIngested, NewEvents: n}
}

func (p *Pipeline) transition(ctx context.Context, log *slog.Logger, c Candidate, status models.TaskStatus, upd models.TaskUpdate) {
	if err := p.tasks.UpdateTaskStatus(ctx, c.FilingID, c.Source, status, upd); err != nil {
		log.Warn("task status update failed", "status", status, "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, c Candidate, step string, err error) Outcome {
	log.Warn("filing failed", "step", step, "error", err)
	p.transition(ctx, log, c, models.TaskFailed, models.FailedAt(step, err))
	p.metrics.Add(metrics.CountFailed, 1)
	return Outcome{Status: models.TaskFailed, Err: err}
}

func (p *Pipeline) skipTooLarge(ctx context.Context, log *slog.Logger, c Candidate, tl *fetch.TooLargeError) Outcome {
	log.Info("filing skipped", "reason", models.SkipTooLarge, "size_mb", tl.SizeMB, "limit_mb", tl.LimitMB)
	size := tl.SizeMB
	if err := p.tasks.RecordSkipped(ctx, c.FilingID, c.Source, models.SkipTooLarge, &size, c.URL); err != nil {
		log.Warn("record skipped failed", "error", err)
	}
	p.metrics.Add(metrics.CountSkipped, 1)
	return Outcome{Status: models.TaskSkipped, Err: tl}
}

// errorMessage bounds err for RunResult.LastError.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var tl *fetch.TooLargeError
	if errors.As(err, &tl) {
		return tl.Error()
	}
	return models.TruncateError(err.Error())
}

func first[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstString(s string, fallback *string) string {
	if s != "" || fallback == nil {
		return s
	}
	return *fallback
}
