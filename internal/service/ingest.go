package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/fecapi"
	"github.com/raphaelgruber/sludgewire/internal/feed"
	"github.com/raphaelgruber/sludgewire/internal/metrics"
	"github.com/raphaelgruber/sludgewire/internal/models"
)

// FeedFetcher reads the items of a feed in feed order.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Item, error)
}

// IngestStore is what a live feed pass needs from the store.
type IngestStore interface {
	TaskStore
	ConfigStore
}

// FeedSpec describes one feed and how its filings are ingested.
type FeedSpec struct {
	// Source keys the claim ledger. Distinct sources claim the same filing
	// independently.
	Source string
	URL    string
	Kind   FeedKind

	MaxSizeMB   *float64
	HeaderBytes int64

	// FullScan skips items older than today instead of ending the pass.
	FullScan bool
	// RetryClaimed re-drives tasks left in claimed, typically by a reset,
	// before reading the feed.
	RetryClaimed bool
	// DocumentURL locates a filing without a feed link. Defaults to
	// fecapi.FilingURL.
	DocumentURL func(filingID int64) string
}

func (f FeedSpec) documentURL(filingID int64) string {
	if f.DocumentURL != nil {
		return f.DocumentURL(filingID)
	}
	return fecapi.FilingURL(filingID)
}

// RunResult summarizes one pass over a feed.
type RunResult struct {
	Source       string  `json:"source"`
	NewCount     int     `json:"new_count"`
	NewEvents    int     `json:"new_events"`
	FailedCount  int     `json:"failed_count"`
	SkippedCount int     `json:"skipped_count"`
	LastError    string  `json:"last_error,omitempty"`
	Ingested     []int64 `json:"ingested,omitempty"`
}

func (r *RunResult) record(filingID int64, out Outcome) {
	switch out.Status {
	case models.TaskIngested:
		r.NewCount++
		r.NewEvents += out.NewEvents
		r.Ingested = append(r.Ingested, filingID)
	case models.TaskSkipped:
		r.SkippedCount++
	default:
		r.FailedCount++
	}
	if out.Err != nil && out.Status != models.TaskSkipped {
		r.LastError = errorMessage(out.Err)
	}
}

// IngestService runs live feed passes.
type IngestService struct {
	store    IngestStore
	feeds    FeedFetcher
	pipeline *Pipeline
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestService creates a new ingest service.
func NewIngestService(store IngestStore, feeds FeedFetcher, pipeline *Pipeline, m *metrics.Collector, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		store:    store,
		feeds:    feeds,
		pipeline: pipeline,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the clock used for the day boundary.
func (s *IngestService) SetClock(now func() time.Time) {
	s.now = now
}

// MaxNewPerRun returns the per-pass cap on ingested filings. Missing or
// invalid settings fall back to models.DefaultMaxNewPerRun.
func (s *IngestService) MaxNewPerRun(ctx context.Context) int {
	v, ok, err := s.store.GetConfig(ctx, models.ConfigMaxNewPerRun)
	if err != nil {
		s.logger.Warn("read max_new_per_run failed", "error", err)
		return models.DefaultMaxNewPerRun
	}
	if !ok {
		return models.DefaultMaxNewPerRun
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return models.DefaultMaxNewPerRun
	}
	return n
}

// RunFeed performs one pass over spec's feed. Feed items are assumed to be
// newest first: the first item published before today ends the pass unless
// FullScan is set. Per-filing failures are counted, never returned.
func (s *IngestService) RunFeed(ctx context.Context, spec FeedSpec) RunResult {
	res := RunResult{Source: spec.Source}
	log := s.logger.With("source", spec.Source)
	limit := s.MaxNewPerRun(ctx)
	s.metrics.Add(metrics.CountRuns, 1)

	if spec.RetryClaimed {
		s.retryClaimed(ctx, spec, limit, &res)
	}

	items, err := s.feeds.Fetch(ctx, spec.URL)
	if err != nil {
		log.Warn("feed fetch failed", "url", spec.URL, "error", err)
		res.LastError = errorMessage(err)
		return res
	}

	today := models.Day(s.now())
	for _, item := range items {
		if item.PubDate != nil && item.PubDate.Before(today) {
			if spec.FullScan {
				continue
			}
			log.Debug("reached previous day", "pub_date", item.PubDate)
			break
		}
		if res.NewCount >= limit {
			log.Info("per-run cap reached", "limit", limit)
			break
		}
		if err := ctx.Err(); err != nil {
			res.LastError = errorMessage(err)
			break
		}

		filingID, ok := feed.InferFilingID(item)
		if !ok {
			log.Debug("item without filing id", "link", item.Link)
			continue
		}

		claimed, err := s.store.ClaimFiling(ctx, filingID, spec.Source)
		if err != nil {
			log.Warn("claim failed", "filing_id", filingID, "error", err)
			res.LastError = errorMessage(err)
			continue
		}
		if !claimed {
			res.SkippedCount++
			continue
		}

		res.record(filingID, s.pipeline.Process(ctx, candidateFromItem(spec, filingID, item)))
	}

	log.Info("feed pass finished",
		"new", res.NewCount,
		"new_events", res.NewEvents,
		"failed", res.FailedCount,
		"skipped", res.SkippedCount)
	return res
}

// retryClaimed re-drives tasks an operator reset returned to claimed. Each
// task is taken with a conditional update first, so a claim orphaned by a
// crash is never touched and concurrent runs process a reset task once.
// Feed metadata is not available for them, so only the filing content is used.
func (s *IngestService) retryClaimed(ctx context.Context, spec FeedSpec, limit int, res *RunResult) {
	status := models.TaskClaimed
	source := spec.Source
	tasks, err := s.store.ListTasks(ctx, models.TaskFilter{Status: &status, Source: &source, ResetOnly: true, Limit: limit})
	if err != nil {
		s.logger.Warn("list reset tasks failed", "source", spec.Source, "error", err)
		res.LastError = errorMessage(err)
		return
	}
	for _, t := range tasks {
		if res.NewCount >= limit || ctx.Err() != nil {
			return
		}
		taken, err := s.store.TakeResetTask(ctx, t.FilingID, spec.Source)
		if err != nil {
			s.logger.Warn("take reset task failed", "filing_id", t.FilingID, "source", spec.Source, "error", err)
			res.LastError = errorMessage(err)
			continue
		}
		if !taken {
			continue
		}
		url := spec.documentURL(t.FilingID)
		if t.SourceURL != nil && *t.SourceURL != "" {
			url = *t.SourceURL
		}
		c := Candidate{
			FilingID:    t.FilingID,
			Source:      spec.Source,
			URL:         url,
			Kind:        spec.Kind,
			MaxSizeMB:   spec.MaxSizeMB,
			HeaderBytes: spec.HeaderBytes,
		}
		s.logger.Info("retrying reset filing", "filing_id", t.FilingID, "source", spec.Source)
		res.record(t.FilingID, s.pipeline.Process(ctx, c))
	}
}

func candidateFromItem(spec FeedSpec, filingID int64, item feed.Item) Candidate {
	url := item.Link
	if url == "" {
		url = spec.documentURL(filingID)
	}
	c := Candidate{
		FilingID:     filingID,
		Source:       spec.Source,
		URL:          url,
		Kind:         spec.Kind,
		MaxSizeMB:    spec.MaxSizeMB,
		HeaderBytes:  spec.HeaderBytes,
		CommitteeID:  item.Meta[feed.MetaCommitteeID],
		FormType:     metaString(item.Meta, feed.MetaFormType),
		ReportType:   metaString(item.Meta, feed.MetaReportType),
		CoverageFrom: feed.ParseMMDDYYYY(item.Meta[feed.MetaCoverageFrom]),
		CoverageTo:   feed.ParseMMDDYYYY(item.Meta[feed.MetaCoverageThrough]),
		FiledAt:      item.PubDate,
	}
	if len(item.Meta) > 0 {
		c.RawMeta = make(map[string]any, len(item.Meta))
		for k, v := range item.Meta {
			c.RawMeta[k] = v
		}
	}
	return c
}

func metaString(meta map[string]string, key string) *string {
	v, ok := meta[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}
