package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SummarySource is the claim source of the live summary feed.
const SummarySource = "F3X"

// Poller loop bounds.
const (
	DefaultMaxIterations = 50
	DefaultMaxRuntime    = 55 * time.Minute
	DefaultPause         = 2 * time.Second
)

// PollResult aggregates one poll round across all feeds.
type PollResult struct {
	Summary RunResult   `json:"summary"`
	Events  []RunResult `json:"events"`
}

// NewEvents sums the new events across event feeds.
func (r PollResult) NewEvents() int {
	n := 0
	for _, e := range r.Events {
		n += e.NewEvents
	}
	return n
}

// NewEventFilings sums the ingested filings across event feeds.
func (r PollResult) NewEventFilings() int {
	n := 0
	for _, e := range r.Events {
		n += e.NewCount
	}
	return n
}

// CatchUpResult summarizes a RunUntilCaughtUp loop.
type CatchUpResult struct {
	Iterations      int          `json:"iterations"`
	SummaryNew      int          `json:"summary_new"`
	EventFilingsNew int          `json:"event_filings_new"`
	EventsNew       int          `json:"events_new"`
	Elapsed         string       `json:"elapsed"`
	Alerts          *AlertResult `json:"alerts,omitempty"`
}

// Poller drives the live summary feed and the event feeds.
type Poller struct {
	ingest  *IngestService
	alerts  *AlertService
	summary FeedSpec
	events  []FeedSpec
	logger  *slog.Logger

	MaxIterations int
	MaxRuntime    time.Duration
	Pause         time.Duration
}

// NewPoller creates a Poller. alerts may be nil to disable alerting.
func NewPoller(ingest *IngestService, alerts *AlertService, summary FeedSpec, events []FeedSpec, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		ingest:        ingest,
		alerts:        alerts,
		summary:       summary,
		events:        events,
		logger:        logger,
		MaxIterations: DefaultMaxIterations,
		MaxRuntime:    DefaultMaxRuntime,
		Pause:         DefaultPause,
	}
}

// RunOnce polls the summary feed, then all event feeds concurrently.
func (p *Poller) RunOnce(ctx context.Context) PollResult {
	res := PollResult{Summary: p.ingest.RunFeed(ctx, p.summary)}

	res.Events = make([]RunResult, len(p.events))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range p.events {
		g.Go(func() error {
			res.Events[i] = p.ingest.RunFeed(gctx, spec)
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// RunUntilCaughtUp polls until a round comes back partial, then sends
// alerts for what was ingested. A round is full when either feed family
// hit the per-run cap.
func (p *Poller) RunUntilCaughtUp(ctx context.Context) CatchUpResult {
	start := time.Now()
	var out CatchUpResult

	for out.Iterations < p.MaxIterations {
		if time.Since(start) >= p.MaxRuntime {
			p.logger.Warn("catch-up runtime exhausted", "iterations", out.Iterations)
			break
		}
		out.Iterations++

		limit := p.ingest.MaxNewPerRun(ctx)
		round := p.RunOnce(ctx)
		out.SummaryNew += round.Summary.NewCount
		out.EventFilingsNew += round.NewEventFilings()
		out.EventsNew += round.NewEvents()

		p.logger.Info("poll round finished",
			"iteration", out.Iterations,
			"summary_new", round.Summary.NewCount,
			"event_filings_new", round.NewEventFilings(),
			"events_new", round.NewEvents())

		if round.Summary.NewCount == 0 && round.NewEventFilings() == 0 {
			break
		}
		if round.Summary.NewCount < limit && !anyAtLimit(round.Events, limit) {
			break
		}
		if !sleep(ctx, p.Pause) {
			break
		}
	}
	out.Elapsed = time.Since(start).Round(time.Millisecond).String()

	if p.alerts != nil && (out.SummaryNew > 0 || out.EventFilingsNew > 0) {
		alerts, err := p.alerts.Send(ctx)
		if err != nil {
			p.logger.Warn("alerts failed", "error", err)
		} else {
			out.Alerts = &alerts
		}
	}
	return out
}

func anyAtLimit(results []RunResult, limit int) bool {
	for _, r := range results {
		if r.NewCount >= limit {
			return true
		}
	}
	return false
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
