package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/sludgewire/internal/metrics"
	"github.com/raphaelgruber/sludgewire/internal/models"
	"github.com/raphaelgruber/sludgewire/internal/parser"
)

// NameResolver maps committee ids to display names, best effort.
type NameResolver interface {
	Resolve(ctx context.Context, committeeID string, fallback *string) (string, bool)
}

// Recorder writes parsed filings to the record store.
type Recorder struct {
	store     RecordStore
	resolver  NameResolver
	threshold float64
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. resolver may be nil, in which case names
// found in the filing are used as is.
func NewRecorder(store RecordStore, resolver NameResolver, threshold float64, m *metrics.Collector, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, resolver: resolver, threshold: threshold, metrics: m, logger: logger}
}

// Threshold returns the configured receipts threshold.
func (r *Recorder) Threshold() float64 {
	return r.threshold
}

func (r *Recorder) committeeName(ctx context.Context, committeeID string, formName *string) *string {
	if r.resolver == nil {
		return formName
	}
	if name, ok := r.resolver.Resolve(ctx, committeeID, formName); ok {
		return &name
	}
	return nil
}

// SaveSummary resolves the filer name, recomputes the threshold flag from
// the total and upserts the filing.
func (r *Recorder) SaveSummary(ctx context.Context, f models.FilingSummary, formName *string) (err error) {
	f.CommitteeName = r.committeeName(ctx, f.CommitteeID, formName)
	f.ThresholdFlag = models.ThresholdFlag(f.TotalReceipts, r.threshold)

	done := r.metrics.Time(metrics.OpStoreWrite)
	defer func() { done(err) }()

	if err := r.store.UpsertFiling(ctx, f); err != nil {
		return fmt.Errorf("upsert filing %d: %w", f.FilingID, err)
	}
	return nil
}

// SaveEvents inserts one event per expenditure, sharing base's filing-level
// fields. It returns how many events were new.
func (r *Recorder) SaveEvents(ctx context.Context, base models.ItemizedEvent, formName *string, exps []parser.Expenditure) (n int, err error) {
	base.CommitteeName = r.committeeName(ctx, base.CommitteeID, formName)

	done := r.metrics.Time(metrics.OpStoreWrite)
	defer func() { done(err) }()

	for _, x := range exps {
		e := base
		e.EventID = models.EventID(base.FilingID, x.RawLine)
		e.RawLine = models.TruncateRawLine(x.RawLine)
		e.ExpenditureDate = x.Date
		e.Amount = x.Amount
		e.SupportOppose = x.SupportOppose
		e.CandidateID = x.CandidateID
		e.CandidateName = x.CandidateName
		e.CandidateOffice = x.CandidateOffice
		e.CandidateState = x.CandidateState
		e.CandidateDistrict = x.CandidateDistrict
		e.CandidateParty = x.CandidateParty
		e.ElectionCode = x.ElectionCode
		e.Purpose = x.Purpose
		e.PayeeName = x.PayeeName

		inserted, err := r.store.InsertEvent(ctx, e)
		if err != nil {
			return n, fmt.Errorf("insert event %s: %w", e.EventID[:12], err)
		}
		if inserted {
			n++
		}
	}
	r.metrics.Add(metrics.CountNewEvents, int64(n))
	return n, nil
}
