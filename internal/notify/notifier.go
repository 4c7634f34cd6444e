// Package notify hands newly ingested records to an alert channel.
package notify

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

// Alert is one batch of newly ingested records of a single filing type.
// Filings is set for 3x alerts and Events for e alerts.
type Alert struct {
	Kind    models.FilingType
	Filings []models.FilingSummary
	Events  []models.ItemizedEvent
}

// Len returns the number of records carried.
func (a Alert) Len() int {
	return len(a.Filings) + len(a.Events)
}

// Notifier delivers alerts. Delivery is best effort; callers log failures
// and never retry.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs one line per record.
func (n *LogNotifier) Notify(ctx context.Context, alert Alert) error {
	n.logger.InfoContext(ctx, "filing alert", "kind", alert.Kind, "records", alert.Len())
	for _, f := range alert.Filings {
		n.logger.InfoContext(ctx, "high-value filing",
			"filing_id", f.FilingID,
			"committee_id", f.CommitteeID,
			"committee_name", deref(f.CommitteeName),
			"total_receipts", derefFloat(f.TotalReceipts),
			"url", f.SourceURL,
		)
	}
	for _, e := range alert.Events {
		n.logger.InfoContext(ctx, "independent expenditure",
			"filing_id", e.FilingID,
			"committee_id", e.CommitteeID,
			"candidate", deref(e.CandidateName),
			"support_oppose", deref(e.SupportOppose),
			"amount", derefFloat(e.Amount),
			"url", e.SourceURL,
		)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
