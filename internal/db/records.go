package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

// UpsertFiling writes a summary keyed by filing id. Mutable fields are
// overwritten; first_seen_at and emailed_at survive, and raw_meta survives
// when the new value carries none.
func (c *Client) UpsertFiling(ctx context.Context, f models.FilingSummary) error {
	err := c.exec(ctx, `
		UPSERT type::record("filing", $filing_id) SET
			filing_id = $filing_id,
			committee_id = $committee_id,
			committee_name = $committee_name,
			form_type = $form_type,
			report_type = $report_type,
			coverage_from = $coverage_from,
			coverage_through = $coverage_through,
			filed_at = $filed_at,
			source_url = $source_url,
			total_receipts = $total_receipts,
			threshold_flag = $threshold_flag,
			raw_meta = $raw_meta ?? raw_meta,
			first_seen_at = first_seen_at ?? time::now(),
			updated_at = time::now()
	`, map[string]any{
		"filing_id":        f.FilingID,
		"committee_id":     f.CommitteeID,
		"committee_name":   f.CommitteeName,
		"form_type":        f.FormType,
		"report_type":      f.ReportType,
		"coverage_from":    f.CoverageFrom,
		"coverage_through": f.CoverageTo,
		"filed_at":         f.FiledAt,
		"source_url":       f.SourceURL,
		"total_receipts":   f.TotalReceipts,
		"threshold_flag":   f.ThresholdFlag,
		"raw_meta":         f.RawMeta,
	})
	if err != nil {
		return fmt.Errorf("upsert filing %d: %w", f.FilingID, err)
	}
	return nil
}

// GetFiling returns the summary, or nil.
func (c *Client) GetFiling(ctx context.Context, filingID int64) (*models.FilingSummary, error) {
	f, err := queryOne[models.FilingSummary](ctx, c,
		`SELECT * OMIT id FROM type::record("filing", $filing_id)`,
		map[string]any{"filing_id": filingID})
	if err != nil {
		return nil, fmt.Errorf("get filing %d: %w", filingID, err)
	}
	return f, nil
}

// InsertEvent creates the event under its content-addressed id. A second
// insert of the same line reports false.
func (c *Client) InsertEvent(ctx context.Context, e models.ItemizedEvent) (bool, error) {
	e.EmailedAt = nil
	e.FirstSeenAt = time.Now().UTC()
	e.RawLine = models.TruncateRawLine(e.RawLine)

	ok, err := c.create(ctx,
		`CREATE type::record("ie_event", $event_id) CONTENT $event`,
		map[string]any{"event_id": e.EventID, "event": e})
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", e.EventID, err)
	}
	return ok, nil
}

// ListEvents returns the events of one filing ordered by event id.
func (c *Client) ListEvents(ctx context.Context, filingID int64) ([]models.ItemizedEvent, error) {
	events, err := queryRows[models.ItemizedEvent](ctx, c, `
		SELECT * OMIT id FROM ie_event WHERE filing_id = $filing_id ORDER BY event_id
	`, map[string]any{"filing_id": filingID})
	if err != nil {
		return nil, fmt.Errorf("list events %d: %w", filingID, err)
	}
	if events == nil {
		events = []models.ItemizedEvent{}
	}
	return events, nil
}

// ListUnemailedFilings returns summaries filed since since with totals of at
// least minTotal that have not been alerted, newest first.
func (c *Client) ListUnemailedFilings(ctx context.Context, since time.Time, minTotal float64, limit int) ([]models.FilingSummary, error) {
	filings, err := queryRows[models.FilingSummary](ctx, c, `
		SELECT * OMIT id FROM filing
		WHERE !emailed_at AND filed_at >= $since AND total_receipts >= $min
		ORDER BY filed_at DESC
		LIMIT $limit
	`, map[string]any{"since": since, "min": minTotal, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list unemailed filings: %w", err)
	}
	return filings, nil
}

// ListUnemailedEvents returns events filed since since that have not been alerted.
func (c *Client) ListUnemailedEvents(ctx context.Context, since time.Time, limit int) ([]models.ItemizedEvent, error) {
	events, err := queryRows[models.ItemizedEvent](ctx, c, `
		SELECT * OMIT id FROM ie_event
		WHERE !emailed_at AND filed_at >= $since
		ORDER BY filed_at DESC
		LIMIT $limit
	`, map[string]any{"since": since, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list unemailed events: %w", err)
	}
	return events, nil
}

// MarkFilingsEmailed stamps emailed_at on filings that have none.
func (c *Client) MarkFilingsEmailed(ctx context.Context, filingIDs []int64) (int, error) {
	if len(filingIDs) == 0 {
		return 0, nil
	}
	rows, err := queryRows[any](ctx, c, `
		UPDATE filing SET emailed_at = time::now()
		WHERE filing_id IN $ids AND !emailed_at
		RETURN VALUE filing_id
	`, map[string]any{"ids": filingIDs})
	if err != nil {
		return 0, fmt.Errorf("mark filings emailed: %w", err)
	}
	return len(rows), nil
}

// MarkEventsEmailed stamps emailed_at on events that have none.
func (c *Client) MarkEventsEmailed(ctx context.Context, eventIDs []string) (int, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	rows, err := queryRows[any](ctx, c, `
		UPDATE ie_event SET emailed_at = time::now()
		WHERE event_id IN $ids AND !emailed_at
		RETURN VALUE event_id
	`, map[string]any{"ids": eventIDs})
	if err != nil {
		return 0, fmt.Errorf("mark events emailed: %w", err)
	}
	return len(rows), nil
}
