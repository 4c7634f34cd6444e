package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

const filingColumns = `filing_id, committee_id, committee_name, form_type, report_type,
	coverage_from, coverage_through, filed_at, source_url, total_receipts, threshold_flag,
	raw_meta, emailed_at, first_seen_at, updated_at`

const eventColumns = `event_id, filing_id, filer_id, committee_id, committee_name, form_type,
	report_type, coverage_from, coverage_through, filed_at, expenditure_date, amount,
	support_oppose, candidate_id, candidate_name, candidate_office, candidate_state,
	candidate_district, candidate_party, election_code, purpose, payee_name, source_url,
	raw_line, emailed_at, first_seen_at`

func scanFiling(row pgx.Row) (models.FilingSummary, error) {
	var f models.FilingSummary
	err := row.Scan(&f.FilingID, &f.CommitteeID, &f.CommitteeName, &f.FormType, &f.ReportType,
		&f.CoverageFrom, &f.CoverageTo, &f.FiledAt, &f.SourceURL, &f.TotalReceipts, &f.ThresholdFlag,
		&f.RawMeta, &f.EmailedAt, &f.FirstSeenAt, &f.UpdatedAt)
	f.CoverageFrom = utcPtr(f.CoverageFrom)
	f.CoverageTo = utcPtr(f.CoverageTo)
	f.FiledAt = utcPtr(f.FiledAt)
	f.EmailedAt = utcPtr(f.EmailedAt)
	f.FirstSeenAt = f.FirstSeenAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return f, err
}

func scanEvent(row pgx.Row) (models.ItemizedEvent, error) {
	var e models.ItemizedEvent
	err := row.Scan(&e.EventID, &e.FilingID, &e.FilerID, &e.CommitteeID, &e.CommitteeName, &e.FormType,
		&e.ReportType, &e.CoverageFrom, &e.CoverageTo, &e.FiledAt, &e.ExpenditureDate, &e.Amount,
		&e.SupportOppose, &e.CandidateID, &e.CandidateName, &e.CandidateOffice, &e.CandidateState,
		&e.CandidateDistrict, &e.CandidateParty, &e.ElectionCode, &e.Purpose, &e.PayeeName, &e.SourceURL,
		&e.RawLine, &e.EmailedAt, &e.FirstSeenAt)
	e.CoverageFrom = utcPtr(e.CoverageFrom)
	e.CoverageTo = utcPtr(e.CoverageTo)
	e.FiledAt = utcPtr(e.FiledAt)
	e.ExpenditureDate = utcPtr(e.ExpenditureDate)
	e.EmailedAt = utcPtr(e.EmailedAt)
	e.FirstSeenAt = e.FirstSeenAt.UTC()
	return e, err
}

// rawMetaArg keeps a missing map as SQL NULL instead of JSON null.
func rawMetaArg(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// UpsertFiling inserts or overwrites a summary. first_seen_at and emailed_at
// survive updates; raw_meta survives when the update carries none.
func (s *Store) UpsertFiling(ctx context.Context, f models.FilingSummary) error {
	now := s.now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO filing (`+filingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL, $13, $13)
		ON CONFLICT (filing_id) DO UPDATE SET
			committee_id = EXCLUDED.committee_id,
			committee_name = EXCLUDED.committee_name,
			form_type = EXCLUDED.form_type,
			report_type = EXCLUDED.report_type,
			coverage_from = EXCLUDED.coverage_from,
			coverage_through = EXCLUDED.coverage_through,
			filed_at = EXCLUDED.filed_at,
			source_url = EXCLUDED.source_url,
			total_receipts = EXCLUDED.total_receipts,
			threshold_flag = EXCLUDED.threshold_flag,
			raw_meta = COALESCE(EXCLUDED.raw_meta, filing.raw_meta),
			updated_at = EXCLUDED.updated_at`,
		f.FilingID, f.CommitteeID, f.CommitteeName, f.FormType, f.ReportType,
		f.CoverageFrom, f.CoverageTo, f.FiledAt, f.SourceURL, f.TotalReceipts, f.ThresholdFlag,
		rawMetaArg(f.RawMeta), now)
	if err != nil {
		return fmt.Errorf("upsert filing %d: %w", f.FilingID, wrapPgError(err))
	}
	return nil
}

// GetFiling returns the summary, or nil.
func (s *Store) GetFiling(ctx context.Context, filingID int64) (*models.FilingSummary, error) {
	f, err := scanFiling(s.pool.QueryRow(ctx,
		"SELECT "+filingColumns+" FROM filing WHERE filing_id = $1", filingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get filing %d: %w", filingID, err)
	}
	return &f, nil
}

// InsertEvent stores e unless its content address exists.
func (s *Store) InsertEvent(ctx context.Context, e models.ItemizedEvent) (bool, error) {
	ok, err := s.insertOnce(ctx, `
		INSERT INTO ie_event (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, NULL, $25)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.FilingID, e.FilerID, e.CommitteeID, e.CommitteeName, e.FormType,
		e.ReportType, e.CoverageFrom, e.CoverageTo, e.FiledAt, e.ExpenditureDate, e.Amount,
		e.SupportOppose, e.CandidateID, e.CandidateName, e.CandidateOffice, e.CandidateState,
		e.CandidateDistrict, e.CandidateParty, e.ElectionCode, e.Purpose, e.PayeeName, e.SourceURL,
		models.TruncateRawLine(e.RawLine), s.now())
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", e.EventID, err)
	}
	return ok, nil
}

// ListEvents returns the events of one filing ordered by event id.
func (s *Store) ListEvents(ctx context.Context, filingID int64) ([]models.ItemizedEvent, error) {
	return s.queryEvents(ctx, "list events",
		"SELECT "+eventColumns+" FROM ie_event WHERE filing_id = $1 ORDER BY event_id", filingID)
}

// ListUnemailedFilings returns summaries filed since since with totals of at
// least minTotal that have not been alerted, newest first.
func (s *Store) ListUnemailedFilings(ctx context.Context, since time.Time, minTotal float64, limit int) ([]models.FilingSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+filingColumns+` FROM filing
		WHERE emailed_at IS NULL AND filed_at >= $1 AND total_receipts >= $2
		ORDER BY filed_at DESC
		LIMIT $3`, since, minTotal, limit)
	if err != nil {
		return nil, fmt.Errorf("list unemailed filings: %w", err)
	}
	filings, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.FilingSummary, error) {
		return scanFiling(r)
	})
	if err != nil {
		return nil, fmt.Errorf("list unemailed filings: %w", err)
	}
	return filings, nil
}

// ListUnemailedEvents returns events filed since since that have not been alerted.
func (s *Store) ListUnemailedEvents(ctx context.Context, since time.Time, limit int) ([]models.ItemizedEvent, error) {
	return s.queryEvents(ctx, "list unemailed events", `
		SELECT `+eventColumns+` FROM ie_event
		WHERE emailed_at IS NULL AND filed_at >= $1
		ORDER BY filed_at DESC, first_seen_at
		LIMIT $2`, since, limit)
}

func (s *Store) queryEvents(ctx context.Context, op, sql string, args ...any) ([]models.ItemizedEvent, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	events, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.ItemizedEvent, error) {
		return scanEvent(r)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

// MarkFilingsEmailed stamps emailed_at on filings that have none.
func (s *Store) MarkFilingsEmailed(ctx context.Context, filingIDs []int64) (int, error) {
	if len(filingIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE filing SET emailed_at = $2
		WHERE filing_id = ANY($1) AND emailed_at IS NULL`, filingIDs, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark filings emailed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkEventsEmailed stamps emailed_at on events that have none.
func (s *Store) MarkEventsEmailed(ctx context.Context, eventIDs []string) (int, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE ie_event SET emailed_at = $2
		WHERE event_id = ANY($1) AND emailed_at IS NULL`, eventIDs, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark events emailed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
