package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// FilingSummary is a periodic report carrying aggregate totals (F3X).
// Re-ingesting the same FilingID overwrites the mutable fields.
type FilingSummary struct {
	FilingID      int64          `json:"filing_id"`
	CommitteeID   string         `json:"committee_id"`
	CommitteeName *string        `json:"committee_name,omitempty"`
	FormType      *string        `json:"form_type,omitempty"`
	ReportType    *string        `json:"report_type,omitempty"`
	CoverageFrom  *time.Time     `json:"coverage_from,omitempty"`
	CoverageTo    *time.Time     `json:"coverage_through,omitempty"`
	FiledAt       *time.Time     `json:"filed_at,omitempty"`
	SourceURL     string         `json:"source_url"`
	TotalReceipts *float64       `json:"total_receipts,omitempty"`
	ThresholdFlag bool           `json:"threshold_flag"`
	RawMeta       map[string]any `json:"raw_meta,omitempty"`
	EmailedAt     *time.Time     `json:"emailed_at,omitempty"`
	FirstSeenAt   time.Time      `json:"first_seen_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ItemizedEvent is one Schedule E line item. Insert-only.
type ItemizedEvent struct {
	EventID           string     `json:"event_id"`
	FilingID          int64      `json:"filing_id"`
	FilerID           string     `json:"filer_id"`
	CommitteeID       string     `json:"committee_id"`
	CommitteeName     *string    `json:"committee_name,omitempty"`
	FormType          *string    `json:"form_type,omitempty"`
	ReportType        *string    `json:"report_type,omitempty"`
	CoverageFrom      *time.Time `json:"coverage_from,omitempty"`
	CoverageTo        *time.Time `json:"coverage_through,omitempty"`
	FiledAt           *time.Time `json:"filed_at,omitempty"`
	ExpenditureDate   *time.Time `json:"expenditure_date,omitempty"`
	Amount            *float64   `json:"amount,omitempty"`
	SupportOppose     *string    `json:"support_oppose,omitempty"`
	CandidateID       *string    `json:"candidate_id,omitempty"`
	CandidateName     *string    `json:"candidate_name,omitempty"`
	CandidateOffice   *string    `json:"candidate_office,omitempty"`
	CandidateState    *string    `json:"candidate_state,omitempty"`
	CandidateDistrict *string    `json:"candidate_district,omitempty"`
	CandidateParty    *string    `json:"candidate_party,omitempty"`
	ElectionCode      *string    `json:"election_code,omitempty"`
	Purpose           *string    `json:"purpose,omitempty"`
	PayeeName         *string    `json:"payee_name,omitempty"`
	SourceURL         string     `json:"source_url"`
	RawLine           string     `json:"raw_line"`
	EmailedAt         *time.Time `json:"emailed_at,omitempty"`
	FirstSeenAt       time.Time  `json:"first_seen_at"`
}

// MaxRawLineLen bounds the stored raw line of an event.
const MaxRawLineLen = 4000

// EventID returns the content address of a line item: hex SHA-256 of "<filing_id>|<raw_line>".
func EventID(filingID int64, rawLine string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(filingID, 10) + "|" + rawLine))
	return hex.EncodeToString(sum[:])
}

// ThresholdFlag reports whether total is present and at least threshold.
func ThresholdFlag(total *float64, threshold float64) bool {
	return total != nil && *total >= threshold
}

// TruncateError bounds msg to MaxErrorLen bytes without splitting a UTF-8 sequence.
func TruncateError(msg string) string {
	return truncate(msg, MaxErrorLen)
}

// TruncateRawLine bounds a raw source line to MaxRawLineLen bytes.
func TruncateRawLine(line string) string {
	return truncate(line, MaxRawLineLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
