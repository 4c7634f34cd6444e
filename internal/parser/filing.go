// Package parser decodes FEC electronic filings.
//
// Parsing is a two-step strategy. The structured Decoder maps records onto
// the field layout of the filing's format version. When it fails, or finds no
// Schedule E itemizations, the heuristic scanner extracts what it can from the
// raw delimited rows. Both produce a *Filing with every field nullable, so
// callers never branch on which tier ran.
package parser

import (
	"strings"
	"time"
)

// Tier records which strategy produced a Filing's contents.
type Tier int

const (
	TierStructured Tier = 1
	TierHeuristic  Tier = 2
)

func (t Tier) String() string {
	switch t {
	case TierStructured:
		return "structured"
	case TierHeuristic:
		return "heuristic"
	}
	return "unknown"
}

// Header holds the summary fields of a filing's form record.
type Header struct {
	Version         *string
	FormType        *string
	CommitteeID     *string
	CommitteeName   *string
	ReportCode      *string
	CoverageFrom    *time.Time
	CoverageThrough *time.Time
	TotalReceipts   *float64
}

// Found reports whether a form record was located.
func (h Header) Found() bool {
	return h.FormType != nil
}

// fillFrom copies fields of o into nil fields of h.
func (h *Header) fillFrom(o Header) {
	fillString(&h.Version, o.Version)
	fillString(&h.FormType, o.FormType)
	fillString(&h.CommitteeID, o.CommitteeID)
	fillString(&h.CommitteeName, o.CommitteeName)
	fillString(&h.ReportCode, o.ReportCode)
	if h.CoverageFrom == nil {
		h.CoverageFrom = o.CoverageFrom
	}
	if h.CoverageThrough == nil {
		h.CoverageThrough = o.CoverageThrough
	}
	if h.TotalReceipts == nil {
		h.TotalReceipts = o.TotalReceipts
	}
}

func fillString(dst **string, src *string) {
	if *dst == nil {
		*dst = src
	}
}

// Expenditure is one Schedule E itemization. RawLine is the source row
// exactly as it appeared, minus the line terminator.
type Expenditure struct {
	RawLine           string
	Date              *time.Time
	Amount            *float64
	SupportOppose     *string
	CandidateID       *string
	CandidateName     *string
	CandidateOffice   *string
	CandidateState    *string
	CandidateDistrict *string
	CandidateParty    *string
	ElectionCode      *string
	Purpose           *string
	PayeeName         *string
}

// Filing is the parse result of either tier.
type Filing struct {
	Header       Header
	Expenditures []Expenditure
	Tier         Tier
}

// CommitteeName returns the filer name found in the form record, if any.
func (f *Filing) CommitteeName() *string {
	if f == nil || f.Header.CommitteeName == nil {
		return nil
	}
	if name := strings.TrimSpace(*f.Header.CommitteeName); name != "" {
		return &name
	}
	return nil
}
