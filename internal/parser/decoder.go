package parser

import (
	"errors"
	"fmt"
)

// Structured decode errors. Any of them sends callers to the heuristic tier.
var (
	ErrNoHeader           = errors.New("missing HDR record")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrNoFormRecord       = errors.New("no decodable form record")
)

// ErrUnparseable is returned when neither tier recognizes the document.
var ErrUnparseable = errors.New("filing could not be parsed")

// Decoder is the structured, grammar-driven tier.
type Decoder struct {
	grammar *Grammar
}

// NewDecoder creates a Decoder over g.
func NewDecoder(g *Grammar) *Decoder {
	return &Decoder{grammar: g}
}

// Decode maps every record of text onto its layout for the declared version.
// The first form record supplies the header; Schedule E rows too short for
// their layout are dropped.
func (d *Decoder) Decode(text string) (*Filing, error) {
	return d.decodeRows(splitRows(text, 0))
}

func (d *Decoder) decodeRows(rows []row) (*Filing, error) {
	if len(rows) == 0 || rows[0].recordType() != "HDR" {
		return nil, ErrNoHeader
	}
	version := rows[0].field(2)
	vg, ok := d.grammar.ForVersion(version)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}

	f := &Filing{Tier: TierStructured}
	f.Header.Version = strPtr(version)
	haveForm := false

	for _, r := range rows[1:] {
		_, layout, ok := vg.Layout(r.recordType())
		if !ok {
			continue
		}
		switch layout.Role {
		case roleForm:
			if haveForm {
				continue
			}
			fields, ok := layout.Decode(r.fields)
			if !ok {
				continue
			}
			f.Header.fillFrom(headerFromFields(layout, fields))
			haveForm = true
		case roleScheduleE:
			fields, ok := layout.Decode(r.fields)
			if !ok {
				continue
			}
			f.Expenditures = append(f.Expenditures, expenditureFromFields(r.raw, fields))
		}
	}

	if !haveForm {
		return nil, ErrNoFormRecord
	}
	return f, nil
}

func headerFromFields(layout RecordLayout, fields map[string]string) Header {
	h := Header{
		FormType:        strPtr(fields["form_type"]),
		CommitteeID:     strPtr(fields["filer_committee_id_number"]),
		ReportCode:      strPtr(fields["report_code"]),
		CoverageFrom:    parseDate(fields["coverage_from_date"]),
		CoverageThrough: parseDate(fields["coverage_through_date"]),
		TotalReceipts:   amountPtr(fields["col_a_total_receipts"]),
	}
	if h.ReportCode == nil {
		h.ReportCode = strPtr(fields["report_type"])
	}
	for _, name := range layout.NameFields {
		if v := strPtr(fields[name]); v != nil {
			h.CommitteeName = v
			break
		}
	}
	return h
}

func expenditureFromFields(raw string, fields map[string]string) Expenditure {
	e := Expenditure{
		RawLine:           raw,
		Amount:            amountPtr(fields["expenditure_amount"]),
		SupportOppose:     strPtr(fields["support_oppose_code"]),
		CandidateID:       strPtr(fields["so_candidate_id_number"]),
		CandidateOffice:   strPtr(fields["so_candidate_office"]),
		CandidateState:    strPtr(fields["so_candidate_state"]),
		CandidateDistrict: strPtr(fields["so_candidate_district"]),
		CandidateParty:    strPtr(fields["so_candidate_party"]),
		ElectionCode:      strPtr(fields["election_code"]),
		Purpose:           strPtr(fields["expenditure_purpose_descrip"]),
		CandidateName: joinName(
			fields["so_candidate_first_name"],
			fields["so_candidate_middle_name"],
			fields["so_candidate_last_name"],
		),
	}
	for _, key := range []string{"dissemination_date", "disbursement_date", "expenditure_date"} {
		if d := parseDate(fields[key]); d != nil {
			e.Date = d
			break
		}
	}
	if org := strPtr(fields["payee_organization_name"]); org != nil {
		e.PayeeName = org
	} else {
		e.PayeeName = joinName(fields["payee_first_name"], fields["payee_last_name"])
	}
	return e
}
