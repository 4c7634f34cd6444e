package parser

import (
	"math"
	"strings"
)

// ScanScheduleE is the heuristic tier for itemizations. Every row whose
// record type starts with "SE" yields an Expenditure carrying only the first
// date-shaped token, the first amount-shaped token with magnitude >= 1 that
// is not that date, and the first standalone S or O code.
func ScanScheduleE(text string) []Expenditure {
	var out []Expenditure
	for _, r := range splitRows(text, 0) {
		if !strings.HasPrefix(r.recordType(), "SE") {
			continue
		}
		out = append(out, scanExpenditure(r))
	}
	return out
}

func scanExpenditure(r row) Expenditure {
	e := Expenditure{RawLine: r.raw}

	dateIdx := -1
	for i, tok := range r.fields[1:] {
		if d := parseDate(tok); d != nil {
			e.Date = d
			dateIdx = i + 1
			break
		}
	}
	for i, tok := range r.fields[1:] {
		if i+1 == dateIdx {
			continue
		}
		if v, ok := parseAmount(tok); ok && math.Abs(v) >= 1.0 {
			e.Amount = &v
			break
		}
	}
	for _, tok := range r.fields[1:] {
		if tok == "S" || tok == "O" {
			code := tok
			e.SupportOppose = &code
			break
		}
	}
	return e
}

var formPrefixes = []string{"F3X", "F24", "F5"}

// isFormRecord reports whether recordType is a top-level form record.
func isFormRecord(recordType string) bool {
	if strings.HasPrefix(recordType, "F57") {
		return false
	}
	for _, p := range formPrefixes {
		if strings.HasPrefix(recordType, p) {
			return true
		}
	}
	return false
}

// scanHeader examines at most maxLines lines for the HDR and first form
// record. Columns come from the version's layout when the row is long enough
// for it, otherwise from fixed positions (id at 1, name at 2) with the total
// taken as the first decimal token from column 4.
func scanHeader(g *Grammar, text string, maxLines int) (Header, bool) {
	var h Header
	var vg *VersionGrammar

	for _, r := range splitRows(text, maxLines) {
		rt := r.recordType()
		if rt == "HDR" {
			h.Version = strPtr(r.field(2))
			vg, _ = g.ForVersion(r.field(2))
			continue
		}
		if !isFormRecord(rt) {
			continue
		}

		if vg != nil {
			if _, layout, ok := vg.Layout(rt); ok && layout.Role == roleForm {
				if fields, ok := layout.Decode(r.fields); ok {
					h.fillFrom(headerFromFields(layout, fields))
				}
			}
		}
		h.fillFrom(Header{
			FormType:      strPtr(r.field(0)),
			CommitteeID:   strPtr(r.field(1)),
			CommitteeName: strPtr(r.field(2)),
		})
		if h.TotalReceipts == nil && strings.HasPrefix(rt, "F3X") {
			for i := 4; i < len(r.fields) && i < 20; i++ {
				if tok := r.field(i); decimalNumber.MatchString(tok) {
					h.TotalReceipts = amountPtr(tok)
					break
				}
			}
		}
		return h, true
	}
	return h, false
}
