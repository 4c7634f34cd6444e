package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// fieldSeparator is the ASCII file separator used by format 6.x and later.
const fieldSeparator = "\x1c"

type row struct {
	raw    string
	fields []string
}

func (r row) recordType() string {
	if len(r.fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(r.fields[0]))
}

func (r row) field(i int) string {
	if i < 0 || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// splitRows splits text into non-blank rows. maxLines > 0 bounds how many
// physical lines are examined.
func splitRows(text string, maxLines int) []row {
	var rows []row
	lines := 0
	for text != "" {
		if maxLines > 0 && lines >= maxLines {
			break
		}
		line, rest, _ := strings.Cut(text, "\n")
		text = rest
		lines++

		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, row{raw: line, fields: splitFields(line)})
	}
	return rows
}

func splitFields(line string) []string {
	sep := "|"
	if strings.Contains(line, fieldSeparator) {
		sep = fieldSeparator
	}
	fields := strings.Split(line, sep)
	for i, f := range fields {
		if len(f) >= 2 && f[0] == '"' && f[len(f)-1] == '"' {
			fields[i] = f[1 : len(f)-1]
		}
	}
	return fields
}

// firstLines returns at most n leading lines of text.
func firstLines(text string, n int) string {
	idx := 0
	for i := 0; i < n; i++ {
		j := strings.IndexByte(text[idx:], '\n')
		if j < 0 {
			return text
		}
		idx += j + 1
	}
	return text[:idx]
}

var (
	plainNumber   = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	groupedNumber = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)
	decimalNumber = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// parseAmount parses a plain or comma-grouped number.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !plainNumber.MatchString(s) && !groupedNumber.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func amountPtr(s string) *float64 {
	if v, ok := parseAmount(s); ok {
		return &v
	}
	return nil
}

var dateLayouts = []string{"20060102", "1/2/2006", time.DateOnly}

// parseDate accepts YYYYMMDD, MM/DD/YYYY and YYYY-MM-DD.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 1900 || t.Year() > 2200 {
			return nil
		}
		return &t
	}
	return nil
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// joinName joins non-blank name parts with single spaces.
func joinName(parts ...string) *string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strPtr(strings.Join(kept, " "))
}
