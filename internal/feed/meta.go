package feed

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Metadata keys embedded in FEC feed descriptions.
const (
	MetaCommitteeID     = "CommitteeId"
	MetaFilingID        = "FilingId"
	MetaFormType        = "FormType"
	MetaReportType      = "ReportType"
	MetaCoverageFrom    = "CoverageFrom"
	MetaCoverageThrough = "CoverageThrough"
)

var metaBlob = regexp.MustCompile(`(?s)\*{5,}(.*?)\*{5,}`)

// ParseMeta extracts the "key: value | key: value" block wrapped in runs of
// five or more asterisks. Without markers the whole description is scanned.
//
//	*****CommitteeId: C00813006 | FilingId: 1944492 | FormType: F3XN*****
func ParseMeta(description string) map[string]string {
	blob := description
	if m := metaBlob.FindStringSubmatch(description); m != nil {
		blob = m[1]
	}

	out := make(map[string]string)
	for _, part := range strings.Split(blob, "|") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// InferFilingID returns the FilingId metadata value when it is all digits,
// else the numeric stem of a link ending in "<id>.fec".
func InferFilingID(item Item) (int64, bool) {
	if id, ok := parseDigits(item.Meta[MetaFilingID]); ok {
		return id, true
	}
	tail := item.Link
	if i := strings.LastIndex(tail, "/"); i >= 0 {
		tail = tail[i+1:]
	}
	stem, ok := strings.CutSuffix(tail, ".fec")
	if !ok {
		return 0, false
	}
	return parseDigits(stem)
}

func parseDigits(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ParseMMDDYYYY parses a MM/DD/YYYY date, returning nil on blank or bad input.
func ParseMMDDYYYY(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("1/2/2006", s)
	if err != nil {
		return nil
	}
	return &t
}
