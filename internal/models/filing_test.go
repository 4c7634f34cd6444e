package models

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestEventID(t *testing.T) {
	a := EventID(42, "SE|C001|20250215|5000.00|S")
	b := EventID(42, "SE|C001|20250215|5000.00|S")
	if a != b {
		t.Fatalf("EventID not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("EventID length = %d, want 64", len(a))
	}
	if EventID(43, "SE|C001|20250215|5000.00|S") == a {
		t.Error("EventID should depend on filing id")
	}
	if EventID(42, "SE|C001|20250215|5000.01|S") == a {
		t.Error("EventID should depend on raw line")
	}
}

func TestThresholdFlag(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name  string
		total *float64
		want  bool
	}{
		{"nil total", nil, false},
		{"below", f(40000), false},
		{"equal", f(50000), true},
		{"above", f(60000), true},
		{"negative", f(-1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ThresholdFlag(tt.total, 50000); got != tt.want {
				t.Errorf("ThresholdFlag() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncateError(t *testing.T) {
	short := "connection refused"
	if got := TruncateError(short); got != short {
		t.Errorf("short message changed: %q", got)
	}

	long := strings.Repeat("x", 800)
	if got := TruncateError(long); len(got) != MaxErrorLen {
		t.Errorf("len = %d, want %d", len(got), MaxErrorLen)
	}

	multi := strings.Repeat("é", 400) // 800 bytes
	got := TruncateError(multi)
	if len(got) > MaxErrorLen || !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: len=%d valid=%v", len(got), utf8.ValidString(got))
	}
}

func TestFailedAt(t *testing.T) {
	upd := FailedAt(StepDownloading, errors.New(strings.Repeat("e", 600)))
	if upd.FailedStep == nil || *upd.FailedStep != "downloading" {
		t.Fatalf("FailedStep = %v", upd.FailedStep)
	}
	if upd.ErrorMessage == nil || len(*upd.ErrorMessage) != MaxErrorLen {
		t.Fatalf("ErrorMessage not bounded")
	}
}

func TestParseFilingType(t *testing.T) {
	for _, in := range []string{"3x", "e"} {
		if _, err := ParseFilingType(in); err != nil {
			t.Errorf("ParseFilingType(%q) error: %v", in, err)
		}
	}
	if _, err := ParseFilingType("f3x"); err == nil {
		t.Error("expected error for unknown type")
	}
	if got := FilingTypeE.FormTypes(); len(got) != 2 || got[0] != "F24" || got[1] != "F5" {
		t.Errorf("FormTypes(e) = %v", got)
	}
}

func TestBackfillJobIsStale(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-10 * time.Minute)
	old := now.Add(-11 * time.Minute)
	fresh := now.Add(-time.Minute)

	tests := []struct {
		name string
		job  BackfillJob
		want bool
	}{
		{"running old", BackfillJob{Status: BackfillRunning, StartedAt: &old}, true},
		{"running fresh", BackfillJob{Status: BackfillRunning, StartedAt: &fresh}, false},
		{"running no start", BackfillJob{Status: BackfillRunning}, true},
		{"completed old", BackfillJob{Status: BackfillCompleted, StartedAt: &old}, false},
		{"pending", BackfillJob{Status: BackfillPending}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.IsStale(cutoff); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	in := time.Date(2025, 3, 1, 22, 30, 0, 0, loc) // 2025-03-02 03:30 UTC
	want := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := Day(in); !got.Equal(want) {
		t.Errorf("Day() = %v, want %v", got, want)
	}
}
