package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

var (
	today     = testNow.Add(-2 * time.Hour)
	yesterday = testNow.Add(-26 * time.Hour)
)

func TestRunFeedIngestsSummaries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(
		feedEntry{id: 1001, committee: "C00000001", pub: today},
		feedEntry{id: 1002, committee: "C00000002", pub: today.Add(-time.Hour)},
	)
	h.up.setDoc(1001, summaryDoc("C00000001", "BIG MONEY PAC", "75000.50"))
	h.up.setDoc(1002, summaryDoc("C00000002", "SMALL CHANGE PAC", "1200.00"))

	res := h.ingest.RunFeed(ctx, h.summarySpec())
	assert.Equal(t, 2, res.NewCount)
	assert.Zero(t, res.FailedCount)
	assert.Zero(t, res.SkippedCount)
	assert.Empty(t, res.LastError)
	assert.Equal(t, []int64{1001, 1002}, res.Ingested)

	f, err := h.store.GetFiling(ctx, 1001)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "C00000001", f.CommitteeID)
	require.NotNil(t, f.CommitteeName)
	assert.Equal(t, "BIG MONEY PAC", *f.CommitteeName)
	require.NotNil(t, f.TotalReceipts)
	assert.InDelta(t, 75000.50, *f.TotalReceipts, 0.001)
	assert.True(t, f.ThresholdFlag)
	require.NotNil(t, f.FormType)
	assert.Equal(t, "F3XN", *f.FormType)
	require.NotNil(t, f.CoverageFrom)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *f.CoverageFrom)
	require.NotNil(t, f.FiledAt)
	assert.True(t, f.FiledAt.Equal(today.Truncate(time.Second)))
	assert.Equal(t, "C00000001", f.RawMeta["CommitteeId"])
	assert.Equal(t, h.up.docURL(1001), f.SourceURL)

	small, err := h.store.GetFiling(ctx, 1002)
	require.NoError(t, err)
	assert.False(t, small.ThresholdFlag)

	task, err := h.store.GetTask(ctx, 1001, SummarySource)
	require.NoError(t, err)
	assert.Equal(t, models.TaskIngested, task.Status)

	committee, err := h.store.GetCommittee(ctx, "C00000001")
	require.NoError(t, err)
	require.NotNil(t, committee)
	assert.True(t, committee.Provisional)
}

func TestRunFeedStopsAtDayBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("stops at first stale item", func(t *testing.T) {
		h := newHarness(t)
		h.up.setFeed(
			feedEntry{id: 1, committee: "C1", pub: today},
			feedEntry{id: 2, committee: "C2", pub: yesterday},
			feedEntry{id: 3, committee: "C3", pub: today},
		)
		for _, id := range []int64{1, 2, 3} {
			h.up.setDoc(id, summaryDoc("C1", "PAC", "100.00"))
		}

		res := h.ingest.RunFeed(ctx, h.summarySpec())
		assert.Equal(t, 1, res.NewCount)

		for _, id := range []int64{2, 3} {
			task, err := h.store.GetTask(ctx, id, SummarySource)
			require.NoError(t, err)
			assert.Nil(t, task, "filing %d must not be claimed", id)
		}
	})

	t.Run("full scan skips stale items", func(t *testing.T) {
		h := newHarness(t)
		h.up.setFeed(
			feedEntry{id: 1, committee: "C1", pub: today},
			feedEntry{id: 2, committee: "C2", pub: yesterday},
			feedEntry{id: 3, committee: "C3", pub: today},
		)
		for _, id := range []int64{1, 2, 3} {
			h.up.setDoc(id, summaryDoc("C1", "PAC", "100.00"))
		}
		spec := h.summarySpec()
		spec.FullScan = true

		res := h.ingest.RunFeed(ctx, spec)
		assert.Equal(t, 2, res.NewCount)
		assert.Equal(t, []int64{1, 3}, res.Ingested)

		task, err := h.store.GetTask(ctx, 2, SummarySource)
		require.NoError(t, err)
		assert.Nil(t, task)
	})
}

func TestRunFeedPerRunCap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SetConfig(ctx, models.ConfigMaxNewPerRun, "1"))

	h.up.setFeed(
		feedEntry{id: 11, committee: "C1", pub: today},
		feedEntry{id: 12, committee: "C2", pub: today},
		feedEntry{id: 13, committee: "C3", pub: today},
	)
	for _, id := range []int64{11, 12, 13} {
		h.up.setDoc(id, summaryDoc("C1", "PAC", "100.00"))
	}

	res := h.ingest.RunFeed(ctx, h.summarySpec())
	assert.Equal(t, 1, res.NewCount)

	task, err := h.store.GetTask(ctx, 12, SummarySource)
	require.NoError(t, err)
	assert.Nil(t, task, "cap must stop the pass before the next claim")

	res = h.ingest.RunFeed(ctx, h.summarySpec())
	assert.Equal(t, 1, res.NewCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Equal(t, []int64{12}, res.Ingested)
}

func TestMaxNewPerRun(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", models.DefaultMaxNewPerRun},
		{"valid", "7", 7},
		{"padded", " 12 ", 12},
		{"invalid", "many", models.DefaultMaxNewPerRun},
		{"zero", "0", models.DefaultMaxNewPerRun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.value != "" {
				require.NoError(t, h.store.SetConfig(ctx, models.ConfigMaxNewPerRun, tt.value))
			}
			assert.Equal(t, tt.want, h.ingest.MaxNewPerRun(ctx))
		})
	}
}

func TestRunFeedFailureIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(
		feedEntry{id: 21, committee: "C1", pub: today},
		feedEntry{id: 22, committee: "C2", pub: today},
		feedEntry{id: 23, committee: "C3", pub: today},
	)
	h.up.setFailing(21, http.StatusInternalServerError)
	h.up.setDoc(22, "not a filing at all\n")
	h.up.setDoc(23, summaryDoc("C3", "SURVIVOR PAC", "100.00"))

	res := h.ingest.RunFeed(ctx, h.summarySpec())
	assert.Equal(t, 1, res.NewCount)
	assert.Equal(t, 2, res.FailedCount)
	assert.NotEmpty(t, res.LastError)
	assert.Equal(t, []int64{23}, res.Ingested)

	download, err := h.store.GetTask(ctx, 21, SummarySource)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, download.Status)
	require.NotNil(t, download.FailedStep)
	assert.Equal(t, models.StepDownloading, *download.FailedStep)
	require.NotNil(t, download.ErrorMessage)
	assert.Contains(t, *download.ErrorMessage, "500")

	parse, err := h.store.GetTask(ctx, 22, SummarySource)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, parse.Status)
	require.NotNil(t, parse.FailedStep)
	assert.Equal(t, models.StepParsing, *parse.FailedStep)

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.Counters["filings_failed"])
	assert.Equal(t, int64(1), snap.Counters["filings_ingested"])
}

func TestRunFeedOversizeSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(feedEntry{id: 31, committee: "C00900001", formType: "F24N", pub: today})
	h.up.setDoc(31, eventsDoc(seLine("100.00", "20260301", "S", "PRINTER")))
	h.up.setSize(31, 120*1024*1024)

	res := h.ingest.RunFeed(ctx, h.eventsSpec())
	assert.Zero(t, res.NewCount)
	assert.Zero(t, res.FailedCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Empty(t, res.LastError)

	task, err := h.store.GetTask(ctx, 31, h.up.feedURL())
	require.NoError(t, err)
	assert.Equal(t, models.TaskSkipped, task.Status)
	require.NotNil(t, task.SkipReason)
	assert.Equal(t, models.SkipTooLarge, *task.SkipReason)
	require.NotNil(t, task.FileSizeMB)
	assert.InDelta(t, 120.0, *task.FileSizeMB, 0.001)
	assert.Zero(t, h.up.getCount(31), "body must never be requested")
}

func TestRunFeedAlreadyClaimed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(
		feedEntry{id: 41, committee: "C1", pub: today},
		feedEntry{id: 42, committee: "C2", pub: today},
	)
	h.up.setDoc(41, summaryDoc("C1", "PAC ONE", "100.00"))
	h.up.setDoc(42, summaryDoc("C2", "PAC TWO", "100.00"))

	first := h.ingest.RunFeed(ctx, h.summarySpec())
	assert.Equal(t, 2, first.NewCount)

	second := h.ingest.RunFeed(ctx, h.summarySpec())
	assert.Zero(t, second.NewCount)
	assert.Equal(t, 2, second.SkippedCount)
	assert.Equal(t, 1, h.up.getCount(41))
	assert.Equal(t, 1, h.up.getCount(42))
}

func TestRunFeedSourcesAreIndependent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(feedEntry{id: 51, committee: "C1", pub: today})
	h.up.setDoc(51, summaryDoc("C1", "PAC", "100.00"))

	a := h.summarySpec()
	b := h.summarySpec()
	b.Source = "F3X-MIRROR"

	assert.Equal(t, 1, h.ingest.RunFeed(ctx, a).NewCount)
	assert.Equal(t, 1, h.ingest.RunFeed(ctx, b).NewCount)
	assert.Equal(t, 2, h.up.getCount(51))
}

func TestResetThenRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(feedEntry{id: 61, committee: "C1", pub: today})
	h.up.setDoc(61, summaryDoc("C1", "FLAKY PAC", "100.00"))
	h.up.setFailing(61, http.StatusBadGateway)

	spec := h.summarySpec()
	spec.RetryClaimed = true
	spec.DocumentURL = h.up.docURL

	res := h.ingest.RunFeed(ctx, spec)
	assert.Equal(t, 1, res.FailedCount)

	res = h.ingest.RunFeed(ctx, spec)
	assert.Zero(t, res.NewCount, "failed tasks are not retried without a reset")
	assert.Equal(t, 1, res.SkippedCount)

	h.up.setFailing(61, 0)
	n, err := h.store.ResetFailedTasks(ctx, models.ResetFilter{FilingIDs: []int64{61}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := h.store.GetTask(ctx, 61, SummarySource)
	require.NoError(t, err)
	assert.Equal(t, models.TaskClaimed, task.Status)
	assert.Nil(t, task.FailedStep)
	assert.Nil(t, task.ErrorMessage)
	assert.NotNil(t, task.ResetAt)

	res = h.ingest.RunFeed(ctx, spec)
	assert.Equal(t, 1, res.NewCount)
	assert.Equal(t, []int64{61}, res.Ingested)

	task, err = h.store.GetTask(ctx, 61, SummarySource)
	require.NoError(t, err)
	assert.Equal(t, models.TaskIngested, task.Status)
	assert.Nil(t, task.ResetAt)
}

func TestRetryClaimedSkipsUnresetClaims(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setDoc(65, summaryDoc("C1", "ORPHAN PAC", "100.00"))

	// A worker that died between claim and download leaves this behind.
	claimed, err := h.store.ClaimFiling(ctx, 65, SummarySource)
	require.NoError(t, err)
	require.True(t, claimed)

	spec := h.summarySpec()
	spec.RetryClaimed = true
	spec.DocumentURL = h.up.docURL

	res := h.ingest.RunFeed(ctx, spec)
	assert.Zero(t, res.NewCount)
	assert.Zero(t, h.up.getCount(65))

	task, err := h.store.GetTask(ctx, 65, SummarySource)
	require.NoError(t, err)
	assert.Equal(t, models.TaskClaimed, task.Status)
}

func TestRetryClaimedConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(feedEntry{id: 66, committee: "C1", pub: today})
	h.up.setDoc(66, summaryDoc("C1", "RACED PAC", "100.00"))
	h.up.setFailing(66, http.StatusBadGateway)

	spec := h.summarySpec()
	spec.RetryClaimed = true
	spec.DocumentURL = h.up.docURL

	require.Equal(t, 1, h.ingest.RunFeed(ctx, spec).FailedCount)
	require.Equal(t, 1, h.up.getCount(66))

	h.up.setFailing(66, 0)
	n, err := h.store.ResetFailedTasks(ctx, models.ResetFilter{FilingIDs: []int64{66}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	const runs = 8
	results := make([]RunResult, runs)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.ingest.RunFeed(ctx, spec)
		}()
	}
	wg.Wait()

	ingested := 0
	for _, r := range results {
		ingested += r.NewCount
	}
	assert.Equal(t, 1, ingested)
	assert.Equal(t, 2, h.up.getCount(66), "exactly one download after the reset")

	task, err := h.store.GetTask(ctx, 66, SummarySource)
	require.NoError(t, err)
	assert.Equal(t, models.TaskIngested, task.Status)
}

func TestRunFeedEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	lineA := seLine("12500.00", "20260301", "S", "MEDIA BUYERS INC")
	lineB := seLine("800.00", "20260302", "O", "PRINT SHOP LLC")
	h.up.setFeed(feedEntry{id: 71, committee: "C00900001", formType: "F24N", pub: today})
	h.up.setDoc(71, eventsDoc(lineA, lineB))

	res := h.ingest.RunFeed(ctx, h.eventsSpec())
	assert.Equal(t, 1, res.NewCount)
	assert.Equal(t, 2, res.NewEvents)

	events, err := h.store.ListEvents(ctx, 71)
	require.NoError(t, err)
	require.Len(t, events, 2)

	byID := map[string]models.ItemizedEvent{}
	for _, e := range events {
		byID[e.EventID] = e
	}
	a, ok := byID[models.EventID(71, lineA)]
	require.True(t, ok)
	assert.Equal(t, lineA, a.RawLine)
	assert.Equal(t, "C00900001", a.FilerID)
	require.NotNil(t, a.CommitteeName)
	assert.Equal(t, "SUPER PAC FOR TOMORROW", *a.CommitteeName)
	require.NotNil(t, a.FormType)
	assert.Equal(t, "F24N", *a.FormType)
	require.NotNil(t, a.Amount)
	assert.InDelta(t, 12500.0, *a.Amount, 0.001)
	require.NotNil(t, a.SupportOppose)
	assert.Equal(t, "S", *a.SupportOppose)
	require.NotNil(t, a.FiledAt)

	// The same lines under another source are already stored.
	spec := h.eventsSpec()
	spec.Source = "mirror"
	res = h.ingest.RunFeed(ctx, spec)
	assert.Equal(t, 1, res.NewCount)
	assert.Zero(t, res.NewEvents)

	events, err = h.store.ListEvents(ctx, 71)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRunFeedFetchError(t *testing.T) {
	h := newHarness(t)
	spec := h.summarySpec()
	spec.URL = h.up.srv.URL + "/missing"

	res := h.ingest.RunFeed(context.Background(), spec)
	assert.Zero(t, res.NewCount)
	assert.NotEmpty(t, res.LastError)
}
