package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

func TestPollerRunOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(feedEntry{id: 801, committee: "C00900001", formType: "F24N", pub: today})
	h.up.setDoc(801, eventsDoc(seLine("2500.00", "20260309", "S", "DOOR KNOCKERS")))

	a := h.eventsSpec()
	a.Source = "ie-a"
	b := h.eventsSpec()
	b.Source = "ie-b"
	p := NewPoller(h.ingest, nil, h.summarySpec(), []FeedSpec{a, b}, quietLogger())

	res := p.RunOnce(ctx)
	assert.Equal(t, 1, res.Summary.NewCount)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "ie-a", res.Events[0].Source)
	assert.Equal(t, "ie-b", res.Events[1].Source)
	assert.Equal(t, 2, res.NewEventFilings())
	assert.Equal(t, 1, res.NewEvents(), "the same line is stored once across feeds")
}

func TestPollerRunUntilCaughtUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SetConfig(ctx, models.ConfigMaxNewPerRun, "1"))

	var entries []feedEntry
	for id := int64(901); id <= 903; id++ {
		committee := fmt.Sprintf("C%08d", id)
		entries = append(entries, feedEntry{id: id, committee: committee, pub: today})
		h.up.setDoc(id, summaryDoc(committee, "CATCH UP PAC", "90000.00"))
	}
	h.up.setFeed(entries...)

	n := &recordingNotifier{}
	alerts := NewAlertService(h.store, n, 50000, quietLogger())
	alerts.SetClock(clock)

	p := NewPoller(h.ingest, alerts, h.summarySpec(), nil, quietLogger())
	p.Pause = 0

	res := p.RunUntilCaughtUp(ctx)
	assert.Equal(t, 4, res.Iterations, "three full rounds and one empty round")
	assert.Equal(t, 3, res.SummaryNew)
	require.NotNil(t, res.Alerts)
	assert.Equal(t, 3, res.Alerts.Filings)
	require.Len(t, n.alerts, 1)
	assert.Len(t, n.alerts[0].Filings, 3)
}

func TestPollerStopsOnPartialRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.up.setFeed(feedEntry{id: 951, committee: "C1", pub: today})
	h.up.setDoc(951, summaryDoc("C1", "PAC", "10.00"))

	p := NewPoller(h.ingest, nil, h.summarySpec(), nil, quietLogger())
	p.Pause = time.Hour

	res := p.RunUntilCaughtUp(ctx)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, res.SummaryNew)
	assert.Nil(t, res.Alerts)
}

func TestPollerIterationBound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SetConfig(ctx, models.ConfigMaxNewPerRun, "1"))
	h.up.setFeed(
		feedEntry{id: 961, committee: "C1", pub: today},
		feedEntry{id: 962, committee: "C2", pub: today},
		feedEntry{id: 963, committee: "C3", pub: today},
	)
	for _, id := range []int64{961, 962, 963} {
		h.up.setDoc(id, summaryDoc("C1", "PAC", "10.00"))
	}

	p := NewPoller(h.ingest, nil, h.summarySpec(), nil, quietLogger())
	p.Pause = 0
	p.MaxIterations = 2

	res := p.RunUntilCaughtUp(ctx)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, res.SummaryNew)
}
