//go:build integration

package pgstore

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

var testStore *Store

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// TestMain starts one Postgres container shared by every test in the package.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("sludgewire"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("Failed to get connection string: %v", err)
	}

	testStore, err = Open(ctx, Config{URL: dsn, MaxConns: 4}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testStore.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testStore.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func freshStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	require.NoError(t, testStore.WipeData(context.Background()))
	testStore.Now = func() time.Time { return testNow }
	return testStore
}

func ptr[T any](v T) *T { return &v }

func TestClaimFiling(t *testing.T) {
	ctx := context.Background()
	s := freshStore(t)

	ok, err := s.ClaimFiling(ctx, 100, "F3X")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimFiling(ctx, 100, "F3X")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ClaimFiling(ctx, 100, "BACKFILL-3X")
	require.NoError(t, err)
	assert.True(t, ok)

	task, err := s.GetTask(ctx, 100, "F3X")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.TaskClaimed, task.Status)
	assert.True(t, testNow.Equal(task.CreatedAt))

	missing, err := s.GetTask(ctx, 999, "F3X")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClaimFilingConcurrent(t *testing.T) {
	ctx := context.Background()
	s := freshStore(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			ok, err := s.ClaimFiling(ctx, 200, "F3X")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTaskTransitions(t *testing.T) {
	ctx := context.Background()
	s := freshStore(t)

	for _, id := range []int64{300, 301} {
		_, err := s.ClaimFiling(ctx, id, "F3X")
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateTaskStatus(ctx, 300, "F3X", models.TaskFailed,
		models.TaskUpdate{FailedStep: ptr(models.StepParsing), ErrorMessage: ptr("bad header")}))
	require.NoError(t, s.RecordSkipped(ctx, 301, "F3X", models.SkipTooLarge, ptr(120.0), "http://x/301.fec"))
	require.NoError(t, s.UpdateTaskStatus(ctx, 302, "F3X", models.TaskIngested, models.TaskUpdate{}))

	ghost, err := s.GetTask(ctx, 302, "F3X")
	require.NoError(t, err)
	assert.Nil(t, ghost)

	tasks, err := s.ListTasks(ctx, models.TaskFilter{Source: ptr("F3X"), Limit: 1})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	n, err := s.ResetFailedTasks(ctx, models.ResetFilter{FilingIDs: []int64{300, 301}})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only failed tasks reset")

	reset, err := s.GetTask(ctx, 300, "F3X")
	require.NoError(t, err)
	assert.Equal(t, models.TaskClaimed, reset.Status)
	assert.Nil(t, reset.FailedStep)
	require.NotNil(t, reset.ResetAt)
	assert.True(t, testNow.Equal(*reset.ResetAt))

	pending, err := s.ListTasks(ctx, models.TaskFilter{ResetOnly: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(300), pending[0].FilingID)

	skipped, err := s.GetTask(ctx, 301, "F3X")
	require.NoError(t, err)
	assert.Equal(t, models.TaskSkipped, skipped.Status)
	require.NotNil(t, skipped.SkipReason)
	assert.Equal(t, models.SkipTooLarge, *skipped.SkipReason)
}

func TestTakeResetTaskConcurrent(t *testing.T) {
	ctx := context.Background()
	s := freshStore(t)

	for _, id := range []int64{400, 401} {
		_, err := s.ClaimFiling(ctx, id, "F3X")
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateTaskStatus(ctx, 400, "F3X", models.TaskFailed,
		models.TaskUpdate{FailedStep: ptr(models.StepDownloading), ErrorMessage: ptr("502")}))
	_, err := s.ResetFailedTasks(ctx, models.ResetFilter{})
	require.NoError(t, err)

	taken, err := s.TakeResetTask(ctx, 401, "F3X")
	require.NoError(t, err)
	assert.False(t, taken, "a claim that was never reset is not taken")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			ok, err := s.TakeResetTask(ctx, 400, "F3X")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	task, err := s.GetTask(ctx, 400, "F3X")
	require.NoError(t, err)
	assert.Equal(t, models.TaskDownloading, task.Status)
	assert.Nil(t, task.ResetAt)
}

func TestUpsertFilingAndAlerts(t *testing.T) {
	ctx := context.Background()
	s := freshStore(t)
	filed := testNow.Add(-time.Hour)

	require.NoError(t, s.UpsertFiling(ctx, models.FilingSummary{
		FilingID: 400, CommitteeID: "C1", FiledAt: &filed, SourceURL: "u",
		TotalReceipts: ptr(40000.0), RawMeta: map[string]any{"ReportType": "Q1"},
	}))
	s.Now = func() time.Time { return testNow.Add(time.Minute) }
	require.NoError(t, s.UpsertFiling(ctx, models.FilingSummary{
		FilingID: 400, CommitteeID: "C1", FiledAt: &filed, SourceURL: "u",
		TotalReceipts: ptr(60000.0), ThresholdFlag: true,
	}))

	f, err := s.GetFiling(ctx, 400)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.ThresholdFlag)
	assert.True(t, testNow.Equal(f.FirstSeenAt))
	assert.True(t, testNow.Add(time.Minute).Equal(f.UpdatedAt))
	assert.Equal(t, "Q1", f.RawMeta["ReportType"])

	pending, err := s.ListUnemailedFilings(ctx, models.Day(testNow), 50000, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	n, err := s.MarkFilingsEmailed(ctx, []int64{400, 401})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err = s.ListUnemailedFilings(ctx, models.Day(testNow), 50000, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInsertEvent(t *testing.T) {
	ctx := context.Background()
	s := freshStore(t)
	filed := testNow.Add(-time.Hour)

	e := models.ItemizedEvent{
		EventID: models.EventID(500, "SE|x"), FilingID: 500, FilerID: "C5", CommitteeID: "C5",
		FiledAt: &filed, Amount: ptr(10.5), SourceURL: "u", RawLine: "SE|x",
	}
	ok, err := s.InsertEvent(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.InsertEvent(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := s.ListEvents(ctx, 500)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Amount)
	assert.InDelta(t, 10.5, *events[0].Amount, 0.001)

	n, err := s.MarkEventsEmailed(ctx, []string{e.EventID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err := s.ListUnemailedEvents(ctx, models.Day(testNow), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBackfillJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := freshStore(t)
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	job, err := s.GetOrCreateBackfillJob(ctx, day, models.FilingTypeE)
	require.NoError(t, err)
	assert.Equal(t, models.BackfillPending, job.Status)
	assert.True(t, day.Equal(job.TargetDate))

	started, err := s.StartBackfillJob(ctx, day, models.FilingTypeE)
	require.NoError(t, err)
	assert.True(t, started)
	started, err = s.StartBackfillJob(ctx, day, models.FilingTypeE)
	require.NoError(t, err)
	assert.False(t, started)

	reset, err := s.ResetStaleBackfillJob(ctx, day, models.FilingTypeE, testNow.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.False(t, reset)
	reset, err = s.ResetStaleBackfillJob(ctx, day, models.FilingTypeE, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, reset)

	_, err = s.StartBackfillJob(ctx, day, models.FilingTypeE)
	require.NoError(t, err)
	require.NoError(t, s.CompleteBackfillJob(ctx, day, models.FilingTypeE, 3))

	job, err = s.GetOrCreateBackfillJob(ctx, day, models.FilingTypeE)
	require.NoError(t, err)
	assert.Equal(t, models.BackfillCompleted, job.Status)
	assert.Equal(t, 3, job.FilingsFound)
	require.NotNil(t, job.CompletedAt)

	reopened, err := s.ReopenBackfillJob(ctx, day, models.FilingTypeE)
	require.NoError(t, err)
	assert.True(t, reopened)
	reopened, err = s.ReopenBackfillJob(ctx, day, models.FilingTypeE)
	require.NoError(t, err)
	assert.False(t, reopened)
	started, err = s.StartBackfillJob(ctx, day, models.FilingTypeE)
	require.NoError(t, err)
	assert.True(t, started)
}

func TestCommitteesAndConfig(t *testing.T) {
	ctx := context.Background()
	s := freshStore(t)

	ok, err := s.CreateProvisionalCommittee(ctx, "C1", "FIRST")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CreateProvisionalCommittee(ctx, "C1", "SECOND")
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := s.GetCommittee(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "FIRST", c.Name)

	require.NoError(t, s.SetConfig(ctx, models.ConfigEmailEnabled, "false"))
	require.NoError(t, s.SetConfig(ctx, models.ConfigEmailEnabled, "true"))
	v, found, err := s.GetConfig(ctx, models.ConfigEmailEnabled)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "true", v)
}
