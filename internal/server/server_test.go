package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/sludgewire/internal/metrics"
	"github.com/raphaelgruber/sludgewire/internal/models"
	"github.com/raphaelgruber/sludgewire/internal/ratelimit"
	"github.com/raphaelgruber/sludgewire/internal/service"
)

type blockingRunner struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (r *blockingRunner) RunUntilCaughtUp(ctx context.Context) service.CatchUpResult {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return service.CatchUpResult{Iterations: 1}
}

func (r *blockingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubBackfiller struct{}

func (stubBackfiller) Run(_ context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error) {
	return &models.BackfillJob{TargetDate: date, FilingType: ft, Status: models.BackfillCompleted, FilingsFound: 1}, nil
}

func (stubBackfiller) Status(_ context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error) {
	return &models.BackfillJob{TargetDate: date, FilingType: ft, Status: models.BackfillPending}, nil
}

func newTestServer(t *testing.T, cooldown ratelimit.Cooldown) (*httptest.Server, *blockingRunner) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := &blockingRunner{release: make(chan struct{})}
	srv := New(Deps{
		Runner:   runner,
		Cooldown: cooldown,
		Backfill: stubBackfiller{},
		Jobs:     service.NewJobManager(1, stubBackfiller{}, logger),
		Metrics:  metrics.NewCollector(),
		Logger:   logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		close(runner.release)
		srv.Wait()
		ts.Close()
	})
	return ts, runner
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, ratelimit.NewMemoryCooldown(time.Minute))
	resp := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTriggerCooldown(t *testing.T) {
	ts, runner := newTestServer(t, ratelimit.NewMemoryCooldown(time.Hour))

	resp := post(t, ts.URL+"/trigger")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = post(t, ts.URL+"/trigger")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	assert.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTriggerWhileRunning(t *testing.T) {
	ts, runner := newTestServer(t, ratelimit.NewMemoryCooldown(time.Nanosecond))

	resp := post(t, ts.URL+"/trigger")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)

	resp = post(t, ts.URL+"/trigger")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "running", body["status"])
}

func TestBackfillEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, ratelimit.NewMemoryCooldown(time.Minute))

	tests := []struct {
		name   string
		method string
		query  string
		want   int
	}{
		{"status", http.MethodGet, "?date=2026-03-09&type=3x", http.StatusOK},
		{"status bad type", http.MethodGet, "?date=2026-03-09&type=zz", http.StatusBadRequest},
		{"status bad date", http.MethodGet, "?date=03/09/2026&type=e", http.StatusBadRequest},
		{"start", http.MethodPost, "?date=2026-03-01&to=2026-03-03&type=e", http.StatusAccepted},
		{"start inverted range", http.MethodPost, "?date=2026-03-03&to=2026-03-01&type=e", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.method == http.MethodPost {
				resp = post(t, ts.URL+"/backfill"+tt.query)
			} else {
				resp = get(t, ts.URL+"/backfill"+tt.query)
			}
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, ratelimit.NewMemoryCooldown(time.Minute))

	resp := post(t, ts.URL+"/backfill?date=2026-03-01&to=2026-03-02&type=3x")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started service.JobSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.ID)

	assert.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/jobs/" + started.ID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var snap service.JobSnapshot
		if json.NewDecoder(r.Body).Decode(&snap) != nil {
			return false
		}
		return snap.Status == service.JobStatusCompleted && snap.FilingsFound == 2
	}, 5*time.Second, 20*time.Millisecond)

	resp = get(t, ts.URL+"/jobs/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, ts.URL+"/jobs")
	var jobs []service.JobSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	assert.Len(t, jobs, 1)
}

func TestStats(t *testing.T) {
	ts, _ := newTestServer(t, ratelimit.NewMemoryCooldown(time.Minute))
	resp := get(t, ts.URL+"/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "ab", truncate("abcdefgh", 2))
}
