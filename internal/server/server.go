// Package server exposes the pipeline over HTTP: a cooldown-gated trigger,
// backfill control and runtime statistics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/metrics"
	"github.com/raphaelgruber/sludgewire/internal/models"
	"github.com/raphaelgruber/sludgewire/internal/ratelimit"
	"github.com/raphaelgruber/sludgewire/internal/service"
)

// TriggerKey is the cooldown key shared by every trigger caller.
const TriggerKey = "sludgewire:trigger"

// Runner runs one catch-up pass.
type Runner interface {
	RunUntilCaughtUp(ctx context.Context) service.CatchUpResult
}

// BackfillStatus reads single-day backfill state.
type BackfillStatus interface {
	Status(ctx context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error)
}

// JobRunner starts and tracks background date-range backfills.
type JobRunner interface {
	Start(ctx context.Context, from, to time.Time, ft models.FilingType) (*service.Job, error)
	GetJob(id string) *service.Job
	ListJobs() []service.JobSnapshot
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Runner   Runner
	Cooldown ratelimit.Cooldown
	Backfill BackfillStatus
	Jobs     JobRunner
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	running atomic.Bool
	passes  sync.WaitGroup

	// baseCtx outlives requests so triggered passes survive the handler.
	baseCtx context.Context
	stop    context.CancelFunc
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{deps: deps, logger: deps.Logger, baseCtx: ctx, stop: cancel}
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /trigger", s.handleTrigger)
	mux.HandleFunc("POST /backfill", s.handleStartBackfill)
	mux.HandleFunc("GET /backfill", s.handleBackfillStatus)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /stats", s.handleStats)
	return LoggingMiddleware(s.logger)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and waits for triggered passes to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait cancels in-flight passes and blocks until they return.
func (s *Server) Wait() {
	s.stop()
	s.passes.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.running.Load() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "running"})
		return
	}
	ok, err := s.deps.Cooldown.Allow(r.Context(), TriggerKey)
	if err != nil {
		s.logger.Error("cooldown check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cooldown unavailable")
		return
	}
	if !ok {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "cooldown"})
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "running"})
		return
	}

	s.passes.Add(1)
	go func() {
		defer s.passes.Done()
		defer s.running.Store(false)
		res := s.deps.Runner.RunUntilCaughtUp(s.baseCtx)
		s.logger.Info("triggered pass finished",
			"iterations", res.Iterations,
			"summary_new", res.SummaryNew,
			"event_filings_new", res.EventFilingsNew,
			"events_new", res.EventsNew,
			"elapsed", res.Elapsed)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStartBackfill(w http.ResponseWriter, r *http.Request) {
	from, ft, ok := parseDayAndType(w, r)
	if !ok {
		return
	}
	to := from
	if v := r.URL.Query().Get("to"); v != "" {
		d, err := models.ParseDay(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		to = d
	}

	job, err := s.deps.Jobs.Start(s.baseCtx, from, to, ft)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	date, ft, ok := parseDayAndType(w, r)
	if !ok {
		return
	}
	job, err := s.deps.Backfill.Status(r.Context(), date, ft)
	if err != nil {
		s.logger.Error("backfill status failed", "date", date.Format(time.DateOnly), "type", ft, "error", err)
		writeError(w, http.StatusInternalServerError, "backfill status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.ListJobs())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.deps.Jobs.GetJob(r.PathValue("id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Metrics.Snapshot())
}

// parseDayAndType reads the date and type query parameters, writing a 400
// when either is missing or invalid.
func parseDayAndType(w http.ResponseWriter, r *http.Request) (time.Time, models.FilingType, bool) {
	q := r.URL.Query()
	date, err := models.ParseDay(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, "", false
	}
	ft, err := models.ParseFilingType(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, "", false
	}
	return date, ft, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
