// Package memstore is a process-local implementation of the pipeline store,
// used by tests and by single-process runs with STORE_BACKEND=memory.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

type taskKey struct {
	filingID int64
	source   string
}

type jobKey struct {
	date time.Time
	ft   models.FilingType
}

// Store keeps every table in maps behind one mutex.
type Store struct {
	// Now is the clock used for timestamps.
	Now func() time.Time

	mu         sync.Mutex
	tasks      map[taskKey]*models.IngestionTask
	filings    map[int64]*models.FilingSummary
	events     map[string]*models.ItemizedEvent
	eventOrder []string
	jobs       map[jobKey]*models.BackfillJob
	committees map[string]*models.Committee
	config     map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		Now:        func() time.Time { return time.Now().UTC() },
		tasks:      make(map[taskKey]*models.IngestionTask),
		filings:    make(map[int64]*models.FilingSummary),
		events:     make(map[string]*models.ItemizedEvent),
		jobs:       make(map[jobKey]*models.BackfillJob),
		committees: make(map[string]*models.Committee),
		config:     make(map[string]string),
	}
}

// ClaimFiling inserts a claimed task unless one exists for the key.
func (s *Store) ClaimFiling(_ context.Context, filingID int64, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := taskKey{filingID, source}
	if _, ok := s.tasks[k]; ok {
		return false, nil
	}
	now := s.Now()
	s.tasks[k] = &models.IngestionTask{
		FilingID:  filingID,
		Source:    source,
		Status:    models.TaskClaimed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

// UpdateTaskStatus sets status; failure fields are written only on failed.
func (s *Store) UpdateTaskStatus(_ context.Context, filingID int64, source string, status models.TaskStatus, upd models.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskKey{filingID, source}]
	if !ok {
		return nil
	}
	t.Status = status
	if status == models.TaskFailed {
		t.FailedStep = cloneString(upd.FailedStep)
		t.ErrorMessage = truncated(upd.ErrorMessage)
	}
	t.UpdatedAt = s.Now()
	return nil
}

// RecordSkipped marks a claimed task skipped with its reason and size.
func (s *Store) RecordSkipped(_ context.Context, filingID int64, source, reason string, sizeMB *float64, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskKey{filingID, source}]
	if !ok {
		return nil
	}
	t.Status = models.TaskSkipped
	t.SkipReason = &reason
	if sizeMB != nil {
		v := *sizeMB
		t.FileSizeMB = &v
	}
	if url != "" {
		t.SourceURL = &url
	}
	t.UpdatedAt = s.Now()
	return nil
}

// ResetFailedTasks returns matching failed tasks to claimed and stamps ResetAt.
func (s *Store) ResetFailedTasks(_ context.Context, f models.ResetFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.Now()
	for _, t := range s.tasks {
		if t.Status != models.TaskFailed {
			continue
		}
		if f.Source != nil && t.Source != *f.Source {
			continue
		}
		if len(f.FilingIDs) > 0 && !slices.Contains(f.FilingIDs, t.FilingID) {
			continue
		}
		t.Status = models.TaskClaimed
		t.FailedStep = nil
		t.ErrorMessage = nil
		t.ResetAt = &now
		t.UpdatedAt = now
		n++
	}
	return n, nil
}

// TakeResetTask moves a reset claimed task to downloading and clears ResetAt.
func (s *Store) TakeResetTask(_ context.Context, filingID int64, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskKey{filingID, source}]
	if !ok || t.Status != models.TaskClaimed || t.ResetAt == nil {
		return false, nil
	}
	t.Status = models.TaskDownloading
	t.ResetAt = nil
	t.UpdatedAt = s.Now()
	return true, nil
}

// ListTasks returns matching tasks, most recently updated first.
func (s *Store) ListTasks(_ context.Context, f models.TaskFilter) ([]models.IngestionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.IngestionTask{}
	for _, t := range s.tasks {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Source != nil && t.Source != *f.Source {
			continue
		}
		if f.ResetOnly && t.ResetAt == nil {
			continue
		}
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b models.IngestionTask) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.FilingID, b.FilingID); c != 0 {
			return c
		}
		return cmp.Compare(a.Source, b.Source)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// GetTask returns a copy of the task, or nil.
func (s *Store) GetTask(_ context.Context, filingID int64, source string) (*models.IngestionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskKey{filingID, source}]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

// MarkTasksEmailed stamps emailed_at on tasks that have none.
func (s *Store) MarkTasksEmailed(_ context.Context, filingIDs []int64, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.Now()
	for _, id := range filingIDs {
		t, ok := s.tasks[taskKey{id, source}]
		if !ok || t.EmailedAt != nil {
			continue
		}
		t.EmailedAt = &now
		n++
	}
	return n, nil
}

// UpsertFiling inserts or overwrites the mutable fields of a filing.
func (s *Store) UpsertFiling(_ context.Context, f models.FilingSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	existing, ok := s.filings[f.FilingID]
	if !ok {
		f.FirstSeenAt = now
		f.UpdatedAt = now
		f.EmailedAt = nil
		s.filings[f.FilingID] = &f
		return nil
	}
	f.FirstSeenAt = existing.FirstSeenAt
	f.EmailedAt = existing.EmailedAt
	if f.RawMeta == nil {
		f.RawMeta = existing.RawMeta
	}
	f.UpdatedAt = now
	s.filings[f.FilingID] = &f
	return nil
}

// GetFiling returns a copy of the filing, or nil.
func (s *Store) GetFiling(_ context.Context, filingID int64) (*models.FilingSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.filings[filingID]
	if !ok {
		return nil, nil
	}
	c := *f
	return &c, nil
}

// InsertEvent stores e unless its event id exists.
func (s *Store) InsertEvent(_ context.Context, e models.ItemizedEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.EventID]; ok {
		return false, nil
	}
	e.FirstSeenAt = s.Now()
	e.EmailedAt = nil
	s.events[e.EventID] = &e
	s.eventOrder = append(s.eventOrder, e.EventID)
	return true, nil
}

// ListEvents returns a filing's events in insertion order.
func (s *Store) ListEvents(_ context.Context, filingID int64) ([]models.ItemizedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.ItemizedEvent{}
	for _, id := range s.eventOrder {
		if e := s.events[id]; e.FilingID == filingID {
			out = append(out, *e)
		}
	}
	return out, nil
}

// ListUnemailedFilings returns filings filed since since with a total of at
// least minTotal and no emailed_at, newest filed first.
func (s *Store) ListUnemailedFilings(_ context.Context, since time.Time, minTotal float64, limit int) ([]models.FilingSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.FilingSummary{}
	for _, f := range s.filings {
		if f.EmailedAt != nil || f.FiledAt == nil || f.FiledAt.Before(since) {
			continue
		}
		if f.TotalReceipts == nil || *f.TotalReceipts < minTotal {
			continue
		}
		out = append(out, *f)
	}
	slices.SortFunc(out, func(a, b models.FilingSummary) int {
		return b.FiledAt.Compare(*a.FiledAt)
	})
	return capLen(out, limit), nil
}

// ListUnemailedEvents returns events filed since since with no emailed_at.
func (s *Store) ListUnemailedEvents(_ context.Context, since time.Time, limit int) ([]models.ItemizedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.ItemizedEvent{}
	for _, id := range s.eventOrder {
		e := s.events[id]
		if e.EmailedAt != nil || e.FiledAt == nil || e.FiledAt.Before(since) {
			continue
		}
		out = append(out, *e)
	}
	slices.SortStableFunc(out, func(a, b models.ItemizedEvent) int {
		return b.FiledAt.Compare(*a.FiledAt)
	})
	return capLen(out, limit), nil
}

// MarkFilingsEmailed stamps emailed_at on filings that have none.
func (s *Store) MarkFilingsEmailed(_ context.Context, filingIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.Now()
	for _, id := range filingIDs {
		if f, ok := s.filings[id]; ok && f.EmailedAt == nil {
			f.EmailedAt = &now
			n++
		}
	}
	return n, nil
}

// MarkEventsEmailed stamps emailed_at on events that have none.
func (s *Store) MarkEventsEmailed(_ context.Context, eventIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.Now()
	for _, id := range eventIDs {
		if e, ok := s.events[id]; ok && e.EmailedAt == nil {
			e.EmailedAt = &now
			n++
		}
	}
	return n, nil
}

// GetOrCreateBackfillJob returns the job for (date, ft), creating it pending.
func (s *Store) GetOrCreateBackfillJob(_ context.Context, date time.Time, ft models.FilingType) (*models.BackfillJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := jobKey{models.Day(date), ft}
	j, ok := s.jobs[k]
	if !ok {
		j = &models.BackfillJob{
			TargetDate: k.date,
			FilingType: ft,
			Status:     models.BackfillPending,
			CreatedAt:  s.Now(),
		}
		s.jobs[k] = j
	}
	c := *j
	return &c, nil
}

// ResetStaleBackfillJob moves a running job started before cutoff to pending.
func (s *Store) ResetStaleBackfillJob(_ context.Context, date time.Time, ft models.FilingType, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobKey{models.Day(date), ft}]
	if !ok || !j.IsStale(cutoff) {
		return false, nil
	}
	j.Status = models.BackfillPending
	j.StartedAt = nil
	return true, nil
}

// StartBackfillJob moves a pending or failed job to running.
func (s *Store) StartBackfillJob(_ context.Context, date time.Time, ft models.FilingType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobKey{models.Day(date), ft}]
	if !ok || (j.Status != models.BackfillPending && j.Status != models.BackfillFailed) {
		return false, nil
	}
	now := s.Now()
	j.Status = models.BackfillRunning
	j.StartedAt = &now
	j.CompletedAt = nil
	j.ErrorMessage = nil
	return true, nil
}

// ReopenBackfillJob moves a completed job back to pending.
func (s *Store) ReopenBackfillJob(_ context.Context, date time.Time, ft models.FilingType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobKey{models.Day(date), ft}]
	if !ok || j.Status != models.BackfillCompleted {
		return false, nil
	}
	j.Status = models.BackfillPending
	return true, nil
}

// CompleteBackfillJob records success.
func (s *Store) CompleteBackfillJob(_ context.Context, date time.Time, ft models.FilingType, found int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobKey{models.Day(date), ft}]
	if !ok {
		return nil
	}
	now := s.Now()
	j.Status = models.BackfillCompleted
	j.CompletedAt = &now
	j.FilingsFound = found
	j.ErrorMessage = nil
	return nil
}

// FailBackfillJob records failure with a bounded message.
func (s *Store) FailBackfillJob(_ context.Context, date time.Time, ft models.FilingType, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobKey{models.Day(date), ft}]
	if !ok {
		return nil
	}
	msg = models.TruncateError(msg)
	j.Status = models.BackfillFailed
	j.ErrorMessage = &msg
	return nil
}

// GetCommittee returns a copy of the committee, or nil.
func (s *Store) GetCommittee(_ context.Context, committeeID string) (*models.Committee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.committees[committeeID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// CreateProvisionalCommittee inserts a provisional name unless one exists.
func (s *Store) CreateProvisionalCommittee(_ context.Context, committeeID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.committees[committeeID]; ok {
		return false, nil
	}
	s.committees[committeeID] = &models.Committee{
		CommitteeID: committeeID,
		Name:        name,
		Provisional: true,
		UpdatedAt:   s.Now(),
	}
	return true, nil
}

// GetConfig returns a config value and whether it is set.
func (s *Store) GetConfig(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.config[key]
	return v, ok, nil
}

// SetConfig stores a config value.
func (s *Store) SetConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config[key] = value
	return nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func truncated(p *string) *string {
	if p == nil {
		return nil
	}
	v := models.TruncateError(*p)
	return &v
}

func capLen[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
