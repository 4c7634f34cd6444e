package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/models"
	"github.com/raphaelgruber/sludgewire/internal/notify"
)

// AlertBatchLimit bounds how many records one alert carries.
const AlertBatchLimit = 50

// AlertStore is what alerting needs from the store.
type AlertStore interface {
	RecordStore
	ConfigStore
	MarkTasksEmailed(ctx context.Context, filingIDs []int64, source string) (int, error)
}

// AlertResult reports what one alert round handed to the notifier.
type AlertResult struct {
	Enabled  bool `json:"enabled"`
	Filings  int  `json:"filings"`
	Events   int  `json:"events"`
	Notified bool `json:"notified"`
}

// AlertService hands today's un-alerted records to a Notifier.
type AlertService struct {
	store     AlertStore
	notifier  notify.Notifier
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// NewAlertService creates an alert service.
func NewAlertService(store AlertStore, notifier notify.Notifier, threshold float64, logger *slog.Logger) *AlertService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertService{store: store, notifier: notifier, threshold: threshold, logger: logger, now: time.Now}
}

// SetClock replaces the clock that defines "today".
func (s *AlertService) SetClock(now func() time.Time) {
	s.now = now
}

// Enabled reads email_enabled. Unset means enabled.
func (s *AlertService) Enabled(ctx context.Context) (bool, error) {
	v, ok, err := s.store.GetConfig(ctx, models.ConfigEmailEnabled)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", models.ConfigEmailEnabled, err)
	}
	if !ok {
		return true, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true, nil
	}
	return false, nil
}

// Send notifies about summaries at or above the threshold and events filed
// today that were not alerted yet, then marks them alerted. A notifier
// failure is logged and the records stay un-alerted.
func (s *AlertService) Send(ctx context.Context) (AlertResult, error) {
	var res AlertResult
	enabled, err := s.Enabled(ctx)
	if err != nil {
		return res, err
	}
	if !enabled {
		s.logger.Info("alerts disabled")
		return res, nil
	}
	res.Enabled = true

	since := models.Day(s.now())
	filings, err := s.store.ListUnemailedFilings(ctx, since, s.threshold, AlertBatchLimit)
	if err != nil {
		return res, fmt.Errorf("list unalerted filings: %w", err)
	}
	events, err := s.store.ListUnemailedEvents(ctx, since, AlertBatchLimit)
	if err != nil {
		return res, fmt.Errorf("list unalerted events: %w", err)
	}
	res.Filings = len(filings)
	res.Events = len(events)

	if len(filings) > 0 {
		if s.deliver(ctx, notify.Alert{Kind: models.FilingType3X, Filings: filings}) {
			res.Notified = true
			ids := make([]int64, len(filings))
			for i, f := range filings {
				ids[i] = f.FilingID
			}
			if _, err := s.store.MarkFilingsEmailed(ctx, ids); err != nil {
				return res, fmt.Errorf("mark filings alerted: %w", err)
			}
			if _, err := s.store.MarkTasksEmailed(ctx, ids, SummarySource); err != nil {
				return res, fmt.Errorf("mark tasks alerted: %w", err)
			}
		}
	}

	if len(events) > 0 {
		if s.deliver(ctx, notify.Alert{Kind: models.FilingTypeE, Events: events}) {
			res.Notified = true
			ids := make([]string, len(events))
			for i, e := range events {
				ids[i] = e.EventID
			}
			if _, err := s.store.MarkEventsEmailed(ctx, ids); err != nil {
				return res, fmt.Errorf("mark events alerted: %w", err)
			}
		}
	}

	return res, nil
}

func (s *AlertService) deliver(ctx context.Context, a notify.Alert) bool {
	if err := s.notifier.Notify(ctx, a); err != nil {
		s.logger.Warn("notify failed", "kind", a.Kind, "records", a.Len(), "error", err)
		return false
	}
	return true
}
