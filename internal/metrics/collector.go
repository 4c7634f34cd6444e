// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names for timed pipeline stages.
const (
	OpFeedFetch  = "feed_fetch"
	OpSizeProbe  = "size_probe"
	OpDownload   = "download"
	OpParse      = "parse"
	OpAPIPage    = "api_page"
	OpStoreWrite = "store_write"
)

// Counter names for per-filing outcomes.
const (
	CountIngested  = "filings_ingested"
	CountFailed    = "filings_failed"
	CountSkipped   = "filings_skipped"
	CountNewEvents = "events_inserted"
	CountRuns      = "runs"
)

// OperationMetrics holds aggregated timings for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot is the full set of statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                      `json:"uptime_seconds"`
	Operations    map[string]OperationSnapshot `json:"operations"`
	Counters      map[string]int64             `json:"counters"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe, and a nil *Collector discards everything.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		counters:  make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation. A non-nil err counts as a failure.
func (c *Collector) RecordTiming(op string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if err != nil {
		m.Errors++
	}
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Time starts a timer for op; call the returned func with the outcome.
//
//	done := c.Time(metrics.OpDownload)
//	body, err := fetch()
//	done(err)
func (c *Collector) Time(op string) func(error) {
	start := time.Now()
	return func(err error) {
		c.RecordTiming(op, time.Since(start), err)
	}
}

// Add increments a named counter by n.
func (c *Collector) Add(name string, n int64) {
	if c == nil || n == 0 {
		return
	}
	c.mu.Lock()
	c.counters[name] += n
	c.mu.Unlock()
}

func snapshotOp(m *OperationMetrics) OperationSnapshot {
	return OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    make(map[string]OperationSnapshot, len(c.ops)),
		Counters:      make(map[string]int64, len(c.counters)),
	}
	for op, m := range c.ops {
		if m.Count > 0 {
			snap.Operations[op] = snapshotOp(m)
		}
	}
	for name, v := range c.counters {
		snap.Counters[name] = v
	}
	return snap
}
