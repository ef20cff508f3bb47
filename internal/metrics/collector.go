// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Payload bytes (only for attachment operations)
	TotalBytes int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Name        string
	Count       int64
	Errors      int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Byte stats (nil if not applicable)
	TotalBytes *int64
}

// Snapshot represents the run statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	// Operations are sorted by name.
	Operations []OperationSnapshot
}

// Operation names for the collector. Instrumented stores prefix them with
// their role, e.g. "source.list".
const (
	OpAuth     = "auth"
	OpList     = "list"
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpDownload = "download"
	OpUpload   = "upload"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
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

// record updates timing under the write lock.
func (m *OperationMetrics) record(duration time.Duration) {
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).record(duration)
}

// RecordCall records timing, payload size and outcome of one store call.
func (c *Collector) RecordCall(op string, duration time.Duration, bytes int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.record(duration)
	m.TotalBytes += bytes
	if err != nil {
		m.Errors++
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(name string, m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Name:        name,
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if m.TotalBytes > 0 {
		total := m.TotalBytes
		snap.TotalBytes = &total
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.ops))
	for name := range c.ops {
		names = append(names, name)
	}
	sort.Strings(names)

	snap := Snapshot{UptimeSeconds: time.Since(c.startTime).Seconds()}
	for _, name := range names {
		if op := snapshotOp(name, c.ops[name]); op != nil {
			snap.Operations = append(snap.Operations, *op)
		}
	}
	return snap
}

// Operation returns the snapshot of one operation, or nil if it never ran.
func (c *Collector) Operation(name string) *OperationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return snapshotOp(name, c.ops[name])
}
