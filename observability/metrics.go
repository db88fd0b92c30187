package observability

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string // e.g. "provider_fetch_ms", "cache_hit"
	Timestamp time.Time
	Value     float64
	Labels    map[string]string // optional key/value pairs
	Unit      string            // "milliseconds", "count", "usd"
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	buffer        []*Metric
	mu            sync.Mutex
	stop          chan struct{}
	done          chan struct{}
}

// NewMetricsManager creates a manager that flushes metrics in batches.
// Recommended defaults: bufferSize=100, flushInterval=5s.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	mm := &MetricsManager{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues a metric for async persistence. Non-blocking.
func (mm *MetricsManager) Record(m *Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// RecordSimple is a convenience helper for metrics without labels.
func (mm *MetricsManager) RecordSimple(name string, value float64, unit string) {
	mm.Record(&Metric{Name: name, Value: value, Unit: unit})
}

// Query retrieves metrics filtered by name, time range and limit, newest
// first. Pass empty metricName for all metrics; nil time pointers mean
// unbounded.
func (mm *MetricsManager) Query(metricName string, startTime, endTime *time.Time, limit int) ([]*Metric, error) {
	q := sq.Select("metric_name", "timestamp", "value", "labels", "unit").
		From("metrics_timeseries").
		OrderBy("timestamp DESC")

	if metricName != "" {
		q = q.Where(sq.Eq{"metric_name": metricName})
	}
	if startTime != nil {
		q = q.Where(sq.GtOrEq{"timestamp": startTime.Unix()})
	}
	if endTime != nil {
		q = q.Where(sq.LtOrEq{"timestamp": endTime.Unix()})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := mm.db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labels string
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(ts, 0)
		if labels != "" && labels != "{}" {
			json.Unmarshal([]byte(labels), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Close flushes remaining metrics and stops the flush loop.
func (mm *MetricsManager) Close() {
	close(mm.stop)
	<-mm.done
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	tick := time.NewTicker(mm.flushInterval)
	defer tick.Stop()
	for {
		select {
		case <-mm.stop:
			mm.mu.Lock()
			mm.flushLocked()
			mm.mu.Unlock()
			return
		case <-tick.C:
			mm.mu.Lock()
			mm.flushLocked()
			mm.mu.Unlock()
		}
	}
}

// flushLocked writes the buffer in one transaction. Must be called with
// mu held. Errors are logged and the batch dropped.
func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}
	batch := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.bufferSize)

	tx, err := mm.db.Begin()
	if err != nil {
		slog.Error("observability: metrics flush begin", "error", err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("observability: metrics flush prepare", "error", err)
		return
	}
	for _, m := range batch {
		labels := "{}"
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = string(b)
			}
		}
		if _, err := stmt.Exec(m.Name, m.Timestamp.Unix(), m.Value, labels, m.Unit); err != nil {
			slog.Warn("observability: metric insert failed", "name", m.Name, "error", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		slog.Error("observability: metrics flush commit", "error", err)
	}
}
