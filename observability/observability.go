// Package observability provides SQLite-native monitoring for radar:
// buffered timeseries metrics and business event logging.
//
// Both components write to a shared observability database (separate from
// the application databases to avoid write contention). Call Init() on the
// shared *sql.DB first, then pass it to the individual constructors.
//
// All persistence is async and non-blocking: buffer overflow drops
// datapoints rather than applying backpressure to the engine.
package observability

import "database/sql"

const schema = `
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT NOT NULL DEFAULT '{}',
    unit        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics_timeseries(metric_name, timestamp);

CREATE TABLE IF NOT EXISTS business_event_logs (
    event_id     TEXT PRIMARY KEY,
    event_type   TEXT NOT NULL,
    service_name TEXT NOT NULL DEFAULT '',
    entity_type  TEXT NOT NULL DEFAULT '',
    entity_id    TEXT NOT NULL DEFAULT '',
    shop_id      TEXT NOT NULL DEFAULT '',
    action       TEXT NOT NULL DEFAULT '',
    details      TEXT NOT NULL DEFAULT '',
    success      INTEGER NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON business_event_logs(event_type, created_at);
`

// Init applies the observability schema to the shared database.
func Init(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
