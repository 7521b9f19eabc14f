package store

// SQL schema for the SQLite realization of the aggregate store. The layout
// follows the on-disk contract: a format version, a single watermark row,
// one serialized histogram per channel, one history row per (channel, date),
// and the ingest-run audit trail.

const createSchemaInfoSQL = `
CREATE TABLE IF NOT EXISTS schema_info (
    version INTEGER NOT NULL
)`

const createWatermarkSQL = `
CREATE TABLE IF NOT EXISTS watermark (
    ts REAL NOT NULL
)`

// counters holds one row per channel. buckets is a strict JSON integer
// array; it is decoded, never evaluated.
const createCountersSQL = `
CREATE TABLE IF NOT EXISTS counters (
    channel TEXT PRIMARY KEY,
    buckets TEXT NOT NULL
)`

const createHistorySQL = `
CREATE TABLE IF NOT EXISTS history (
    channel TEXT NOT NULL,
    date TEXT NOT NULL,
    updates_seen INTEGER NOT NULL,
    distinct_estimate INTEGER NOT NULL,
    PRIMARY KEY (channel, date)
)`

const createIngestRunsSQL = `
CREATE TABLE IF NOT EXISTS ingest_runs (
    run_id TEXT PRIMARY KEY,
    started_at REAL NOT NULL,
    finished_at REAL NOT NULL,
    lines_read INTEGER NOT NULL,
    updates_applied INTEGER NOT NULL,
    parse_failures INTEGER NOT NULL,
    watermark REAL NOT NULL
)`

// allSchemaSQL returns all schema statements in creation order.
func allSchemaSQL() []string {
	return []string{
		createSchemaInfoSQL,
		createWatermarkSQL,
		createCountersSQL,
		createHistorySQL,
		createIngestRunsSQL,
	}
}
