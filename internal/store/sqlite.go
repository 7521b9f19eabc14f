package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/machinecensus/machinecensus/internal/errors"
	"github.com/machinecensus/machinecensus/internal/histogram"
)

// SQLiteStore implements Store on a SQLite database. Save runs in a single
// transaction, so the whole state is published atomically.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens or creates the aggregate store database at dbPath.
// An existing database with an unknown schema version or that cannot be
// read as SQLite is a fatal STORE error.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewIOError(errors.CodeStoreUnreachable,
			fmt.Sprintf("cannot open database %s", dbPath), err)
	}
	// Single writer; ingestion is a batch job with no concurrent mutation.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates missing tables and verifies the format version.
func (s *SQLiteStore) initSchema() error {
	for _, stmt := range allSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			// Covers both IO failures and files that are not SQLite at all.
			return errors.NewStoreError(errors.CodeCorruptState,
				fmt.Sprintf("cannot initialize schema in %s", s.dbPath), err)
		}
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		// Fresh store: seed the version and the zero watermark.
		if _, err := s.db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			return errors.NewStoreError(errors.CodeSaveFailed, "cannot seed schema version", err)
		}
		if _, err := s.db.Exec(`INSERT INTO watermark (ts) VALUES (0.0)`); err != nil {
			return errors.NewStoreError(errors.CodeSaveFailed, "cannot seed watermark", err)
		}
	case err != nil:
		return errors.NewStoreError(errors.CodeCorruptState, "cannot read schema version", err)
	case version != schemaVersion:
		return errors.NewStoreError(errors.CodeVersionMismatch,
			fmt.Sprintf("store format version %d, supported %d", version, schemaVersion), nil)
	}

	return nil
}

// Load reads the full aggregate state.
func (s *SQLiteStore) Load(ctx context.Context) (*State, error) {
	st := NewState()

	var wm float64
	if err := s.db.QueryRowContext(ctx, `SELECT ts FROM watermark LIMIT 1`).Scan(&wm); err != nil {
		return nil, errors.NewStoreError(errors.CodeCorruptState, "missing watermark row", err)
	}
	st.Watermark = watermarkFromSeconds(wm)

	if err := s.loadCounters(ctx, st); err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, st); err != nil {
		return nil, err
	}
	if err := s.loadRuns(ctx, st); err != nil {
		return nil, err
	}

	return st, nil
}

func (s *SQLiteStore) loadCounters(ctx context.Context, st *State) error {
	rows, err := s.db.QueryContext(ctx, `SELECT channel, buckets FROM counters`)
	if err != nil {
		return errors.NewStoreError(errors.CodeCorruptState, "cannot read counters", err)
	}
	defer rows.Close()

	for rows.Next() {
		var channel, raw string
		if err := rows.Scan(&channel, &raw); err != nil {
			return errors.NewStoreError(errors.CodeCorruptState, "cannot scan counters row", err)
		}
		buckets, err := decodeBuckets(raw)
		if err != nil {
			return errors.NewStoreError(errors.CodeCorruptState,
				fmt.Sprintf("invalid histogram for channel %q", channel), err)
		}
		st.Histograms[channel] = histogram.FromBuckets(buckets)
	}
	if err := rows.Err(); err != nil {
		return errors.NewStoreError(errors.CodeCorruptState, "cannot iterate counters", err)
	}
	return nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context, st *State) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, date, updates_seen, distinct_estimate FROM history`)
	if err != nil {
		return errors.NewStoreError(errors.CodeCorruptState, "cannot read history", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key HistoryKey
		var entry HistoryEntry
		if err := rows.Scan(&key.Channel, &key.Date, &entry.UpdatesSeen, &entry.DistinctEstimate); err != nil {
			return errors.NewStoreError(errors.CodeCorruptState, "cannot scan history row", err)
		}
		st.History[key] = entry
	}
	return rows.Err()
}

func (s *SQLiteStore) loadRuns(ctx context.Context, st *State) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, lines_read, updates_applied, parse_failures, watermark
		FROM ingest_runs ORDER BY started_at`)
	if err != nil {
		return errors.NewStoreError(errors.CodeCorruptState, "cannot read ingest runs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var run RunRecord
		var started, finished, wm float64
		if err := rows.Scan(&run.RunID, &started, &finished,
			&run.LinesRead, &run.UpdatesApplied, &run.ParseFailures, &wm); err != nil {
			return errors.NewStoreError(errors.CodeCorruptState, "cannot scan ingest run row", err)
		}
		run.StartedAt = watermarkFromSeconds(started)
		run.FinishedAt = watermarkFromSeconds(finished)
		run.Watermark = watermarkFromSeconds(wm)
		st.Runs = append(st.Runs, run)
	}
	return rows.Err()
}

// Save persists the full state in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, st *State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watermark`); err != nil {
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot clear watermark", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO watermark (ts) VALUES (?)`,
		watermarkToSeconds(st.Watermark)); err != nil {
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot write watermark", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM counters`); err != nil {
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot clear counters", err)
	}
	for channel, h := range st.Histograms {
		raw, err := json.Marshal(h.Buckets())
		if err != nil {
			return errors.NewInternalError("cannot encode histogram", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO counters (channel, buckets) VALUES (?, ?)`, channel, string(raw)); err != nil {
			return errors.NewStoreError(errors.CodeSaveFailed,
				fmt.Sprintf("cannot write counters for channel %q", channel), err)
		}
	}

	for key, entry := range st.History {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO history (channel, date, updates_seen, distinct_estimate)
			VALUES (?, ?, ?, ?)`,
			key.Channel, key.Date, entry.UpdatesSeen, entry.DistinctEstimate); err != nil {
			return errors.NewStoreError(errors.CodeSaveFailed, "cannot write history row", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ingest_runs`); err != nil {
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot clear ingest runs", err)
	}
	for _, run := range st.Runs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ingest_runs
			(run_id, started_at, finished_at, lines_read, updates_applied, parse_failures, watermark)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID,
			watermarkToSeconds(run.StartedAt), watermarkToSeconds(run.FinishedAt),
			run.LinesRead, run.UpdatesApplied, run.ParseFailures,
			watermarkToSeconds(run.Watermark)); err != nil {
			return errors.NewStoreError(errors.CodeSaveFailed, "cannot write ingest run row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot commit", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// decodeBuckets parses a serialized histogram: a strict JSON integer array
// with no negative entries.
func decodeBuckets(raw string) ([]int64, error) {
	var buckets []int64
	if err := json.Unmarshal([]byte(raw), &buckets); err != nil {
		return nil, err
	}
	for i, n := range buckets {
		if n < 0 {
			return nil, fmt.Errorf("negative bucket %d at generation %d", n, i)
		}
	}
	return buckets, nil
}
