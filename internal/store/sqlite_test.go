package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/machinecensus/machinecensus/internal/errors"
)

func TestSQLite_FreshStoreIsEmpty(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "census.db"))
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Watermark.Equal(time.Unix(0, 0)))
	assert.Empty(t, st.Histograms)
	assert.Empty(t, st.History)
	assert.Empty(t, st.Runs)
}

func TestSQLite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	want := sampleState(t)
	require.NoError(t, s.Save(context.Background(), want))
	require.NoError(t, s.Close())

	// Reopen to prove the state survived the process boundary.
	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load(context.Background())
	require.NoError(t, err)
	assertStatesEqual(t, want, got)
}

func TestSQLite_SaveReplacesPreviousState(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "census.db"))
	require.NoError(t, err)
	defer s.Close()

	first := NewState()
	first.Histogram("stable").Observe(0)
	first.Watermark = time.Unix(100, 0)
	require.NoError(t, s.Save(context.Background(), first))

	second := NewState()
	second.Histogram("stable").Observe(0)
	second.Histogram("stable").Observe(1)
	second.Watermark = time.Unix(200, 0)
	require.NoError(t, s.Save(context.Background(), second))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assertStatesEqual(t, second, got)
}

func TestSQLite_HistoryOverwritePerDay(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "census.db"))
	require.NoError(t, err)
	defer s.Close()

	key := HistoryKey{Channel: "stable", Date: "2010-08-11"}

	st := NewState()
	st.History[key] = HistoryEntry{UpdatesSeen: 1, DistinctEstimate: 1}
	require.NoError(t, s.Save(context.Background(), st))

	st.History[key] = HistoryEntry{UpdatesSeen: 5, DistinctEstimate: 3}
	require.NoError(t, s.Save(context.Background(), st))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got.History, 1)
	assert.Equal(t, HistoryEntry{UpdatesSeen: 5, DistinctEstimate: 3}, got.History[key])
}

func TestSQLite_CorruptHistogramIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	// Plant a histogram that is not a strict integer array.
	_, err = s.db.Exec(`INSERT INTO counters (channel, buckets) VALUES ('stable', '[1, "two", 3]')`)
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeCorruptState, cerrors.GetCode(err))
	s.Close()
}

func TestSQLite_NegativeBucketIsFatal(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "census.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.Exec(`INSERT INTO counters (channel, buckets) VALUES ('stable', '[1, -2]')`)
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeCorruptState, cerrors.GetCode(err))
}

func TestSQLite_VersionMismatchIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE schema_info SET version = 99`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenSQLite(path)
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeVersionMismatch, cerrors.GetCode(err))
}

func TestSQLite_NonDatabaseFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a sqlite database, padded to be long enough to fool nobody"), 0644))

	_, err := OpenSQLite(path)
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeCorruptState, cerrors.GetCode(err))
}
