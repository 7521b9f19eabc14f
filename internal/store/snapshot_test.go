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

func sampleState(t *testing.T) *State {
	t.Helper()
	st := NewState()
	st.Watermark = time.Unix(1281546319, 0)

	h := st.Histogram("stable")
	for _, g := range []int{0, 1, 2, 0} {
		h.Observe(g)
	}
	st.Histogram("beta").Observe(0)

	st.History[HistoryKey{Channel: "stable", Date: "2010-08-11"}] = HistoryEntry{
		UpdatesSeen:      4,
		DistinctEstimate: 2,
	}
	st.History[HistoryKey{Channel: "beta", Date: "2010-08-12"}] = HistoryEntry{
		UpdatesSeen:      1,
		DistinctEstimate: 1,
	}
	st.Runs = append(st.Runs, RunRecord{
		RunID:          "run-1",
		StartedAt:      time.Unix(1281546000, 0),
		FinishedAt:     time.Unix(1281546320, 0),
		LinesRead:      6,
		UpdatesApplied: 5,
		ParseFailures:  1,
		Watermark:      time.Unix(1281546319, 0),
	})
	return st
}

func assertStatesEqual(t *testing.T, want, got *State) {
	t.Helper()
	assert.True(t, want.Watermark.Equal(got.Watermark),
		"watermark %v, want %v", got.Watermark, want.Watermark)
	require.Len(t, got.Histograms, len(want.Histograms))
	for channel, h := range want.Histograms {
		require.Contains(t, got.Histograms, channel)
		assert.Equal(t, h.Buckets(), got.Histograms[channel].Buckets(), "channel %q", channel)
	}
	assert.Equal(t, want.History, got.History)
	require.Len(t, got.Runs, len(want.Runs))
	for i := range want.Runs {
		assert.Equal(t, want.Runs[i].RunID, got.Runs[i].RunID)
		assert.Equal(t, want.Runs[i].LinesRead, got.Runs[i].LinesRead)
		assert.Equal(t, want.Runs[i].UpdatesApplied, got.Runs[i].UpdatesApplied)
		assert.Equal(t, want.Runs[i].ParseFailures, got.Runs[i].ParseFailures)
		assert.True(t, want.Runs[i].Watermark.Equal(got.Runs[i].Watermark))
	}
}

func TestSnapshot_LoadMissingFileYieldsEmptyState(t *testing.T) {
	s := OpenSnapshot(filepath.Join(t.TempDir(), "census.snap"))

	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Watermark.Equal(time.Unix(0, 0)))
	assert.Empty(t, st.Histograms)
	assert.Empty(t, st.History)
	assert.Empty(t, st.Runs)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.snap")
	s := OpenSnapshot(path)
	want := sampleState(t)

	require.NoError(t, s.Save(context.Background(), want))

	got, err := OpenSnapshot(path).Load(context.Background())
	require.NoError(t, err)
	assertStatesEqual(t, want, got)
}

func TestSnapshot_SaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	st := sampleState(t)

	a := OpenSnapshot(filepath.Join(dir, "a.snap"))
	b := OpenSnapshot(filepath.Join(dir, "b.snap"))
	require.NoError(t, a.Save(context.Background(), st))
	require.NoError(t, b.Save(context.Background(), st))

	rawA, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	rawB, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	assert.Equal(t, rawA, rawB, "identical state must serialize identically")
}

func TestSnapshot_InterruptedSaveLeavesPublishedStateIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.snap")
	s := OpenSnapshot(path)

	first := NewState()
	first.Histogram("stable").Observe(0)
	first.Watermark = time.Unix(100, 0)
	require.NoError(t, s.Save(context.Background(), first))

	// Simulate a crash after staging but before publish: a staging artifact
	// exists alongside the published snapshot.
	require.NoError(t, os.WriteFile(s.stagingPath(), []byte("half-written garbage"), 0644))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assertStatesEqual(t, first, got)

	// The next save overwrites the leftover artifact and publishes cleanly.
	second := NewState()
	second.Histogram("stable").Observe(0)
	second.Histogram("stable").Observe(1)
	second.Watermark = time.Unix(200, 0)
	require.NoError(t, s.Save(context.Background(), second))

	got, err = s.Load(context.Background())
	require.NoError(t, err)
	assertStatesEqual(t, second, got)
}

func TestSnapshot_CorruptPayloadIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.snap")
	s := OpenSnapshot(path)
	require.NoError(t, s.Save(context.Background(), sampleState(t)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Flip a byte in the compressed payload; the checksum must catch it.
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeCorruptState, cerrors.GetCode(err))
}

func TestSnapshot_BadMagicIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.snap")
	require.NoError(t, os.WriteFile(path, []byte("this is not a snapshot file"), 0644))

	_, err := OpenSnapshot(path).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeCorruptState, cerrors.GetCode(err))
}

func TestSnapshot_UnknownVersionIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.snap")
	s := OpenSnapshot(path)
	require.NoError(t, s.Save(context.Background(), NewState()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[4] = 99
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeVersionMismatch, cerrors.GetCode(err))
}

func TestSnapshot_TruncatedFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.snap")
	require.NoError(t, os.WriteFile(path, []byte{'C', 'E'}, 0644))

	_, err := OpenSnapshot(path).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeCorruptState, cerrors.GetCode(err))
}
