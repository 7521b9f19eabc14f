// Package store provides the durable aggregate state for the census system:
// per-channel generation histograms, the global ingestion watermark, the
// per-channel daily history, and the ingest-run audit trail.
//
// Two realizations of the same contract are provided: a SQLite database
// (SQLiteStore) and a flat snapshot file (SnapshotStore). Both load and save
// the whole state atomically; a crash mid-save never leaves a partially
// written store behind.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/machinecensus/machinecensus/internal/histogram"
)

// schemaVersion is the on-disk format version. A store written with a
// different version fails to load rather than being silently reinterpreted.
const schemaVersion = 1

// DateLayout is the calendar-date key format for daily history entries.
const DateLayout = "2006-01-02"

// Store is the durability contract shared by both backends.
type Store interface {
	// Load reads the full state. A store that does not exist yet yields an
	// empty state with a zero watermark. Unreadable or corrupt state is a
	// fatal STORE error; there is no silent reset.
	Load(ctx context.Context) (*State, error)

	// Save persists the full state atomically: watermark, histograms,
	// history and run records are published together or not at all.
	Save(ctx context.Context, st *State) error

	// Close releases backend resources.
	Close() error
}

// HistoryKey identifies one daily history entry.
type HistoryKey struct {
	Channel string
	Date    string // DateLayout
}

// HistoryEntry holds the per-day aggregates for one channel. DistinctEstimate
// is a snapshot of the histogram total at the most recent update that day,
// not a delta.
type HistoryEntry struct {
	UpdatesSeen      int64
	DistinctEstimate int64
}

// RunRecord is one entry in the ingest-run audit trail.
type RunRecord struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	LinesRead      int64
	UpdatesApplied int64
	ParseFailures  int64
	Watermark      time.Time
}

// State is the full in-memory aggregate state. It is mutated only by the
// ingestion pipeline and saved exactly once per run.
type State struct {
	// Watermark is the inclusive upper bound of log timestamps already
	// folded in. Zero means the store has never been updated.
	Watermark time.Time

	// Histograms maps channel to its generation histogram.
	Histograms map[string]*histogram.Histogram

	// History maps (channel, date) to that day's aggregates.
	History map[HistoryKey]HistoryEntry

	// Runs is the append-only ingest-run audit trail.
	Runs []RunRecord
}

// NewState returns an empty state with a zero watermark.
func NewState() *State {
	return &State{
		Watermark:  time.Unix(0, 0),
		Histograms: make(map[string]*histogram.Histogram),
		History:    make(map[HistoryKey]HistoryEntry),
	}
}

// Histogram returns the histogram for channel, creating it on first use.
func (s *State) Histogram(channel string) *histogram.Histogram {
	h, ok := s.Histograms[channel]
	if !ok {
		h = histogram.New()
		s.Histograms[channel] = h
	}
	return h
}

// Channels returns all channels with history entries, sorted.
func (s *State) Channels() []string {
	set := make(map[string]bool)
	for k := range s.History {
		set[k.Channel] = true
	}
	for ch := range s.Histograms {
		set[ch] = true
	}
	channels := make([]string, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// ChannelHistory returns the history entries for one channel ordered by date.
func (s *State) ChannelHistory(channel string) []HistoryKey {
	var keys []HistoryKey
	for k := range s.History {
		if k.Channel == channel {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Date < keys[j].Date })
	return keys
}

// watermark round-trips through the stores as floating-point seconds since
// the epoch, matching the on-disk contract. Log timestamps carry whole
// seconds, so the conversion is exact.

func watermarkToSeconds(t time.Time) float64 {
	return float64(t.Unix())
}

func watermarkFromSeconds(sec float64) time.Time {
	return time.Unix(int64(sec), 0)
}
