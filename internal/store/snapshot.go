package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	"github.com/machinecensus/machinecensus/internal/errors"
	"github.com/machinecensus/machinecensus/internal/histogram"
)

// SnapshotStore implements Store on a single flat file. The file is a
// versioned envelope around a snappy-compressed JSON payload:
//
//	[magic:4][version:1][murmur3-64 checksum:8][compressed payload]
//
// Save writes a staging file in the same directory, fsyncs it, and publishes
// it with a rename, so a load never observes a partially written store.
type SnapshotStore struct {
	path string
}

var snapshotMagic = [4]byte{'C', 'E', 'N', 'S'}

const snapshotHeaderLen = 4 + 1 + 8

// snapshotPayload is the persisted JSON shape of the aggregate state.
type snapshotPayload struct {
	Watermark float64              `json:"watermark"`
	Counters  map[string][]int64   `json:"counters"`
	History   []snapshotHistoryRow `json:"history"`
	Runs      []snapshotRunRow     `json:"runs,omitempty"`
}

type snapshotHistoryRow struct {
	Channel          string `json:"channel"`
	Date             string `json:"date"`
	UpdatesSeen      int64  `json:"updates_seen"`
	DistinctEstimate int64  `json:"distinct_estimate"`
}

type snapshotRunRow struct {
	RunID          string  `json:"run_id"`
	StartedAt      float64 `json:"started_at"`
	FinishedAt     float64 `json:"finished_at"`
	LinesRead      int64   `json:"lines_read"`
	UpdatesApplied int64   `json:"updates_applied"`
	ParseFailures  int64   `json:"parse_failures"`
	Watermark      float64 `json:"watermark"`
}

// OpenSnapshot returns a snapshot store backed by the file at path. The file
// is not touched until Load or Save.
func OpenSnapshot(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// stagingPath is where Save assembles the next snapshot before publishing.
// Load never reads it; a leftover artifact from an interrupted save is
// overwritten by the next save.
func (s *SnapshotStore) stagingPath() string {
	return s.path + ".staging"
}

// Load reads and validates the published snapshot. A missing file yields an
// empty state; any structural damage is a fatal STORE error.
func (s *SnapshotStore) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, errors.NewIOError(errors.CodeStoreUnreachable,
			fmt.Sprintf("cannot read snapshot %s", s.path), err)
	}

	payload, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}

	st := NewState()
	st.Watermark = watermarkFromSeconds(payload.Watermark)
	for channel, buckets := range payload.Counters {
		if channel == "" {
			return nil, errors.NewStoreError(errors.CodeCorruptState, "empty channel in counters", nil)
		}
		for i, n := range buckets {
			if n < 0 {
				return nil, errors.NewStoreError(errors.CodeCorruptState,
					fmt.Sprintf("negative bucket %d at generation %d for channel %q", n, i, channel), nil)
			}
		}
		st.Histograms[channel] = histogram.FromBuckets(buckets)
	}
	for _, row := range payload.History {
		st.History[HistoryKey{Channel: row.Channel, Date: row.Date}] = HistoryEntry{
			UpdatesSeen:      row.UpdatesSeen,
			DistinctEstimate: row.DistinctEstimate,
		}
	}
	for _, row := range payload.Runs {
		st.Runs = append(st.Runs, RunRecord{
			RunID:          row.RunID,
			StartedAt:      watermarkFromSeconds(row.StartedAt),
			FinishedAt:     watermarkFromSeconds(row.FinishedAt),
			LinesRead:      row.LinesRead,
			UpdatesApplied: row.UpdatesApplied,
			ParseFailures:  row.ParseFailures,
			Watermark:      watermarkFromSeconds(row.Watermark),
		})
	}

	return st, nil
}

// Save atomically publishes the full state.
func (s *SnapshotStore) Save(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeSnapshot(st)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.NewIOError(errors.CodeStoreUnreachable,
			fmt.Sprintf("cannot create snapshot directory for %s", s.path), err)
	}

	staging := s.stagingPath()
	f, err := os.Create(staging)
	if err != nil {
		return errors.NewStoreError(errors.CodeSaveFailed,
			fmt.Sprintf("cannot create staging file %s", staging), err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(staging)
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot write staging file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(staging)
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot fsync staging file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(staging)
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot close staging file", err)
	}

	if err := os.Rename(staging, s.path); err != nil {
		os.Remove(staging)
		return errors.NewStoreError(errors.CodeSaveFailed, "cannot publish snapshot", err)
	}
	return nil
}

// Close is a no-op; the snapshot store holds no open resources between
// operations.
func (s *SnapshotStore) Close() error {
	return nil
}

// Path returns the published snapshot location.
func (s *SnapshotStore) Path() string {
	return s.path
}

func encodeSnapshot(st *State) ([]byte, error) {
	payload := snapshotPayload{
		Watermark: watermarkToSeconds(st.Watermark),
		Counters:  make(map[string][]int64, len(st.Histograms)),
	}
	for channel, h := range st.Histograms {
		payload.Counters[channel] = h.Buckets()
	}
	for _, channel := range st.Channels() {
		for _, key := range st.ChannelHistory(channel) {
			entry := st.History[key]
			payload.History = append(payload.History, snapshotHistoryRow{
				Channel:          key.Channel,
				Date:             key.Date,
				UpdatesSeen:      entry.UpdatesSeen,
				DistinctEstimate: entry.DistinctEstimate,
			})
		}
	}
	for _, run := range st.Runs {
		payload.Runs = append(payload.Runs, snapshotRunRow{
			RunID:          run.RunID,
			StartedAt:      watermarkToSeconds(run.StartedAt),
			FinishedAt:     watermarkToSeconds(run.FinishedAt),
			LinesRead:      run.LinesRead,
			UpdatesApplied: run.UpdatesApplied,
			ParseFailures:  run.ParseFailures,
			Watermark:      watermarkToSeconds(run.Watermark),
		})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError("cannot encode snapshot payload", err)
	}
	compressed := snappy.Encode(nil, raw)

	buf := make([]byte, snapshotHeaderLen+len(compressed))
	copy(buf[:4], snapshotMagic[:])
	buf[4] = schemaVersion
	binary.LittleEndian.PutUint64(buf[5:13], murmur3.Sum64(compressed))
	copy(buf[snapshotHeaderLen:], compressed)
	return buf, nil
}

func decodeSnapshot(data []byte) (*snapshotPayload, error) {
	if len(data) < snapshotHeaderLen {
		return nil, errors.NewStoreError(errors.CodeCorruptState, "snapshot too short", nil)
	}
	if !bytes.Equal(data[:4], snapshotMagic[:]) {
		return nil, errors.NewStoreError(errors.CodeCorruptState, "bad snapshot magic", nil)
	}
	if data[4] != schemaVersion {
		return nil, errors.NewStoreError(errors.CodeVersionMismatch,
			fmt.Sprintf("snapshot format version %d, supported %d", data[4], schemaVersion), nil)
	}

	compressed := data[snapshotHeaderLen:]
	if sum := murmur3.Sum64(compressed); sum != binary.LittleEndian.Uint64(data[5:13]) {
		return nil, errors.NewStoreError(errors.CodeCorruptState, "snapshot checksum mismatch", nil)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeCorruptState, "cannot decompress snapshot", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var payload snapshotPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.NewStoreError(errors.CodeCorruptState, "cannot decode snapshot payload", err)
	}
	return &payload, nil
}
