package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

func openTestTech(t *testing.T) *TechStore {
	t.Helper()
	store, err := OpenTech(filepath.Join(t.TempDir(), "tech", "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func rec(id int64, name string) crawler.Record {
	return crawler.Record{EntityID: id, DisplayName: name, Level: 80, Class: "Воин", CharOnline: id%2 == 0}
}

func commitPage(
	t *testing.T,
	store *TechStore,
	stream crawler.StreamID,
	page, next int,
	prior int64,
	records ...crawler.Record,
) crawler.CommitResult {
	t.Helper()
	res, err := store.CommitPage(context.Background(), crawler.PageCommit{
		Stream:    stream,
		Sequenced: stream == crawler.StreamPlaytime,
		PageIndex: page,
		Records:   records,
		Checkpoint: crawler.Checkpoint{
			LastProcessedPage: next,
			TotalPages:        3,
			RecordCount:       prior,
			Status:            crawler.StatusActive,
			LastUpdate:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	return res
}

func scanAll(t *testing.T, store *TechStore, stream crawler.StreamID) []crawler.RawRecord {
	t.Helper()
	var out []crawler.RawRecord
	require.NoError(t, store.ScanRecords(context.Background(), stream, func(r crawler.RawRecord) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestTechStoreFreshCheckpoint(t *testing.T) {
	store := openTestTech(t)
	cp, err := store.GetCheckpoint(context.Background(), crawler.StreamPlaytime)
	require.NoError(t, err)
	require.Equal(t, crawler.Checkpoint{Status: crawler.StatusActive}, cp)
}

func TestTechStoreCheckpointRoundTrip(t *testing.T) {
	store := openTestTech(t)
	ctx := context.Background()
	want := crawler.Checkpoint{
		LastProcessedPage: 40,
		TotalPages:        7,
		RecordCount:       33,
		Status:            crawler.StatusInterrupted,
		LastUpdate:        time.Date(2024, 5, 1, 12, 30, 0, 123, time.UTC),
	}
	require.NoError(t, store.PutCheckpoint(ctx, crawler.StreamName, want))

	got, err := store.GetCheckpoint(ctx, crawler.StreamName)
	require.NoError(t, err)
	require.Equal(t, want, got)

	all, err := store.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, want, all[crawler.StreamName])
}

func TestTechStoreCommitPageWritesRecordsAndCheckpoint(t *testing.T) {
	store := openTestTech(t)
	ctx := context.Background()

	res := commitPage(t, store, crawler.StreamName, 0, 20, 0, rec(1, "a"), rec(2, "b"))
	require.Equal(t, 2, res.Saved)
	require.Empty(t, res.Failures)
	require.Equal(t, int64(2), res.Checkpoint.RecordCount)

	cp, err := store.GetCheckpoint(ctx, crawler.StreamName)
	require.NoError(t, err)
	require.Equal(t, 20, cp.LastProcessedPage)
	require.Equal(t, int64(2), cp.RecordCount)

	rows := scanAll(t, store, crawler.StreamName)
	require.Len(t, rows, 2)
	require.Equal(t, rec(1, "a"), rows[0].Record)
	require.Nil(t, rows[0].SequenceID)
	require.Equal(t, 0, rows[1].PageNumber)

	n, err := store.CountRecords(ctx, crawler.StreamName)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestTechStoreSequenceReplayKeepsIDs(t *testing.T) {
	store := openTestTech(t)

	commitPage(t, store, crawler.StreamPlaytime, 0, 20, 0, rec(10, "a"), rec(11, "b"))
	commitPage(t, store, crawler.StreamPlaytime, 20, 40, 2, rec(12, "c"))
	// Resume after a crash replays page 20.
	res := commitPage(t, store, crawler.StreamPlaytime, 20, 40, 3, rec(12, "c2"))
	require.Equal(t, 1, res.Saved)
	require.Empty(t, res.Failures)
	require.Equal(t, int64(4), res.Checkpoint.RecordCount)

	rows := scanAll(t, store, crawler.StreamPlaytime)
	require.Len(t, rows, 3)
	for i, r := range rows {
		require.NotNil(t, r.SequenceID)
		require.Equal(t, int64(i+1), *r.SequenceID)
	}
	require.Equal(t, "c2", rows[2].DisplayName)
	require.Equal(t, 20, rows[2].PageNumber)
}

func TestTechStoreReplayedFirstPageOverwritesFields(t *testing.T) {
	store, err := OpenTech(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	commitPage(t, store, crawler.StreamPlaytime, 0, 20, 0, rec(10, "first"), rec(11, "first"))
	res := commitPage(t, store, crawler.StreamPlaytime, 0, 20, 0, rec(10, "second"), rec(11, "second"))
	require.Equal(t, 2, res.Saved)
	require.Empty(t, res.Failures)

	rows := scanAll(t, store, crawler.StreamPlaytime)
	require.Len(t, rows, 2)
	for i, r := range rows {
		require.Equal(t, "second", r.DisplayName)
		require.Equal(t, int64(i+1), *r.SequenceID)
	}
}

func TestTechStoreSequenceMovedEntityTakesNextID(t *testing.T) {
	store := openTestTech(t)

	commitPage(t, store, crawler.StreamPlaytime, 0, 20, 0, rec(10, "a"), rec(11, "b"))
	// Entity 10 slid down the listing between page fetches.
	commitPage(t, store, crawler.StreamPlaytime, 20, 40, 2, rec(12, "c"), rec(10, "a"))

	rows := scanAll(t, store, crawler.StreamPlaytime)
	require.Len(t, rows, 3)
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.EntityID)
	}
	require.Equal(t, []int64{11, 12, 10}, ids)
	require.Equal(t, int64(4), *rows[2].SequenceID)
	require.Equal(t, 20, rows[2].PageNumber)
}

func TestTechStoreCommitReportsFailedRecord(t *testing.T) {
	store := openTestTech(t)
	ctx := context.Background()

	// Reject one entity so only its savepoint rolls back.
	_, err := store.db.ExecContext(ctx, `CREATE TRIGGER reject_13 BEFORE INSERT ON name_data
		WHEN NEW.entity_id = 13 BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	res := commitPage(t, store, crawler.StreamName, 0, 20, 5, rec(12, "a"), rec(13, "b"), rec(14, "c"))
	require.Equal(t, 2, res.Saved)
	require.Len(t, res.Failures, 1)
	require.Equal(t, int64(13), res.Failures[0].EntityID)
	require.ErrorContains(t, res.Failures[0].Err, "rejected")
	require.Equal(t, int64(7), res.Checkpoint.RecordCount)

	rows := scanAll(t, store, crawler.StreamName)
	require.Len(t, rows, 2)
}

func TestTechStoreUnknownStream(t *testing.T) {
	store := openTestTech(t)
	_, err := store.CommitPage(context.Background(), crawler.PageCommit{Stream: "level"})
	require.ErrorContains(t, err, "unknown stream")
	_, err = store.CountRecords(context.Background(), "level")
	require.Error(t, err)
}

func TestTechStoreReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.db")
	store, err := OpenTech(path)
	require.NoError(t, err)
	commitPage(t, store, crawler.StreamPlaytime, 0, 20, 0, rec(1, "a"))
	require.NoError(t, store.Close())

	store, err = OpenTech(path)
	require.NoError(t, err)
	defer store.Close()
	commitPage(t, store, crawler.StreamPlaytime, 20, 40, 1, rec(2, "b"))

	rows := scanAll(t, store, crawler.StreamPlaytime)
	require.Len(t, rows, 2)
	require.Equal(t, int64(2), *rows[1].SequenceID)
}

func TestTechStoreRunStreams(t *testing.T) {
	store := openTestTech(t)
	ctx := context.Background()
	runID := uuid.New()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertRunStream(ctx, crawler.RunStream{
		RunID: runID, Stream: crawler.StreamPlaytime, Status: crawler.StatusActive,
		StartPage: 40, Page: 60, Pages: 2, Records: 30, StartedAt: start,
	}))
	require.NoError(t, store.UpsertRunStream(ctx, crawler.RunStream{
		RunID: runID, Stream: crawler.StreamPlaytime, Status: crawler.StatusCompleted,
		Page: 80, Pages: 1, Records: 45, FinishedAt: start.Add(time.Minute),
	}))

	runs, err := store.ListRunStreams(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	require.Equal(t, runID, got.RunID)
	require.Equal(t, crawler.StatusCompleted, got.Status)
	require.Equal(t, 40, got.StartPage)
	require.Equal(t, 80, got.Page)
	require.Equal(t, 3, got.Pages)
	require.Equal(t, int64(45), got.Records)
	require.Equal(t, start, got.StartedAt)
	require.Equal(t, start.Add(time.Minute), got.FinishedAt)
}

func TestTechStoreRunStreamsByID(t *testing.T) {
	store := openTestTech(t)
	ctx := context.Background()
	first, second := uuid.New(), uuid.New()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, run := range []crawler.RunStream{
		{RunID: first, Stream: crawler.StreamPlaytime, Status: crawler.StatusStopped, StartedAt: at},
		{RunID: first, Stream: crawler.StreamName, Status: crawler.StatusError, StartedAt: at, Note: "boom"},
		{RunID: second, Stream: crawler.StreamPlaytime, Status: crawler.StatusCompleted, StartedAt: at.Add(time.Hour)},
	} {
		require.NoError(t, store.UpsertRunStream(ctx, run))
	}

	runs, err := store.RunStreams(ctx, first)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, crawler.StreamName, runs[0].Stream)
	require.Equal(t, "boom", runs[0].Note)

	recent, err := store.ListRunStreams(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, second, recent[0].RunID)

	none, err := store.RunStreams(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, none)
}
