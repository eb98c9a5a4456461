package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

func TestTechStoreCheckpointDefaults(t *testing.T) {
	t.Parallel()

	store := NewTechStore()
	cp, err := store.GetCheckpoint(context.Background(), crawler.StreamName)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusActive, cp.Status)
	require.Zero(t, cp.LastProcessedPage)
}

func TestTechStoreSequencing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTechStore()
	commit := func(page int, ids ...int64) crawler.CommitResult {
		recs := make([]crawler.Record, 0, len(ids))
		for _, id := range ids {
			recs = append(recs, crawler.Record{EntityID: id})
		}
		cp, err := store.GetCheckpoint(ctx, crawler.StreamPlaytime)
		require.NoError(t, err)
		res, err := store.CommitPage(ctx, crawler.PageCommit{
			Stream:     crawler.StreamPlaytime,
			Sequenced:  true,
			PageIndex:  page,
			Records:    recs,
			Checkpoint: crawler.Checkpoint{LastProcessedPage: page + 2, RecordCount: cp.RecordCount},
		})
		require.NoError(t, err)
		return res
	}

	commit(0, 10, 11)
	// Replaying the same page keeps sequence ids.
	commit(0, 10, 11)
	// Seeing an entity again on a later page moves it to the end.
	res := commit(2, 11, 12)
	require.Equal(t, 2, res.Saved)
	require.Equal(t, int64(6), res.Checkpoint.RecordCount)

	recs := store.Records(crawler.StreamPlaytime)
	require.Len(t, recs, 3)
	got := map[int64]int64{}
	for _, rec := range recs {
		got[rec.EntityID] = *rec.SequenceID
	}
	require.Equal(t, map[int64]int64{10: 1, 11: 3, 12: 4}, got)
}

func TestTechStoreRejectsSingleRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTechStore()
	store.RejectEntity(2, errors.New("constraint failed"))

	res, err := store.CommitPage(ctx, crawler.PageCommit{
		Stream:  crawler.StreamName,
		Records: []crawler.Record{{EntityID: 1}, {EntityID: 2}, {EntityID: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Saved)
	require.Len(t, res.Failures, 1)
	require.Equal(t, int64(2), res.Failures[0].EntityID)

	n, err := store.CountRecords(ctx, crawler.StreamName)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	for _, rec := range store.Records(crawler.StreamName) {
		require.Nil(t, rec.SequenceID)
	}
}

func TestCanonicalStoreRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCanonicalStore()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, crawler.CanonicalRecord{Record: crawler.Record{EntityID: 1}}))
	require.Error(t, tx.Insert(ctx, crawler.CanonicalRecord{Record: crawler.Record{EntityID: 1}}))
	require.NoError(t, tx.Rollback())
	require.Empty(t, store.Rows())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert(ctx, crawler.CanonicalRecord{Record: crawler.Record{EntityID: 7}}))
	ok, err := tx.Contains(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx.Commit())
	require.Len(t, store.Rows(), 1)
	require.ErrorIs(t, tx.Commit(), errTxDone)
}

func TestCanonicalStoreSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCanonicalStore()
	at := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	rank := func(n int64) *int64 { return &n }

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert(ctx, crawler.CanonicalRecord{Record: crawler.Record{EntityID: 1}, Source: crawler.SourceA, ScanDate: at, Rank: rank(4)}))
	require.NoError(t, tx.Upsert(ctx, crawler.CanonicalRecord{Record: crawler.Record{EntityID: 2}, Source: crawler.SourceA, ScanDate: at, Rank: rank(2)}))
	require.NoError(t, tx.Insert(ctx, crawler.CanonicalRecord{Record: crawler.Record{EntityID: 3}, Source: crawler.SourceB, ScanDate: at}))
	require.NoError(t, tx.Commit())

	sum, err := store.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.CanonicalSummary{
		Total:    3,
		BySource: map[crawler.Source]int64{crawler.SourceA: 2, crawler.SourceB: 1},
		Ranked:   2,
		MinRank:  2,
		MaxRank:  4,
		ScanDate: at,
	}, sum)
}
