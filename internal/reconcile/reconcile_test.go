package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/doublescout/internal/crawler"
	"github.com/JakeFAU/doublescout/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var mergeTime = time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)

func seq(v int64) *int64 { return &v }

func raw(id int64, name string, page int, sequence *int64) crawler.RawRecord {
	return crawler.RawRecord{
		Record:     crawler.Record{EntityID: id, DisplayName: name, Level: 80},
		PageNumber: page,
		SequenceID: sequence,
	}
}

func TestMergeStreamAWins(t *testing.T) {
	src := memory.NewTechStore()
	src.PutRaw(crawler.StreamPlaytime, raw(1, "from-a", 0, seq(1)))
	src.PutRaw(crawler.StreamName, raw(1, "from-b", 0, nil))
	dst := memory.NewCanonicalStore()

	rep, err := New(fixedClock{mergeTime}, nil).Merge(context.Background(), src, dst)
	require.NoError(t, err)
	require.Equal(t, int64(1), rep.Total)
	require.Equal(t, int64(1), rep.SkippedB)

	rows := dst.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "from-a", rows[0].DisplayName)
	assert.Equal(t, crawler.SourceA, rows[0].Source)
	require.NotNil(t, rows[0].Rank)
	assert.Equal(t, int64(1), *rows[0].Rank)
	assert.Equal(t, mergeTime, rows[0].ScanDate)
}

func TestMergeIsUnionOfKeys(t *testing.T) {
	src := memory.NewTechStore()
	for i, id := range []int64{10, 11, 12} {
		src.PutRaw(crawler.StreamPlaytime, raw(id, "a", 0, seq(int64(i+1))))
	}
	for _, id := range []int64{12, 13, 14, 10} {
		src.PutRaw(crawler.StreamName, raw(id, "b", 0, nil))
	}
	dst := memory.NewCanonicalStore()

	rep, err := New(fixedClock{mergeTime}, nil).Merge(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, dst.Rows(), 5)
	assert.Equal(t, int64(5), rep.Total)
	assert.Equal(t, map[crawler.Source]int64{crawler.SourceA: 3, crawler.SourceB: 2}, rep.BySource)
	assert.Equal(t, int64(2), rep.SkippedB)
	assert.Equal(t, int64(3), rep.Ranked)
	assert.Equal(t, int64(1), rep.MinRank)
	assert.Equal(t, int64(3), rep.MaxRank)
	assert.Empty(t, rep.DuplicateRanks)

	for _, row := range dst.Rows() {
		if row.Source == crawler.SourceB {
			assert.Nil(t, row.Rank, "entity %d", row.EntityID)
		}
	}
}

func TestMergeReportsDuplicateRanks(t *testing.T) {
	src := memory.NewTechStore()
	src.PutRaw(crawler.StreamPlaytime, raw(1, "a", 0, seq(1)))
	src.PutRaw(crawler.StreamPlaytime, raw(2, "b", 0, seq(2)))
	src.PutRaw(crawler.StreamPlaytime, raw(3, "c", 20, seq(2)))
	dst := memory.NewCanonicalStore()

	core, logs := observer.New(zap.WarnLevel)
	rep, err := New(fixedClock{mergeTime}, zap.New(core)).Merge(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, dst.Rows(), 3)
	require.Equal(t, []DuplicateRank{{Rank: 2, Count: 2}}, rep.DuplicateRanks)
	require.Equal(t, 1, logs.FilterMessage("duplicate rank in canonical store").Len())
}

func TestMergeNothingToMerge(t *testing.T) {
	dst := memory.NewCanonicalStore()
	_, err := New(nil, nil).Merge(context.Background(), memory.NewTechStore(), dst)
	require.ErrorIs(t, err, ErrNothingToMerge)
	require.Empty(t, dst.Rows())
}

func TestMergeReplacesPreviousMerge(t *testing.T) {
	src := memory.NewTechStore()
	src.PutRaw(crawler.StreamName, raw(7, "stale", 0, nil))
	dst := memory.NewCanonicalStore()
	r := New(fixedClock{mergeTime}, nil)

	_, err := r.Merge(context.Background(), src, dst)
	require.NoError(t, err)

	src.PutRaw(crawler.StreamPlaytime, raw(7, "fresh", 0, seq(1)))
	rep, err := r.Merge(context.Background(), src, dst)
	require.NoError(t, err)
	require.Equal(t, int64(1), rep.Total)

	rows := dst.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, "fresh", rows[0].DisplayName)
	require.Equal(t, crawler.SourceA, rows[0].Source)
}

func TestMergeIsIdempotent(t *testing.T) {
	src := memory.NewTechStore()
	src.PutRaw(crawler.StreamPlaytime, raw(1, "a", 0, seq(1)))
	src.PutRaw(crawler.StreamName, raw(2, "b", 0, nil))
	dst := memory.NewCanonicalStore()
	r := New(fixedClock{mergeTime}, nil)

	_, err := r.Merge(context.Background(), src, dst)
	require.NoError(t, err)
	first := dst.Rows()
	_, err = r.Merge(context.Background(), src, dst)
	require.NoError(t, err)
	require.Equal(t, first, dst.Rows())
}
