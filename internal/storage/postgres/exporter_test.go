package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

type sliceSource []crawler.CanonicalRecord

func (s sliceSource) ScanCanonical(_ context.Context, fn func(crawler.CanonicalRecord) error) error {
	for _, rec := range s {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func canonicalRows(n int) sliceSource {
	at := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)
	out := make(sliceSource, 0, n)
	for i := range n {
		rank := int64(i + 1)
		out = append(out, crawler.CanonicalRecord{
			Record:   crawler.Record{EntityID: int64(100 + i), DisplayName: "c"},
			Source:   crawler.SourceA,
			ScanDate: at,
			Rank:     &rank,
		})
	}
	return out
}

func TestExporterCopiesInBatches(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exp, err := NewExporter(mock, "characters")
	require.NoError(t, err)
	exp.batchSize = 2

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS characters").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE characters").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"characters"}, exportColumns).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"characters"}, exportColumns).WillReturnResult(1)
	mock.ExpectCommit()

	n, err := exp.Export(context.Background(), canonicalRows(3))
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExporterRollsBackOnCopyError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exp, err := NewExporter(mock, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS characters").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE characters").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"characters"}, exportColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = exp.Export(context.Background(), canonicalRows(1))
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExporterRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewExporter(mock, "characters; DROP TABLE x")
	require.Error(t, err)
	_, err = NewExporter(nil, "characters")
	require.Error(t, err)
}

func TestExportRowKeepsNullRank(t *testing.T) {
	t.Parallel()

	row := exportRow(crawler.CanonicalRecord{Record: crawler.Record{EntityID: 9}, Source: crawler.SourceB})
	require.Len(t, row, len(exportColumns))
	require.Equal(t, "B", row[13])
	require.Nil(t, row[15].(*int64))
}
