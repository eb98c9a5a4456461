package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

// UpsertRunStream folds one batch of stream activity into the run row. Pages
// is added to the stored count; page and records only move forward.
func (s *TechStore) UpsertRunStream(ctx context.Context, run crawler.RunStream) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_streams
			(run_id, data_type, status, start_page, page, pages, records, started_at, finished_at, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, data_type) DO UPDATE SET
			status = excluded.status,
			started_at = COALESCE(run_streams.started_at, excluded.started_at),
			page = MAX(run_streams.page, excluded.page),
			pages = run_streams.pages + excluded.pages,
			records = MAX(run_streams.records, excluded.records),
			finished_at = COALESCE(excluded.finished_at, run_streams.finished_at),
			note = COALESCE(NULLIF(excluded.note, ''), run_streams.note)`,
		run.RunID.String(), string(run.Stream), string(run.Status), run.StartPage, run.Page, run.Pages,
		run.Records, nullTime(run.StartedAt), nullTime(run.FinishedAt), run.Note,
	)
	if err != nil {
		return fmt.Errorf("upsert run %s/%s: %w", run.RunID, run.Stream, err)
	}
	return nil
}

// ListRunStreams returns the most recent run rows, newest first.
func (s *TechStore) ListRunStreams(ctx context.Context, limit int) ([]crawler.RunStream, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRuns(ctx, `
		SELECT `+runColumns+` FROM run_streams
		ORDER BY started_at DESC, data_type
		LIMIT ?`, limit)
}

// RunStreams returns the stream rows of one run. An unknown run yields no
// rows and no error.
func (s *TechStore) RunStreams(ctx context.Context, runID uuid.UUID) ([]crawler.RunStream, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+` FROM run_streams
		WHERE run_id = ?
		ORDER BY data_type`, runID.String())
}

const runColumns = `run_id, data_type, status, start_page, page, pages, records, started_at, finished_at, note`

func (s *TechStore) queryRuns(ctx context.Context, query string, args ...any) ([]crawler.RunStream, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []crawler.RunStream
	for rows.Next() {
		var (
			run               crawler.RunStream
			runID, stream, st string
			started, finished sql.NullString
		)
		if err := rows.Scan(&runID, &stream, &st, &run.StartPage, &run.Page, &run.Pages,
			&run.Records, &started, &finished, &run.Note); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", runID, err)
		}
		run.Stream = crawler.StreamID(stream)
		run.Status = crawler.Status(st)
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
