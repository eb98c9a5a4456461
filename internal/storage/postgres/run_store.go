package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

// RunStore mirrors run history into Postgres so several hosts can report to
// one place. It has the same merge rules as the SQLite run table.
type RunStore struct {
	pool  Pool
	table string
}

// NewRunStore constructs a RunStore writing to table on pool.
func NewRunStore(pool Pool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scout_run_streams"
	}
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the run table if it is missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      UUID        NOT NULL,
	stream      TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	start_page  INTEGER     NOT NULL,
	page        INTEGER     NOT NULL,
	pages       INTEGER     NOT NULL,
	records     BIGINT      NOT NULL,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	note        TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, stream)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// UpsertRunStream folds one batch of stream activity into the run row.
func (s *RunStore) UpsertRunStream(ctx context.Context, run crawler.RunStream) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (run_id, stream, status, start_page, page, pages, records, started_at, finished_at, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id, stream) DO UPDATE SET
	status = EXCLUDED.status,
	started_at = COALESCE(%[1]s.started_at, EXCLUDED.started_at),
	page = GREATEST(%[1]s.page, EXCLUDED.page),
	pages = %[1]s.pages + EXCLUDED.pages,
	records = GREATEST(%[1]s.records, EXCLUDED.records),
	finished_at = COALESCE(EXCLUDED.finished_at, %[1]s.finished_at),
	note = COALESCE(NULLIF(EXCLUDED.note, ''), %[1]s.note)`, s.table)

	_, err := s.pool.Exec(ctx, query,
		run.RunID,
		string(run.Stream),
		string(run.Status),
		run.StartPage,
		run.Page,
		run.Pages,
		run.Records,
		optionalTime(run.StartedAt),
		optionalTime(run.FinishedAt),
		run.Note,
	)
	if err != nil {
		return fmt.Errorf("upsert run %s/%s: %w", run.RunID, run.Stream, err)
	}
	return nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
