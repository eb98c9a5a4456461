package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

const defaultBatchSize = 1000

// Columns written by the exporter, in CopyFrom order.
var exportColumns = []string{
	"entity_id", "forum_name", "display_name", "level", "gear_score", "item_level",
	"class", "race", "guild", "kill_count", "achievement_points", "char_online", "account_online",
	"source", "scan_date", "rank",
}

// CanonicalSource streams canonical rows.
type CanonicalSource interface {
	ScanCanonical(ctx context.Context, fn func(crawler.CanonicalRecord) error) error
}

// Exporter replaces a Postgres table with the canonical dataset.
type Exporter struct {
	pool      Pool
	table     string
	batchSize int
}

// NewExporter constructs an Exporter writing to table on pool.
func NewExporter(pool Pool, table string) (*Exporter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "characters"
	}
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return &Exporter{pool: pool, table: table, batchSize: defaultBatchSize}, nil
}

// Export truncates the table and copies every canonical row into it in one
// transaction. It returns the number of rows copied.
func (e *Exporter) Export(ctx context.Context, src CanonicalSource) (n int64, err error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin export: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf(createCharactersTable, e.table)); err != nil {
		return 0, fmt.Errorf("create %s: %w", e.table, err)
	}
	if _, err = tx.Exec(ctx, fmt.Sprintf("TRUNCATE %s", e.table)); err != nil {
		return 0, fmt.Errorf("truncate %s: %w", e.table, err)
	}

	batch := make([][]any, 0, e.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{e.table}, exportColumns, pgx.CopyFromRows(batch))
		if err != nil {
			return fmt.Errorf("copy into %s: %w", e.table, err)
		}
		n += copied
		batch = batch[:0]
		return nil
	}
	err = src.ScanCanonical(ctx, func(rec crawler.CanonicalRecord) error {
		batch = append(batch, exportRow(rec))
		if len(batch) >= e.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err = flush(); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit export: %w", err)
	}
	return n, nil
}

func exportRow(rec crawler.CanonicalRecord) []any {
	var rank *int64
	if rec.Rank != nil {
		v := *rec.Rank
		rank = &v
	}
	return []any{
		rec.EntityID, rec.ForumName, rec.DisplayName, rec.Level, rec.GearScore, rec.ItemLevel,
		rec.Class, rec.Race, rec.Guild, rec.KillCount, rec.AchievementPoints, rec.CharOnline, rec.AccountOnline,
		string(rec.Source), rec.ScanDate, rank,
	}
}

const createCharactersTable = `
CREATE TABLE IF NOT EXISTS %s (
	entity_id          BIGINT PRIMARY KEY,
	forum_name         TEXT        NOT NULL,
	display_name       TEXT        NOT NULL,
	level              INTEGER     NOT NULL,
	gear_score         INTEGER     NOT NULL,
	item_level         INTEGER     NOT NULL,
	class              TEXT        NOT NULL,
	race               TEXT        NOT NULL,
	guild              TEXT        NOT NULL,
	kill_count         INTEGER     NOT NULL,
	achievement_points INTEGER     NOT NULL,
	char_online        BOOLEAN     NOT NULL,
	account_online     BOOLEAN     NOT NULL,
	source             TEXT        NOT NULL,
	scan_date          TIMESTAMPTZ NOT NULL,
	rank               BIGINT
)`
