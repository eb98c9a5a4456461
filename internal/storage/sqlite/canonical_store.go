package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

// CanonicalStore is the final dataset: one row per character.
type CanonicalStore struct {
	db   *sql.DB
	path string
}

// OpenCanonical opens (creating if needed) the canonical database at path.
func OpenCanonical(path string) (*CanonicalStore, error) {
	db, err := open(path, finalMigrations)
	if err != nil {
		return nil, err
	}
	return &CanonicalStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *CanonicalStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *CanonicalStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close canonical db: %w", err)
	}
	return nil
}

// Begin starts a merge transaction.
func (s *CanonicalStore) Begin(ctx context.Context) (crawler.CanonicalTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge tx: %w", err)
	}
	return &canonicalTx{tx: tx}, nil
}

// Count returns the number of canonical rows.
func (s *CanonicalStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM characters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count characters: %w", err)
	}
	return n, nil
}

// Summary aggregates the committed rows by source and rank.
func (s *CanonicalStore) Summary(ctx context.Context) (crawler.CanonicalSummary, error) {
	sum := crawler.CanonicalSummary{BySource: make(map[crawler.Source]int64)}
	var (
		minRank, maxRank sql.NullInt64
		latest           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(rank), MIN(rank), MAX(rank), MAX(scan_date)
		FROM characters`,
	).Scan(&sum.Total, &sum.Ranked, &minRank, &maxRank, &latest)
	if err != nil {
		return crawler.CanonicalSummary{}, fmt.Errorf("summarize characters: %w", err)
	}
	sum.MinRank, sum.MaxRank = minRank.Int64, maxRank.Int64
	if sum.ScanDate, err = parseTime(latest); err != nil {
		return crawler.CanonicalSummary{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM characters GROUP BY source`)
	if err != nil {
		return crawler.CanonicalSummary{}, fmt.Errorf("count by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			src string
			n   int64
		)
		if err := rows.Scan(&src, &n); err != nil {
			return crawler.CanonicalSummary{}, fmt.Errorf("scan source count: %w", err)
		}
		sum.BySource[crawler.Source(src)] = n
	}
	if err := rows.Err(); err != nil {
		return crawler.CanonicalSummary{}, fmt.Errorf("count by source: %w", err)
	}
	return sum, nil
}

// ScanCanonical visits every canonical row: ranked rows in rank order first,
// then unranked rows by entity id.
func (s *CanonicalStore) ScanCanonical(ctx context.Context, fn func(crawler.CanonicalRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`, source, scan_date, rank
		FROM characters
		ORDER BY rank IS NULL, rank, entity_id`)
	if err != nil {
		return fmt.Errorf("scan characters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rec      crawler.CanonicalRecord
			source   string
			scanDate sql.NullString
			rank     sql.NullInt64
		)
		if err := rows.Scan(
			&rec.EntityID, &rec.ForumName, &rec.DisplayName, &rec.Level, &rec.GearScore, &rec.ItemLevel,
			&rec.Class, &rec.Race, &rec.Guild, &rec.KillCount, &rec.AchievementPoints,
			&rec.CharOnline, &rec.AccountOnline, &source, &scanDate, &rank,
		); err != nil {
			return fmt.Errorf("scan character row: %w", err)
		}
		rec.Source = crawler.Source(source)
		if rec.ScanDate, err = parseTime(scanDate); err != nil {
			return err
		}
		if rank.Valid {
			v := rank.Int64
			rec.Rank = &v
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan characters: %w", err)
	}
	return nil
}

type canonicalTx struct {
	tx *sql.Tx
}

func (c *canonicalTx) Reset(ctx context.Context) error {
	if _, err := c.tx.ExecContext(ctx, `DELETE FROM characters`); err != nil {
		return fmt.Errorf("reset characters: %w", err)
	}
	return nil
}

func canonicalArgs(rec crawler.CanonicalRecord) []any {
	var rank any
	if rec.Rank != nil {
		rank = *rec.Rank
	}
	return append(recordArgs(rec.Record), string(rec.Source), formatTime(rec.ScanDate), rank)
}

func (c *canonicalTx) Upsert(ctx context.Context, rec crawler.CanonicalRecord) error {
	_, err := c.tx.ExecContext(ctx, `INSERT INTO characters (`+recordColumns+`, source, scan_date, rank)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET `+recordUpdates+`,
		source = excluded.source,
		scan_date = excluded.scan_date,
		rank = excluded.rank`, canonicalArgs(rec)...)
	if err != nil {
		return fmt.Errorf("upsert character %d: %w", rec.EntityID, err)
	}
	return nil
}

func (c *canonicalTx) Contains(ctx context.Context, entityID int64) (bool, error) {
	var one int
	err := c.tx.QueryRowContext(ctx, `SELECT 1 FROM characters WHERE entity_id = ?`, entityID).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("lookup character %d: %w", entityID, err)
	}
}

func (c *canonicalTx) Insert(ctx context.Context, rec crawler.CanonicalRecord) error {
	_, err := c.tx.ExecContext(ctx, `INSERT INTO characters (`+recordColumns+`, source, scan_date, rank)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, canonicalArgs(rec)...)
	if err != nil {
		return fmt.Errorf("insert character %d: %w", rec.EntityID, err)
	}
	return nil
}

func (c *canonicalTx) Commit() error {
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

func (c *canonicalTx) Rollback() error {
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback merge: %w", err)
	}
	return nil
}
