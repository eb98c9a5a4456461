package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

// recordColumns are the entity columns shared by the raw and canonical tables.
const recordColumns = `entity_id, forum_name, display_name, level, gear_score, item_level,
	class, race, guild, kill_count, achievement_points, char_online, account_online`

const recordUpdates = `forum_name = excluded.forum_name,
	display_name = excluded.display_name,
	level = excluded.level,
	gear_score = excluded.gear_score,
	item_level = excluded.item_level,
	class = excluded.class,
	race = excluded.race,
	guild = excluded.guild,
	kill_count = excluded.kill_count,
	achievement_points = excluded.achievement_points,
	char_online = excluded.char_online,
	account_online = excluded.account_online`

var rawTables = map[crawler.StreamID]string{
	crawler.StreamPlaytime: "playtime_data",
	crawler.StreamName:     "name_data",
}

// TechStore is the durable intermediate store: checkpoints, the per-stream raw
// tables, the stream sequence counters, and run history.
type TechStore struct {
	db   *sql.DB
	path string
}

// OpenTech opens (creating if needed) the tech database at path.
func OpenTech(path string) (*TechStore, error) {
	db, err := open(path, techMigrations)
	if err != nil {
		return nil, err
	}
	return &TechStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *TechStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *TechStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close tech db: %w", err)
	}
	return nil
}

// GetCheckpoint returns the stream checkpoint, or a fresh active one when the
// stream has none.
func (s *TechStore) GetCheckpoint(ctx context.Context, stream crawler.StreamID) (crawler.Checkpoint, error) {
	var (
		cp         crawler.Checkpoint
		status     string
		lastUpdate sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_processed_page, total_pages, characters_count, status, last_update
		FROM scan_progress WHERE data_type = ?`, string(stream),
	).Scan(&cp.LastProcessedPage, &cp.TotalPages, &cp.RecordCount, &status, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Checkpoint{Status: crawler.StatusActive}, nil
	}
	if err != nil {
		return crawler.Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", stream, err)
	}
	cp.Status = crawler.Status(status)
	if cp.LastUpdate, err = parseTime(lastUpdate); err != nil {
		return crawler.Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", stream, err)
	}
	return cp, nil
}

// PutCheckpoint upserts the stream checkpoint.
func (s *TechStore) PutCheckpoint(ctx context.Context, stream crawler.StreamID, cp crawler.Checkpoint) error {
	if err := putCheckpoint(ctx, s.db, stream, cp); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", stream, err)
	}
	return nil
}

// ListCheckpoints returns every stored checkpoint keyed by stream.
func (s *TechStore) ListCheckpoints(ctx context.Context) (map[crawler.StreamID]crawler.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_type, last_processed_page, total_pages, characters_count, status, last_update
		FROM scan_progress ORDER BY data_type`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	out := make(map[crawler.StreamID]crawler.Checkpoint)
	for rows.Next() {
		var (
			stream, status string
			lastUpdate     sql.NullString
			cp             crawler.Checkpoint
		)
		if err := rows.Scan(&stream, &cp.LastProcessedPage, &cp.TotalPages, &cp.RecordCount, &status, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.Status = crawler.Status(status)
		if cp.LastUpdate, err = parseTime(lastUpdate); err != nil {
			return nil, err
		}
		out[crawler.StreamID(stream)] = cp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putCheckpoint(ctx context.Context, db execer, stream crawler.StreamID, cp crawler.Checkpoint) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO scan_progress
			(data_type, last_processed_page, total_pages, characters_count, status, last_update)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (data_type) DO UPDATE SET
			last_processed_page = excluded.last_processed_page,
			total_pages = excluded.total_pages,
			characters_count = excluded.characters_count,
			status = excluded.status,
			last_update = excluded.last_update`,
		string(stream), cp.LastProcessedPage, cp.TotalPages, cp.RecordCount, string(cp.Status), formatTime(cp.LastUpdate),
	)
	return err
}

// CommitPage writes the page's records, any sequence advances, and the next
// checkpoint in one transaction. Each record is wrapped in a savepoint so a
// failing record is rolled back alone and reported in the result.
//
// For sequenced streams a record keeps its sequence id when it is replayed
// from the same page (a resume after a crash), and takes the next id when it
// is seen on a different page.
func (s *TechStore) CommitPage(ctx context.Context, commit crawler.PageCommit) (res crawler.CommitResult, err error) {
	table, ok := rawTables[commit.Stream]
	if !ok {
		return crawler.CommitResult{}, fmt.Errorf("commit page: unknown stream %q", commit.Stream)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return crawler.CommitResult{}, fmt.Errorf("begin page tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rec := range commit.Records {
		if recErr := s.saveRecord(ctx, tx, table, commit, rec); recErr != nil {
			res.Failures = append(res.Failures, crawler.RecordFailure{EntityID: rec.EntityID, Err: recErr})
			continue
		}
		res.Saved++
	}

	cp := commit.Checkpoint
	cp.RecordCount += int64(res.Saved)
	if err = putCheckpoint(ctx, tx, commit.Stream, cp); err != nil {
		return crawler.CommitResult{}, fmt.Errorf("write checkpoint for page %d: %w", commit.PageIndex, err)
	}
	if err = tx.Commit(); err != nil {
		return crawler.CommitResult{}, fmt.Errorf("commit page %d: %w", commit.PageIndex, err)
	}
	res.Checkpoint = cp
	return res, nil
}

func (s *TechStore) saveRecord(
	ctx context.Context,
	tx *sql.Tx,
	table string,
	commit crawler.PageCommit,
	rec crawler.Record,
) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT record"); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	var err error
	if commit.Sequenced {
		err = upsertSequenced(ctx, tx, table, commit.Stream, commit.PageIndex, rec)
	} else {
		err = upsertPlain(ctx, tx, table, commit.PageIndex, rec)
	}
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO record"); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		_, _ = tx.ExecContext(ctx, "RELEASE record")
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE record"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func recordArgs(rec crawler.Record) []any {
	return []any{
		rec.EntityID, rec.ForumName, rec.DisplayName, rec.Level, rec.GearScore, rec.ItemLevel,
		rec.Class, rec.Race, rec.Guild, rec.KillCount, rec.AchievementPoints,
		boolInt(rec.CharOnline), boolInt(rec.AccountOnline),
	}
}

func upsertPlain(ctx context.Context, tx *sql.Tx, table string, page int, rec crawler.Record) error {
	query := `INSERT INTO ` + table + ` (` + recordColumns + `, page_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET ` + recordUpdates + `,
		page_number = excluded.page_number`
	if _, err := tx.ExecContext(ctx, query, append(recordArgs(rec), page)...); err != nil {
		return fmt.Errorf("upsert %s entity %d: %w", table, rec.EntityID, err)
	}
	return nil
}

func upsertSequenced(
	ctx context.Context,
	tx *sql.Tx,
	table string,
	stream crawler.StreamID,
	page int,
	rec crawler.Record,
) error {
	var prevPage int
	err := tx.QueryRowContext(ctx,
		`SELECT page_number FROM `+table+` WHERE entity_id = ?`, rec.EntityID,
	).Scan(&prevPage)
	switch {
	case err == nil && prevPage == page:
		return updateReplayed(ctx, tx, table, rec)
	case err == nil, errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("lookup %s entity %d: %w", table, rec.EntityID, err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO stream_sequences (data_type, last_value) VALUES (?, 1)
		ON CONFLICT (data_type) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value`, string(stream),
	).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence for %s: %w", stream, err)
	}
	query := `INSERT INTO ` + table + ` (` + recordColumns + `, page_number, sequence_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET ` + recordUpdates + `,
		page_number = excluded.page_number,
		sequence_id = excluded.sequence_id`
	if _, err := tx.ExecContext(ctx, query, append(recordArgs(rec), page, seq)...); err != nil {
		return fmt.Errorf("upsert %s entity %d: %w", table, rec.EntityID, err)
	}
	return nil
}

// updateReplayed overwrites the fields of a row seen again on its own page.
// The row keeps its sequence id and page number.
func updateReplayed(ctx context.Context, tx *sql.Tx, table string, rec crawler.Record) error {
	query := `UPDATE ` + table + ` SET
		forum_name = ?, display_name = ?, level = ?, gear_score = ?, item_level = ?,
		class = ?, race = ?, guild = ?, kill_count = ?, achievement_points = ?,
		char_online = ?, account_online = ?
		WHERE entity_id = ?`
	args := append(recordArgs(rec)[1:], rec.EntityID)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s entity %d: %w", table, rec.EntityID, err)
	}
	return nil
}

// CountRecords returns the number of rows in the stream's raw table.
func (s *TechStore) CountRecords(ctx context.Context, stream crawler.StreamID) (int64, error) {
	table, ok := rawTables[stream]
	if !ok {
		return 0, fmt.Errorf("count records: unknown stream %q", stream)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// ScanRecords streams the raw table: playtime rows in sequence order, name
// rows in entity order. fn must not use the tech store; its only connection
// is busy until the scan finishes.
func (s *TechStore) ScanRecords(ctx context.Context, stream crawler.StreamID, fn func(crawler.RawRecord) error) error {
	table, ok := rawTables[stream]
	if !ok {
		return fmt.Errorf("scan records: unknown stream %q", stream)
	}
	seqCol, order := "NULL", "entity_id"
	if stream == crawler.StreamPlaytime {
		seqCol, order = "sequence_id", "sequence_id, entity_id"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`, page_number, `+seqCol+`
		FROM `+table+` ORDER BY `+order)
	if err != nil {
		return fmt.Errorf("scan %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rec crawler.RawRecord
			seq sql.NullInt64
		)
		if err := rows.Scan(
			&rec.EntityID, &rec.ForumName, &rec.DisplayName, &rec.Level, &rec.GearScore, &rec.ItemLevel,
			&rec.Class, &rec.Race, &rec.Guild, &rec.KillCount, &rec.AchievementPoints,
			&rec.CharOnline, &rec.AccountOnline, &rec.PageNumber, &seq,
		); err != nil {
			return fmt.Errorf("scan %s row: %w", table, err)
		}
		if seq.Valid {
			v := seq.Int64
			rec.SequenceID = &v
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", table, err)
	}
	return nil
}
