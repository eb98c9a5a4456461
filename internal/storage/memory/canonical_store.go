package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

var errTxDone = errors.New("transaction already finished")

// CanonicalStore is an in-memory crawler.CanonicalStore. Transactions work on
// a copy that replaces the committed rows on Commit.
type CanonicalStore struct {
	mu   sync.RWMutex
	rows map[int64]crawler.CanonicalRecord
}

// NewCanonicalStore constructs an empty CanonicalStore.
func NewCanonicalStore() *CanonicalStore {
	return &CanonicalStore{rows: make(map[int64]crawler.CanonicalRecord)}
}

// Begin starts a merge transaction.
func (s *CanonicalStore) Begin(context.Context) (crawler.CanonicalTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &canonicalTx{store: s, rows: maps.Clone(s.rows)}, nil
}

// Rows returns committed rows ordered by entity id.
func (s *CanonicalStore) Rows() []crawler.CanonicalRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.rows))
	slices.SortFunc(out, func(a, b crawler.CanonicalRecord) int {
		return cmp.Compare(a.EntityID, b.EntityID)
	})
	return out
}

// Summary aggregates the committed rows by source and rank.
func (s *CanonicalStore) Summary(context.Context) (crawler.CanonicalSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := crawler.CanonicalSummary{BySource: make(map[crawler.Source]int64)}
	for _, row := range s.rows {
		sum.Total++
		sum.BySource[row.Source]++
		if row.ScanDate.After(sum.ScanDate) {
			sum.ScanDate = row.ScanDate
		}
		if row.Rank == nil {
			continue
		}
		if sum.Ranked == 0 || *row.Rank < sum.MinRank {
			sum.MinRank = *row.Rank
		}
		if sum.Ranked == 0 || *row.Rank > sum.MaxRank {
			sum.MaxRank = *row.Rank
		}
		sum.Ranked++
	}
	return sum, nil
}

type canonicalTx struct {
	store *CanonicalStore
	rows  map[int64]crawler.CanonicalRecord
	done  bool
}

func (tx *canonicalTx) Reset(context.Context) error {
	if tx.done {
		return errTxDone
	}
	clear(tx.rows)
	return nil
}

func (tx *canonicalTx) Upsert(_ context.Context, rec crawler.CanonicalRecord) error {
	if tx.done {
		return errTxDone
	}
	tx.rows[rec.EntityID] = rec
	return nil
}

func (tx *canonicalTx) Contains(_ context.Context, entityID int64) (bool, error) {
	if tx.done {
		return false, errTxDone
	}
	_, ok := tx.rows[entityID]
	return ok, nil
}

func (tx *canonicalTx) Insert(_ context.Context, rec crawler.CanonicalRecord) error {
	if tx.done {
		return errTxDone
	}
	if _, ok := tx.rows[rec.EntityID]; ok {
		return fmt.Errorf("entity %d already present", rec.EntityID)
	}
	tx.rows[rec.EntityID] = rec
	return nil
}

func (tx *canonicalTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.rows = tx.rows
	return nil
}

func (tx *canonicalTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return nil
}
