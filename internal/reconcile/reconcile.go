// Package reconcile merges the per-stream raw tables into the canonical
// dataset.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

// ErrNothingToMerge is returned when neither stream persisted any record.
var ErrNothingToMerge = errors.New("both raw stores are empty")

// DuplicateRank is a rank carried by more than one canonical row.
type DuplicateRank struct {
	Rank  int64
	Count int
}

// Report summarizes one merge.
type Report struct {
	Total    int64
	BySource map[crawler.Source]int64
	// SkippedB counts stream B rows whose entity was already merged from A.
	SkippedB       int64
	Ranked         int64
	MinRank        int64
	MaxRank        int64
	DuplicateRanks []DuplicateRank
	ScanDate       time.Time
	Duration       time.Duration
}

// Reconciler is the single writer of the canonical store.
type Reconciler struct {
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Reconciler. A nil clock uses wall time.
func New(clock crawler.Clock, logger *zap.Logger) *Reconciler {
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{clock: clock, logger: logger}
}

// Merge rebuilds the canonical store from raw. Stream A rows always win and
// carry their sequence id as rank; stream B only adds entities A never saw.
// The whole merge is one transaction.
func (r *Reconciler) Merge(ctx context.Context, raw crawler.RawSource, dst crawler.CanonicalStore) (rep Report, err error) {
	start := time.Now()
	countA, err := raw.CountRecords(ctx, crawler.StreamPlaytime)
	if err != nil {
		return Report{}, fmt.Errorf("count stream A: %w", err)
	}
	countB, err := raw.CountRecords(ctx, crawler.StreamName)
	if err != nil {
		return Report{}, fmt.Errorf("count stream B: %w", err)
	}
	if countA == 0 && countB == 0 {
		return Report{}, ErrNothingToMerge
	}

	tx, err := dst.Begin(ctx)
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Warn("merge rollback failed", zap.Error(rbErr))
			}
		}
	}()
	if err = tx.Reset(ctx); err != nil {
		return Report{}, err
	}

	rep = Report{
		BySource: map[crawler.Source]int64{crawler.SourceA: 0, crawler.SourceB: 0},
		ScanDate: r.clock.Now().UTC(),
	}
	ranks := make(map[int64]int)

	err = raw.ScanRecords(ctx, crawler.StreamPlaytime, func(row crawler.RawRecord) error {
		rec := crawler.CanonicalRecord{
			Record:   row.Record,
			Source:   crawler.SourceA,
			ScanDate: rep.ScanDate,
			Rank:     row.SequenceID,
		}
		if err := tx.Upsert(ctx, rec); err != nil {
			return err
		}
		rep.BySource[crawler.SourceA]++
		if row.SequenceID != nil {
			ranks[*row.SequenceID]++
		} else {
			r.logger.Warn("stream A row without sequence id", zap.Int64("entity_id", row.EntityID))
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("merge stream A: %w", err)
	}

	err = raw.ScanRecords(ctx, crawler.StreamName, func(row crawler.RawRecord) error {
		found, err := tx.Contains(ctx, row.EntityID)
		if err != nil {
			return err
		}
		if found {
			rep.SkippedB++
			return nil
		}
		rep.BySource[crawler.SourceB]++
		return tx.Insert(ctx, crawler.CanonicalRecord{
			Record:   row.Record,
			Source:   crawler.SourceB,
			ScanDate: rep.ScanDate,
		})
	})
	if err != nil {
		return Report{}, fmt.Errorf("merge stream B: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return Report{}, err
	}

	summarizeRanks(&rep, ranks)
	rep.Total = rep.BySource[crawler.SourceA] + rep.BySource[crawler.SourceB]
	rep.Duration = time.Since(start)

	for _, dup := range rep.DuplicateRanks {
		r.logger.Warn("duplicate rank in canonical store",
			zap.Int64("rank", dup.Rank),
			zap.Int("rows", dup.Count),
		)
	}
	r.logger.Info("merge complete",
		zap.Int64("total", rep.Total),
		zap.Int64("source_a", rep.BySource[crawler.SourceA]),
		zap.Int64("source_b", rep.BySource[crawler.SourceB]),
		zap.Int64("ranked", rep.Ranked),
		zap.Int64("min_rank", rep.MinRank),
		zap.Int64("max_rank", rep.MaxRank),
		zap.Int("duplicate_ranks", len(rep.DuplicateRanks)),
		zap.Duration("duration", rep.Duration),
	)
	return rep, nil
}

func summarizeRanks(rep *Report, ranks map[int64]int) {
	first := true
	for rank, n := range ranks {
		rep.Ranked += int64(n)
		if first || rank < rep.MinRank {
			rep.MinRank = rank
		}
		if first || rank > rep.MaxRank {
			rep.MaxRank = rank
		}
		first = false
		if n > 1 {
			rep.DuplicateRanks = append(rep.DuplicateRanks, DuplicateRank{Rank: rank, Count: n})
		}
	}
	slices.SortFunc(rep.DuplicateRanks, func(a, b DuplicateRank) int {
		return cmp.Compare(a.Rank, b.Rank)
	})
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
