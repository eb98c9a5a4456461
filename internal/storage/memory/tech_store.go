// Package memory provides in-memory tech and canonical stores with the same
// semantics as the SQLite stores.
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

// TechStore is an in-memory crawler.TechStore and crawler.RawSource.
type TechStore struct {
	mu          sync.RWMutex
	checkpoints map[crawler.StreamID]crawler.Checkpoint
	records     map[crawler.StreamID]map[int64]crawler.RawRecord
	sequences   map[crawler.StreamID]int64
	rejects     map[int64]error
	commitErr   error
	commits     int
}

// NewTechStore constructs an empty TechStore.
func NewTechStore() *TechStore {
	return &TechStore{
		checkpoints: make(map[crawler.StreamID]crawler.Checkpoint),
		records:     make(map[crawler.StreamID]map[int64]crawler.RawRecord),
		sequences:   make(map[crawler.StreamID]int64),
		rejects:     make(map[int64]error),
	}
}

// GetCheckpoint returns the stream checkpoint, or a fresh active one.
func (s *TechStore) GetCheckpoint(_ context.Context, stream crawler.StreamID) (crawler.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[stream]
	if !ok {
		return crawler.Checkpoint{Status: crawler.StatusActive}, nil
	}
	return cp, nil
}

// PutCheckpoint overwrites the stream checkpoint.
func (s *TechStore) PutCheckpoint(_ context.Context, stream crawler.StreamID, cp crawler.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[stream] = cp
	return nil
}

// CommitPage applies a page atomically. Records registered with RejectEntity
// fail individually without affecting the rest of the page.
func (s *TechStore) CommitPage(_ context.Context, commit crawler.PageCommit) (crawler.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return crawler.CommitResult{}, s.commitErr
	}
	rows := s.records[commit.Stream]
	if rows == nil {
		rows = make(map[int64]crawler.RawRecord)
		s.records[commit.Stream] = rows
	}
	var res crawler.CommitResult
	for _, rec := range commit.Records {
		if err := s.rejects[rec.EntityID]; err != nil {
			res.Failures = append(res.Failures, crawler.RecordFailure{EntityID: rec.EntityID, Err: err})
			continue
		}
		raw := crawler.RawRecord{Record: rec, PageNumber: commit.PageIndex}
		if commit.Sequenced {
			prev, seen := rows[rec.EntityID]
			if seen && prev.PageNumber == commit.PageIndex && prev.SequenceID != nil {
				raw.SequenceID = prev.SequenceID
			} else {
				s.sequences[commit.Stream]++
				seq := s.sequences[commit.Stream]
				raw.SequenceID = &seq
			}
		}
		rows[rec.EntityID] = raw
		res.Saved++
	}
	cp := commit.Checkpoint
	cp.RecordCount += int64(res.Saved)
	s.checkpoints[commit.Stream] = cp
	res.Checkpoint = cp
	s.commits++
	return res, nil
}

// CountRecords returns the number of stored records for the stream.
func (s *TechStore) CountRecords(_ context.Context, stream crawler.StreamID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records[stream])), nil
}

// ScanRecords visits records in sequence order, or entity order when the
// stream is not sequenced.
func (s *TechStore) ScanRecords(
	ctx context.Context,
	stream crawler.StreamID,
	fn func(crawler.RawRecord) error,
) error {
	for _, rec := range s.Records(stream) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", stream, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Records returns a sorted copy of the stream's records.
func (s *TechStore) Records(stream crawler.StreamID) []crawler.RawRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.records[stream]))
	slices.SortFunc(out, func(a, b crawler.RawRecord) int {
		if a.SequenceID != nil && b.SequenceID != nil && *a.SequenceID != *b.SequenceID {
			return cmp.Compare(*a.SequenceID, *b.SequenceID)
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})
	return out
}

// PutRaw stores a record verbatim, sequence id included. It exists to set up
// states a crawl would not normally produce.
func (s *TechStore) PutRaw(stream crawler.StreamID, rec crawler.RawRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.records[stream]
	if rows == nil {
		rows = make(map[int64]crawler.RawRecord)
		s.records[stream] = rows
	}
	rows[rec.EntityID] = rec
}

// RejectEntity makes every future write of the entity fail with err.
func (s *TechStore) RejectEntity(entityID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = errors.New("rejected")
	}
	s.rejects[entityID] = err
}

// FailCommits makes every future CommitPage fail with err; nil clears it.
func (s *TechStore) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// Commits returns the number of successful page commits.
func (s *TechStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}
