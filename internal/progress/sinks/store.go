package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/doublescout/internal/crawler"
	"github.com/JakeFAU/doublescout/internal/progress"
)

// RunRepository persists per-stream run history. Each upsert carries one
// batch: Pages counts the pages in that batch, the other fields are the
// latest known values.
type RunRepository interface {
	UpsertRunStream(ctx context.Context, run crawler.RunStream) error
}

// StoreSink records stream lifecycle events into the run history table so
// `status` can show what past runs did. Page events are folded into the
// stream row rather than stored individually.
type StoreSink struct {
	repo   RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses the batch into one row per (run, stream) and upserts it.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	rows := make(map[streamKey]*crawler.RunStream)
	order := make([]streamKey, 0, 2)
	for _, evt := range batch {
		if evt.Stream == "" {
			continue
		}
		key := streamKey{run: evt.RunID, stream: evt.Stream}
		row, ok := rows[key]
		if !ok {
			row = &crawler.RunStream{
				RunID:  evt.RunUUID(),
				Stream: crawler.StreamID(evt.Stream),
				Status: crawler.StatusActive,
			}
			rows[key] = row
			order = append(order, key)
		}
		applyEvent(row, evt)
	}
	for _, key := range order {
		if err := s.repo.UpsertRunStream(ctx, *rows[key]); err != nil {
			return fmt.Errorf("upsert run stream: %w", err)
		}
	}
	return nil
}

func applyEvent(row *crawler.RunStream, evt progress.Event) {
	switch evt.Stage {
	case progress.StageStreamStart:
		row.StartPage = evt.Page
		row.StartedAt = evt.TS
		row.Page = evt.Page
	case progress.StagePageDone:
		row.Pages++
		row.Page = evt.Page
		row.Records = evt.Cumulative
	case progress.StageStreamDone, progress.StageStreamError:
		row.Status = crawler.Status(evt.Status)
		row.Page = evt.Page
		row.Records = evt.Cumulative
		row.FinishedAt = evt.TS
		row.Note = evt.Note
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
