package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/doublescout/internal/progress"
)

// LogSink writes one structured line per progress event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Page events
// are logged at debug level since there is one per listing page.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stream != "" {
			fields = append(fields, zap.String("stream", evt.Stream))
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.Int("total_pages", evt.TotalPages),
				zap.Int64("records", evt.Records),
				zap.Int64("cumulative", evt.Cumulative),
				zap.Int64("bytes", evt.Bytes),
				zap.Int("attempts", evt.Attempts),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("progress event", fields...)
			continue
		case progress.StageStreamDone, progress.StageStreamError:
			fields = append(fields,
				zap.String("status", evt.Status),
				zap.Int("page", evt.Page),
				zap.Int64("cumulative", evt.Cumulative),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageMergeDone:
			fields = append(fields, zap.Int64("records", evt.Records), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
