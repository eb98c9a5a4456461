package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doublescout/internal/progress"
)

// DriverConfig tunes a Driver.
type DriverConfig struct {
	// RunID tags every progress event emitted by the driver.
	RunID [16]byte
	// MaxPagesPerRun caps how many pages one Run fetches. Zero means no cap.
	// A stream that hits the cap ends as interrupted.
	MaxPagesPerRun int
}

// Driver runs one stream from its checkpoint to the last page, an error, or
// cancellation. Pages are processed strictly in order and a page is fetched
// only after the previous one is committed.
type Driver struct {
	fetcher Fetcher
	decoder Decoder
	store   TechStore
	pacer   Pacer
	clock   Clock
	emitter progress.Emitter
	cfg     DriverConfig
	logger  *zap.Logger
}

// NewDriver wires a Driver. Nil pacer, clock, emitter, and logger fall back to
// no delay, wall time, discarded events, and a no-op logger.
func NewDriver(
	fetcher Fetcher,
	decoder Decoder,
	store TechStore,
	pacer Pacer,
	clock Clock,
	emitter progress.Emitter,
	cfg DriverConfig,
	logger *zap.Logger,
) *Driver {
	if pacer == nil {
		pacer = noDelay{}
	}
	if clock == nil {
		clock = wallClock{}
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		fetcher: fetcher,
		decoder: decoder,
		store:   store,
		pacer:   pacer,
		clock:   clock,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run drives the stream described by spec over the pages described by plan.
//
// Cancellation of ctx is observed only between pages: the page in flight is
// fetched, committed, and checkpointed with a context that ignores
// cancellation, then the loop exits with status stopped. A returned error
// means the stream ended in status error; the result is populated either way.
func (d *Driver) Run(ctx context.Context, spec StreamSpec, plan Plan) (StreamResult, error) {
	work := context.WithoutCancel(ctx)
	logger := d.logger.With(zap.String("stream", string(spec.ID)))
	result := StreamResult{Stream: spec.ID}

	if plan.PageSize <= 0 {
		err := fmt.Errorf("stream %s: page size must be positive, got %d", spec.ID, plan.PageSize)
		result.Status, result.Err = StatusError, err
		return result, err
	}

	cp, err := d.store.GetCheckpoint(work, spec.ID)
	if err != nil {
		err = fmt.Errorf("stream %s: load checkpoint: %w", spec.ID, err)
		result.Status, result.Err = StatusError, err
		return result, err
	}
	if cp.Status.Done() {
		logger.Info("stream already completed, skipping",
			zap.Int("last_processed_page", cp.LastProcessedPage),
			zap.Int64("records", cp.RecordCount),
		)
		result.Status = StatusCompleted
		result.Checkpoint = cp
		result.AlreadyDone = true
		return result, nil
	}

	cursor := cp.LastProcessedPage
	cp.TotalPages = plan.TotalPages
	result.Resumed = cursor > 0
	if result.Resumed {
		logger.Info("resuming stream",
			zap.Int("page", cursor),
			zap.String("previous_status", string(cp.Status)),
			zap.Int64("records", cp.RecordCount),
		)
	} else {
		logger.Info("starting stream", zap.Int("total_pages", plan.TotalPages))
	}

	started := d.clock.Now()
	d.emit(progress.Event{
		Stage:      progress.StageStreamStart,
		Stream:     string(spec.ID),
		Page:       cursor,
		TotalPages: plan.TotalPages,
		Cumulative: cp.RecordCount,
	})

	exit := StatusInterrupted
	for cursor <= plan.LastPageIndex {
		if ctx.Err() != nil {
			exit = StatusStopped
			break
		}
		if d.cfg.MaxPagesPerRun > 0 && result.Pages >= d.cfg.MaxPagesPerRun {
			logger.Info("page budget reached", zap.Int("pages", result.Pages), zap.Int("page", cursor))
			exit = StatusInterrupted
			break
		}

		saved, err := d.processPage(work, logger, spec, plan, cursor, &cp)
		if err != nil {
			return d.fail(work, logger, spec, cursor, cp, started, result, err)
		}
		result.Pages++
		result.Saved += int64(saved)
		cursor += plan.PageSize

		if cursor <= plan.LastPageIndex {
			if err := d.pacer.Wait(ctx); err != nil {
				exit = StatusStopped
				break
			}
		}
	}

	status := exit
	if cursor > plan.LastPageIndex {
		status = StatusCompleted
	}
	cp.LastProcessedPage = min(cursor, plan.LastPageIndex)
	cp.Status = status
	cp.LastUpdate = d.clock.Now()
	if err := d.store.PutCheckpoint(work, spec.ID, cp); err != nil {
		err = fmt.Errorf("stream %s: write %s checkpoint: %w", spec.ID, status, err)
		result.Status, result.Checkpoint, result.Err = StatusError, cp, err
		return result, err
	}

	result.Status = status
	result.Checkpoint = cp
	logger.Info("stream finished",
		zap.String("status", string(status)),
		zap.Int("page", cp.LastProcessedPage),
		zap.Int("pages", result.Pages),
		zap.Int64("saved", result.Saved),
		zap.Int64("records", cp.RecordCount),
	)
	d.emit(progress.Event{
		Stage:      progress.StageStreamDone,
		Stream:     string(spec.ID),
		Page:       cp.LastProcessedPage,
		TotalPages: plan.TotalPages,
		Cumulative: cp.RecordCount,
		Status:     string(status),
		Dur:        d.clock.Now().Sub(started),
	})
	return result, nil
}

// processPage fetches, decodes, and commits the page at cursor, updating cp
// with the checkpoint the store wrote.
func (d *Driver) processPage(
	ctx context.Context,
	logger *zap.Logger,
	spec StreamSpec,
	plan Plan,
	cursor int,
	cp *Checkpoint,
) (int, error) {
	resp, err := d.fetcher.Fetch(ctx, FetchRequest{
		Stream:    spec.ID,
		PageIndex: cursor,
		URL:       spec.PageURL(cursor),
	})
	if err != nil {
		return 0, fmt.Errorf("fetch page %d: %w", cursor, err)
	}

	decoded, err := d.decoder.Decode(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("decode page %d: %w", cursor, err)
	}
	if decoded.Found == 0 {
		return 0, fmt.Errorf("page %d: %w", cursor, ErrEmptyPage)
	}
	for _, skipErr := range decoded.Skipped {
		logger.Warn("skipping undecodable row", zap.Int("page", cursor), zap.Error(skipErr))
	}

	next := Checkpoint{
		LastProcessedPage: cursor + plan.PageSize,
		TotalPages:        plan.TotalPages,
		RecordCount:       cp.RecordCount,
		Status:            StatusActive,
		LastUpdate:        d.clock.Now(),
	}
	// The last page completes the stream in the same commit, so the stored
	// page never passes the last index and never moves backwards.
	if next.LastProcessedPage > plan.LastPageIndex {
		next.LastProcessedPage = plan.LastPageIndex
		next.Status = StatusCompleted
	}
	res, err := d.store.CommitPage(ctx, PageCommit{
		Stream:     spec.ID,
		Sequenced:  spec.Sequenced,
		PageIndex:  cursor,
		Records:    decoded.Records,
		Checkpoint: next,
	})
	if err != nil {
		return 0, fmt.Errorf("commit page %d: %w", cursor, err)
	}
	for _, failure := range res.Failures {
		logger.Warn("record not saved",
			zap.Int("page", cursor),
			zap.Int64("entity_id", failure.EntityID),
			zap.Error(failure.Err),
		)
	}
	*cp = res.Checkpoint

	logger.Debug("page committed",
		zap.Int("page", cursor),
		zap.Int("found", decoded.Found),
		zap.Int("saved", res.Saved),
		zap.Int64("records", cp.RecordCount),
		zap.Int("attempts", resp.Attempts),
	)
	d.emit(progress.Event{
		Stage:      progress.StagePageDone,
		Stream:     string(spec.ID),
		Page:       cursor,
		TotalPages: plan.TotalPages,
		Records:    int64(res.Saved),
		Cumulative: cp.RecordCount,
		Bytes:      int64(len(resp.Body)),
		Attempts:   resp.Attempts,
		Dur:        resp.Duration,
	})
	return res.Saved, nil
}

// fail records an error checkpoint at the page that could not be processed so
// the next run retries it.
func (d *Driver) fail(
	ctx context.Context,
	logger *zap.Logger,
	spec StreamSpec,
	cursor int,
	cp Checkpoint,
	started time.Time,
	result StreamResult,
	cause error,
) (StreamResult, error) {
	cp.LastProcessedPage = cursor
	cp.Status = StatusError
	cp.LastUpdate = d.clock.Now()
	err := fmt.Errorf("stream %s: %w", spec.ID, cause)
	if putErr := d.store.PutCheckpoint(ctx, spec.ID, cp); putErr != nil {
		err = errors.Join(err, fmt.Errorf("write error checkpoint: %w", putErr))
	}
	logger.Error("stream failed",
		zap.Int("page", cursor),
		zap.Int64("records", cp.RecordCount),
		zap.Error(cause),
	)
	d.emit(progress.Event{
		Stage:      progress.StageStreamError,
		Stream:     string(spec.ID),
		Page:       cursor,
		TotalPages: cp.TotalPages,
		Cumulative: cp.RecordCount,
		Status:     string(StatusError),
		Dur:        d.clock.Now().Sub(started),
		Note:       cause.Error(),
	})
	result.Status = StatusError
	result.Checkpoint = cp
	result.Err = err
	return result, err
}

func (d *Driver) emit(evt progress.Event) {
	evt.RunID = d.cfg.RunID
	evt.TS = d.clock.Now()
	d.emitter.Emit(evt)
}

type noDelay struct{}

func (noDelay) Wait(context.Context) error { return nil }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
