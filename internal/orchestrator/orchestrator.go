// Package orchestrator runs one crawl: page-count discovery, one driver per
// stream in parallel, then the merge into the canonical store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/doublescout/internal/crawler"
	idgen "github.com/JakeFAU/doublescout/internal/id/uuid"
	"github.com/JakeFAU/doublescout/internal/progress"
	"github.com/JakeFAU/doublescout/internal/reconcile"
)

// Config describes what one run crawls.
type Config struct {
	Streams []crawler.StreamSpec
	// DiscoveryURL is probed once for the last page index.
	DiscoveryURL   string
	PageSize       int
	MaxPagesPerRun int
}

// Store is the tech store the drivers write and the reconciler reads.
type Store interface {
	crawler.TechStore
	crawler.RawSource
}

// IDGenerator mints run ids.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Deps holds the collaborators of a run. Only the fetcher, decoder, and
// stores are required.
type Deps struct {
	Fetcher   crawler.Fetcher
	Decoder   crawler.Decoder
	Tech      Store
	Canonical crawler.CanonicalStore
	Pacer     crawler.Pacer
	Clock     crawler.Clock
	Emitter   progress.Emitter
	IDs       IDGenerator
	Logger    *zap.Logger
}

// Summary reports what a run did.
type Summary struct {
	RunID   uuid.UUID
	Plan    crawler.Plan
	Streams []crawler.StreamResult
	Merge   reconcile.Report
	Elapsed time.Duration
}

// Failed returns the streams that ended in error.
func (s Summary) Failed() []crawler.StreamResult {
	var out []crawler.StreamResult
	for _, res := range s.Streams {
		if res.Status == crawler.StatusError {
			out = append(out, res)
		}
	}
	return out
}

// Orchestrator owns the cancellation of a run and the order of its phases.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case len(cfg.Streams) == 0:
		return nil, errors.New("at least one stream is required")
	case cfg.PageSize <= 0:
		return nil, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	case cfg.DiscoveryURL == "":
		return nil, errors.New("discovery url is required")
	case deps.Fetcher == nil || deps.Decoder == nil:
		return nil, errors.New("fetcher and decoder are required")
	case deps.Tech == nil || deps.Canonical == nil:
		return nil, errors.New("tech and canonical stores are required")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: deps.Logger}, nil
}

// Run performs one crawl and merge. Cancelling ctx stops the streams at their
// next page boundary; whatever they persisted is still merged.
//
// The returned error is run-fatal only: discovery failure, a merge failure,
// or reconcile.ErrNothingToMerge. Streams that ended in error are reported in
// the summary.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	runID, err := o.deps.IDs.NewRunID()
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	logger := o.logger.With(zap.Stringer("run_id", runID))
	sum := Summary{RunID: runID}
	o.emit(runID, progress.Event{Stage: progress.StageRunStart})

	plan, err := crawler.DiscoverLastPage(ctx, o.deps.Fetcher, o.cfg.DiscoveryURL, o.cfg.PageSize)
	if err != nil {
		logger.Error("page discovery failed", zap.Error(err))
		return sum, err
	}
	sum.Plan = plan
	logger.Info("listing discovered",
		zap.Int("last_page_index", plan.LastPageIndex),
		zap.Int("total_pages", plan.TotalPages),
		zap.Int("streams", len(o.cfg.Streams)),
	)

	sum.Streams, err = o.runStreams(ctx, runID, plan, logger)
	if err != nil {
		logger.Warn("stream failed, merging what was persisted", zap.Error(err))
	}

	// The merge runs even when the crawl was cancelled.
	mergeCtx := context.WithoutCancel(ctx)
	rep, err := reconcile.New(o.deps.Clock, logger.Named("reconcile")).
		Merge(mergeCtx, o.deps.Tech, o.deps.Canonical)
	sum.Elapsed = time.Since(start)
	if err != nil {
		logger.Error("merge failed", zap.Error(err))
		return sum, fmt.Errorf("merge: %w", err)
	}
	sum.Merge = rep
	o.emit(runID, progress.Event{
		Stage:   progress.StageMergeDone,
		Records: rep.Total,
		Dur:     rep.Duration,
		Note:    fmt.Sprintf("A=%d B=%d", rep.BySource[crawler.SourceA], rep.BySource[crawler.SourceB]),
	})
	return sum, nil
}

func (o *Orchestrator) runStreams(
	ctx context.Context,
	runID uuid.UUID,
	plan crawler.Plan,
	logger *zap.Logger,
) ([]crawler.StreamResult, error) {
	results := make([]crawler.StreamResult, len(o.cfg.Streams))
	// No shared context: a failed stream never cancels its sibling. Wait
	// reports the first stream error once every driver has returned.
	var g errgroup.Group
	for i, spec := range o.cfg.Streams {
		driver := crawler.NewDriver(
			o.deps.Fetcher,
			o.deps.Decoder,
			o.deps.Tech,
			o.deps.Pacer,
			o.deps.Clock,
			o.deps.Emitter,
			crawler.DriverConfig{
				RunID:          progress.UUIDToBytes(runID),
				MaxPagesPerRun: o.cfg.MaxPagesPerRun,
			},
			logger.Named("driver"),
		)
		g.Go(func() error {
			res, err := driver.Run(ctx, spec, plan)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	return results, err
}

func (o *Orchestrator) emit(runID uuid.UUID, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = o.deps.Clock.Now()
	o.deps.Emitter.Emit(evt)
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
