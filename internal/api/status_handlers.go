package api

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	statusTimeout   = 3 * time.Second
)

// StatusRepository reads checkpoints and run history.
type StatusRepository interface {
	ListCheckpoints(ctx context.Context) (map[crawler.StreamID]crawler.Checkpoint, error)
	ListRunStreams(ctx context.Context, limit int) ([]crawler.RunStream, error)
	RunStreams(ctx context.Context, runID uuid.UUID) ([]crawler.RunStream, error)
}

// CanonicalSummarizer reports on the merged dataset.
type CanonicalSummarizer interface {
	Summary(ctx context.Context) (crawler.CanonicalSummary, error)
}

// StatusHandler exposes read-only crawl status endpoints.
type StatusHandler struct {
	repo      StatusRepository
	canonical CanonicalSummarizer
	timeout   time.Duration
	logger    *zap.Logger
}

// NewStatusHandler wires the repositories and logger. canonical may be nil.
func NewStatusHandler(repo StatusRepository, canonical CanonicalSummarizer, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		repo:      repo,
		canonical: canonical,
		timeout:   statusTimeout,
		logger:    logger,
	}
}

// ListCheckpoints handles GET /v1/checkpoints and returns
// {"checkpoints": [...]} ordered by stream.
func (h *StatusHandler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cps, err := h.repo.ListCheckpoints(ctx)
	if err != nil {
		h.logger.Error("list checkpoints failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}
	out := make([]checkpointDTO, 0, len(cps))
	for stream, cp := range cps {
		out = append(out, checkpointDTO{
			Stream:            string(stream),
			LastProcessedPage: cp.LastProcessedPage,
			TotalPages:        cp.TotalPages,
			Records:           cp.RecordCount,
			Status:            string(cp.Status),
			LastUpdate:        cp.LastUpdate,
		})
	}
	slices.SortFunc(out, func(a, b checkpointDTO) int { return cmp.Compare(a.Stream, b.Stream) })
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": out})
}

// ListRuns handles GET /v1/runs?limit= and returns {"runs": [...]}, newest
// first, or 400 for an invalid limit.
func (h *StatusHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRunStreams(ctx, limit)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"streams": [...]}, 400 for
// a malformed id, or 404 when the run is unknown.
func (h *StatusHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.RunStreams(ctx, runID)
	if err != nil {
		h.logger.Error("get run failed", zap.Stringer("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if len(runs) == 0 {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID.String(), "streams": toRunDTOs(runs)})
}

// CanonicalSummary handles GET /v1/canonical.
func (h *StatusHandler) CanonicalSummary(w http.ResponseWriter, r *http.Request) {
	if h.canonical == nil {
		writeError(w, http.StatusServiceUnavailable, "canonical store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sum, err := h.canonical.Summary(ctx)
	if err != nil {
		h.logger.Error("canonical summary failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to summarize canonical store")
		return
	}
	dto := canonicalDTO{
		Total:   sum.Total,
		SourceA: sum.BySource[crawler.SourceA],
		SourceB: sum.BySource[crawler.SourceB],
		Ranked:  sum.Ranked,
		MinRank: sum.MinRank,
		MaxRank: sum.MaxRank,
	}
	if !sum.ScanDate.IsZero() {
		dto.ScanDate = &sum.ScanDate
	}
	writeJSON(w, http.StatusOK, dto)
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func toRunDTOs(in []crawler.RunStream) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		dto := runDTO{
			RunID:     run.RunID.String(),
			Stream:    string(run.Stream),
			Status:    string(run.Status),
			StartPage: run.StartPage,
			Page:      run.Page,
			Pages:     run.Pages,
			Records:   run.Records,
			StartedAt: run.StartedAt,
			Note:      run.Note,
		}
		if !run.FinishedAt.IsZero() {
			finished := run.FinishedAt
			dto.FinishedAt = &finished
		}
		out = append(out, dto)
	}
	return out
}

type checkpointDTO struct {
	Stream            string    `json:"stream"`
	LastProcessedPage int       `json:"last_processed_page"`
	TotalPages        int       `json:"total_pages"`
	Records           int64     `json:"characters_count"`
	Status            string    `json:"status"`
	LastUpdate        time.Time `json:"last_update"`
}

type runDTO struct {
	RunID      string     `json:"run_id"`
	Stream     string     `json:"stream"`
	Status     string     `json:"status"`
	StartPage  int        `json:"start_page"`
	Page       int        `json:"page"`
	Pages      int        `json:"pages"`
	Records    int64      `json:"records"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Note       string     `json:"note,omitempty"`
}

type canonicalDTO struct {
	Total    int64      `json:"total"`
	SourceA  int64      `json:"source_a"`
	SourceB  int64      `json:"source_b"`
	Ranked   int64      `json:"ranked"`
	MinRank  int64      `json:"min_rank"`
	MaxRank  int64      `json:"max_rank"`
	ScanDate *time.Time `json:"scan_date,omitempty"`
}
