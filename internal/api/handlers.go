package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/starford/tubestack/internal/apperr"
	"github.com/starford/tubestack/internal/embed"
	"github.com/starford/tubestack/internal/ledger"
	"github.com/starford/tubestack/internal/runner"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
	maxBodySize     = 1 << 16
)

// Syncer starts runs. Start must claim the run slot before it returns.
type Syncer interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
	Start(ctx context.Context, req runner.Request) (<-chan *runner.Result, error)
	Running() bool
}

// History reads the run ledger.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]ledger.Run, error)
	LastRun(ctx context.Context) (*ledger.Run, error)
	GetPage(ctx context.Context, videoID string) (*ledger.PageRecord, error)
	PageCount(ctx context.Context) (int, error)
}

var _ Syncer = (*runner.Runner)(nil)

// Handler holds API route handlers.
type Handler struct {
	syncer  Syncer
	history History
	// base outlives requests; background runs use it.
	base    context.Context
	breaker func() string
	logger  *slog.Logger
}

// NewHandler creates a new Handler. Background runs are cancelled with base.
// breaker, when non-nil, reports the wiki circuit breaker state.
func NewHandler(base context.Context, s Syncer, h History, breaker func() string, logger *slog.Logger) *Handler {
	return &Handler{syncer: s, history: h, base: base, breaker: breaker, logger: logger}
}

// ListRuns handles GET /api/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a positive integer"))
			return
		}
		limit = min(n, maxRunLimit)
	}
	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("api: list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// LatestRun handles GET /api/runs/latest.
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.history.LastRun(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("no runs yet"))
			return
		}
		h.logger.Error("api: last run failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetPage handles GET /api/pages/{videoID}.
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "videoID")
	if !embed.ValidID(id) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid video id"))
		return
	}
	rec, err := h.history.GetPage(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Running: h.syncer.Running()}
	if run, err := h.history.LastRun(r.Context()); err == nil {
		resp.LastRun = run
	}
	if n, err := h.history.PageCount(r.Context()); err == nil {
		resp.SyncedPages = n
	}
	if h.breaker != nil {
		resp.BreakerState = h.breaker()
	}
	writeJSON(w, http.StatusOK, resp)
}

// TriggerSync handles POST /api/sync. Without ?wait=true the run continues
// in the background and 202 is returned at once.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		res, err := h.syncer.Run(r.Context(), req)
		switch {
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		case res == nil:
			h.logger.Error("api: sync failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		default:
			writeJSON(w, http.StatusOK, res)
		}
		return
	}

	if _, err := h.syncer.Start(h.base, req); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
			return
		}
		h.logger.Error("api: sync start failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusAccepted, SyncAccepted{Accepted: true, ForceResync: req.ForceResync, DryRun: req.DryRun})
}
