package rolluphttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/rollup/internal/hierarchy"
	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/orchestrator"
	"github.com/odyssey-erp/rollup/internal/platform/httpx"
	"github.com/odyssey-erp/rollup/internal/rollup"
	"github.com/odyssey-erp/rollup/internal/runlog"
	"github.com/odyssey-erp/rollup/internal/shared"
	"github.com/odyssey-erp/rollup/internal/syncer"
	"github.com/odyssey-erp/rollup/jobs"
)

// DefaultMaxRebuildDays bounds a synchronous or queued rebuild.
const DefaultMaxRebuildDays = 366

// Runner runs roll-ups for a tenant.
type Runner interface {
	Run(ctx context.Context, tenantID int64, day time.Time, opts orchestrator.Options) (orchestrator.RunResult, error)
	RebuildRange(ctx context.Context, tenantID int64, start, end time.Time, syncToParents bool) (orchestrator.RebuildResult, error)
}

// Syncer pushes a tenant day to its parent.
type Syncer interface {
	SyncToParent(ctx context.Context, tenantID int64, day time.Time) (syncer.Result, error)
}

// Hierarchy manages parent links.
type Hierarchy interface {
	Config(ctx context.Context, tenantID int64) (hierarchy.Config, error)
	Candidates(ctx context.Context, tenantID int64) (hierarchy.Classification, error)
	RequestParent(ctx context.Context, tenantID, parentID int64) (hierarchy.Config, error)
	Approve(ctx context.Context, tenantID int64) (hierarchy.Config, error)
	Reject(ctx context.Context, tenantID int64) (hierarchy.Config, error)
	Cancel(ctx context.Context, tenantID int64) (hierarchy.Config, error)
	UpdateSync(ctx context.Context, tenantID int64, enabled bool, interval hierarchy.SyncInterval) (hierarchy.Config, error)
}

// Enqueuer submits background roll-up tasks.
type Enqueuer interface {
	EnqueueRollupDaily(ctx context.Context, payload jobs.RollupDailyPayload) (*asynq.TaskInfo, error)
	EnqueueRebuild(ctx context.Context, payload jobs.RollupRebuildPayload) (*asynq.TaskInfo, error)
}

// Config wires a Handler. Jobs and RunLog are optional.
type Config struct {
	Runner         Runner
	Syncer         Syncer
	Hierarchy      Hierarchy
	Jobs           Enqueuer
	RunLog         *runlog.Log
	Logger         *slog.Logger
	MaxRebuildDays int
}

// Handler exposes the roll-up admin JSON endpoints.
type Handler struct {
	runner    Runner
	syncer    Syncer
	hierarchy Hierarchy
	jobs      Enqueuer
	runLog    *runlog.Log
	logger    *slog.Logger
	validate  *validator.Validate
	maxDays   int
	now       func() time.Time
}

// NewHandler constructs handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRebuildDays <= 0 {
		cfg.MaxRebuildDays = DefaultMaxRebuildDays
	}
	return &Handler{
		runner:    cfg.Runner,
		syncer:    cfg.Syncer,
		hierarchy: cfg.Hierarchy,
		jobs:      cfg.Jobs,
		runLog:    cfg.RunLog,
		logger:    cfg.Logger,
		validate:  validator.New(),
		maxDays:   cfg.MaxRebuildDays,
		now:       time.Now,
	}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/rollups", func(r chi.Router) {
		r.Get("/logs", h.logs)
		r.Post("/{tenant}/compute", h.compute)
		r.Post("/{tenant}/sync", h.sync)
		r.With(httprate.LimitByIP(10, time.Minute)).Post("/{tenant}/rebuild", h.rebuild)
	})
	r.Route("/hierarchy/{tenant}", func(r chi.Router) {
		r.Get("/", h.config)
		r.Get("/candidates", h.candidates)
		r.Put("/parent", h.requestParent)
		r.Post("/approve", h.transition(Hierarchy.Approve))
		r.Post("/reject", h.transition(Hierarchy.Reject))
		r.Post("/cancel", h.transition(Hierarchy.Cancel))
		r.Put("/sync-settings", h.syncSettings)
	})
}

type acceptedResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func (h *Handler) compute(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.IDParam(r, "tenant")
	if err != nil {
		h.respondError(w, err)
		return
	}
	day, err := h.dayQuery(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	syncParent := boolQuery(r, "sync")
	if boolQuery(r, "async") {
		h.enqueue(w, r, func(ctx context.Context, q Enqueuer) (*asynq.TaskInfo, error) {
			return q.EnqueueRollupDaily(ctx, jobs.RollupDailyPayload{
				TenantID: tenantID,
				Date:     day.Format(time.DateOnly),
				Sync:     syncParent,
			})
		})
		return
	}

	key := fmt.Sprintf("compute:%d:%s:%t", tenantID, day.Format(time.DateOnly), syncParent)
	val, err, collapsed := singleflightRun(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.runner.Run(ctx, tenantID, day, orchestrator.Options{SyncToParent: syncParent})
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	res := val.(orchestrator.RunResult)
	h.logger.Info("rollup compute",
		slog.Int64("tenant_id", tenantID),
		slog.String("date", res.Date),
		slog.String("state", string(res.State)),
		slog.Bool("shared", collapsed),
	)
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.IDParam(r, "tenant")
	if err != nil {
		h.respondError(w, err)
		return
	}
	day, err := h.dayQuery(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	res, err := h.syncer.SyncToParent(r.Context(), tenantID, day)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type rebuildRequest struct {
	From  string `json:"from" validate:"required,datetime=2006-01-02"`
	To    string `json:"to" validate:"required,datetime=2006-01-02"`
	Sync  bool   `json:"sync"`
	Async bool   `json:"async"`
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.IDParam(r, "tenant")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req rebuildRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	from, _ := shared.ParseDay(req.From)
	to, _ := shared.ParseDay(req.To)
	if to.Before(from) {
		h.respondError(w, orchestrator.ErrInvalidRange)
		return
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > h.maxDays {
		h.respondError(w, fmt.Errorf("%w: range of %d days exceeds %d", httpx.ErrValidation, days, h.maxDays))
		return
	}
	if req.Async {
		h.enqueue(w, r, func(ctx context.Context, q Enqueuer) (*asynq.TaskInfo, error) {
			return q.EnqueueRebuild(ctx, jobs.RollupRebuildPayload{TenantID: tenantID, From: req.From, To: req.To, Sync: req.Sync})
		})
		return
	}
	res, err := h.runner.RebuildRange(r.Context(), tenantID, from, to, req.Sync)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	kind := runlog.Kind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		kind = runlog.KindRun
	}
	if !kind.Valid() {
		h.respondError(w, fmt.Errorf("%w: unknown log kind %q", httpx.ErrValidation, kind))
		return
	}
	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			h.respondError(w, fmt.Errorf("%w: invalid limit %q", httpx.ErrValidation, raw))
			return
		}
		limit = n
	}
	entries, err := h.runLog.Recent(r.Context(), kind, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"kind": kind, "entries": entries})
}

func (h *Handler) config(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.IDParam(r, "tenant")
	if err != nil {
		h.respondError(w, err)
		return
	}
	cfg, err := h.hierarchy.Config(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) candidates(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.IDParam(r, "tenant")
	if err != nil {
		h.respondError(w, err)
		return
	}
	c, err := h.hierarchy.Candidates(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type parentRequest struct {
	ParentTenantID int64 `json:"parent_tenant_id" validate:"required,gt=0"`
}

func (h *Handler) requestParent(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.IDParam(r, "tenant")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req parentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	cfg, err := h.hierarchy.RequestParent(r.Context(), tenantID, req.ParentTenantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) transition(fn func(Hierarchy, context.Context, int64) (hierarchy.Config, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := httpx.IDParam(r, "tenant")
		if err != nil {
			h.respondError(w, err)
			return
		}
		cfg, err := fn(h.hierarchy, r.Context(), tenantID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, cfg)
	}
}

type syncSettingsRequest struct {
	SyncEnabled  *bool  `json:"sync_enabled" validate:"required"`
	SyncInterval string `json:"sync_interval" validate:"required,oneof=hourly twicedaily daily"`
}

func (h *Handler) syncSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.IDParam(r, "tenant")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req syncSettingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	cfg, err := h.hierarchy.UpdateSync(r.Context(), tenantID, *req.SyncEnabled, hierarchy.SyncInterval(req.SyncInterval))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, fn func(context.Context, Enqueuer) (*asynq.TaskInfo, error)) {
	if h.jobs == nil {
		h.respondError(w, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
		return
	}
	info, err := fn(r.Context(), h.jobs)
	if err != nil {
		h.logger.Warn("enqueue rollup task", slog.Any("error", err))
		h.respondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	res := acceptedResponse{Queue: jobs.QueueDefault}
	if info != nil {
		res.TaskID = info.ID
		res.Queue = info.Queue
	}
	httpx.JSON(w, http.StatusAccepted, res)
}

// dayQuery reads ?date=, defaulting to today in UTC.
func (h *Handler) dayQuery(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return shared.Day(h.now()), nil
	}
	return shared.ParseDay(raw)
}

func boolQuery(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidDate),
		errors.Is(err, orchestrator.ErrInvalidRange),
		errors.Is(err, rollup.ErrInvalidTenant),
		errors.Is(err, hierarchy.ErrInvalidInterval):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, hierarchy.ErrConfigNotFound),
		errors.Is(err, hierarchy.ErrShopNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, orchestrator.ErrRunInProgress),
		errors.Is(err, hierarchy.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, hierarchy.ErrSelfParent),
		errors.Is(err, hierarchy.ErrCycleDetected),
		errors.Is(err, hierarchy.ErrRedundantParent):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Parent", err.Error())
	case errors.Is(err, ledger.ErrSourceUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
	default:
		if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrUnavailable) {
			h.logger.Error("rollup http", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
