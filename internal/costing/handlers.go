package costing

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/catalog-pricing/internal/common"
	"github.com/noah-isme/catalog-pricing/internal/order"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

// Handler exposes the cost backfill endpoints.
type Handler struct {
	backfiller *Backfiller
	jobs       *Jobs
	maxBody    int64
}

// HandlerConfig configures the Handler dependencies. Jobs may be nil when no
// queue is available; the async endpoints then answer 503.
type HandlerConfig struct {
	Backfiller   *Backfiller
	Jobs         *Jobs
	MaxBodyBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{backfiller: cfg.Backfiller, jobs: cfg.Jobs, maxBody: cfg.MaxBodyBytes}
}

// BackfillRequest is the body of the backfill endpoints.
type BackfillRequest struct {
	Orders []order.Order `json:"orders" validate:"required,min=1,dive"`
}

// Backfill handles POST /api/v1/costing/backfill.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	if h.backfiller == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "costing service not configured", nil)
		return
	}
	var req BackfillRequest
	if err := common.DecodeJSON(w, r, &req, h.maxBody); err != nil {
		common.WriteError(w, err)
		return
	}
	outcome, err := h.backfiller.Backfill(r.Context(), req.Orders)
	if err != nil {
		if errors.Is(err, pricing.ErrCyclicComposition) {
			common.JSON(w, http.StatusUnprocessableEntity, map[string]any{
				"data": outcome,
				"error": common.ErrorBody{
					Code:    "CYCLIC_COMPOSITION",
					Message: "some lines reference a cyclic product composition",
					Details: splitJoined(err),
				},
			})
			return
		}
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, outcome)
}

// SubmitJob handles POST /api/v1/costing/jobs.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "background jobs are not configured", nil)
		return
	}
	var req BackfillRequest
	if err := common.DecodeJSON(w, r, &req, h.maxBody); err != nil {
		common.WriteError(w, err)
		return
	}
	job, err := h.jobs.Submit(r.Context(), req.Orders)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/costing/jobs/"+job.ID)
	common.Data(w, http.StatusAccepted, job)
}

// GetJob handles GET /api/v1/costing/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "background jobs are not configured", nil)
		return
	}
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrJobNotFound) {
		common.JSONError(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found", nil)
		return
	}
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, job)
}
