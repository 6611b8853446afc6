package report

import (
	"net/http"

	"github.com/noah-isme/catalog-pricing/internal/common"
)

// Handler exposes margin reporting endpoints.
type Handler struct {
	Svc          *Service
	MaxBodyBytes int64
}

// Margin handles POST /api/v1/reports/margin.
func (h *Handler) Margin(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORT_NOT_CONFIGURED", "report service not configured", nil)
		return
	}
	var req MarginRequest
	if err := common.DecodeJSON(w, r, &req, h.MaxBodyBytes); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.Svc.Margin(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}
