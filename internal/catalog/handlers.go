package catalog

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/catalog-pricing/internal/common"
	"github.com/noah-isme/catalog-pricing/internal/obs"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

// Handler exposes catalog and preview endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Products handles GET /api/v1/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	items, total, err := h.service.List(page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.Header().Set(obs.CatalogVersionHeader, h.service.store.Version())
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.NewPagination(page, perPage, total),
	})
}

// ProductDetail handles GET /api/v1/products/{id}.
func (h *Handler) ProductDetail(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	p, err := h.service.Product(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set(obs.CatalogVersionHeader, h.service.store.Version())
	common.Data(w, http.StatusOK, p)
}

// Price handles GET /api/v1/products/{id}/price?qty=&variant=&mode=.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	q := r.URL.Query()
	qty := 1
	if raw := strings.TrimSpace(q.Get("qty")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "INVALID_QTY", "qty must be an integer", nil)
			return
		}
		qty = v
		if qty == 0 {
			common.JSONError(w, http.StatusBadRequest, "INVALID_QTY", "qty must be at least 1", nil)
			return
		}
	}
	preview, err := h.service.Preview(r.Context(), PreviewRequest{
		ProductID: chi.URLParam(r, "id"),
		Qty:       qty,
		Variant:   q.Get("variant"),
		Mode:      q.Get("mode"),
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set(obs.CatalogVersionHeader, preview.CatalogVersion)
	common.Data(w, http.StatusOK, preview)
}

// Reload handles POST /api/v1/catalog/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	snap, err := h.service.Reload(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set(obs.CatalogVersionHeader, snap.Version)
	common.Data(w, http.StatusOK, snapshotInfo(snap))
}

// Issues handles GET /api/v1/catalog/issues.
func (h *Handler) Issues(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	snap, err := h.service.Issues()
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set(obs.CatalogVersionHeader, snap.Version)
	common.Data(w, http.StatusOK, snapshotInfo(snap))
}

func snapshotInfo(snap *Snapshot) map[string]any {
	issues := snap.Issues
	if issues == nil {
		issues = []pricing.Issue{}
	}
	return map[string]any{
		"version":  snap.Version,
		"loadedAt": snap.LoadedAt,
		"products": snap.Index.Len(),
		"issues":   issues,
	}
}
