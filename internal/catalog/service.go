package catalog

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/catalog-pricing/internal/common"
	"github.com/noah-isme/catalog-pricing/internal/obs"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

const defaultMaxQty = 10000

// Service answers catalog editor queries against the current snapshot.
type Service struct {
	store  *Store
	cache  *Cache
	logger zerolog.Logger
	maxQty int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store  *Store
	Cache  *Cache
	Logger zerolog.Logger
	MaxQty int
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	maxQty := cfg.MaxQty
	if maxQty <= 0 {
		maxQty = defaultMaxQty
	}
	return &Service{store: cfg.Store, cache: cfg.Cache, logger: cfg.Logger, maxQty: maxQty}, nil
}

// PreviewRequest selects what to price. Qty defaults to 1.
type PreviewRequest struct {
	ProductID string
	Qty       int
	Variant   string
	Mode      string
}

// Preview is the unit economics of a product at a quantity.
type Preview struct {
	ProductID string       `json:"productId"`
	Name      string       `json:"name"`
	Qty       int          `json:"qty"`
	Mode      pricing.Mode `json:"mode"`
	pricing.Result
	UnitPrice      pricing.Money `json:"unitPrice"`
	UnitCogs       pricing.Money `json:"unitCogs"`
	Margin         pricing.Money `json:"margin"`
	MarginPct      int64         `json:"marginPct"`
	CatalogVersion string        `json:"catalogVersion"`
}

// ProductSummary is the list view of a catalog product.
type ProductSummary struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Mode       pricing.Mode `json:"sellingMode"`
	MatrixType pricing.Mode `json:"matrixType,omitempty"`
	Components int          `json:"components,omitempty"`
}

func (s *Service) snapshot() (*Snapshot, error) {
	snap := s.store.Current()
	if snap == nil {
		return nil, common.NewAppError("CATALOG_NOT_LOADED", "catalog not loaded", http.StatusServiceUnavailable, ErrNotLoaded)
	}
	return snap, nil
}

// Preview resolves req against the current snapshot. Results are cached per
// catalog version, so a reload never serves stale prices.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (Preview, error) {
	snap, err := s.snapshot()
	if err != nil {
		return Preview{}, err
	}
	qty := req.Qty
	if qty == 0 {
		qty = 1
	}
	if qty < 1 || qty > s.maxQty {
		return Preview{}, common.NewAppError("INVALID_QTY", "qty must be between 1 and "+strconv.Itoa(s.maxQty), http.StatusBadRequest, nil)
	}
	override, _ := pricing.ParseMode(req.Mode)

	key := s.cache.Key("preview", snap.Version, req.ProductID, strconv.Itoa(qty), req.Variant, string(override))
	var cached Preview
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("preview cache read failed")
	}

	ctx, span := otel.Tracer(obs.TracerName).Start(ctx, "catalog.Preview")
	defer span.End()
	span.SetAttributes(
		attribute.String("pricing.product_id", req.ProductID),
		attribute.Int("pricing.qty", qty),
		attribute.String("catalog.version", snap.Version),
	)

	p, ok := snap.Index.Lookup(req.ProductID)
	if !ok {
		return Preview{}, common.NewAppError("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, pricing.ErrUnknownProduct)
	}
	mode := p.Mode
	if override != "" {
		mode = override
	}

	start := time.Now()
	res, err := pricing.ResolveProduct(snap.Index, p, pricing.Request{
		ProductID: p.ID,
		Qty:       qty,
		Variant:   req.Variant,
		Mode:      override,
	})
	obs.RecordResolution("preview", string(mode), res.Degraded, err, obs.DurationMillis(time.Since(start)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var cyc *pricing.CyclicCompositionError
		if errors.As(err, &cyc) {
			obs.RecordCycle()
			s.logger.Error().Err(err).Str("product_id", p.ID).Strs("path", cyc.Path).Msg("cyclic composition")
			return Preview{}, common.NewAppError("CYCLIC_COMPOSITION", "product composition is cyclic", http.StatusUnprocessableEntity, err).
				WithDetails(map[string]any{"path": cyc.Path})
		}
		return Preview{}, err
	}
	if res.Degraded {
		reason := degradedReason(p, override)
		obs.RecordDegraded(reason)
		span.SetAttributes(attribute.Bool("pricing.degraded", true))
		s.logger.Warn().
			Str("event", "pricing_degraded").
			Str("reason", reason).
			Str("product_id", p.ID).
			Str("mode", string(mode)).
			Int("qty", qty).
			Msg("preview fell back to cost estimate")
	}

	out := Preview{
		ProductID:      p.ID,
		Name:           p.Name,
		Qty:            qty,
		Mode:           mode,
		Result:         res,
		UnitPrice:      pricing.Round(float64(res.Price) / float64(qty)),
		UnitCogs:       pricing.Round(float64(res.Cogs) / float64(qty)),
		Margin:         res.Price - res.Cogs,
		CatalogVersion: snap.Version,
	}
	if res.Price > 0 {
		out.MarginPct = pricing.Round(float64(out.Margin) / float64(res.Price) * 100)
	}
	if err := s.cache.SetJSON(ctx, key, out); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("preview cache write failed")
	}
	return out, nil
}

func degradedReason(p pricing.Product, override pricing.Mode) string {
	switch {
	case p.Matrix == nil:
		return "missing_matrix"
	case override != "" && override != p.Mode:
		return "mode_override"
	}
	return "mode_mismatch"
}

// List returns one page of products ordered by id and the total count.
func (s *Service) List(page, perPage int) ([]ProductSummary, int, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, 0, err
	}
	products := snap.Index.Products()
	total := len(products)
	from := min((page-1)*perPage, total)
	to := min(from+perPage, total)
	out := make([]ProductSummary, 0, to-from)
	for _, p := range products[from:to] {
		sum := ProductSummary{ID: p.ID, Name: p.Name, Mode: p.Mode, Components: len(p.Components())}
		if p.Matrix != nil {
			sum.MatrixType = p.Matrix.Mode()
		}
		out = append(out, sum)
	}
	return out, total, nil
}

// Product returns one catalog product.
func (s *Service) Product(id string) (pricing.Product, error) {
	snap, err := s.snapshot()
	if err != nil {
		return pricing.Product{}, err
	}
	p, ok := snap.Index.Lookup(id)
	if !ok {
		return pricing.Product{}, common.NewAppError("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, pricing.ErrUnknownProduct)
	}
	return p, nil
}

// Issues returns the validation issues recorded for the current snapshot.
func (s *Service) Issues() (*Snapshot, error) {
	return s.snapshot()
}

// Reload re-reads the catalog file.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		var verr *pricing.ValidationError
		if errors.As(err, &verr) {
			return nil, common.NewAppError("CATALOG_INVALID", "catalog failed validation", http.StatusUnprocessableEntity, err).
				WithDetails(verr.Issues)
		}
		return nil, common.NewAppError("CATALOG_LOAD_FAILED", "catalog could not be loaded", http.StatusInternalServerError, err)
	}
	return snap, nil
}
