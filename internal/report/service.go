package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/catalog-pricing/internal/common"
	"github.com/noah-isme/catalog-pricing/internal/costing"
	"github.com/noah-isme/catalog-pricing/internal/obs"
	"github.com/noah-isme/catalog-pricing/internal/order"
)

// CostFiller attributes unit costs to order lines before aggregation.
type CostFiller interface {
	Backfill(ctx context.Context, orders []order.Order) (costing.Outcome, error)
}

// Service builds margin reports with optional Redis caching.
type Service struct {
	Costs    CostFiller
	R        *redis.Client
	TTL      time.Duration
	Location *time.Location
	Logger   zerolog.Logger
	// CatalogVersion scopes cached reports that depend on engine costs.
	CatalogVersion func() string
	// MaxBuckets caps the periods in one report; zero uses DefaultMaxBuckets.
	MaxBuckets int
	Now        func() time.Time
}

// MarginRequest is the body of a margin report.
type MarginRequest struct {
	From          string        `json:"from" validate:"required,datetime=2006-01-02"`
	To            string        `json:"to" validate:"required,datetime=2006-01-02"`
	Granularity   string        `json:"granularity,omitempty" validate:"omitempty,oneof=day week month"`
	BackfillCosts bool          `json:"backfillCosts,omitempty"`
	Orders        []order.Order `json:"orders" validate:"dive"`
}

// Margin is a report plus how it was produced.
type Margin struct {
	Report
	Backfill       *costing.Stats `json:"backfill,omitempty"`
	CatalogVersion string         `json:"catalogVersion,omitempty"`
	GeneratedAt    time.Time      `json:"generatedAt"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// Margin aggregates req.Orders over the requested range. When BackfillCosts
// is set, lines without a unit cost are first resolved through the pricing
// engine; lines the engine cannot cost keep the fixed-ratio estimate.
func (s *Service) Margin(ctx context.Context, req MarginRequest) (Margin, error) {
	if s == nil {
		return Margin{}, errors.New("report service not configured")
	}
	loc := s.location()
	from, err := time.ParseInLocation(time.DateOnly, req.From, loc)
	if err != nil {
		return Margin{}, common.NewAppError("INVALID_RANGE", "from must be a YYYY-MM-DD date", http.StatusBadRequest, err)
	}
	to, err := time.ParseInLocation(time.DateOnly, req.To, loc)
	if err != nil {
		return Margin{}, common.NewAppError("INVALID_RANGE", "to must be a YYYY-MM-DD date", http.StatusBadRequest, err)
	}
	gran, err := ParseGranularity(req.Granularity)
	if err != nil {
		return Margin{}, common.NewAppError("INVALID_RANGE", "unknown granularity", http.StatusBadRequest, err)
	}
	if to.Before(from) {
		return Margin{}, common.NewAppError("INVALID_RANGE", "to must not be before from", http.StatusBadRequest, ErrInvalidRange)
	}
	rng := Range{From: from, To: to, Granularity: gran, Location: loc, MaxBuckets: s.MaxBuckets}
	if err := rng.Validate(); err != nil {
		return Margin{}, common.NewAppError("INVALID_RANGE", "report range spans too many periods", http.StatusBadRequest, err)
	}
	if req.BackfillCosts && s.Costs == nil {
		return Margin{}, common.NewAppError("COSTING_UNAVAILABLE", "cost backfill not configured", http.StatusServiceUnavailable, nil)
	}

	var version string
	if req.BackfillCosts && s.CatalogVersion != nil {
		version = s.CatalogVersion()
	}
	key, err := s.cacheKey(req, loc, version)
	if err != nil {
		return Margin{}, err
	}
	if cached, ok := s.load(ctx, key); ok {
		return cached, nil
	}

	ctx, span := otel.Tracer(obs.TracerName).Start(ctx, "report.Margin")
	defer span.End()
	span.SetAttributes(
		attribute.Int("report.orders", len(req.Orders)),
		attribute.String("report.granularity", string(gran)),
		attribute.Bool("report.backfill", req.BackfillCosts),
	)

	out := Margin{CatalogVersion: version, GeneratedAt: s.now().UTC()}
	orders := req.Orders
	if req.BackfillCosts {
		outcome, err := s.Costs.Backfill(ctx, orders)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Margin{}, err
		case outcome.Orders == nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Margin{}, err
		default:
			span.RecordError(err)
			s.Logger.Warn().Err(err).Int("failed_lines", outcome.Stats.Failed).Msg("margin report kept estimated costs for failed lines")
		}
		if outcome.Orders != nil {
			orders = outcome.Orders
		}
		stats := outcome.Stats
		out.Backfill = &stats
	}

	rep, err := Aggregate(orders, rng)
	if err != nil {
		return Margin{}, common.NewAppError("INVALID_RANGE", "invalid report range", http.StatusBadRequest, err)
	}
	out.Report = rep
	recordOrders(rep)
	span.SetAttributes(
		attribute.Int64("report.revenue", rep.Totals.Revenue),
		attribute.Int64("report.margin", rep.Totals.Margin),
	)
	s.Logger.Debug().
		Str("from", rep.From).
		Str("to", rep.To).
		Str("granularity", string(gran)).
		Int("orders", rep.Totals.Orders).
		Int("cancelled", rep.Cancelled).
		Int("out_of_range", rep.OutOfRange).
		Msg("margin report built")

	s.store(ctx, key, out)
	return out, nil
}

func recordOrders(rep Report) {
	if obs.ReportOrdersTotal == nil {
		return
	}
	obs.ReportOrdersTotal.WithLabelValues("included").Add(float64(rep.Totals.Orders))
	obs.ReportOrdersTotal.WithLabelValues("cancelled").Add(float64(rep.Cancelled))
	obs.ReportOrdersTotal.WithLabelValues("out_of_range").Add(float64(rep.OutOfRange))
}

func (s *Service) cacheKey(req MarginRequest, loc *time.Location, version string) (string, error) {
	if s.R == nil || s.TTL <= 0 {
		return "", nil
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode report request: %w", err)
	}
	return common.HashKey("rp:margin", loc.String(), version, string(body)), nil
}

func (s *Service) load(ctx context.Context, key string) (Margin, bool) {
	if key == "" {
		return Margin{}, false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.Logger.Warn().Err(err).Msg("report cache read failed")
		}
		return Margin{}, false
	}
	var m Margin
	if err := json.Unmarshal(data, &m); err != nil {
		return Margin{}, false
	}
	return m, true
}

func (s *Service) store(ctx context.Context, key string, value Margin) {
	if key == "" {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.R.Set(ctx, key, data, s.TTL).Err(); err != nil {
		s.Logger.Warn().Err(err).Msg("report cache write failed")
	}
}
