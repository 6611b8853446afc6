// Package costing attributes unit costs to order lines by resolving them
// through the pricing engine.
package costing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/catalog-pricing/internal/obs"
	"github.com/noah-isme/catalog-pricing/internal/order"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

// Source yields the catalog index lines are resolved against.
type Source interface {
	Index() *pricing.Index
}

// Line outcomes, also used as metric labels.
const (
	resultFilled   = "filled"
	resultKnown    = "known"
	resultDegraded = "degraded"
	resultUnknown  = "unknown_product"
	resultSkipped  = "skipped"
	resultFailed   = "failed"
)

// Stats counts line outcomes of one backfill.
type Stats struct {
	Lines    int `json:"lines"`
	Filled   int `json:"filled"`
	Known    int `json:"alreadyKnown"`
	Degraded int `json:"degraded"`
	Unknown  int `json:"unknownProduct"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (s *Stats) merge(o Stats) {
	s.Lines += o.Lines
	s.Filled += o.Filled
	s.Known += o.Known
	s.Degraded += o.Degraded
	s.Unknown += o.Unknown
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

func (s *Stats) count(result string) {
	s.Lines++
	switch result {
	case resultFilled:
		s.Filled++
	case resultKnown:
		s.Known++
	case resultDegraded:
		s.Degraded++
	case resultUnknown:
		s.Unknown++
	case resultSkipped:
		s.Skipped++
	case resultFailed:
		s.Failed++
	}
}

// Outcome is the result of a backfill. Orders are copies of the input with
// unit costs filled where the engine could attribute one.
type Outcome struct {
	Orders []order.Order `json:"orders"`
	Stats  Stats         `json:"stats"`
}

// LineError identifies the order line a hard resolution failure came from.
type LineError struct {
	OrderID   uuid.UUID
	Line      int
	ProductID string
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("order %s line %d (%s): %v", e.OrderID, e.Line, e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Backfiller fills missing unit costs on order lines.
type Backfiller struct {
	Source      Source
	Concurrency int
	Logger      zerolog.Logger
}

// Backfill resolves every line without a unit cost and sets UnitCost to the
// resolved cogs divided by the line quantity. Degraded and unknown-product
// lines keep an unknown cost. Lines whose product composition is cyclic are
// reported through the returned error, which joins one *LineError per line;
// the outcome is complete for every other line even when err is non-nil.
// The input orders are not modified.
func (b *Backfiller) Backfill(ctx context.Context, orders []order.Order) (Outcome, error) {
	if b == nil || b.Source == nil {
		return Outcome{}, errors.New("costing: backfiller not configured")
	}
	ctx, span := otel.Tracer(obs.TracerName).Start(ctx, "costing.Backfill")
	defer span.End()
	span.SetAttributes(attribute.Int("costing.orders", len(orders)))

	idx := b.Source.Index()
	out := make([]order.Order, len(orders))
	stats := make([]Stats, len(orders))
	failures := make([][]error, len(orders))

	limit := b.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range orders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i], stats[i], failures[i] = b.fillOrder(idx, orders[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}

	res := Outcome{Orders: out}
	var errs []error
	for i := range orders {
		res.Stats.merge(stats[i])
		errs = append(errs, failures[i]...)
	}
	span.SetAttributes(
		attribute.Int("costing.lines", res.Stats.Lines),
		attribute.Int("costing.filled", res.Stats.Filled),
	)
	b.Logger.Info().
		Int("orders", len(orders)).
		Int("lines", res.Stats.Lines).
		Int("filled", res.Stats.Filled).
		Int("degraded", res.Stats.Degraded).
		Int("unknown", res.Stats.Unknown).
		Int("failed", res.Stats.Failed).
		Msg("cost backfill finished")

	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "cyclic composition")
		return res, err
	}
	return res, nil
}

func (b *Backfiller) fillOrder(idx *pricing.Index, src order.Order) (order.Order, Stats, []error) {
	o := src.Clone()
	var (
		stats Stats
		errs  []error
	)
	for i := range o.Lines {
		result, err := b.fillLine(idx, &o.Lines[i])
		stats.count(result)
		if obs.CostingLinesTotal != nil {
			obs.CostingLinesTotal.WithLabelValues(result).Inc()
		}
		if err != nil {
			errs = append(errs, &LineError{OrderID: o.ID, Line: i, ProductID: o.Lines[i].ProductID, Err: err})
		}
	}
	return o, stats, errs
}

func (b *Backfiller) fillLine(idx *pricing.Index, l *order.Line) (string, error) {
	if l.UnitCost != nil {
		return resultKnown, nil
	}
	if l.Qty <= 0 {
		return resultSkipped, nil
	}

	mode := l.Mode
	if mode == "" {
		if p, ok := idx.Lookup(l.ProductID); ok {
			mode = p.Mode
		}
	}
	start := time.Now()
	res, err := pricing.Resolve(idx, pricing.Request{
		ProductID: l.ProductID,
		Qty:       l.Qty,
		Variant:   l.Variant,
		Mode:      l.Mode,
	})
	obs.RecordResolution("backfill", string(mode), res.Degraded, err, obs.DurationMillis(time.Since(start)))

	switch {
	case errors.Is(err, pricing.ErrUnknownProduct):
		b.Logger.Warn().Str("product_id", l.ProductID).Msg("backfill line references unknown product")
		return resultUnknown, nil
	case errors.Is(err, pricing.ErrCyclicComposition):
		obs.RecordCycle()
		b.Logger.Error().Err(err).Str("product_id", l.ProductID).Msg("backfill line has cyclic composition")
		return resultFailed, err
	case err != nil:
		return resultFailed, err
	case res.Degraded:
		obs.RecordDegraded("mode_mismatch")
		b.Logger.Warn().
			Str("event", "pricing_degraded").
			Str("product_id", l.ProductID).
			Str("mode", string(mode)).
			Int("qty", l.Qty).
			Msg("backfill line left without cost")
		return resultDegraded, nil
	}
	unit := unitCost(res.Cogs, l.Qty)
	l.UnitCost = &unit
	return resultFilled, nil
}

// unitCost spreads a line's cogs over its quantity, rounding half-up.
func unitCost(cogs pricing.Money, qty int) pricing.Money {
	return pricing.Round(float64(cogs) / float64(qty))
}
