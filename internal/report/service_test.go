package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/catalog-pricing/internal/common"
	"github.com/noah-isme/catalog-pricing/internal/costing"
	"github.com/noah-isme/catalog-pricing/internal/order"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

type staticSource struct{ idx *pricing.Index }

func (s staticSource) Index() *pricing.Index { return s.idx }

func backfiller() *costing.Backfiller {
	idx := pricing.NewIndex([]pricing.Product{
		{ID: "slice", Name: "Slice", Mode: pricing.ModePiece, Matrix: pricing.PieceMatrix{PricePerUnit: 10000, CostPerUnit: 9000}},
		{ID: "loop", Name: "Loop", Mode: pricing.ModeBundle, Matrix: pricing.BundleMatrix{
			Policy: pricing.PolicyAuto, Components: []pricing.Component{{ProductID: "loop", Qty: 1}},
		}},
	})
	return &costing.Backfiller{Source: staticSource{idx: idx}, Logger: zerolog.Nop()}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sliceOrder(at time.Time, qty int) order.Order {
	return order.Order{CreatedAt: at, Status: order.StatusPaid, Total: pricing.Money(10000 * qty), Lines: []order.Line{
		{ProductID: "slice", Qty: qty, UnitPrice: 10000},
	}}
}

func TestMarginEstimatesWithoutBackfill(t *testing.T) {
	svc := &Service{Logger: zerolog.Nop()}
	out, err := svc.Margin(context.Background(), MarginRequest{
		From:   "2026-05-01",
		To:     "2026-05-01",
		Orders: []order.Order{sliceOrder(date(2026, 5, 1, 10), 2)},
	})
	require.NoError(t, err)
	require.Nil(t, out.Backfill)
	require.Equal(t, pricing.Money(11000), out.Totals.Cost)
	require.Equal(t, 1, out.Totals.EstimatedLines)
}

func TestMarginBackfillsCostsThroughEngine(t *testing.T) {
	svc := &Service{Costs: backfiller(), Logger: zerolog.Nop(), CatalogVersion: func() string { return "v1" }}
	out, err := svc.Margin(context.Background(), MarginRequest{
		From:          "2026-05-01",
		To:            "2026-05-02",
		BackfillCosts: true,
		Orders:        []order.Order{sliceOrder(date(2026, 5, 1, 10), 2)},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Backfill)
	require.Equal(t, 1, out.Backfill.Filled)
	require.Equal(t, "v1", out.CatalogVersion)
	require.Equal(t, pricing.Money(18000), out.Totals.Cost)
	require.Equal(t, pricing.Money(2000), out.Totals.Margin)
	require.Equal(t, int64(10), out.Totals.MarginPct)
	require.Zero(t, out.Totals.EstimatedLines)
}

func TestMarginKeepsEstimatesForCyclicLines(t *testing.T) {
	svc := &Service{Costs: backfiller(), Logger: zerolog.Nop()}
	orders := []order.Order{
		sliceOrder(date(2026, 5, 1, 10), 1),
		{CreatedAt: date(2026, 5, 1, 11), Status: order.StatusPaid, Total: 20000, Lines: []order.Line{
			{ProductID: "loop", Qty: 1, UnitPrice: 20000},
		}},
	}
	out, err := svc.Margin(context.Background(), MarginRequest{From: "2026-05-01", To: "2026-05-01", BackfillCosts: true, Orders: orders})
	require.NoError(t, err)
	require.Equal(t, 1, out.Backfill.Failed)
	require.Equal(t, pricing.Money(9000+11000), out.Totals.Cost)
	require.Equal(t, 1, out.Totals.EstimatedLines)
}

func TestMarginRequiresCostsForBackfill(t *testing.T) {
	svc := &Service{Logger: zerolog.Nop()}
	_, err := svc.Margin(context.Background(), MarginRequest{From: "2026-05-01", To: "2026-05-01", BackfillCosts: true})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
}

func TestMarginRejectsBadRange(t *testing.T) {
	svc := &Service{Logger: zerolog.Nop()}
	_, err := svc.Margin(context.Background(), MarginRequest{From: "2026-05-03", To: "2026-05-01"})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "INVALID_RANGE", appErr.Code)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestMarginRejectsWideRangeBeforeBackfill(t *testing.T) {
	filler := &countingFiller{}
	svc := &Service{Costs: filler, Logger: zerolog.Nop(), MaxBuckets: 31}
	_, err := svc.Margin(context.Background(), MarginRequest{From: "2026-01-01", To: "2026-03-01", BackfillCosts: true})
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	require.Equal(t, "INVALID_RANGE", appErr.Code)
	require.ErrorIs(t, err, ErrInvalidRange)
	require.Zero(t, filler.calls)

	out, err := svc.Margin(context.Background(), MarginRequest{From: "2026-01-01", To: "2026-03-01", Granularity: "month", BackfillCosts: true})
	require.NoError(t, err)
	require.Len(t, out.Buckets, 3)
	require.Equal(t, 1, filler.calls)
}

type countingFiller struct{ calls int }

func (f *countingFiller) Backfill(_ context.Context, orders []order.Order) (costing.Outcome, error) {
	f.calls++
	return costing.Outcome{Orders: orders}, nil
}

func TestMarginCachesByRequest(t *testing.T) {
	mr, client := newRedis(t)
	clock := date(2026, 6, 1, 0)
	svc := &Service{R: client, TTL: time.Minute, Logger: zerolog.Nop(), Now: func() time.Time { return clock }}
	req := MarginRequest{From: "2026-05-01", To: "2026-05-01", Orders: []order.Order{sliceOrder(date(2026, 5, 1, 10), 1)}}

	first, err := svc.Margin(context.Background(), req)
	require.NoError(t, err)
	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "rp:margin:"))

	clock = clock.Add(time.Hour)
	second, err := svc.Margin(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.GeneratedAt.Equal(second.GeneratedAt), "second call should be served from cache")
	require.Equal(t, first.Totals, second.Totals)

	req.Granularity = "month"
	third, err := svc.Margin(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, Month, third.Granularity)
	require.Len(t, mr.Keys(), 2)
}

func TestMarginHandler(t *testing.T) {
	h := &Handler{Svc: &Service{Logger: zerolog.Nop()}}

	body := `{"from":"2026-05-01","to":"2026-05-01","orders":[{"createdAt":"2026-05-01T10:00:00Z","status":"paid","total":20000,"lines":[{"productId":"slice","qty":2,"unitPrice":10000,"unitCost":4000}]}]}`
	rr := httptest.NewRecorder()
	h.Margin(rr, httptest.NewRequest(http.MethodPost, "/api/v1/reports/margin", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"margin":12000`)
	require.Contains(t, rr.Body.String(), `"marginPct":60`)

	rr = httptest.NewRecorder()
	h.Margin(rr, httptest.NewRequest(http.MethodPost, "/api/v1/reports/margin", strings.NewReader(`{"from":"05/01/2026","to":"2026-05-01"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), `"field":"from"`)

	rr = httptest.NewRecorder()
	h.Margin(rr, httptest.NewRequest(http.MethodPost, "/api/v1/reports/margin", strings.NewReader(`{"from":"2026-05-01","to":"2026-05-01","granularity":"year"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
