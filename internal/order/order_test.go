package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

func TestStatusCancelledAcceptsBothSpellings(t *testing.T) {
	for _, s := range []Status{"cancelled", "canceled", "Cancelled", " CANCELED "} {
		require.True(t, s.Cancelled(), "status %q", s)
	}
	for _, s := range []Status{StatusPaid, StatusPending, "", "cancel"} {
		require.False(t, s.Cancelled(), "status %q", s)
	}
}

func TestOrderCostMixesKnownAndEstimated(t *testing.T) {
	cost := pricing.Money(4000)
	o := New(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Line{ProductID: "a", Qty: 3, UnitPrice: 10000, UnitCost: &cost},
		Line{ProductID: "b", Qty: 1, UnitPrice: 10001},
	)
	require.Equal(t, pricing.Money(40001), o.Total)
	require.NotEqual(t, [16]byte{}, [16]byte(o.ID))

	got, estimated := o.Cost()
	// 3*4000 + round(10001*0.55)
	require.Equal(t, pricing.Money(12000+5501), got)
	require.Equal(t, 1, estimated)
}

func TestCloneDetachesUnitCosts(t *testing.T) {
	cost := pricing.Money(100)
	o := Order{Lines: []Line{{ProductID: "a", Qty: 1, UnitCost: &cost}}}
	c := o.Clone()
	*c.Lines[0].UnitCost = 999
	c.Lines[0].Qty = 7

	require.Equal(t, pricing.Money(100), *o.Lines[0].UnitCost)
	require.Equal(t, 1, o.Lines[0].Qty)
}
