package pricing_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

func money(v pricing.Money) *pricing.Money { return &v }

func cake() pricing.Product {
	return pricing.Product{
		ID:   "mille-whole",
		Name: "Mille Crepe (whole)",
		Mode: pricing.ModeWhole,
		Matrix: pricing.WholeMatrix{Sizes: []pricing.Size{
			{Label: "18cm", Price: 220000, Cost: 98000},
			{Label: "22cm", Price: 320000, Cost: 140000},
		}},
	}
}

func slice(tiers ...pricing.Tier) pricing.Product {
	return pricing.Product{
		ID:   "mille-slice",
		Name: "Mille Crepe (slice)",
		Mode: pricing.ModePiece,
		Matrix: pricing.PieceMatrix{
			PricePerUnit: 10000,
			CostPerUnit:  9000,
			Tiers:        tiers,
		},
	}
}

func TestPieceBelowTiersChargesBasePrice(t *testing.T) {
	p := slice(pricing.Tier{MinQty: 6, DiscountPct: 5}, pricing.Tier{MinQty: 12, DiscountPct: 10})
	idx := pricing.NewIndex([]pricing.Product{p})

	for qty := 1; qty < 6; qty++ {
		res, err := pricing.Resolve(idx, pricing.Request{ProductID: p.ID, Qty: qty})
		require.NoError(t, err)
		require.Equal(t, pricing.Money(10000*qty), res.Price)
		require.Equal(t, pricing.Money(9000*qty), res.Cogs)
	}
}

func TestPieceHighestTierRoundsUnitPriceBeforeScaling(t *testing.T) {
	p := slice(pricing.Tier{MinQty: 6, DiscountPct: 5}, pricing.Tier{MinQty: 12, DiscountPct: 10})
	idx := pricing.NewIndex([]pricing.Product{p})

	res, err := pricing.Resolve(idx, pricing.Request{ProductID: p.ID, Qty: 12})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(108000), res.Price)
	require.Equal(t, pricing.Money(108000), res.Cogs)

	odd := pricing.Product{ID: "odd", Name: "Odd", Mode: pricing.ModePiece, Matrix: pricing.PieceMatrix{
		PricePerUnit: 333,
		CostPerUnit:  100,
		Tiers:        []pricing.Tier{{MinQty: 3, DiscountPct: 3}},
	}}
	res, err = pricing.ResolveProduct(idx, odd, pricing.Request{Qty: 3})
	require.NoError(t, err)
	// round(333 * 0.97) = 323, times 3.
	require.Equal(t, pricing.Money(969), res.Price)
	require.Equal(t, pricing.Money(300), res.Cogs)
}

func TestPieceBelowMinimumIsReportedNotPriced(t *testing.T) {
	p := pricing.Product{ID: "macaron", Name: "Macaron", Mode: pricing.ModePiece, Matrix: pricing.PieceMatrix{
		PricePerUnit: 1500, CostPerUnit: 600, MinQty: 6,
	}}
	res, err := pricing.ResolveProduct(nil, p, pricing.Request{Qty: 2})
	require.NoError(t, err)
	require.True(t, res.BelowMinimum)
	require.Equal(t, pricing.Money(3000), res.Price)

	res, err = pricing.ResolveProduct(nil, p, pricing.Request{Qty: 6})
	require.NoError(t, err)
	require.False(t, res.BelowMinimum)
}

func TestWholeVariantSelection(t *testing.T) {
	idx := pricing.NewIndex([]pricing.Product{cake()})

	none, err := pricing.Resolve(idx, pricing.Request{ProductID: "mille-whole", Qty: 1})
	require.NoError(t, err)
	unmatched, err := pricing.Resolve(idx, pricing.Request{ProductID: "mille-whole", Qty: 1, Variant: "30cm"})
	require.NoError(t, err)
	require.Equal(t, none, unmatched)
	require.Equal(t, "18cm", none.Variant)
	require.Equal(t, pricing.Money(220000), none.Price)

	large, err := pricing.Resolve(idx, pricing.Request{ProductID: "mille-whole", Qty: 2, Variant: "22cm"})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(640000), large.Price)
	require.Equal(t, pricing.Money(280000), large.Cogs)
}

func TestWholeWithoutSizesResolvesToZero(t *testing.T) {
	p := pricing.Product{ID: "tbd", Name: "Draft", Mode: pricing.ModeWhole, Matrix: pricing.WholeMatrix{}}
	res, err := pricing.ResolveProduct(nil, p, pricing.Request{Qty: 1, Variant: "large"})
	require.NoError(t, err)
	require.Equal(t, pricing.Result{Variant: pricing.DefaultVariant}, res)
}

func TestPackageAutoDiscountScenario(t *testing.T) {
	pkg := pricing.Product{ID: "party-set", Name: "Party Set", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Name:        "Party Set",
		Policy:      pricing.PolicyAuto,
		DiscountPct: 8,
		Components: []pricing.Component{
			{ProductID: "mille-whole", Qty: 1},
			{ProductID: "mille-slice", Qty: 10},
		},
	}}
	idx := pricing.NewIndex([]pricing.Product{cake(), slice(), pkg})

	res, err := pricing.Resolve(idx, pricing.Request{ProductID: "party-set", Qty: 1})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(294400), res.Price)
	require.Equal(t, pricing.Money(188000), res.Cogs)
	require.Equal(t, []pricing.BreakdownLine{
		{ProductID: "mille-whole", Name: "Mille Crepe (whole)", Qty: 1, Price: 220000, Cogs: 98000},
		{ProductID: "mille-slice", Name: "Mille Crepe (slice)", Qty: 10, Price: 100000, Cogs: 90000},
	}, res.Breakdown)

	three, err := pricing.Resolve(idx, pricing.Request{ProductID: "party-set", Qty: 3})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(294400*3), three.Price)
	require.Equal(t, pricing.Money(188000*3), three.Cogs)
	require.Equal(t, res.Breakdown, three.Breakdown, "breakdown does not scale with parent quantity")
}

func TestBundleRules(t *testing.T) {
	rules := []pricing.Rule{{MinTotalQty: 6, DiscountPct: 5}, {MinTotalQty: 12, DiscountPct: 10}}
	bundle := func(qty int) pricing.Product {
		return pricing.Product{ID: "box", Name: "Slice Box", Mode: pricing.ModeBundle, Matrix: pricing.BundleMatrix{
			Policy:     pricing.PolicyAuto,
			Components: []pricing.Component{{ProductID: "mille-slice", Qty: qty}},
			Rules:      rules,
		}}
	}
	idx := pricing.NewIndex([]pricing.Product{slice()})

	res, err := pricing.ResolveProduct(idx, bundle(4), pricing.Request{Qty: 1})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(40000), res.Price, "no rule qualifies at 4 units")

	res, err = pricing.ResolveProduct(idx, bundle(6), pricing.Request{Qty: 2})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(57000*2), res.Price)
	require.Equal(t, pricing.Money(54000*2), res.Cogs)
}

func TestBundleRuleKeyedOnComponentUnitsNotOrderQuantity(t *testing.T) {
	b := pricing.Product{ID: "duo", Name: "Duo", Mode: pricing.ModeBundle, Matrix: pricing.BundleMatrix{
		Policy:     pricing.PolicyAuto,
		Components: []pricing.Component{{ProductID: "mille-slice", Qty: 2}},
		Rules:      []pricing.Rule{{MinTotalQty: 6, DiscountPct: 50}},
	}}
	idx := pricing.NewIndex([]pricing.Product{slice()})
	res, err := pricing.ResolveProduct(idx, b, pricing.Request{Qty: 10})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(20000*10), res.Price)
}

func TestManualCompositeIgnoresComponentPrices(t *testing.T) {
	build := func(slicePrice, sliceCost pricing.Money) (*pricing.Index, pricing.Product) {
		s := slice()
		s.Matrix = pricing.PieceMatrix{PricePerUnit: slicePrice, CostPerUnit: sliceCost}
		pkg := pricing.Product{ID: "fixed", Name: "Fixed", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
			Policy:     pricing.PolicyManual,
			Price:      75000,
			Components: []pricing.Component{{ProductID: "mille-slice", Qty: 5}},
		}}
		return pricing.NewIndex([]pricing.Product{s, pkg}), pkg
	}

	idxA, pkg := build(10000, 9000)
	a, err := pricing.ResolveProduct(idxA, pkg, pricing.Request{Qty: 2})
	require.NoError(t, err)
	idxB, _ := build(10000, 4000)
	b, err := pricing.ResolveProduct(idxB, pkg, pricing.Request{Qty: 2})
	require.NoError(t, err)

	require.Equal(t, pricing.Money(150000), a.Price)
	require.Equal(t, a.Price, b.Price)
	require.Equal(t, pricing.Money(90000), a.Cogs)
	require.Equal(t, pricing.Money(40000), b.Cogs)
	require.NotEqual(t, a.Breakdown, b.Breakdown)

	bundle := pricing.Product{ID: "fixed-bundle", Name: "Fixed Bundle", Mode: pricing.ModeBundle, Matrix: pricing.BundleMatrix{
		Policy:     pricing.PolicyManual,
		Price:      12345,
		Components: []pricing.Component{{ProductID: "mille-slice", Qty: 20}},
		Rules:      []pricing.Rule{{MinTotalQty: 1, DiscountPct: 90}},
	}}
	res, err := pricing.ResolveProduct(idxA, bundle, pricing.Request{Qty: 1})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(12345), res.Price)
}

func TestMissingComponentsAreSkipped(t *testing.T) {
	pkg := pricing.Product{ID: "partial", Name: "Partial", Mode: pricing.ModeBundle, Matrix: pricing.BundleMatrix{
		Policy: pricing.PolicyAuto,
		Components: []pricing.Component{
			{ProductID: "ghost", Qty: 10},
			{ProductID: "mille-slice", Qty: 2},
		},
		Rules: []pricing.Rule{{MinTotalQty: 6, DiscountPct: 10}},
	}}
	idx := pricing.NewIndex([]pricing.Product{slice()})
	res, err := pricing.ResolveProduct(idx, pkg, pricing.Request{Qty: 1})
	require.NoError(t, err)
	// The missing component neither contributes units to rule selection nor price.
	require.Equal(t, pricing.Money(20000), res.Price)
	require.Len(t, res.Breakdown, 1)
	require.Equal(t, "mille-slice", res.Breakdown[0].ProductID)
}

func TestNestedCompositesRoundAtEveryLevel(t *testing.T) {
	leaf := pricing.Product{ID: "leaf", Name: "Leaf", Mode: pricing.ModePiece, Matrix: pricing.PieceMatrix{PricePerUnit: 7, CostPerUnit: 3}}
	inner := pricing.Product{ID: "inner", Name: "Inner", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyAuto, DiscountPct: 10,
		Components: []pricing.Component{{ProductID: "leaf", Qty: 1}},
	}}
	outer := pricing.Product{ID: "outer", Name: "Outer", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyAuto, DiscountPct: 10,
		Components: []pricing.Component{{ProductID: "inner", Qty: 1}},
	}}
	idx := pricing.NewIndex([]pricing.Product{leaf, inner, outer})

	res, err := pricing.Resolve(idx, pricing.Request{ProductID: "outer", Qty: 1})
	require.NoError(t, err)
	// inner: round(7*0.9)=6; outer: round(6*0.9)=5. A single final rounding
	// would give round(7*0.81)=6.
	require.Equal(t, pricing.Money(5), res.Price)
	require.Equal(t, pricing.Money(3), res.Cogs)
	require.Equal(t, []pricing.BreakdownLine{{ProductID: "inner", Name: "Inner", Qty: 1, Price: 6, Cogs: 3}}, res.Breakdown)
}

func TestCyclicCompositionFails(t *testing.T) {
	a := pricing.Product{ID: "A", Name: "A", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyAuto, Components: []pricing.Component{{ProductID: "B", Qty: 1}},
	}}
	b := pricing.Product{ID: "B", Name: "B", Mode: pricing.ModeBundle, Matrix: pricing.BundleMatrix{
		Policy: pricing.PolicyAuto, Components: []pricing.Component{{ProductID: "A", Qty: 1}},
	}}
	idx := pricing.NewIndex([]pricing.Product{a, b})

	_, err := pricing.Resolve(idx, pricing.Request{ProductID: "A", Qty: 1})
	require.Error(t, err)
	require.True(t, errors.Is(err, pricing.ErrCyclicComposition))
	var cyc *pricing.CyclicCompositionError
	require.True(t, errors.As(err, &cyc))
	require.Equal(t, []string{"A", "B", "A"}, cyc.Path)

	self := pricing.Product{ID: "S", Name: "S", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyManual, Price: 1, Components: []pricing.Component{{ProductID: "S", Qty: 1}},
	}}
	_, err = pricing.Resolve(pricing.NewIndex([]pricing.Product{self}), pricing.Request{ProductID: "S", Qty: 1})
	require.ErrorIs(t, err, pricing.ErrCyclicComposition)
}

func TestSharedComponentIsNotACycle(t *testing.T) {
	leaf := slice()
	left := pricing.Product{ID: "left", Name: "Left", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyAuto, Components: []pricing.Component{{ProductID: "mille-slice", Qty: 1}},
	}}
	right := pricing.Product{ID: "right", Name: "Right", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyAuto, Components: []pricing.Component{{ProductID: "mille-slice", Qty: 2}},
	}}
	top := pricing.Product{ID: "top", Name: "Top", Mode: pricing.ModeBundle, Matrix: pricing.BundleMatrix{
		Policy: pricing.PolicyAuto, Components: []pricing.Component{{ProductID: "left", Qty: 1}, {ProductID: "right", Qty: 1}},
	}}
	idx := pricing.NewIndex([]pricing.Product{leaf, left, right, top})
	res, err := pricing.Resolve(idx, pricing.Request{ProductID: "top", Qty: 1})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(30000), res.Price)
}

func TestModeMismatchFallsBackToEstimate(t *testing.T) {
	broken := pricing.Product{
		ID: "legacy", Name: "Legacy", Mode: pricing.ModePiece,
		Matrix:    pricing.WholeMatrix{Sizes: []pricing.Size{{Label: "one", Price: 5000, Cost: 2000}}},
		FlatPrice: money(10001),
	}
	res, err := pricing.ResolveProduct(nil, broken, pricing.Request{Qty: 3})
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Equal(t, pricing.Money(0), res.Price)
	// round(10001 * 0.55) = 5501, times 3.
	require.Equal(t, pricing.Money(16503), res.Cogs)

	res, err = pricing.ResolveProduct(nil, cake(), pricing.Request{Qty: 1, Mode: pricing.ModePiece})
	require.NoError(t, err)
	require.Equal(t, pricing.Result{Degraded: true}, res, "override the matrix cannot serve")

	res, err = pricing.ResolveProduct(nil, cake(), pricing.Request{Qty: 1, Mode: pricing.Mode("rental")})
	require.NoError(t, err)
	require.True(t, res.Degraded)

	res, err = pricing.ResolveProduct(nil, cake(), pricing.Request{Qty: 1, Mode: pricing.ModeWhole})
	require.NoError(t, err)
	require.False(t, res.Degraded)

	noMatrix := pricing.Product{ID: "x", Name: "X", Mode: pricing.ModeBundle}
	res, err = pricing.ResolveProduct(nil, noMatrix, pricing.Request{Qty: 1})
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Zero(t, res.Cogs)
}

func TestDegradedComponentIsFlaggedInBreakdown(t *testing.T) {
	broken := pricing.Product{ID: "legacy", Name: "Legacy", Mode: pricing.ModeWhole, FlatPrice: money(2000)}
	pkg := pricing.Product{ID: "pkg", Name: "Pkg", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyAuto, Components: []pricing.Component{{ProductID: "legacy", Qty: 2}},
	}}
	res, err := pricing.ResolveProduct(pricing.NewIndex([]pricing.Product{broken}), pkg, pricing.Request{Qty: 1})
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, pricing.Money(0), res.Price)
	require.Equal(t, pricing.Money(2200), res.Cogs)
	require.True(t, res.Breakdown[0].Degraded)
}

func TestResolveUnknownProduct(t *testing.T) {
	_, err := pricing.Resolve(pricing.NewIndex(nil), pricing.Request{ProductID: "nope", Qty: 1})
	require.ErrorIs(t, err, pricing.ErrUnknownProduct)
}

func TestOutOfRangeDiscountComputesWithoutPanicking(t *testing.T) {
	p := pricing.Product{ID: "p", Name: "P", Mode: pricing.ModePiece, Matrix: pricing.PieceMatrix{
		PricePerUnit: 100, CostPerUnit: 50, Tiers: []pricing.Tier{{MinQty: 1, DiscountPct: 150}},
	}}
	res, err := pricing.ResolveProduct(nil, p, pricing.Request{Qty: 2})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(-100), res.Price)
}

func TestResolveIsIdempotent(t *testing.T) {
	pkg := pricing.Product{ID: "party-set", Name: "Party Set", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyAuto, DiscountPct: 8,
		Components: []pricing.Component{{ProductID: "mille-whole", Qty: 1}, {ProductID: "mille-slice", Qty: 10}},
	}}
	idx := pricing.NewIndex([]pricing.Product{cake(), slice(pricing.Tier{MinQty: 6, DiscountPct: 5}), pkg})
	req := pricing.Request{ProductID: "party-set", Qty: 2, Variant: "22cm"}

	first, err := pricing.Resolve(idx, req)
	require.NoError(t, err)
	second, err := pricing.Resolve(idx, req)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestResolveConcurrentlyOverSharedIndex(t *testing.T) {
	pkg := pricing.Product{ID: "party-set", Name: "Party Set", Mode: pricing.ModePackage, Matrix: pricing.PackageMatrix{
		Policy: pricing.PolicyAuto, DiscountPct: 8,
		Components: []pricing.Component{{ProductID: "mille-whole", Qty: 1}, {ProductID: "mille-slice", Qty: 10}},
	}}
	idx := pricing.NewIndex([]pricing.Product{cake(), slice(pricing.Tier{MinQty: 6, DiscountPct: 5}), pkg})
	requests := []pricing.Request{
		{ProductID: "party-set", Qty: 1},
		{ProductID: "party-set", Qty: 3, Variant: "22cm"},
		{ProductID: "mille-slice", Qty: 12},
		{ProductID: "mille-whole", Qty: 2, Variant: "22cm"},
	}
	want := make([]pricing.Result, len(requests))
	for i, req := range requests {
		res, err := pricing.Resolve(idx, req)
		require.NoError(t, err)
		want[i] = res
	}

	const workers = 16
	got := make([][]pricing.Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out := make([]pricing.Result, len(requests))
			for i, req := range requests {
				res, err := pricing.Resolve(idx, req)
				if err != nil {
					errs[w] = err
					return
				}
				out[i] = res
			}
			got[w] = out
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		require.NoError(t, errs[w])
		require.Equal(t, want, got[w], "worker %d", w)
	}
}

func TestNewIndexLaterDuplicateWins(t *testing.T) {
	first := slice()
	second := slice()
	second.Name = "Renamed"
	idx := pricing.NewIndex([]pricing.Product{first, second})
	got, ok := idx.Lookup("mille-slice")
	require.True(t, ok)
	require.Equal(t, "Renamed", got.Name)
	require.Equal(t, 1, idx.Len())
}
