package pricing

// resolver carries the index and the identifiers on the active resolution
// path for one top-level call.
type resolver struct {
	idx    *Index
	onPath map[string]struct{}
	path   []string
}

func newResolver(idx *Index) *resolver {
	return &resolver{idx: idx, onPath: make(map[string]struct{})}
}

func (r *resolver) enter(id string) error {
	if _, seen := r.onPath[id]; seen {
		cycle := make([]string, 0, len(r.path)+1)
		start := 0
		for i, p := range r.path {
			if p == id {
				start = i
				break
			}
		}
		cycle = append(cycle, r.path[start:]...)
		cycle = append(cycle, id)
		return &CyclicCompositionError{Path: cycle}
	}
	r.onPath[id] = struct{}{}
	r.path = append(r.path, id)
	return nil
}

func (r *resolver) leave(id string) {
	delete(r.onPath, id)
	r.path = r.path[:len(r.path)-1]
}

// unitPriceFunc derives the price of one copy of a composite from the summed
// component price and the summed component quantity.
type unitPriceFunc func(sumPrice Money, totalUnits int) Money

func packageUnitPrice(m PackageMatrix) unitPriceFunc {
	return func(sumPrice Money, _ int) Money {
		if m.Policy == PolicyManual {
			return m.Price
		}
		return applyDiscount(sumPrice, m.DiscountPct)
	}
}

func bundleUnitPrice(m BundleMatrix) unitPriceFunc {
	return func(sumPrice Money, totalUnits int) Money {
		if m.Policy == PolicyManual {
			return m.Price
		}
		if rule, ok := SelectRule(totalUnits, m.Rules); ok {
			return applyDiscount(sumPrice, rule.DiscountPct)
		}
		return sumPrice
	}
}

// resolveComposite resolves each component at its declared quantity, sums the
// results and prices one copy through unitPrice before scaling by qty.
// Components missing from the index are skipped.
func (r *resolver) resolveComposite(components []Component, qty int, unitPrice unitPriceFunc) (Result, error) {
	var (
		sumPrice   Money
		sumCogs    Money
		totalUnits int
	)
	breakdown := make([]BreakdownLine, 0, len(components))
	for _, c := range components {
		child, ok := r.idx.Lookup(c.ProductID)
		if !ok {
			continue
		}
		res, err := r.resolve(child, Request{Qty: c.Qty})
		if err != nil {
			return Result{}, err
		}
		sumPrice += res.Price
		sumCogs += res.Cogs
		totalUnits += c.Qty
		breakdown = append(breakdown, BreakdownLine{
			ProductID: child.ID,
			Name:      child.Name,
			Qty:       c.Qty,
			Price:     res.Price,
			Cogs:      res.Cogs,
			Degraded:  res.Degraded,
		})
	}
	unit := unitPrice(sumPrice, totalUnits)
	return Result{
		Price:     unit * Money(qty),
		Cogs:      sumCogs * Money(qty),
		Breakdown: breakdown,
	}, nil
}
