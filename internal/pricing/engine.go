package pricing

import "fmt"

// Request describes one resolution.
type Request struct {
	ProductID string
	Qty       int
	// Variant selects a size of a whole product by exact label.
	Variant string
	// Mode overrides the product's selling mode when set.
	Mode Mode
}

// BreakdownLine is one direct component's contribution to a composite.
type BreakdownLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	Price     Money  `json:"price"`
	Cogs      Money  `json:"cogs"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// Result is the resolved price and cost of a request.
type Result struct {
	Price     Money           `json:"price"`
	Cogs      Money           `json:"cogs"`
	Variant   string          `json:"variant,omitempty"`
	Breakdown []BreakdownLine `json:"breakdown,omitempty"`
	// Degraded marks the mode-mismatch estimate: Price is zero and Cogs is a
	// fraction of the declared flat price. It is not a real price.
	Degraded bool `json:"degraded,omitempty"`
	// BelowMinimum reports a piece quantity under the declared minimum order.
	BelowMinimum bool `json:"belowMinimum,omitempty"`
}

// Resolve looks up req.ProductID in idx and resolves it. It returns
// ErrUnknownProduct when the product is absent and a *CyclicCompositionError
// when the component graph loops back on the active path.
func Resolve(idx *Index, req Request) (Result, error) {
	p, ok := idx.Lookup(req.ProductID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProduct, req.ProductID)
	}
	return ResolveProduct(idx, p, req)
}

// ResolveProduct resolves p, which need not be part of idx. Components are
// looked up in idx.
func ResolveProduct(idx *Index, p Product, req Request) (Result, error) {
	return newResolver(idx).resolve(p, req)
}

func (r *resolver) resolve(p Product, req Request) (Result, error) {
	mode := p.Mode
	if req.Mode != "" {
		mode = req.Mode
	}
	if p.Matrix == nil || p.Matrix.Mode() != mode {
		return mismatchEstimate(p, req.Qty), nil
	}
	if err := r.enter(p.ID); err != nil {
		return Result{}, err
	}
	defer r.leave(p.ID)

	switch m := p.Matrix.(type) {
	case PieceMatrix:
		return resolvePiece(m, req.Qty), nil
	case WholeMatrix:
		return resolveWhole(m, req.Qty, req.Variant), nil
	case PackageMatrix:
		return r.resolveComposite(m.Components, req.Qty, packageUnitPrice(m))
	case BundleMatrix:
		return r.resolveComposite(m.Components, req.Qty, bundleUnitPrice(m))
	}
	return mismatchEstimate(p, req.Qty), nil
}

func mismatchEstimate(p Product, qty int) Result {
	res := Result{Degraded: true}
	if p.FlatPrice != nil {
		res.Cogs = EstimateCost(*p.FlatPrice) * Money(qty)
	}
	return res
}
