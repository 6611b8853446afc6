package pricing

// DefaultVariant labels the result of a whole product that declares no sizes.
const DefaultVariant = "Default"

func resolvePiece(m PieceMatrix, qty int) Result {
	unit := m.PricePerUnit
	if tier, ok := SelectTier(qty, m.Tiers); ok {
		unit = applyDiscount(m.PricePerUnit, tier.DiscountPct)
	}
	return Result{
		Price:        unit * Money(qty),
		Cogs:         m.CostPerUnit * Money(qty),
		BelowMinimum: m.MinQty > 0 && qty < m.MinQty,
	}
}

func resolveWhole(m WholeMatrix, qty int, variant string) Result {
	if len(m.Sizes) == 0 {
		return Result{Variant: DefaultVariant}
	}
	size := m.Sizes[0]
	if variant != "" {
		for _, s := range m.Sizes {
			if s.Label == variant {
				size = s
				break
			}
		}
	}
	return Result{
		Price:   size.Price * Money(qty),
		Cogs:    size.Cost * Money(qty),
		Variant: size.Label,
	}
}
