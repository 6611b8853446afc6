package pricing

import "math"

// Money represents a monetary value stored in whole currency units.
type Money = int64

// FallbackCostRatio is the share of a declared price assumed to be cost when
// no real cost figure is known.
const FallbackCostRatio = 0.55

// Round rounds to the nearest whole currency unit, halves rounding up.
func Round(v float64) Money {
	return Money(math.Floor(v + 0.5))
}

// EstimateCost applies FallbackCostRatio to amount.
func EstimateCost(amount Money) Money {
	return Round(float64(amount) * FallbackCostRatio)
}

func applyDiscount(amount Money, pct float64) Money {
	return Round(float64(amount) * (1 - pct/100))
}
