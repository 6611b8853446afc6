package pricing

import (
	"cmp"
	"slices"
)

// SelectTier returns the tier with the largest MinQty not exceeding qty.
func SelectTier(qty int, tiers []Tier) (Tier, bool) {
	return selectThreshold(qty, tiers, func(t Tier) int { return t.MinQty })
}

// SelectRule returns the rule with the largest MinTotalQty not exceeding totalUnits.
func SelectRule(totalUnits int, rules []Rule) (Rule, bool) {
	return selectThreshold(totalUnits, rules, func(r Rule) int { return r.MinTotalQty })
}

// selectThreshold sorts a copy of items by threshold descending and returns
// the first one at or below qty. Equal thresholds keep their input order.
func selectThreshold[T any](qty int, items []T, threshold func(T) int) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return cmp.Compare(threshold(b), threshold(a))
	})
	for _, it := range sorted {
		if threshold(it) <= qty {
			return it, true
		}
	}
	return zero, false
}
