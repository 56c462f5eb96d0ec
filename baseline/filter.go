package baseline

import (
	"fmt"
	"strings"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// FILTER POLICY
// =============================================================================

// FilterPolicy decides what happens when no item matches the active baseline.
//
//   - Lenient: untagged legacy items are treated as belonging to every
//     baseline until migrated, so a catalog mid-migration is never empty.
//   - Strict:  nothing matches, nothing is returned.
type FilterPolicy string

const (
	Lenient FilterPolicy = "lenient"
	Strict  FilterPolicy = "strict"
)

// DefaultPolicy is the behavior of the existing catalog.
const DefaultPolicy = Lenient

// ParsePolicy accepts "strict" or "lenient" in any case. Empty means default.
func ParsePolicy(s string) (FilterPolicy, error) {
	switch FilterPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPolicy, nil
	case Lenient:
		return Lenient, nil
	case Strict:
		return Strict, nil
	}
	return "", fmt.Errorf("filter policy %q: %w", s, budget.ErrInvalidArgument)
}

// =============================================================================
// FILTER
// =============================================================================

// FilterByBaseline applies the default (lenient) policy.
func FilterByBaseline(items []budget.LineItem, baselineID budget.BaselineID) []budget.LineItem {
	return Filter(items, baselineID, DefaultPolicy)
}

// Filter returns the items that belong to baselineID.
//
//  1. empty baselineID: items are returned unchanged
//  2. items tagged with baselineID win
//  3. no tagged match: lenient returns the untagged legacy items, strict
//     returns nothing
//
// The input slice is never modified.
func Filter(items []budget.LineItem, baselineID budget.BaselineID, policy FilterPolicy) []budget.LineItem {
	target := budget.BaselineID(strings.TrimSpace(string(baselineID)))
	if target == "" {
		return items
	}

	var matched, legacy []budget.LineItem
	for _, item := range items {
		switch tag := item.Tag().(type) {
		case budget.Tagged:
			if tag.BaselineID == target {
				matched = append(matched, item)
			}
		case budget.Legacy:
			legacy = append(legacy, item)
		}
	}

	if len(matched) > 0 {
		return matched
	}
	if len(items) > 0 && policy != Strict && len(legacy) > 0 {
		return legacy
	}
	return []budget.LineItem{}
}

// FilterForecast drops forecast cells generated from any baseline other
// than baselineID. Untagged cells (entered by hand, or stored before cells
// carried a baseline) are kept. An empty baselineID keeps everything.
func FilterForecast(cells []budget.ForecastCell, baselineID budget.BaselineID) []budget.ForecastCell {
	target := budget.BaselineID(strings.TrimSpace(string(baselineID)))
	if target == "" {
		return cells
	}

	scoped := make([]budget.ForecastCell, 0, len(cells))
	for _, c := range cells {
		if id := budget.BaselineID(strings.TrimSpace(string(c.BaselineID))); id == "" || id == target {
			scoped = append(scoped, c)
		}
	}
	return scoped
}
