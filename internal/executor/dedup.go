package executor

import (
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/craftwatch/internal/inventory"
)

type groupKey struct {
	breweryID string
	name      string
	keg       bool
}

// bestPriced keeps the cheapest item per (brewery, name, keg) group. The
// earliest item wins a tie, and survivors keep their relative order.
func bestPriced(items []inventory.Item, logger *zap.Logger) []inventory.Item {
	best := make(map[groupKey]int, len(items))
	sizes := make(map[groupKey]int, len(items))
	var order []groupKey
	for i, item := range items {
		key := groupKey{breweryID: item.BreweryID, name: item.Name, keg: item.Offer.Keg()}
		sizes[key]++
		j, seen := best[key]
		if !seen {
			best[key] = i
			order = append(order, key)
			continue
		}
		if item.PerItemPrice() < items[j].PerItemPrice() {
			best[key] = i
		}
	}

	kept := make([]int, 0, len(order))
	for _, key := range order {
		if n := sizes[key]; n > 1 {
			logger.Info("Eliminating more expensive items",
				zap.String("brewery", key.breweryID),
				zap.String("name", key.name),
				zap.Bool("keg", key.keg),
				zap.Int("eliminated", n-1),
			)
		}
		kept = append(kept, best[key])
	}
	slices.Sort(kept)

	out := make([]inventory.Item, 0, len(kept))
	for _, i := range kept {
		out = append(out, items[i])
	}
	return out
}
