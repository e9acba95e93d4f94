package executor

import (
	"cmp"
	"slices"

	"github.com/JakeFAU/craftwatch/internal/inventory"
)

// sortItems orders items by brewery, name, availability (unavailable first),
// size, keg, quantity, then per-item price and URL so that the result does not
// depend on the order scrapers completed in.
func sortItems(items []inventory.Item) {
	slices.SortStableFunc(items, compareItems)
}

func compareItems(a, b inventory.Item) int {
	if c := cmp.Compare(a.BreweryID, b.BreweryID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if a.Available != b.Available {
		if a.Available {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.Offer.SizeMl, b.Offer.SizeMl); c != 0 {
		return c
	}
	if a.Offer.Keg() != b.Offer.Keg() {
		if a.Offer.Keg() {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.Offer.Quantity, b.Offer.Quantity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.PerItemPrice(), b.PerItemPrice()); c != 0 {
		return c
	}
	return cmp.Compare(a.URL, b.URL)
}
