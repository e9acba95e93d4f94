package enrich

import "github.com/JakeFAU/craftwatch/internal/inventory"

// Newalyser flags items and breweries missing from the previous snapshot.
type Newalyser struct {
	previous  bool
	items     map[string]struct{}
	breweries map[string]struct{}
}

// NewNewalyser indexes previous. A nil previous snapshot marks nothing as new,
// since the first run has nothing to compare against.
func NewNewalyser(previous *inventory.Inventory) *Newalyser {
	n := &Newalyser{
		items:     make(map[string]struct{}),
		breweries: make(map[string]struct{}),
	}
	if previous == nil {
		return n
	}
	n.previous = true
	for _, item := range previous.Items {
		n.items[item.Key()] = struct{}{}
	}
	for _, b := range previous.Breweries {
		n.breweries[b.ID()] = struct{}{}
	}
	return n
}

// EnrichItem sets New when the item was not in the previous snapshot.
func (n *Newalyser) EnrichItem(item inventory.Item) inventory.Item {
	_, seen := n.items[item.Key()]
	item.New = n.previous && !seen
	return item
}

// EnrichBrewery sets New when the brewery was not in the previous snapshot.
func (n *Newalyser) EnrichBrewery(b inventory.Brewery) inventory.Brewery {
	_, seen := n.breweries[b.ID()]
	b.New = n.previous && !seen
	return b
}
