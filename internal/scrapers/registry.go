// Package scrapers holds the per-brewery job trees.
package scrapers

import (
	"fmt"
	"slices"
	"strings"

	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/inventory"
)

var registered = []crawler.Scraper{
	NorthernMonk{},
	Pillars{},
}

// All returns every registered scraper.
func All() []crawler.Scraper {
	return slices.Clone(registered)
}

// IDs lists the brewery ids of all registered scrapers.
func IDs() []string {
	ids := make([]string, 0, len(registered))
	for _, s := range registered {
		ids = append(ids, s.Brewery().ID())
	}
	return ids
}

// Lookup resolves names (short names or ids) to scrapers. No names selects all.
func Lookup(names []string) ([]crawler.Scraper, error) {
	if len(names) == 0 {
		return All(), nil
	}
	var (
		out     []crawler.Scraper
		unknown []string
	)
	for _, name := range names {
		id := inventory.SafeID(strings.TrimSpace(name))
		idx := slices.IndexFunc(registered, func(s crawler.Scraper) bool { return s.Brewery().ID() == id })
		if idx < 0 {
			unknown = append(unknown, name)
			continue
		}
		if !slices.Contains(out, registered[idx]) {
			out = append(out, registered[idx])
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown scrapers %q (available: %s)", unknown, strings.Join(IDs(), ", "))
	}
	return out, nil
}
