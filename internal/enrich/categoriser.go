// Package enrich derives extra attributes for inventory items and breweries.
package enrich

import (
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/JakeFAU/craftwatch/internal/inventory"
)

// DefaultCategories maps each category to the keywords that select it.
var DefaultCategories = map[string][]string{
	"IPA":         {"ipa", "india pale ale", "neipa", "dipa", "tipa"},
	"Pale":        {"pale", "apa", "xpa"},
	"Lager":       {"lager", "pilsner", "pils", "helles", "kellerbier"},
	"Stout":       {"stout", "imperial stout"},
	"Porter":      {"porter"},
	"Sour":        {"sour", "gose", "berliner", "lambic", "wild"},
	"Saison":      {"saison", "farmhouse"},
	"Wheat":       {"wheat", "weisse", "hefeweizen", "witbier", "wit"},
	"Bitter":      {"bitter", "esb", "best bitter"},
	"Barrel Aged": {"barrel aged", "barrel-aged"},
	"Low/No":      {"alcohol free", "alcohol-free", "low alcohol", "non-alcoholic"},
	"Mixed Pack":  {"mixed", "mixed pack", "selection", "variety"},
}

// Categoriser tags items whose text mentions a category keyword.
type Categoriser struct {
	names    []string
	patterns map[string]*regexp.Regexp
}

// NewCategoriser compiles one whole-word, case-insensitive matcher per category.
func NewCategoriser(keywords map[string][]string) *Categoriser {
	c := &Categoriser{
		names:    slices.Sorted(maps.Keys(keywords)),
		patterns: make(map[string]*regexp.Regexp, len(keywords)),
	}
	for name, words := range keywords {
		if len(words) == 0 {
			continue
		}
		quoted := make([]string, 0, len(words))
		for _, w := range words {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
		}
		c.patterns[name] = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return c
}

// Categories lists category names in a stable order.
func (c *Categoriser) Categories() []string {
	return slices.Clone(c.names)
}

// EnrichItem adds every matching category that the item does not already carry.
func (c *Categoriser) EnrichItem(item inventory.Item) inventory.Item {
	text := strings.Join([]string{item.Name, item.Summary, item.Desc}, "\n")
	categories := slices.Clone(item.Categories)
	for _, name := range c.names {
		pattern, ok := c.patterns[name]
		if !ok || slices.Contains(categories, name) {
			continue
		}
		if pattern.MatchString(text) {
			categories = append(categories, name)
		}
	}
	item.Categories = categories
	return item
}

// EnrichBrewery returns b unchanged.
func (c *Categoriser) EnrichBrewery(b inventory.Brewery) inventory.Brewery {
	return b
}
