// Package inventory defines the product records produced by a crawl run.
package inventory

import (
	"strings"
	"time"
)

// Format describes how an offer is packaged.
type Format string

// Offer formats.
const (
	FormatCan    Format = "can"
	FormatBottle Format = "bottle"
	FormatKeg    Format = "keg"
)

// Brewery is the static metadata each scraper advertises.
type Brewery struct {
	ShortName  string `json:"short_name"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	WebsiteURL string `json:"website_url"`
	New        bool   `json:"new"`
}

// ID returns a stable identifier safe for paths and keys.
func (b Brewery) ID() string {
	return SafeID(b.ShortName)
}

// SafeID lower-cases s and replaces anything outside [0-9a-z] with '-'.
func SafeID(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
			sb.WriteRune(r)
			continue
		}
		sb.WriteByte('-')
	}
	return sb.String()
}

// Offer is one purchasable unit.
type Offer struct {
	Quantity   int     `json:"quantity"`
	TotalPrice float64 `json:"total_price"`
	SizeMl     int     `json:"size_ml,omitempty"`
	Format     Format  `json:"format"`
}

// PerItemPrice divides the total price across the quantity.
func (o Offer) PerItemPrice() float64 {
	if o.Quantity <= 0 {
		return o.TotalPrice
	}
	return o.TotalPrice / float64(o.Quantity)
}

// Keg reports whether the offer is a keg.
func (o Offer) Keg() bool {
	return o.Format == FormatKeg
}

// ScrapedItem is the raw record a scraper extracts from one product page.
type ScrapedItem struct {
	Name         string   `json:"name"`
	Summary      string   `json:"summary,omitempty"`
	Desc         string   `json:"desc,omitempty"`
	Mixed        bool     `json:"mixed"`
	Offers       []Offer  `json:"offers"`
	ABV          *float64 `json:"abv,omitempty"`
	Available    bool     `json:"available"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
}

// Item is a validated product with a single chosen offer.
type Item struct {
	BreweryID    string   `json:"brewery_id"`
	Name         string   `json:"name"`
	Summary      string   `json:"summary,omitempty"`
	Desc         string   `json:"desc,omitempty"`
	Mixed        bool     `json:"mixed"`
	Offer        Offer    `json:"offer"`
	ABV          *float64 `json:"abv,omitempty"`
	Available    bool     `json:"available"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
	URL          string   `json:"url"`
	Categories   []string `json:"categories,omitempty"`
	New          bool     `json:"new"`
}

// PerItemPrice is a shortcut for Offer.PerItemPrice.
func (i Item) PerItemPrice() float64 {
	return i.Offer.PerItemPrice()
}

// Key identifies an item across runs.
func (i Item) Key() string {
	return i.BreweryID + "/" + strings.ToLower(i.Name)
}

// Metadata describes the run that produced an inventory.
type Metadata struct {
	RunID      string    `json:"run_id"`
	CapturedAt time.Time `json:"captured_at"`
	AsOf       string    `json:"as_of"`
}

// Inventory is the write-once snapshot of one run.
type Inventory struct {
	Metadata   Metadata  `json:"metadata"`
	Categories []string  `json:"categories"`
	Breweries  []Brewery `json:"breweries"`
	Items      []Item    `json:"items"`
}

// CountByBrewery tallies items per brewery id.
func (inv Inventory) CountByBrewery() map[string]int {
	counts := make(map[string]int, len(inv.Breweries))
	for _, item := range inv.Items {
		counts[item.BreweryID]++
	}
	return counts
}
