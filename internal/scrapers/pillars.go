package scrapers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/inventory"
)

const pillarsRootURL = "https://shop.pillarsbrewery.com/collections/pillars-beers"

var (
	pillarsStyleRe = regexp.MustCompile(`STYLE:\s+(.+?)\s+ABV:\s+(\d+(?:\.\d+)?)%`)
	pillarsCaseRe  = regexp.MustCompile(`^(.*?) Case of (\d+)`)
	pillarsKegRe   = regexp.MustCompile(`^(.*?) \d+`)
)

// Pillars scrapes the Pillars Brewery Shopify store.
type Pillars struct{}

// Brewery implements crawler.Scraper.
func (Pillars) Brewery() inventory.Brewery {
	return inventory.Brewery{
		ShortName:  "Pillars",
		Name:       "Pillars Brewery",
		Location:   "Walthamstow, London",
		WebsiteURL: "https://www.pillarsbrewery.com/",
	}
}

// Root implements crawler.Scraper.
func (p Pillars) Root() crawler.Node {
	return crawler.ForRootURLs(p.listing, pillarsRootURL)
}

func (Pillars) listing(page crawler.Page) ([]crawler.Node, error) {
	items, err := shopifyItems(page)
	if err != nil {
		return nil, err
	}
	nodes := make([]crawler.Node, 0, len(items))
	for _, details := range items {
		nodes = append(nodes, &crawler.Leaf{
			Name: details.title,
			URL:  details.url,
			Extract: func(page crawler.Page) (inventory.ScrapedItem, error) {
				return pillarsItem(page, details)
			},
		})
	}
	return nodes, nil
}

func pillarsItem(page crawler.Page, details shopifyItem) (inventory.ScrapedItem, error) {
	descSel := page.Doc.Find(".product-single__description").First()
	desc := cleanText(descSel.Text())
	m := pillarsStyleRe.FindStringSubmatch(desc)
	if m == nil {
		// Without style and ABV this is merch, not beer.
		return inventory.ScrapedItem{}, crawler.Skip("no style or ABV")
	}
	abv, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return inventory.ScrapedItem{}, crawler.Malformed("abv %q: %v", m[2], err)
	}
	price, err := parsePrice(details.priceText)
	if err != nil {
		return inventory.ScrapedItem{}, err
	}

	name, offer, err := pillarsTitle(details.title)
	if err != nil {
		return inventory.ScrapedItem{}, err
	}
	offer.TotalPrice = price

	intro := desc
	if i := strings.Index(desc, "STYLE:"); i >= 0 {
		intro = strings.TrimSpace(desc[:i])
	}

	return inventory.ScrapedItem{
		Name:         name,
		Summary:      titleCase(m[1]),
		Desc:         intro,
		Offers:       []inventory.Offer{offer},
		ABV:          &abv,
		Available:    details.available,
		ThumbnailURL: details.thumbnailURL,
	}, nil
}

// pillarsTitle splits titles like "Untraditional Lager Case of 24" and
// "Untraditional Lager 30L Keg".
func pillarsTitle(title string) (string, inventory.Offer, error) {
	offer := inventory.Offer{Quantity: 1, Format: inventory.FormatCan}
	switch {
	case strings.Contains(title, "Case"):
		m := pillarsCaseRe.FindStringSubmatch(title)
		if m == nil {
			return "", offer, crawler.Malformed("case title %q", title)
		}
		qty, err := strconv.Atoi(m[2])
		if err != nil {
			return "", offer, crawler.Malformed("case size %q: %v", m[2], err)
		}
		offer.Quantity = qty
		return strings.TrimSpace(m[1]), offer, nil
	case strings.Contains(title, "Keg"):
		m := pillarsKegRe.FindStringSubmatch(title)
		if m == nil {
			return "", offer, crawler.Malformed("keg title %q", title)
		}
		offer.Format = inventory.FormatKeg
		offer.SizeMl, _ = parseSizeMl(title)
		return strings.TrimSpace(m[1]), offer, nil
	default:
		return title, offer, nil
	}
}
