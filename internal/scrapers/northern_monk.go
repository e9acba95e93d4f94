package scrapers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/inventory"
)

const northernMonkRootURL = "https://northernmonkshop.com/collections/beer"

var (
	monkPackRe     = regexp.MustCompile(`(?i)(\d+) pack`)
	monkMultipleRe = regexp.MustCompile(`(?i)\d+\s+x`)
	monkSummaryRe  = regexp.MustCompile(`[^/]+\s+//\s+(.*)`)
)

// NorthernMonk scrapes the paginated Northern Monk collection.
type NorthernMonk struct{}

// Brewery implements crawler.Scraper.
func (NorthernMonk) Brewery() inventory.Brewery {
	return inventory.Brewery{
		ShortName:  "Northern Monk",
		Name:       "Northern Monk Brew Co",
		Location:   "Holbeck, Leeds",
		WebsiteURL: "https://northernmonk.com/",
	}
}

// Root implements crawler.Scraper.
func (n NorthernMonk) Root() crawler.Node {
	return crawler.ForRootURLs(n.listing, northernMonkRootURL)
}

// listing follows the next-page link and emits one leaf per product card.
func (n NorthernMonk) listing(page crawler.Page) ([]crawler.Node, error) {
	if page.Doc == nil {
		return nil, crawler.Malformed("%s is not an html page", page.URL)
	}
	var nodes []crawler.Node
	if next, ok := page.Doc.Find("link[rel=next]").First().Attr("href"); ok && strings.TrimSpace(next) != "" {
		nodes = append(nodes, &crawler.Container{URL: page.Resolve(next), Expand: n.listing})
	}

	var err error
	page.Doc.Find(".card").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		var rawName, href string
		if rawName, err = textFrom(card, ".card__name"); err != nil {
			return false
		}
		if href, err = attrFrom(card, ".card__wrapper", "href"); err != nil {
			return false
		}
		rawName = titleCase(rawName)
		priceText := strings.TrimSpace(card.Find(".card__price").First().Text())
		nodes = append(nodes, &crawler.Leaf{
			Name: rawName,
			URL:  page.Resolve(href),
			Extract: func(page crawler.Page) (inventory.ScrapedItem, error) {
				return northernMonkItem(page, rawName, priceText)
			},
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func northernMonkItem(page crawler.Page, rawName, priceText string) (inventory.ScrapedItem, error) {
	desc := page.Doc.Find(".product__description").First()
	if desc.Length() == 0 {
		return inventory.ScrapedItem{}, crawler.Malformed("missing product description")
	}
	descText := cleanText(desc.Text())
	abv, hasABV := parseABV(descText)
	multiples := 0
	desc.Children().Each(func(_ int, child *goquery.Selection) {
		if monkMultipleRe.MatchString(child.Text()) {
			multiples++
		}
	})
	mixed := multiples > 1
	if !hasABV && !mixed {
		return inventory.ScrapedItem{}, crawler.Skip("no ABV on a single beer, assuming merch")
	}

	price, err := parsePrice(priceText)
	if err != nil {
		return inventory.ScrapedItem{}, err
	}

	stripped := monkPackRe.ReplaceAllString(rawName, "")
	stripped = strings.Split(stripped, "//")[0]
	parts := strings.Split(stripped, "™")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	summary := ""
	if len(parts) > 1 {
		summary = parts[1]
	} else if m := monkSummaryRe.FindStringSubmatch(rawName); m != nil {
		summary = strings.TrimSpace(m[1])
	}

	quantity := 1
	if m := monkPackRe.FindStringSubmatch(rawName); m != nil {
		if q, err := strconv.Atoi(m[1]); err == nil {
			quantity = q
		}
	}
	size, _ := parseSizeMl(descText)

	thumbnail := ""
	if src, ok := page.Doc.Find(".product__image.lazyload").First().Attr("data-src"); ok {
		thumbnail = page.Resolve(strings.ReplaceAll(src, "{width}", "180"))
	}

	return inventory.ScrapedItem{
		Name:    parts[0],
		Summary: summary,
		Desc:    descText,
		Mixed:   mixed,
		Offers: []inventory.Offer{{
			Quantity:   quantity,
			TotalPrice: price,
			SizeMl:     size,
			Format:     inventory.FormatCan,
		}},
		ABV:          abv,
		Available:    true,
		ThumbnailURL: thumbnail,
	}, nil
}
