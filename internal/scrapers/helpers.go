package scrapers

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/craftwatch/internal/crawler"
)

var (
	priceRe  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	abvRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	mlRe     = regexp.MustCompile(`(?i)(\d+)\s*ml\b`)
	litreRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:l|litre|liter)s?\b`)
	spacesRe = regexp.MustCompile(`\s+`)
)

// shopifyItem is one product card on a Shopify collection page.
type shopifyItem struct {
	title        string
	url          string
	thumbnailURL string
	priceText    string
	available    bool
}

// shopifyItems lists the product cards of a Shopify collection page.
func shopifyItems(page crawler.Page) ([]shopifyItem, error) {
	if page.Doc == nil {
		return nil, crawler.Malformed("%s is not an html page", page.URL)
	}
	cards := page.Doc.Find(".product-card")
	if cards.Length() == 0 {
		return nil, crawler.Malformed("no product cards on %s", page.URL)
	}
	items := make([]shopifyItem, 0, cards.Length())
	var err error
	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		var item shopifyItem
		if item.title, err = textFrom(card, ".product-card__title"); err != nil {
			return false
		}
		var href string
		if href, err = attrFrom(card, ".grid-view-item__link", "href"); err != nil {
			return false
		}
		item.url = page.Resolve(href)
		if src := firstAttr(card.Find(".grid-view-item__image").First(), "src", "data-src"); src != "" {
			item.thumbnailURL = page.Resolve(cleanImageURL(src))
		}
		item.priceText = strings.TrimSpace(card.Find(".price-item--sale").First().Text())
		item.available = !card.Find(".price").First().HasClass("price--sold-out")
		items = append(items, item)
		return true
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func cleanImageURL(src string) string {
	src = strings.ReplaceAll(src, "@2x", "")
	if i := strings.Index(src, "?"); i >= 0 {
		src = src[:i]
	}
	return src
}

// textFrom returns the normalised text of the first match of css.
func textFrom(s *goquery.Selection, css string) (string, error) {
	match := s.Find(css).First()
	if match.Length() == 0 {
		return "", crawler.Malformed("missing %q", css)
	}
	return cleanText(match.Text()), nil
}

// attrFrom returns attribute attr of the first match of css.
func attrFrom(s *goquery.Selection, css, attr string) (string, error) {
	match := s.Find(css).First()
	val, ok := match.Attr(attr)
	if !ok || strings.TrimSpace(val) == "" {
		return "", crawler.Malformed("missing %s on %q", attr, css)
	}
	return strings.TrimSpace(val), nil
}

func firstAttr(s *goquery.Selection, attrs ...string) string {
	for _, attr := range attrs {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}

// parsePrice extracts the first decimal number, ignoring currency symbols.
func parsePrice(text string) (float64, error) {
	match := priceRe.FindString(strings.ReplaceAll(text, ",", ""))
	if match == "" {
		return 0, crawler.Malformed("no price in %q", text)
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, crawler.Malformed("bad price %q: %v", match, err)
	}
	return price, nil
}

// parseABV finds the first percentage in text.
func parseABV(text string) (*float64, bool) {
	m := abvRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// parseSizeMl finds a volume in millilitres or litres.
func parseSizeMl(text string) (int, bool) {
	if m := mlRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v, true
		}
	}
	if m := litreRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return int(v * 1000), true
		}
	}
	return 0, false
}

// titleCase lower-cases s and capitalises each space-separated word.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
