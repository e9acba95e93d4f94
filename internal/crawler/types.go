package crawler

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/craftwatch/internal/inventory"
)

// Content selects how a fetched page is validated and parsed.
type Content int

// Supported page content types.
const (
	HTML Content = iota
	JSON
)

// Suffix is appended to cache object names.
func (c Content) Suffix() string {
	if c == JSON {
		return ".json"
	}
	return ".html"
}

// Validator returns the check applied to raw bytes for this content type.
func (c Content) Validator() Validator {
	if c == JSON {
		return ValidateJSON
	}
	return ValidateHTML
}

func (c Content) String() string {
	if c == JSON {
		return "json"
	}
	return "html"
}

// Page is a fetched document handed to node transforms.
type Page struct {
	URL string
	Raw []byte
	// Doc is nil for JSON pages.
	Doc *goquery.Document
}

// DecodeJSON unmarshals the raw body into v.
func (p Page) DecodeJSON(v any) error {
	if err := json.Unmarshal(p.Raw, v); err != nil {
		return Malformed("decode json from %s: %v", p.URL, err)
	}
	return nil
}

// Resolve turns ref into an absolute URL relative to the page.
func (p Page) Resolve(ref string) string {
	return ResolveURL(p.URL, ref)
}

// ResolveURL resolves ref against base. Unparseable input is returned trimmed.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Node is one unit of work in a scraper's job tree.
type Node interface {
	node()
}

// Container is fetched and expanded into child nodes.
type Container struct {
	URL     string
	Content Content
	Expand  func(Page) ([]Node, error)
}

// Leaf is fetched and transformed into a single item.
type Leaf struct {
	Name    string
	URL     string
	Content Content
	Extract func(Page) (inventory.ScrapedItem, error)
}

// Multiple groups nodes without fetching anything.
type Multiple struct {
	Nodes []Node
}

func (*Container) node() {}
func (*Leaf) node()      {}
func (*Multiple) node()  {}

// ForRootURLs builds one HTML container per root URL sharing expand.
func ForRootURLs(expand func(Page) ([]Node, error), urls ...string) *Multiple {
	nodes := make([]Node, 0, len(urls))
	for _, u := range urls {
		nodes = append(nodes, &Container{URL: u, Content: HTML, Expand: expand})
	}
	return &Multiple{Nodes: nodes}
}

// Result is one successfully extracted leaf.
type Result struct {
	BreweryID string
	Name      string
	URL       string
	Item      inventory.ScrapedItem
}

// RunRecord summarises a finished run for the run store.
type RunRecord struct {
	RunID      string           `json:"run_id"`
	AsOf       string           `json:"as_of"`
	CapturedAt time.Time        `json:"captured_at"`
	Items      int              `json:"items"`
	Breweries  int              `json:"breweries"`
	Stats      map[string]Stats `json:"stats"`
}

func (r RunRecord) String() string {
	return fmt.Sprintf("run %s (as of %s): %d items from %d breweries", r.RunID, r.AsOf, r.Items, r.Breweries)
}
