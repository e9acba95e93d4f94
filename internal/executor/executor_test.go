package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/craftwatch/internal/clock/system"
	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/inventory"
)

const page = "<html><head><title>shop</title></head><body></body></html>"

type stubRetriever struct {
	closed *atomic.Int32
}

func (stubRetriever) Retrieve(_ context.Context, _, _ string, validate crawler.Validator) ([]byte, error) {
	if validate != nil {
		if err := validate([]byte(page)); err != nil {
			return nil, err
		}
	}
	return []byte(page), nil
}

func (r stubRetriever) Close() error {
	r.closed.Add(1)
	return nil
}

type product struct {
	url  string
	item inventory.ScrapedItem
}

type stubScraper struct {
	brewery  inventory.Brewery
	products []product
	fatal    bool
}

func (s *stubScraper) Brewery() inventory.Brewery { return s.brewery }

func (s *stubScraper) Root() crawler.Node {
	nodes := make([]crawler.Node, 0, len(s.products)+1)
	for _, p := range s.products {
		nodes = append(nodes, &crawler.Leaf{
			Name: p.item.Name,
			URL:  p.url,
			Extract: func(crawler.Page) (inventory.ScrapedItem, error) {
				return p.item, nil
			},
		})
	}
	if s.fatal {
		nodes = append(nodes, &crawler.Leaf{
			Name: "broken",
			URL:  "https://" + s.brewery.ID() + ".example.com/broken",
			Extract: func(crawler.Page) (inventory.ScrapedItem, error) {
				return inventory.ScrapedItem{}, crawler.Fatal("layout changed")
			},
		})
	}
	return &crawler.Multiple{Nodes: nodes}
}

type fixedIDs string

func (f fixedIDs) NewID() (string, error) { return string(f), nil }

type tagEnricher struct{}

func (tagEnricher) EnrichItem(item inventory.Item) inventory.Item {
	item.Categories = append(append([]string(nil), item.Categories...), "Tagged")
	return item
}

func (tagEnricher) EnrichBrewery(b inventory.Brewery) inventory.Brewery {
	b.New = true
	return b
}

func (tagEnricher) Categories() []string { return []string{"Tagged"} }

func abv(v float64) *float64 { return &v }

func can(price float64) []inventory.Offer {
	return []inventory.Offer{{Quantity: 1, TotalPrice: price, SizeMl: 330, Format: inventory.FormatCan}}
}

func newTestExecutor(t *testing.T, closed *atomic.Int32, opts ...Option) *Executor {
	t.Helper()
	factory := func(string) (crawler.RetrieveCloser, error) {
		return stubRetriever{closed: closed}, nil
	}
	opts = append([]Option{
		WithClock(system.Fixed(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))),
		WithIDGenerator(fixedIDs("run-1")),
	}, opts...)
	e, err := New(factory, Config{}, opts...)
	require.NoError(t, err)
	return e
}

func TestScrapeKeepsCheapestDuplicate(t *testing.T) {
	t.Parallel()

	scraper := &stubScraper{
		brewery: inventory.Brewery{ShortName: "X", Name: "X Brewing"},
		products: []product{
			{url: "https://x.example.com/ipa-single", item: inventory.ScrapedItem{Name: "IPA", Offers: can(4.00), Available: true}},
			{url: "https://x.example.com/ipa-promo", item: inventory.ScrapedItem{Name: "IPA", Offers: can(3.50), Available: true}},
		},
	}

	var closed atomic.Int32
	inv, err := newTestExecutor(t, &closed).Scrape(context.Background(), []crawler.Scraper{scraper})
	require.NoError(t, err)

	require.Len(t, inv.Items, 1)
	assert.Equal(t, "IPA", inv.Items[0].Name)
	assert.InDelta(t, 3.50, inv.Items[0].PerItemPrice(), 1e-9)
	assert.Equal(t, "https://x.example.com/ipa-promo", inv.Items[0].URL)
}

func TestScrapeAssemblesMetadata(t *testing.T) {
	t.Parallel()

	scraper := &stubScraper{
		brewery: inventory.Brewery{ShortName: "Alpha"},
		products: []product{
			{url: "https://alpha.example.com/pale", item: inventory.ScrapedItem{
				Name: " Pale ", Offers: can(3), ABV: abv(4.5), ThumbnailURL: "/img/pale.png",
			}},
		},
	}

	var closed atomic.Int32
	report, err := newTestExecutor(t, &closed, WithEnrichers(tagEnricher{})).Run(context.Background(), []crawler.Scraper{scraper})
	require.NoError(t, err)

	inv := report.Inventory
	assert.Equal(t, "run-1", inv.Metadata.RunID)
	assert.Equal(t, "2024-05-01", inv.Metadata.AsOf)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), inv.Metadata.CapturedAt)
	assert.Equal(t, []string{"Tagged"}, inv.Categories)
	require.Len(t, inv.Breweries, 1)
	assert.True(t, inv.Breweries[0].New)

	require.Len(t, inv.Items, 1)
	item := inv.Items[0]
	assert.Equal(t, "alpha", item.BreweryID)
	assert.Equal(t, "Pale", item.Name)
	assert.Equal(t, "https://alpha.example.com/img/pale.png", item.ThumbnailURL)
	assert.Equal(t, []string{"Tagged"}, item.Categories)

	assert.Equal(t, crawler.Stats{NumRawItems: 1}, report.Stats["alpha"])
	record := report.Record()
	assert.Equal(t, 1, record.Items)
	assert.Equal(t, 1, record.Breweries)
	assert.Equal(t, "run-1", record.RunID)
	assert.Equal(t, int32(1), closed.Load())
}

func TestFatalScraperDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	good := &stubScraper{
		brewery:  inventory.Brewery{ShortName: "Good"},
		products: []product{{url: "https://good.example.com/stout", item: inventory.ScrapedItem{Name: "Stout", Offers: can(3)}}},
	}
	bad := &stubScraper{
		brewery:  inventory.Brewery{ShortName: "Bad"},
		products: []product{{url: "https://bad.example.com/lager", item: inventory.ScrapedItem{Name: "Lager", Offers: can(3)}}},
		fatal:    true,
	}

	var closed atomic.Int32
	report, err := newTestExecutor(t, &closed).Run(context.Background(), []crawler.Scraper{good, bad})
	require.NoError(t, err)

	require.Len(t, report.Inventory.Items, 1)
	assert.Equal(t, "good", report.Inventory.Items[0].BreweryID)
	assert.Len(t, report.Inventory.Breweries, 2)
	require.Contains(t, report.Failed, "bad")
	assert.Equal(t, crawler.KindFatal, crawler.Classify(report.Failed["bad"]))
	assert.Equal(t, int32(2), closed.Load(), "every retriever is closed, even after a fatal error")
}

func TestAllScrapersFailed(t *testing.T) {
	t.Parallel()

	bad := &stubScraper{brewery: inventory.Brewery{ShortName: "Bad"}, fatal: true}

	var closed atomic.Int32
	inv, err := newTestExecutor(t, &closed).Scrape(context.Background(), []crawler.Scraper{bad})
	require.ErrorIs(t, err, ErrAllScrapersFailed)
	assert.Empty(t, inv.Items)
}

func TestFactoryFailureCountsAsFailedScraper(t *testing.T) {
	t.Parallel()

	factory := func(id string) (crawler.RetrieveCloser, error) {
		return nil, fmt.Errorf("no channel for %s", id)
	}
	e, err := New(factory, Config{AsOf: "2024-05-02"})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), []crawler.Scraper{&stubScraper{brewery: inventory.Brewery{ShortName: "Alpha"}}})
	require.ErrorIs(t, err, ErrAllScrapersFailed)
	assert.Equal(t, "2024-05-02", report.Inventory.Metadata.AsOf)
	assert.Contains(t, report.Failed, "alpha")
}

func TestInvalidItemsAreDropped(t *testing.T) {
	t.Parallel()

	scraper := &stubScraper{
		brewery: inventory.Brewery{ShortName: "Alpha"},
		products: []product{
			{url: "https://alpha.example.com/strong", item: inventory.ScrapedItem{Name: "Barleywine", Offers: can(5), ABV: abv(14.0)}},
			{url: "https://alpha.example.com/misparsed", item: inventory.ScrapedItem{Name: "Tiny", Offers: []inventory.Offer{
				{Quantity: 1, TotalPrice: 3, SizeMl: 1},
			}}},
			{url: "https://alpha.example.com/blank", item: inventory.ScrapedItem{Name: "   ", Offers: can(3)}},
			{url: "https://alpha.example.com/ok", item: inventory.ScrapedItem{Name: "Session", Offers: can(2.5), ABV: abv(3.4)}},
		},
	}

	var closed atomic.Int32
	inv, err := newTestExecutor(t, &closed).Scrape(context.Background(), []crawler.Scraper{scraper})
	require.NoError(t, err)

	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Session", inv.Items[0].Name)
}

func TestCancelledRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scraper := &stubScraper{
		brewery:  inventory.Brewery{ShortName: "Alpha"},
		products: []product{{url: "https://alpha.example.com/ok", item: inventory.ScrapedItem{Name: "Session", Offers: can(2.5)}}},
	}
	var closed atomic.Int32
	_, err := newTestExecutor(t, &closed).Scrape(ctx, []crawler.Scraper{scraper})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresFactory(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{})
	require.Error(t, err)
}

func TestNormaliseOneItemPerOffer(t *testing.T) {
	t.Parallel()

	items, err := normalise(crawler.Result{
		BreweryID: "alpha",
		Name:      "Pale",
		URL:       "https://alpha.example.com/pale",
		Item: inventory.ScrapedItem{
			Name: "Pale",
			Offers: []inventory.Offer{
				{TotalPrice: 3, SizeMl: 440, Format: inventory.FormatCan},
				{Quantity: 12, TotalPrice: 30, SizeMl: 440, Format: inventory.FormatCan},
				{Quantity: 1, TotalPrice: 0, SizeMl: 440},
			},
		},
	})

	var invalidErr *InvalidItemError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, "alpha", invalidErr.BreweryID)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Offer.Quantity, "missing quantity defaults to one")
	assert.InDelta(t, 2.5, items[1].PerItemPrice(), 1e-9)
}

func TestNormaliseRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	_, err := normalise(crawler.Result{
		BreweryID: "alpha",
		URL:       "/pale",
		Item:      inventory.ScrapedItem{Name: "Pale", Offers: can(3)},
	})
	var invalidErr *InvalidItemError
	require.True(t, errors.As(err, &invalidErr))
}
