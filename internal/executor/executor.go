// Package executor runs every scraper and aggregates their results into a
// single inventory snapshot.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/craftwatch/internal/clock/system"
	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/id/uuid"
	"github.com/JakeFAU/craftwatch/internal/inventory"
	"github.com/JakeFAU/craftwatch/internal/metrics"
)

// ErrAllScrapersFailed is returned when no scraper finished its traversal.
var ErrAllScrapersFailed = errors.New("all scrapers failed")

// CategoryLister is implemented by enrichers that define inventory categories.
type CategoryLister interface {
	Categories() []string
}

// Config tunes a run.
type Config struct {
	Adapter crawler.AdapterConfig
	// AsOf overrides the run date. Empty means today per the clock.
	AsOf string
}

// Report is everything a run produced.
type Report struct {
	Inventory inventory.Inventory
	// Stats holds node outcomes per brewery id.
	Stats map[string]crawler.Stats
	// Failed holds the fatal error of every brewery whose traversal aborted.
	Failed map[string]error
}

// Record summarises the report for a run store.
func (r Report) Record() crawler.RunRecord {
	return crawler.RunRecord{
		RunID:      r.Inventory.Metadata.RunID,
		AsOf:       r.Inventory.Metadata.AsOf,
		CapturedAt: r.Inventory.Metadata.CapturedAt,
		Items:      len(r.Inventory.Items),
		Breweries:  len(r.Inventory.Breweries),
		Stats:      r.Stats,
	}
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEnrichers appends enrichers, applied in order.
func WithEnrichers(enrichers ...crawler.Enricher) Option {
	return func(e *Executor) {
		e.enrichers = append(e.enrichers, enrichers...)
	}
}

// WithClock replaces the clock.
func WithClock(clock crawler.Clock) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(e *Executor) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// Executor coordinates one scrape across many breweries.
type Executor struct {
	factory   crawler.RetrieverFactory
	cfg       Config
	enrichers []crawler.Enricher
	clock     crawler.Clock
	ids       crawler.IDGenerator
	logger    *zap.Logger
}

// New creates an Executor. factory opens one retriever per brewery.
func New(factory crawler.RetrieverFactory, cfg Config, opts ...Option) (*Executor, error) {
	if factory == nil {
		return nil, errors.New("retriever factory is required")
	}
	e := &Executor{
		factory: factory,
		cfg:     cfg,
		clock:   system.New(),
		ids:     uuid.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Scrape runs all scrapers and returns the aggregated inventory.
func (e *Executor) Scrape(ctx context.Context, scrapers []crawler.Scraper) (inventory.Inventory, error) {
	report, err := e.Run(ctx, scrapers)
	return report.Inventory, err
}

// Run is Scrape with per-brewery stats and failures.
func (e *Executor) Run(ctx context.Context, scrapers []crawler.Scraper) (Report, error) {
	now := e.clock.Now().UTC()
	runID, err := e.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("run id: %w", err)
	}
	asOf := e.cfg.AsOf
	if asOf == "" {
		asOf = now.Format(system.DateLayout)
	}
	logger := e.logger.With(zap.String("run_id", runID), zap.String("as_of", asOf))
	logger.Info("Starting scrape", zap.Int("scrapers", len(scrapers)))

	outcomes := e.execute(ctx, scrapers, logger)
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{
		Stats:  make(map[string]crawler.Stats, len(outcomes)),
		Failed: make(map[string]error),
	}
	var results []crawler.Result
	for _, o := range outcomes {
		report.Stats[o.breweryID] = o.stats
		if o.err != nil {
			report.Failed[o.breweryID] = o.err
			continue
		}
		results = append(results, o.results...)
	}

	items := e.normaliseAll(results, logger)
	sortItems(items)
	items = bestPriced(items, logger)

	breweries := make([]inventory.Brewery, 0, len(scrapers))
	for _, s := range scrapers {
		breweries = append(breweries, s.Brewery())
	}
	inv := inventory.Inventory{
		Metadata:   inventory.Metadata{RunID: runID, CapturedAt: now, AsOf: asOf},
		Categories: e.categories(),
		Breweries:  breweries,
		Items:      items,
	}
	report.Inventory = e.enrich(inv)
	e.logCounts(report.Inventory, logger)

	if len(scrapers) > 0 && len(report.Failed) == len(scrapers) {
		return report, ErrAllScrapersFailed
	}
	return report, nil
}

type scraperOutcome struct {
	breweryID string
	results   []crawler.Result
	stats     crawler.Stats
	err       error
}

// execute runs each scraper in its own goroutine. A failing scraper does not
// cancel the others.
func (e *Executor) execute(ctx context.Context, scrapers []crawler.Scraper, logger *zap.Logger) []scraperOutcome {
	outcomes := make([]scraperOutcome, len(scrapers))
	var wg sync.WaitGroup
	for i, s := range scrapers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = e.executeOne(ctx, s, logger)
		}()
	}
	wg.Wait()
	return outcomes
}

func (e *Executor) executeOne(ctx context.Context, s crawler.Scraper, runLogger *zap.Logger) (out scraperOutcome) {
	breweryID := s.Brewery().ID()
	out.breweryID = breweryID
	logger := runLogger.With(zap.String("brewery", breweryID))
	start := time.Now()
	defer func() {
		status := "success"
		if out.err != nil {
			status = "failed"
		}
		metrics.ObserveScraperRun(breweryID, status, time.Since(start))
		metrics.ObserveNodes(breweryID, nodeCounts(out.stats))
	}()

	retriever, err := e.factory(breweryID)
	if err != nil {
		out.err = fmt.Errorf("open retriever for %s: %w", breweryID, err)
		logger.Error("Could not open retriever", zap.Error(err))
		return out
	}
	defer func() {
		if cerr := retriever.Close(); cerr != nil {
			logger.Warn("Error closing retriever", zap.Error(cerr))
		}
	}()

	results, stats, err := crawler.NewAdapter(s, retriever, e.cfg.Adapter, runLogger).Execute(ctx)
	out.results, out.stats, out.err = results, stats, err
	if err != nil && ctx.Err() == nil {
		logger.Error("Scraper aborted", zap.Error(err))
	}
	return out
}

func (e *Executor) normaliseAll(results []crawler.Result, logger *zap.Logger) []inventory.Item {
	items := make([]inventory.Item, 0, len(results))
	for _, r := range results {
		normalised, err := normalise(r)
		if err != nil {
			logger.Warn("Invalid item",
				zap.String("brewery", r.BreweryID),
				zap.String("name", r.Name),
				zap.Error(err),
			)
		}
		items = append(items, normalised...)
	}
	return items
}

func (e *Executor) categories() []string {
	var out []string
	for _, enricher := range e.enrichers {
		if lister, ok := enricher.(CategoryLister); ok {
			out = append(out, lister.Categories()...)
		}
	}
	return out
}

func (e *Executor) enrich(inv inventory.Inventory) inventory.Inventory {
	for _, enricher := range e.enrichers {
		items := make([]inventory.Item, len(inv.Items))
		for i, item := range inv.Items {
			items[i] = enricher.EnrichItem(item)
		}
		breweries := make([]inventory.Brewery, len(inv.Breweries))
		for i, b := range inv.Breweries {
			breweries[i] = enricher.EnrichBrewery(b)
		}
		inv.Items, inv.Breweries = items, breweries
	}
	return inv
}

func (e *Executor) logCounts(inv inventory.Inventory, logger *zap.Logger) {
	counts := inv.CountByBrewery()
	for _, b := range inv.Breweries {
		n := counts[b.ID()]
		metrics.SetInventoryItems(b.ID(), n)
		logger.Info("Scraped", zap.String("brewery", b.ID()), zap.Int("items", n))
	}
	logger.Info("Scraped total", zap.Int("items", len(inv.Items)))
}

func nodeCounts(s crawler.Stats) map[string]int {
	return map[string]int{
		"item":                             s.NumRawItems,
		crawler.KindSkip.String():          s.NumSkipped,
		crawler.KindMalformed.String():     s.NumMalformed,
		crawler.KindUnretrievable.String(): s.NumUnretrievable,
		crawler.KindError.String():         s.NumErrors,
	}
}
