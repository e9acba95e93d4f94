package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/craftwatch/internal/inventory"
)

const defaultMaxDepth = 10

// AdapterConfig tunes traversal of a job tree.
type AdapterConfig struct {
	// MaxDepth bounds container nesting. Zero selects the default.
	MaxDepth int
	// Stagger delays the i-th sibling by i*Stagger.
	Stagger time.Duration
}

// Adapter walks one scraper's job tree through a Retriever.
type Adapter struct {
	scraper   Scraper
	breweryID string
	retriever Retriever
	cfg       AdapterConfig
	logger    *zap.Logger
	// visited holds a nodeKey for every container and leaf already claimed
	// during this run.
	visited sync.Map
}

// nodeKey identifies a fetched node. A URL may appear once as a container and
// once as a leaf.
type nodeKey struct {
	kind string
	url  string
}

// NewAdapter builds an Adapter for a single run of scraper.
func NewAdapter(scraper Scraper, retriever Retriever, cfg AdapterConfig, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	breweryID := scraper.Brewery().ID()
	return &Adapter{
		scraper:   scraper,
		breweryID: breweryID,
		retriever: retriever,
		cfg:       cfg,
		logger:    logger.With(zap.String("brewery", breweryID)),
	}
}

// outcome is the tagged result of evaluating one fetched node.
type outcome struct {
	kind     Kind
	err      error
	children []Node
	result   Result
}

// branch is what a subtree contributes back to its parent.
type branch struct {
	results []Result
	stats   Stats
}

func (b branch) merge(other branch) branch {
	return branch{
		results: append(b.results, other.results...),
		stats:   b.stats.Add(other.stats),
	}
}

// Execute traverses the tree. The error is non-nil only for a fatal node or
// cancellation of ctx; in that case no results are returned.
func (a *Adapter) Execute(ctx context.Context) ([]Result, Stats, error) {
	root := a.scraper.Root()
	if root == nil {
		return nil, Stats{}, Fatal("scraper %s has no root node", a.breweryID)
	}
	b, err := a.visit(ctx, root, 0)
	if err != nil {
		return nil, Stats{}, err
	}
	return b.results, b.stats, nil
}

func (a *Adapter) visit(ctx context.Context, node Node, depth int) (branch, error) {
	if err := ctx.Err(); err != nil {
		return branch{}, err
	}
	switch n := node.(type) {
	case *Multiple:
		return a.visitAll(ctx, n.Nodes, depth)
	case *Container:
		canonical, first, err := a.markVisited("container", n.URL)
		if err != nil || !first {
			return branch{}, err
		}
		out := a.evaluateContainer(ctx, n, canonical, depth)
		if err := a.escalate(ctx, out); err != nil {
			return branch{}, err
		}
		if out.kind != KindNone {
			return branch{stats: a.record(out, canonical)}, nil
		}
		return a.visitAll(ctx, out.children, depth+1)
	case *Leaf:
		canonical, first, err := a.markVisited("leaf", n.URL)
		if err != nil || !first {
			return branch{}, err
		}
		out := a.evaluateLeaf(ctx, n, canonical, depth)
		if err := a.escalate(ctx, out); err != nil {
			return branch{}, err
		}
		stats := a.record(out, canonical)
		if out.kind != KindNone {
			return branch{stats: stats}, nil
		}
		return branch{results: []Result{out.result}, stats: stats}, nil
	case nil:
		return branch{}, Fatal("nil node in job tree of %s", a.breweryID)
	default:
		return branch{}, Fatal("unknown node type %T", node)
	}
}

func (a *Adapter) visitAll(ctx context.Context, nodes []Node, depth int) (branch, error) {
	if len(nodes) == 0 {
		return branch{}, nil
	}
	branches := make([]branch, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range nodes {
		g.Go(func() error {
			stagger(gctx, time.Duration(i)*a.cfg.Stagger)
			b, err := a.visit(gctx, child, depth)
			if err != nil {
				return err
			}
			branches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return branch{}, err
	}
	var merged branch
	for _, b := range branches {
		merged = merged.merge(b)
	}
	return merged, nil
}

// markVisited canonicalizes raw and reports whether this is the first visit.
// An invalid URL is a broken scraper and therefore fatal.
func (a *Adapter) markVisited(kind, raw string) (string, bool, error) {
	canonical, err := canonicalizeURL(raw)
	if err != nil {
		return "", false, Fatal("invalid %s url: %w", kind, err)
	}
	if _, seen := a.visited.LoadOrStore(nodeKey{kind: kind, url: canonical}, struct{}{}); seen {
		a.logger.Debug("Ignoring revisit", zap.String("url", canonical))
		return canonical, false, nil
	}
	return canonical, true, nil
}

// escalate returns the error that must abort the traversal, if any.
func (a *Adapter) escalate(ctx context.Context, out outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if out.kind == KindFatal {
		a.logger.Error("Fatal error while scraping", zap.Error(out.err))
		return out.err
	}
	return nil
}

func (a *Adapter) evaluateContainer(ctx context.Context, n *Container, canonical string, depth int) outcome {
	var children []Node
	out := a.evaluate(ctx, canonical, n.Content, depth, func(page Page) error {
		if n.Expand == nil {
			return Fatal("container %s has no expand function", canonical)
		}
		nodes, err := n.Expand(page)
		children = nodes
		return err
	})
	out.children = children
	return out
}

func (a *Adapter) evaluateLeaf(ctx context.Context, n *Leaf, canonical string, depth int) outcome {
	var item inventory.ScrapedItem
	out := a.evaluate(ctx, canonical, n.Content, depth, func(page Page) error {
		if n.Extract == nil {
			return Fatal("leaf %s has no extract function", canonical)
		}
		extracted, err := n.Extract(page)
		item = extracted
		return err
	})
	out.result = Result{BreweryID: a.breweryID, Name: n.Name, URL: canonical, Item: item}
	return out
}

func (a *Adapter) evaluate(ctx context.Context, canonical string, content Content, depth int, transform func(Page) error) outcome {
	if depth > a.cfg.MaxDepth {
		err := &MaxDepthExceededError{URL: canonical, Depth: depth, MaxDepth: a.cfg.MaxDepth}
		return outcome{kind: KindError, err: err}
	}
	a.logger.Debug("Scraping", zap.String("url", canonical), zap.Stringer("content", content))
	raw, err := a.retriever.Retrieve(ctx, canonical, content.Suffix(), content.Validator())
	if err != nil {
		return outcome{kind: Classify(err), err: err}
	}
	page, err := newPage(canonical, content, raw)
	if err != nil {
		return outcome{kind: Classify(err), err: err}
	}
	if err := safely(func() error { return transform(page) }); err != nil {
		return outcome{kind: Classify(err), err: err}
	}
	return outcome{kind: KindNone}
}

func (a *Adapter) record(out outcome, canonical string) Stats {
	fields := []zap.Field{zap.String("url", canonical)}
	switch out.kind {
	case KindNone:
	case KindSkip:
		a.logger.Info("Skipping", append(fields, zap.String("reason", out.err.Error()))...)
	case KindMalformed, KindUnretrievable:
		a.logger.Warn("Error while scraping", append(fields, zap.Stringer("kind", out.kind), zap.Error(out.err))...)
	default:
		a.logger.Error("Unexpected error while scraping", append(fields, zap.Error(out.err))...)
	}
	return statsFor(out.kind)
}

func newPage(canonical string, content Content, raw []byte) (Page, error) {
	page := Page{URL: canonical, Raw: raw}
	if content != HTML {
		return page, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return Page{}, Malformed("parse %s: %v", canonical, err)
	}
	if u, err := url.Parse(canonical); err == nil {
		doc.Url = u
	}
	page.Doc = doc
	return page, nil
}

// safely runs fn, converting a panic into an ordinary error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return fn()
}
