// Package results persists inventory snapshots and announces them.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/inventory"
)

const (
	snapshotName = "inventory.json"
	latestName   = "latest.json"
	indexName    = "index.json"
	contentType  = "application/json"
)

// ErrNoInventory is returned by Latest before any snapshot was written.
var ErrNoInventory = errors.New("no inventory written yet")

// Config controls where snapshots go.
type Config struct {
	// Prefix is prepended to every object path.
	Prefix string
	// Topic receives a Published event per write. Empty disables publishing.
	Topic string
}

// Published is the event sent after a snapshot is written.
type Published struct {
	RunID      string         `json:"run_id"`
	AsOf       string         `json:"as_of"`
	CapturedAt time.Time      `json:"captured_at"`
	URI        string         `json:"uri"`
	Items      int            `json:"items"`
	Breweries  int            `json:"breweries"`
	ByBrewery  map[string]int `json:"by_brewery"`
}

// EventName labels the Pub/Sub message.
func (Published) EventName() string { return "inventory.published" }

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRunStore records one row per written snapshot.
func WithRunStore(runs crawler.RunStore) Option {
	return func(m *Manager) {
		m.runs = runs
	}
}

// WithPublisher announces written snapshots on cfg.Topic.
func WithPublisher(publisher crawler.Publisher) Option {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

// Manager reads and writes inventory snapshots in a blob store.
type Manager struct {
	store     crawler.BlobStore
	runs      crawler.RunStore
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New creates a Manager backed by store.
func New(store crawler.BlobStore, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	m := &Manager{store: store, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SnapshotPath is where the snapshot for date is stored.
func (m *Manager) SnapshotPath(date string) string {
	return path.Join(m.cfg.Prefix, date, snapshotName)
}

// LatestPath is where the most recent snapshot is mirrored.
func (m *Manager) LatestPath() string {
	return path.Join(m.cfg.Prefix, latestName)
}

// IndexPath is where the sorted list of snapshot dates is kept.
func (m *Manager) IndexPath() string {
	return path.Join(m.cfg.Prefix, indexName)
}

type index struct {
	Dates []string `json:"dates"`
}

// Write stores inv under its as-of date, mirrors it as the latest snapshot
// unless a later date was already written, then records and announces the
// run. Storage failures abort; record and publish failures are returned after
// both were attempted.
func (m *Manager) Write(ctx context.Context, inv inventory.Inventory, stats map[string]crawler.Stats) (string, error) {
	if inv.Metadata.AsOf == "" {
		return "", errors.New("inventory has no as-of date")
	}
	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal inventory: %w", err)
	}

	uri, err := m.store.PutObject(ctx, m.SnapshotPath(inv.Metadata.AsOf), contentType, data)
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	dates, err := m.Dates(ctx)
	if err != nil {
		return uri, err
	}
	asOf := inv.Metadata.AsOf
	if len(dates) == 0 || asOf >= dates[len(dates)-1] {
		if _, err := m.store.PutObject(ctx, m.LatestPath(), contentType, data); err != nil {
			return uri, fmt.Errorf("write latest snapshot: %w", err)
		}
	} else {
		m.logger.Info("Backdated snapshot; latest left unchanged",
			zap.String("as_of", asOf),
			zap.String("latest", dates[len(dates)-1]),
		)
	}
	if i, found := slices.BinarySearch(dates, asOf); !found {
		if err := m.writeIndex(ctx, slices.Insert(dates, i, asOf)); err != nil {
			return uri, err
		}
	}
	m.logger.Info("Inventory written",
		zap.String("run_id", inv.Metadata.RunID),
		zap.String("uri", uri),
		zap.Int("items", len(inv.Items)),
	)

	var errs []error
	if m.runs != nil {
		record := crawler.RunRecord{
			RunID:      inv.Metadata.RunID,
			AsOf:       inv.Metadata.AsOf,
			CapturedAt: inv.Metadata.CapturedAt,
			Items:      len(inv.Items),
			Breweries:  len(inv.Breweries),
			Stats:      stats,
		}
		if err := m.runs.RecordRun(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("record run: %w", err))
		}
	}
	if m.publisher != nil && m.cfg.Topic != "" {
		event := Published{
			RunID:      inv.Metadata.RunID,
			AsOf:       inv.Metadata.AsOf,
			CapturedAt: inv.Metadata.CapturedAt,
			URI:        uri,
			Items:      len(inv.Items),
			Breweries:  len(inv.Breweries),
			ByBrewery:  inv.CountByBrewery(),
		}
		id, err := m.publisher.Publish(ctx, m.cfg.Topic, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		} else {
			m.logger.Debug("Published inventory event", zap.String("message_id", id))
		}
	}
	return uri, errors.Join(errs...)
}

// Latest loads the most recent snapshot.
func (m *Manager) Latest(ctx context.Context) (inventory.Inventory, error) {
	return m.load(ctx, m.LatestPath())
}

// ForDate loads the snapshot written for date.
func (m *Manager) ForDate(ctx context.Context, date string) (inventory.Inventory, error) {
	return m.load(ctx, m.SnapshotPath(date))
}

func (m *Manager) load(ctx context.Context, p string) (inventory.Inventory, error) {
	data, err := m.store.GetObject(ctx, p)
	if errors.Is(err, crawler.ErrObjectNotFound) {
		return inventory.Inventory{}, ErrNoInventory
	}
	if err != nil {
		return inventory.Inventory{}, fmt.Errorf("read %s: %w", p, err)
	}
	var inv inventory.Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return inventory.Inventory{}, fmt.Errorf("decode %s: %w", p, err)
	}
	return inv, nil
}

// Dates lists the as-of dates with a snapshot, oldest first.
func (m *Manager) Dates(ctx context.Context) ([]string, error) {
	p := m.IndexPath()
	data, err := m.store.GetObject(ctx, p)
	if errors.Is(err, crawler.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	slices.Sort(idx.Dates)
	return slices.Compact(idx.Dates), nil
}

func (m *Manager) writeIndex(ctx context.Context, dates []string) error {
	data, err := json.Marshal(index{Dates: dates})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if _, err := m.store.PutObject(ctx, m.IndexPath(), contentType, data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// Previous returns the most recent snapshot dated strictly before asOf, or
// nil when there is none.
func (m *Manager) Previous(ctx context.Context, asOf string) (*inventory.Inventory, error) {
	dates, err := m.Dates(ctx)
	if err != nil {
		return nil, err
	}
	i, _ := slices.BinarySearch(dates, asOf)
	if i == 0 {
		return nil, nil
	}
	inv, err := m.ForDate(ctx, dates[i-1])
	if errors.Is(err, ErrNoInventory) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
