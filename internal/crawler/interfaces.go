package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/craftwatch/internal/inventory"
)

var (
	// ErrObjectNotFound is returned by BlobStore.GetObject for missing paths.
	ErrObjectNotFound = errors.New("object not found")
	// ErrRunNotFound is returned by RunStore.LatestRun before any run was recorded.
	ErrRunNotFound = errors.New("run not found")
)

// Validator inspects raw bytes before a fetch is reported as successful.
type Validator func(data []byte) error

// Retriever fetches the bytes at url. suffix hints the content type for caches.
type Retriever interface {
	Retrieve(ctx context.Context, url string, suffix string, validate Validator) ([]byte, error)
}

// RetrieveCloser is a Retriever owning resources that must be released.
type RetrieveCloser interface {
	Retriever
	Close() error
}

// RetrieverFactory opens a scoped retriever for one brewery's crawl.
type RetrieverFactory func(breweryID string) (RetrieveCloser, error)

// BlobStore reads and writes raw artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore records one row per completed run.
type RunStore interface {
	RecordRun(ctx context.Context, run RunRecord) error
	LatestRun(ctx context.Context) (RunRecord, error)
}

// Scraper is implemented by each brewery plugin.
type Scraper interface {
	Brewery() inventory.Brewery
	Root() Node
}

// Enricher derives extra attributes from items and breweries. Implementations
// must be pure and total.
type Enricher interface {
	EnrichItem(item inventory.Item) inventory.Item
	EnrichBrewery(brewery inventory.Brewery) inventory.Brewery
}

// Hasher computes digests for cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
