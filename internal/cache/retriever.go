// Package cache wraps a Retriever with a persistent, content-addressed page
// cache keyed by URL and as-of date.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/metrics"
)

const defaultLRUSize = 256

// Config controls cache layout.
type Config struct {
	// AsOf is the logical date (YYYY-MM-DD) the cache is partitioned by.
	AsOf string
	// Prefix is prepended to every object path.
	Prefix string
	// LRUSize bounds the in-process front cache. Negative disables it.
	LRUSize int
}

// Retriever serves pages from the blob store and falls back to the wrapped
// Retriever on a miss. Cached bytes are shared and must not be mutated.
type Retriever struct {
	inner  crawler.Retriever
	store  crawler.BlobStore
	hasher crawler.Hasher
	cfg    Config
	logger *zap.Logger
	front  *lru.Cache[string, []byte]
	group  singleflight.Group
}

var _ crawler.Retriever = (*Retriever)(nil)

// New builds a caching Retriever.
func New(inner crawler.Retriever, store crawler.BlobStore, hasher crawler.Hasher, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner retriever is required")
	}
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if strings.TrimSpace(cfg.AsOf) == "" {
		return nil, fmt.Errorf("as-of date is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{
		inner:  inner,
		store:  store,
		hasher: hasher,
		cfg:    cfg,
		logger: logger,
	}
	size := cfg.LRUSize
	if size == 0 {
		size = defaultLRUSize
	}
	if size > 0 {
		front, err := lru.New[string, []byte](size)
		if err != nil {
			return nil, fmt.Errorf("create lru: %w", err)
		}
		r.front = front
	}
	return r, nil
}

// Retrieve returns cached bytes for (url, as-of) or fetches and stores them.
func (r *Retriever) Retrieve(ctx context.Context, url, suffix string, validate crawler.Validator) ([]byte, error) {
	key, err := r.ObjectPath(url, suffix)
	if err != nil {
		return nil, err
	}
	if r.front != nil {
		if data, ok := r.front.Get(key); ok {
			metrics.ObserveCacheLookup("memory")
			return data, nil
		}
	}

	ch := r.group.DoChan(key, func() (any, error) {
		return r.load(ctx, key, url, suffix, validate)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data, _ := res.Val.([]byte)
		return data, nil
	}
}

func (r *Retriever) load(ctx context.Context, key, url, suffix string, validate crawler.Validator) ([]byte, error) {
	data, err := r.store.GetObject(ctx, key)
	switch {
	case err == nil:
		metrics.ObserveCacheLookup("store")
		r.remember(key, data)
		return data, nil
	case !errors.Is(err, crawler.ErrObjectNotFound):
		r.logger.Warn("Cache read failed, fetching instead", zap.String("url", url), zap.Error(err))
	}

	metrics.ObserveCacheLookup("miss")
	r.logger.Debug("Cache miss", zap.String("url", url), zap.String("object", key))
	data, err = r.inner.Retrieve(ctx, url, suffix, validate)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.PutObject(ctx, key, contentType(suffix), data); err != nil {
		r.logger.Warn("Cache write failed", zap.String("url", url), zap.Error(err))
	}
	r.remember(key, data)
	return data, nil
}

func (r *Retriever) remember(key string, data []byte) {
	if r.front != nil {
		r.front.Add(key, data)
	}
}

// ObjectPath is the blob path for url under the configured as-of date.
func (r *Retriever) ObjectPath(url, suffix string) (string, error) {
	digest, err := r.hasher.Hash([]byte(url))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return path.Join(r.cfg.Prefix, r.cfg.AsOf, digest+suffix), nil
}

func contentType(suffix string) string {
	switch suffix {
	case ".json":
		return "application/json"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

type closer struct {
	*Retriever
	closeFn func() error
}

func (c closer) Close() error {
	return c.closeFn()
}

// WithCloser pairs a caching Retriever with the closer of the resource it
// wraps, so the pair satisfies crawler.RetrieveCloser.
func WithCloser(r *Retriever, closeFn func() error) crawler.RetrieveCloser {
	return closer{Retriever: r, closeFn: closeFn}
}
