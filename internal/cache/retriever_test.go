package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/hash/sha256"
	"github.com/JakeFAU/craftwatch/internal/storage/memory"
)

const pageURL = "https://shop.example.com/beers/ipa"

type countingRetriever struct {
	calls   atomic.Int32
	body    []byte
	err     error
	release chan struct{}
}

func (c *countingRetriever) Retrieve(ctx context.Context, _, _ string, validate crawler.Validator) ([]byte, error) {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	if validate != nil {
		if err := validate(c.body); err != nil {
			return nil, err
		}
	}
	return c.body, nil
}

type flakyStore struct {
	*memory.BlobStore
	putErr error
	gets   atomic.Int32
}

func (f *flakyStore) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	return f.BlobStore.PutObject(ctx, path, contentType, data)
}

func (f *flakyStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	f.gets.Add(1)
	return f.BlobStore.GetObject(ctx, path)
}

func newCache(t *testing.T, inner crawler.Retriever, store crawler.BlobStore, asOf string, lruSize int) *Retriever {
	t.Helper()
	r, err := New(inner, store, sha256.New(), Config{AsOf: asOf, Prefix: "cache", LRUSize: lruSize}, nil)
	require.NoError(t, err)
	return r
}

func TestMissFetchesAndStores(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{body: []byte("<html><title>IPA</title></html>")}
	store := memory.NewBlobStore()
	cache := newCache(t, inner, store, "2024-05-01", 0)

	data, err := cache.Retrieve(context.Background(), pageURL, ".html", crawler.ValidateHTML)
	require.NoError(t, err)
	assert.Equal(t, inner.body, data)
	assert.Equal(t, int32(1), inner.calls.Load())

	digest, _ := sha256.New().Hash([]byte(pageURL))
	stored, err := store.GetObject(context.Background(), "cache/2024-05-01/"+digest+".html")
	require.NoError(t, err)
	assert.Equal(t, inner.body, stored)
}

func TestHitSkipsInnerRetriever(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{body: []byte(`{"ok":true}`)}
	store := memory.NewBlobStore()

	first := newCache(t, inner, store, "2024-05-01", -1)
	_, err := first.Retrieve(context.Background(), pageURL, ".json", crawler.ValidateJSON)
	require.NoError(t, err)

	// A fresh cache over the same store models a second run on the same date.
	second := newCache(t, inner, store, "2024-05-01", -1)
	data, err := second.Retrieve(context.Background(), pageURL, ".json", crawler.ValidateJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestAsOfDatePartitionsEntries(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{body: []byte("x")}
	store := memory.NewBlobStore()

	for _, date := range []string{"2024-05-01", "2024-05-02"} {
		_, err := newCache(t, inner, store, date, -1).Retrieve(context.Background(), pageURL, ".html", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Len(t, store.Paths(), 2)
}

func TestFailedFetchIsNotStored(t *testing.T) {
	t.Parallel()

	boom := &crawler.UnretrievableError{URL: pageURL, Attempts: 5, Err: errors.New("reset")}
	inner := &countingRetriever{err: boom}
	store := memory.NewBlobStore()
	cache := newCache(t, inner, store, "2024-05-01", 0)

	_, err := cache.Retrieve(context.Background(), pageURL, ".html", nil)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.Paths())

	_, err = cache.Retrieve(context.Background(), pageURL, ".html", nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestStoreWriteFailureDoesNotFailRetrieve(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{body: []byte("page")}
	store := &flakyStore{BlobStore: memory.NewBlobStore(), putErr: errors.New("bucket read-only")}
	cache := newCache(t, inner, store, "2024-05-01", 0)

	data, err := cache.Retrieve(context.Background(), pageURL, ".html", nil)
	require.NoError(t, err)
	assert.Equal(t, "page", string(data))
}

func TestMemoryFrontAvoidsStoreReads(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{body: []byte("page")}
	store := &flakyStore{BlobStore: memory.NewBlobStore()}
	cache := newCache(t, inner, store, "2024-05-01", 8)

	for range 3 {
		_, err := cache.Retrieve(context.Background(), pageURL, ".html", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), store.gets.Load())
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestConcurrentMissesCollapse(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{body: []byte("page"), release: make(chan struct{})}
	cache := newCache(t, inner, memory.NewBlobStore(), "2024-05-01", 0)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := cache.Retrieve(context.Background(), pageURL, ".html", nil)
			assert.NoError(t, err)
			assert.Equal(t, "page", string(data))
		}()
	}
	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{}
	store := memory.NewBlobStore()
	_, err := New(nil, store, sha256.New(), Config{AsOf: "2024-05-01"}, nil)
	assert.Error(t, err)
	_, err = New(inner, nil, sha256.New(), Config{AsOf: "2024-05-01"}, nil)
	assert.Error(t, err)
	_, err = New(inner, store, nil, Config{AsOf: "2024-05-01"}, nil)
	assert.Error(t, err)
	_, err = New(inner, store, sha256.New(), Config{}, nil)
	assert.Error(t, err)
}

func TestWithCloser(t *testing.T) {
	t.Parallel()

	closed := false
	cache := newCache(t, &countingRetriever{body: []byte("x")}, memory.NewBlobStore(), "2024-05-01", 0)
	rc := WithCloser(cache, func() error { closed = true; return nil })

	_, err := rc.Retrieve(context.Background(), pageURL, ".html", nil)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.True(t, closed)
}
