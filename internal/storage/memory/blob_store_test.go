package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/craftwatch/internal/crawler"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/page.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "path/page.html")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	got[0] = 'X'
	if string(store.data["path/page.html"]) != "content" {
		t.Fatal("GetObject must return a copy")
	}
}

func TestBlobStoreGetObjectMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.GetObject(context.Background(), "nope")
	if !errors.Is(err, crawler.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := store.PutObject(context.Background(), " ", "", nil); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b", "a", "c"} {
		if _, err := store.PutObject(context.Background(), p, "", []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	got := store.Paths()
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected paths %v", got)
	}
}
