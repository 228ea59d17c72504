package memcache

import (
	"errors"
	"testing"
)

func TestIndexPutAndGet(t *testing.T) {
	idx := newTestIndex(t, 2)
	idx.Put("url_a", "/cache/a.mp4")

	path, ok := idx.Get("url_a")
	if !ok || path != "/cache/a.mp4" {
		t.Fatalf("unexpected lookup result %q %v", path, ok)
	}
	if _, ok := idx.Get("url_b"); ok {
		t.Fatalf("missing key should not hit")
	}
}

func TestIndexEvictsLeastRecentlyUsed(t *testing.T) {
	idx := newTestIndex(t, 2)
	idx.Put("a", "/a")
	idx.Put("b", "/b")

	// touching a makes b the eviction candidate
	if _, ok := idx.Get("a"); !ok {
		t.Fatalf("a should be present")
	}
	idx.Put("c", "/c")

	if _, ok := idx.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok := idx.Get("a"); !ok {
		t.Fatalf("a should survive eviction")
	}
	if _, ok := idx.Get("c"); !ok {
		t.Fatalf("c should be present")
	}
}

func TestIndexResize(t *testing.T) {
	idx := newTestIndex(t, 3)
	idx.Put("a", "/a")
	idx.Put("b", "/b")
	idx.Put("c", "/c")

	evicted, err := idx.Resize(1)
	if err != nil {
		t.Fatalf("resize error: %v", err)
	}
	if evicted != 2 || idx.Len() != 1 {
		t.Fatalf("expected 2 evictions and 1 entry, got %d/%d", evicted, idx.Len())
	}
	if _, ok := idx.Get("c"); !ok {
		t.Fatalf("most recent entry should survive shrink")
	}

	if _, err := idx.Resize(0); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
}

func TestIndexClearAndEmptyKey(t *testing.T) {
	idx := newTestIndex(t, 2)
	idx.Put("", "/ignored")
	idx.Put("a", "/a")
	if idx.Len() != 1 {
		t.Fatalf("empty key must not be stored")
	}
	if _, ok := idx.Get(""); ok {
		t.Fatalf("empty key must never hit")
	}
	idx.Clear()
	if idx.Len() != 0 {
		t.Fatalf("clear should drop all entries")
	}
}

func TestNewRejectsInvalidCapacity(t *testing.T) {
	if _, err := New(0); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
}

func newTestIndex(t *testing.T, capacity int) *Index {
	t.Helper()
	idx, err := New(capacity)
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	return idx
}
