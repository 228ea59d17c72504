package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const sampleURL = "https://cdn.example.com/anim/gift.mp4?v=2"

func TestStorePutAndLookup(t *testing.T) {
	store := newTestStore(t)

	payload := []byte("payload")
	entry, err := store.Put(context.Background(), sampleURL, ExtensionMP4, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if !strings.HasSuffix(entry.FilePath, ".mp4") {
		t.Fatalf("unexpected final path %s", entry.FilePath)
	}

	result, err := store.Lookup(context.Background(), sampleURL)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if result.Entry.Extension != ExtensionMP4 {
		t.Fatalf("extension mismatch: %s", result.Entry.Extension)
	}
}

func TestStoreLookupMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Lookup(context.Background(), "https://cdn.example.com/missing.mp4")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreLookupIgnoresTempFiles(t *testing.T) {
	store := newTestStore(t)

	w, err := store.BeginWrite(context.Background(), sampleURL, ExtensionMP4)
	if err != nil {
		t.Fatalf("begin write error: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if !strings.HasSuffix(w.TempPath(), ExtensionMP4.TempSuffix()) {
		t.Fatalf("temp file should carry the temp suffix: %s", w.TempPath())
	}

	if _, err := store.Lookup(context.Background(), sampleURL); !errors.Is(err, ErrNotFound) {
		t.Fatalf("temp file must not be a cache hit, got %v", err)
	}

	entry, err := w.Commit()
	if err != nil {
		t.Fatalf("commit error: %v", err)
	}
	if _, err := os.Stat(w.TempPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file should be gone after commit")
	}
	if _, err := w.Commit(); !errors.Is(err, ErrWriteFinished) {
		t.Fatalf("second commit should fail, got %v", err)
	}

	result, err := store.Lookup(context.Background(), sampleURL)
	if err != nil {
		t.Fatalf("lookup after commit: %v", err)
	}
	result.Reader.Close()
	if result.Entry.FilePath != entry.FilePath {
		t.Fatalf("lookup should return committed path %s, got %s", entry.FilePath, result.Entry.FilePath)
	}
}

func TestStoreAbortRemovesTemp(t *testing.T) {
	store := newTestStore(t)
	w, err := store.BeginWrite(context.Background(), sampleURL, ExtensionZIP)
	if err != nil {
		t.Fatalf("begin write error: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("abort error: %v", err)
	}
	if _, err := os.Stat(w.TempPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file should be removed on abort")
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrWriteFinished) {
		t.Fatalf("write after abort should fail, got %v", err)
	}
}

func TestStoreExtensionAwareLookup(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Put(context.Background(), sampleURL, ExtensionZIP, strings.NewReader("zip")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	result, err := store.Lookup(context.Background(), sampleURL)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	result.Reader.Close()
	if result.Entry.Extension != ExtensionZIP {
		t.Fatalf("expected zip entry, got %s", result.Entry.Extension)
	}
}

func TestStoreCommitReplacesOtherExtension(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, sampleURL, ExtensionMP4, strings.NewReader("old-mp4")); err != nil {
		t.Fatalf("put mp4 error: %v", err)
	}
	if _, err := store.Put(ctx, sampleURL, ExtensionZIP, strings.NewReader("new-zip")); err != nil {
		t.Fatalf("put zip error: %v", err)
	}

	result, err := store.Lookup(ctx, sampleURL)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	body, _ := io.ReadAll(result.Reader)
	result.Reader.Close()
	if result.Entry.Extension != ExtensionZIP || string(body) != "new-zip" {
		t.Fatalf("lookup should return latest commit, got ext=%s body=%q", result.Entry.Extension, body)
	}

	fs := store.(*fileStore)
	if _, err := os.Stat(fs.finalPath(sampleURL, ExtensionMP4)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale mp4 entry should be removed, stat err=%v", err)
	}

	// same through BeginWrite/Commit
	w, err := store.BeginWrite(ctx, sampleURL, ExtensionMP4)
	if err != nil {
		t.Fatalf("begin write error: %v", err)
	}
	if _, err := w.Write([]byte("mp4-again")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit error: %v", err)
	}
	result, err = store.Lookup(ctx, sampleURL)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	result.Reader.Close()
	if result.Entry.Extension != ExtensionMP4 {
		t.Fatalf("expected mp4 after recommit, got %s", result.Entry.Extension)
	}
	if _, err := os.Stat(fs.finalPath(sampleURL, ExtensionZIP)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale zip entry should be removed, stat err=%v", err)
	}
}

func TestStoreClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "https://a/1", ExtensionMP4, strings.NewReader("1")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	pending, err := store.BeginWrite(ctx, "https://a/2", ExtensionMP4)
	if err != nil {
		t.Fatalf("begin write error: %v", err)
	}
	pending.file.Close()

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read dir error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("clear should remove temp and final files, left %d", len(entries))
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}
	if err := os.MkdirAll(fs.finalPath(sampleURL, ExtensionMP4), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Lookup(context.Background(), sampleURL); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreLookupNeverObservesPartialWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const size = 256 * 1024

	var wg sync.WaitGroup
	stop := make(chan struct{})
	failures := make(chan string, 1)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				result, err := store.Lookup(ctx, sampleURL)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					select {
					case failures <- err.Error():
					default:
					}
					return
				}
				body, err := io.ReadAll(result.Reader)
				result.Reader.Close()
				if err != nil || len(body) != size {
					select {
					case failures <- "observed partial file":
					default:
					}
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		payload := bytes.Repeat([]byte{byte('a' + i%26)}, size)
		if _, err := store.Put(ctx, sampleURL, ExtensionMP4, bytes.NewReader(payload)); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-failures:
		t.Fatalf("reader failure: %s", msg)
	default:
	}
}

func TestExtensionForContentType(t *testing.T) {
	cases := map[string]Extension{
		"video/mp4":                       ExtensionMP4,
		"application/zip":                 ExtensionZIP,
		"application/zip; charset=binary": ExtensionZIP,
		"":                                ExtensionMP4,
	}
	for contentType, want := range cases {
		if got := ExtensionForContentType(contentType); got != want {
			t.Fatalf("%q: expected %s, got %s", contentType, want, got)
		}
	}
}

func TestNewStoreRequiresRoot(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatalf("empty root should be rejected")
	}
	store := newTestStore(t)
	if !filepath.IsAbs(store.Root()) {
		t.Fatalf("root should be absolute: %s", store.Root())
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
