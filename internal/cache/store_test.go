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

func TestStoreWriteAndGet(t *testing.T) {
	store := newTestStore(t)
	key := Key(MustParseSource("https://cdn.example.com/clip.mp4"))

	payload := []byte("payload")
	entry, err := store.Write(context.Background(), key, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("write error: %v", err)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}
	if !store.Exists(key) {
		t.Fatalf("expected key to exist after write")
	}

	result, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.FilePath != filepath.Join(store.Dir(), key) {
		t.Fatalf("unexpected file path %s", result.Entry.FilePath)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing.mp4")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.Exists("missing.mp4") {
		t.Fatalf("missing key should not exist")
	}
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	key := "remove.mp4"
	if _, err := store.Write(context.Background(), key, strings.NewReader("data")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Remove(context.Background(), key); err != nil {
			t.Fatalf("remove #%d error: %v", i, err)
		}
	}
	if store.Exists(key) {
		t.Fatalf("expected key removed")
	}
	if err := store.Remove(context.Background(), "never-written.mp4"); err != nil {
		t.Fatalf("removing unknown key should succeed, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	key := "dir.mp4"

	if err := os.MkdirAll(filepath.Join(store.Dir(), key), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if store.Exists(key) {
		t.Fatalf("directory must not count as cached file")
	}
	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	store := newTestStore(t)
	for _, key := range []string{"", "..", "../escape.mp4", "nested/key.mp4", ".cache-123"} {
		if _, err := store.Write(context.Background(), key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestStoreWriteCreatesDirectoryOnFirstUse(t *testing.T) {
	store := newTestStore(t)
	if err := os.RemoveAll(store.Dir()); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if _, err := store.Write(context.Background(), "lazy.mp4", strings.NewReader("x")); err != nil {
		t.Fatalf("write should recreate directory: %v", err)
	}
	if !store.Exists("lazy.mp4") {
		t.Fatalf("expected file after lazy directory creation")
	}
}

func TestStoreFailedWriteLeavesNothing(t *testing.T) {
	store := newTestStore(t)
	boom := errors.New("boom")
	_, err := store.Write(context.Background(), "partial.mp4", io.MultiReader(strings.NewReader("half"), errReader{boom}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected reader error, got %v", err)
	}
	if store.Exists("partial.mp4") {
		t.Fatalf("failed write must not be visible under the final key")
	}
	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp file cleanup, found %d entries", len(entries))
	}
}

func TestStoreClearReprovisions(t *testing.T) {
	store := newTestStore(t)
	for _, key := range []string{"a.mp4", "b.mp4"} {
		if _, err := store.Write(context.Background(), key, strings.NewReader(key)); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if store.Exists("a.mp4") || store.Exists("b.mp4") {
		t.Fatalf("clear should remove all entries")
	}
	info, err := os.Stat(store.Dir())
	if err != nil || !info.IsDir() {
		t.Fatalf("clear should re-provision an empty directory, err=%v", err)
	}
}

func TestStoreConcurrentWritesAndClear(t *testing.T) {
	store := newTestStore(t)
	payload := bytes.Repeat([]byte("v"), 64*1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a'+i)) + ".mp4"
			if _, err := store.Write(context.Background(), key, bytes.NewReader(payload)); err != nil {
				t.Errorf("write %s: %v", key, err)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := store.Clear(context.Background()); err != nil {
			t.Errorf("clear: %v", err)
		}
	}()
	wg.Wait()

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".cache-") {
			t.Fatalf("temp file %s leaked", entry.Name())
		}
		info, err := entry.Info()
		if err != nil {
			t.Fatalf("stat %s: %v", entry.Name(), err)
		}
		if info.Size() != int64(len(payload)) {
			t.Fatalf("entry %s has partial size %d", entry.Name(), info.Size())
		}
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "video"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
