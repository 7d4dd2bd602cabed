package catalog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hlspackager/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "data.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func entry(id string) models.CatalogEntry {
	return models.CatalogEntry{
		ID:                 id,
		OriginalName:       id + ".mp4",
		HLSPath:            "/output/" + id + "/playlist.m3u8",
		Status:             models.StatusCompleted,
		Format:             "HLS",
		MimeType:           "application/x-mpegURL",
		SegmentDuration:    2,
		ProcessingProgress: 100,
		UploadedAt:         time.Now().UTC(),
	}
}

func TestNewCreatesEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	if _, err := New(path, nil); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "{\n  \"videos\": []\n}\n" {
		t.Fatalf("document = %q", data)
	}
}

func TestUpsertOrdersMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Upsert(entry(id)); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	updated := entry("b")
	updated.Status = models.StatusError
	updated.Error = "boom"
	if err := store.Upsert(updated); err != nil {
		t.Fatalf("Upsert(update) error = %v", err)
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 || got[0].ID != "c" || got[1].ID != "b" || got[2].ID != "a" {
		t.Fatalf("order = %+v, want c, b, a", got)
	}
	if got[1].Status != models.StatusError || got[1].Error != "boom" {
		t.Fatalf("entry b not replaced in place: %+v", got[1])
	}
	if got[0].LastUpdated.IsZero() {
		t.Fatal("expected LastUpdated to be stamped")
	}
}

func TestMalformedDocumentReadsAsEmptyAndIsRewritten(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(store.path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}

	if err := store.Upsert(entry("fresh")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if e, ok, err := store.Get("fresh"); err != nil || !ok || e.ID != "fresh" {
		t.Fatalf("Get() = %+v, %v, %v", e, ok, err)
	}
}

func TestMissingDocumentReadsAsEmpty(t *testing.T) {
	store := newTestStore(t)
	if err := os.Remove(store.path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err := store.List()
	if err != nil || len(got) != 0 {
		t.Fatalf("List() = %v, %v; want empty", got, err)
	}
}

func TestConcurrentUpsertsDoNotLoseUpdates(t *testing.T) {
	store := newTestStore(t)
	const n = 40

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.Upsert(entry(fmt.Sprintf("job-%02d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != n {
		t.Fatalf("persisted %d entries, want %d", len(got), n)
	}
}

func TestDeleteRemovesArtifactsAndEntry(t *testing.T) {
	store := newTestStore(t)
	if err := store.Upsert(entry("keep")); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(entry("gone")); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "gone")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	err := store.Delete("gone", func(e models.CatalogEntry) error {
		if e.ID != "gone" {
			t.Fatalf("artifacts callback got %s", e.ID)
		}
		return os.RemoveAll(dir)
	})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output dir still present: %v", err)
	}
	got, _ := store.List()
	if len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("entries = %+v, want only keep", got)
	}
}

func TestDeleteKeepsEntryWhenArtifactsFail(t *testing.T) {
	store := newTestStore(t)
	if err := store.Upsert(entry("stuck")); err != nil {
		t.Fatal(err)
	}
	err := store.Delete("stuck", func(models.CatalogEntry) error { return errors.New("busy") })
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok, _ := store.Get("stuck"); !ok {
		t.Fatal("entry removed despite artifact failure")
	}
}

func TestDeleteUnknown(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete("nope", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestWriteFailureIsPersistenceError(t *testing.T) {
	store := newTestStore(t)
	store.path = filepath.Join(t.TempDir(), "missing-dir", "data.json")

	err := store.Upsert(entry("x"))
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "write" {
		t.Fatalf("Upsert() error = %v, want write PersistenceError", err)
	}
}
