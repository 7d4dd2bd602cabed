// Package catalog persists terminal job records in a single JSON document.
//
// Every mutation is a full read-modify-write of the document, so all of them
// run under one process-wide mutex. A missing or malformed document reads as
// an empty catalog and is replaced by the next successful write.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hlspackager/internal/metrics"
	"hlspackager/internal/models"
)

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("catalog entry not found")

// PersistenceError reports a failed read or write of the catalog document.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("catalog %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type document struct {
	Videos []models.CatalogEntry `json:"videos"`
}

// Store is the durable catalog.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New opens the catalog at path, creating an empty document when none exists.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &PersistenceError{Op: "init", Path: path, Err: err}
	}
	s := &Store{path: path, logger: logger.With("component", "catalog")}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(document{Videos: []models.CatalogEntry{}}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Upsert inserts entry at the front of the catalog, or replaces the entry
// with the same id in place.
func (s *Store) Upsert(entry models.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	if entry.LastUpdated.IsZero() {
		entry.LastUpdated = time.Now().UTC()
	}

	replaced := false
	for i := range doc.Videos {
		if doc.Videos[i].ID == entry.ID {
			doc.Videos[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Videos = append([]models.CatalogEntry{entry}, doc.Videos...)
	}
	return s.write(doc)
}

// Delete removes the entry with id. removeArtifacts runs inside the same
// critical section before the document is rewritten; if it fails the entry
// is kept.
func (s *Store) Delete(id string, removeArtifacts func(models.CatalogEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	idx := -1
	for i := range doc.Videos {
		if doc.Videos[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNotFound
	}

	if removeArtifacts != nil {
		if err := removeArtifacts(doc.Videos[idx]); err != nil {
			return fmt.Errorf("remove artifacts for %s: %w", id, err)
		}
	}

	doc.Videos = append(doc.Videos[:idx], doc.Videos[idx+1:]...)
	return s.write(doc)
}

// List returns all entries, most recent first.
func (s *Store) List() ([]models.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Videos, nil
}

// Get returns the entry with id.
func (s *Store) Get(id string) (models.CatalogEntry, bool, error) {
	entries, err := s.List()
	if err != nil {
		return models.CatalogEntry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return models.CatalogEntry{}, false, nil
}

func (s *Store) read() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return document{Videos: []models.CatalogEntry{}}, nil
		}
		return document{}, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("catalog document is malformed, treating it as empty", "path", s.path, "error", err)
		return document{Videos: []models.CatalogEntry{}}, nil
	}
	if doc.Videos == nil {
		doc.Videos = []models.CatalogEntry{}
	}
	return doc, nil
}

func (s *Store) write(doc document) error {
	if err := writeJSONFile(s.path, doc); err != nil {
		metrics.CatalogWriteErrors.Inc()
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// writeJSONFile replaces path atomically via a temp file in the same dir.
func writeJSONFile(path string, payload any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "catalog-*.tmp")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
