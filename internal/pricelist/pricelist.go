// Package pricelist owns the durable pricelist snapshot: a single-writer,
// name-keyed JSON artifact replaced atomically on every commit so readers
// always see a complete snapshot.
package pricelist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

type snapshotFile struct {
	Items []models.PricedItem `json:"items"`
}

// Store is the single-writer pricelist snapshot.
type Store struct {
	path string

	mu    sync.RWMutex
	items map[string]models.PricedItem // by SKU
}

// Open loads the pricelist at path, creating an empty one if absent.
// Malformed rows in an existing file are dropped on load.
func Open(path string) (*Store, error) {
	s := &Store{path: path, items: make(map[string]models.PricedItem)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create pricelist directory: %w", err)
		}
		if err := s.write(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pricelist: %w", err)
	}

	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pricelist: %w", err)
	}
	for _, it := range f.Items {
		if it.Name == "" || it.SKU == "" || (it.Buy.IsZero() && it.Sell.IsZero()) {
			logger.Warn("Dropping malformed pricelist row: %+v", it)
			continue
		}
		s.items[it.SKU] = it
	}
	return s, nil
}

// Get returns the current price for a SKU.
func (s *Store) Get(sku string) (models.PricedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[sku]
	return it, ok
}

// Items returns all rows of the current snapshot, ordered by name.
func (s *Store) Items() []models.PricedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PricedItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Commit merges the given rows into the snapshot and atomically rewrites
// the file. Malformed and zero-priced rows are rejected, never persisted.
func (s *Store) Commit(items ...models.PricedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, it := range items {
		if it.Name == "" || it.SKU == "" {
			logger.Error("Rejecting malformed pricelist row: %+v", it)
			continue
		}
		if it.Buy.IsZero() && it.Sell.IsZero() {
			logger.Warn("Rejecting zero-priced row for %s", it.Name)
			continue
		}
		s.items[it.SKU] = it
		changed++
	}
	if changed == 0 {
		return nil
	}
	return s.write()
}

// write persists the snapshot via write-temp-then-rename. Callers hold mu.
func (s *Store) write() error {
	out := make([]models.PricedItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	data, err := json.MarshalIndent(snapshotFile{Items: out}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pricelist: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pricelist temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace pricelist: %w", err)
	}
	return nil
}
