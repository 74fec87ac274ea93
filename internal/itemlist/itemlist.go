// Package itemlist maintains the hot-reloadable item allow-list and the
// optional per-item price bounds.
package itemlist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

type itemEntry struct {
	Name string `json:"name"`
	models.Bounds
}

type itemListFile struct {
	Items []itemEntry `json:"items"`
}

// Manager owns the allow-list state. When priceAll is set the allow-list
// only contributes bounds; every resolvable item is eligible.
type Manager struct {
	path     string
	priceAll bool

	mu      sync.RWMutex
	names   []string
	nameSet map[string]bool
	bounds  map[string]models.Bounds
}

// New creates a manager for the item list at path. Call Load before use.
func New(path string, priceAll bool) *Manager {
	return &Manager{
		path:     path,
		priceAll: priceAll,
		nameSet:  make(map[string]bool),
		bounds:   make(map[string]models.Bounds),
	}
}

// Load reads the item list from disk, replacing the in-memory state. A
// missing file is seeded empty so the process can start before any items
// are configured.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		if writeErr := os.WriteFile(m.path, []byte(`{"items": []}`), 0o644); writeErr != nil {
			return fmt.Errorf("failed to seed item list: %w", writeErr)
		}
		data = []byte(`{"items": []}`)
	} else if err != nil {
		return fmt.Errorf("failed to read item list: %w", err)
	}

	var f itemListFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse item list: %w", err)
	}

	names := make([]string, 0, len(f.Items))
	nameSet := make(map[string]bool, len(f.Items))
	bounds := make(map[string]models.Bounds, len(f.Items))
	for _, it := range f.Items {
		if it.Name == "" {
			continue
		}
		names = append(names, it.Name)
		nameSet[it.Name] = true
		bounds[it.Name] = it.Bounds
	}

	m.mu.Lock()
	m.names = names
	m.nameSet = nameSet
	m.bounds = bounds
	m.mu.Unlock()

	logger.Info("Loaded item list: %d items", len(names))
	return nil
}

// Watch reloads the item list whenever the file changes, until ctx is
// cancelled. Reload failures keep the previous state.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch item list: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if err := m.Load(); err != nil {
						logger.Error("Failed to reload item list: %v", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Item list watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Allowed reports whether an item is in the interest set.
func (m *Manager) Allowed(name string) bool {
	if m.priceAll {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nameSet[name]
}

// Names returns the configured item names in file order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// BoundsFor returns the clamp bounds for an item, if any are configured.
func (m *Manager) BoundsFor(name string) (models.Bounds, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bounds[name]
	return b, ok
}
