// Package schema provides the injected name↔SKU resolution capability.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrSKUNotFound is returned when an item name cannot be resolved.
var ErrSKUNotFound = errors.New("sku not found")

// Resolver maps item names to SKUs and back.
type Resolver interface {
	ResolveSKU(name string) (string, error)
	NameFromSKU(sku string) (string, error)
}

// FileResolver is a Resolver backed by a schema dump on disk.
type FileResolver struct {
	mu     sync.RWMutex
	byName map[string]string
	bySKU  map[string]string
}

type schemaFile struct {
	Items []struct {
		Name string `json:"name"`
		SKU  string `json:"sku"`
	} `json:"items"`
}

// LoadFile reads a schema dump ({"items":[{"name","sku"},...]}) from disk.
func LoadFile(path string) (*FileResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	var sf schemaFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	r := &FileResolver{
		byName: make(map[string]string, len(sf.Items)),
		bySKU:  make(map[string]string, len(sf.Items)),
	}
	for _, it := range sf.Items {
		if it.Name == "" || it.SKU == "" {
			continue
		}
		r.byName[it.Name] = it.SKU
		r.bySKU[it.SKU] = it.Name
	}
	return r, nil
}

// NewStatic builds a resolver from an in-memory name→SKU map.
func NewStatic(nameToSKU map[string]string) *FileResolver {
	r := &FileResolver{
		byName: make(map[string]string, len(nameToSKU)),
		bySKU:  make(map[string]string, len(nameToSKU)),
	}
	for name, sku := range nameToSKU {
		r.byName[name] = sku
		r.bySKU[sku] = name
	}
	return r
}

// ResolveSKU returns the SKU for an item name.
func (r *FileResolver) ResolveSKU(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sku, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSKUNotFound, name)
	}
	return sku, nil
}

// NameFromSKU returns the item name for a SKU.
func (r *FileResolver) NameFromSKU(sku string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bySKU[sku]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSKUNotFound, sku)
	}
	return name, nil
}
