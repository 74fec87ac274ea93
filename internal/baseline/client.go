// Package baseline wraps the external reference pricelist feed into
// normalized per-SKU quotes, with an in-memory snapshot and an on-disk
// fallback for feed outages.
package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/scraplab/autopricer/internal/logger"
)

// ErrUnavailable is returned when the feed is down and no cached snapshot
// exists.
var ErrUnavailable = errors.New("baseline pricelist unavailable")

// RawPrice is one raw price point from the external feed. Values are quoted
// either in keys or in metal.
type RawPrice struct {
	SKU        string  `json:"sku"`
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	ValueHigh  float64 `json:"value_high,omitempty"`
	Currency   string  `json:"currency"`
	LastUpdate int64   `json:"last_update,omitempty"`
}

type feedResponse struct {
	Items []RawPrice `json:"items"`
}

// Client fetches and caches the external pricelist.
type Client struct {
	http      *resty.Client
	url       string
	cachePath string

	mu      sync.RWMutex
	items   map[string]RawPrice
	fetched time.Time
}

// ClientConfig bounds the feed fetch behavior.
type ClientConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// NewClient creates a feed client. An existing disk cache is loaded eagerly
// so quotes survive a feed outage across restarts.
func NewClient(url, cachePath string, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	http := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries - 1).
		SetRetryWaitTime(cfg.RetryDelayBase).
		SetRetryMaxWaitTime(cfg.RetryDelayBase * time.Duration(cfg.MaxRetries))

	c := &Client{
		http:      http,
		url:       url,
		cachePath: cachePath,
	}
	if err := c.loadDiskCache(); err == nil {
		logger.Info("Loaded baseline pricelist cache from %s", cachePath)
	}
	return c
}

// Refresh fetches the external pricelist and replaces the in-memory
// snapshot. On fetch failure the previous snapshot (memory or disk) keeps
// serving; Refresh only errors when no snapshot exists at all.
func (c *Client) Refresh(ctx context.Context) error {
	var feed feedResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&feed).
		Get(c.url)

	switch {
	case err != nil:
		logger.Warn("Baseline feed fetch failed: %v", err)
	case resp.IsError():
		logger.Warn("Baseline feed returned status %d", resp.StatusCode())
	case len(feed.Items) == 0:
		logger.Warn("Baseline feed returned no items")
	default:
		items := make(map[string]RawPrice, len(feed.Items))
		for _, it := range feed.Items {
			if it.SKU == "" {
				continue
			}
			items[it.SKU] = it
		}
		c.mu.Lock()
		c.items = items
		c.fetched = time.Now()
		c.mu.Unlock()

		if err := c.writeDiskCache(items); err != nil {
			logger.Warn("Failed to write baseline cache: %v", err)
		}
		logger.Info("Refreshed baseline pricelist: %d items", len(items))
		return nil
	}

	c.mu.RLock()
	hasSnapshot := len(c.items) > 0
	c.mu.RUnlock()
	if hasSnapshot {
		logger.Info("Serving baseline quotes from cached snapshot")
		return nil
	}
	return ErrUnavailable
}

// Lookup returns the raw price point for a SKU from the current snapshot.
func (c *Client) Lookup(sku string) (RawPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.items[sku]
	return p, ok
}

func (c *Client) loadDiskCache() error {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return err
	}
	var items map[string]RawPrice
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("corrupt baseline cache: %w", err)
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

func (c *Client) writeDiskCache(items map[string]RawPrice) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0o755); err != nil {
		return err
	}
	tmp := c.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.cachePath)
}
