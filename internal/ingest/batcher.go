package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

// ListingSink is the slice of the listing store the pipeline writes to.
type ListingSink interface {
	UpsertListingsBatch(listings []*models.Listing) ([]string, error)
	RemoveListing(steamID, name string, intent models.Intent) (string, error)
	UpdateListingStats(sku string) error
}

// Batcher coalesces surviving listing-update events into a debounce window
// and writes them as one batched upsert. De-duplication by natural key
// happens in the store layer (last event per key wins).
type Batcher struct {
	sink     ListingSink
	interval time.Duration

	mu      sync.Mutex
	pending []*models.Listing
}

// NewBatcher creates a batcher flushing every interval.
func NewBatcher(sink ListingSink, interval time.Duration) *Batcher {
	return &Batcher{sink: sink, interval: interval}
}

// Add queues a listing for the next flush. Never blocks.
func (b *Batcher) Add(l *models.Listing) {
	b.mu.Lock()
	b.pending = append(b.pending, l)
	b.mu.Unlock()
}

// Run flushes on the batch interval until ctx is cancelled, then performs a
// final flush so accepted events are not lost on shutdown.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Flush writes all pending listings in one batch and refreshes activity
// stats for the affected SKUs.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	skus, err := b.sink.UpsertListingsBatch(batch)
	if err != nil {
		logger.Error("Failed to flush listing batch (%d entries): %v", len(batch), err)
		return
	}
	logger.Debug("Flushed %d listing events covering %d SKUs", len(batch), len(skus))

	for _, sku := range skus {
		if err := b.sink.UpdateListingStats(sku); err != nil {
			logger.Warn("Failed to update stats for %s: %v", sku, err)
		}
	}
}
