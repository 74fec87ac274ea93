// Package dispatch delivers finalized prices to subscribers. Updates flow
// through a paced queue into a websocket hub so a burst from a full pricing
// cycle never floods connected clients.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

// Sink receives drained queue items. The Hub implements it.
type Sink interface {
	Publish(item models.PricedItem)
}

// Queue is an unbounded FIFO that releases exactly one item per tick.
// Enqueueing never blocks the pricing cycle.
type Queue struct {
	mu       sync.Mutex
	items    []models.PricedItem
	sink     Sink
	interval time.Duration
}

func NewQueue(sink Sink, interval time.Duration) *Queue {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &Queue{sink: sink, interval: interval}
}

// Publish enqueues an item for paced delivery.
func (q *Queue) Publish(item models.PricedItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run drains the queue one item per interval until the context is
// canceled. Items still queued at shutdown are dropped; they will be
// re-derived by the next cycle after restart.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := q.Len(); n > 0 {
				logger.Warn("Dispatch queue shutting down with %d items pending", n)
			}
			return
		case <-ticker.C:
			if item, ok := q.pop(); ok {
				q.sink.Publish(item)
			}
		}
	}
}

func (q *Queue) pop() (models.PricedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.PricedItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}
