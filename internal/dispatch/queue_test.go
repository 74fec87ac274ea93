package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scraplab/autopricer/internal/models"
)

type captureSink struct {
	mu    sync.Mutex
	items []models.PricedItem
}

func (c *captureSink) Publish(item models.PricedItem) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func testPriced(sku string) models.PricedItem {
	return models.PricedItem{
		Name: "Item " + sku, SKU: sku, Source: "bptf", Time: time.Now().Unix(),
		Buy:  models.Price{Metal: 1.00},
		Sell: models.Price{Metal: 1.33},
	}
}

func TestQueue_EnqueueNeverBlocks(t *testing.T) {
	q := NewQueue(&captureSink{}, time.Hour)
	for i := 0; i < 1000; i++ {
		q.Publish(testPriced("378;6"))
	}
	if q.Len() != 1000 {
		t.Errorf("queued = %d, want 1000", q.Len())
	}
}

func TestQueue_DrainsOnePerTick(t *testing.T) {
	sink := &captureSink{}
	q := NewQueue(sink, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		q.Publish(testPriced("378;6"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	// After two tick intervals at most two items have been delivered.
	time.Sleep(25 * time.Millisecond)
	if got := sink.count(); got > 2 {
		t.Errorf("delivered %d items after two ticks, pacing broken", got)
	}

	// Eventually the whole queue drains in order.
	deadline := time.After(2 * time.Second)
	for sink.count() < 3 {
		select {
		case <-deadline:
			t.Fatal("queue did not drain")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if q.Len() != 0 {
		t.Errorf("queue not empty after drain: %d", q.Len())
	}
}

func TestQueue_PreservesOrder(t *testing.T) {
	sink := &captureSink{}
	q := NewQueue(sink, time.Millisecond)

	q.Publish(testPriced("1;6"))
	q.Publish(testPriced("2;6"))
	q.Publish(testPriced("3;6"))

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	defer cancel()

	deadline := time.After(2 * time.Second)
	for sink.count() < 3 {
		select {
		case <-deadline:
			t.Fatal("queue did not drain")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, want := range []string{"1;6", "2;6", "3;6"} {
		if sink.items[i].SKU != want {
			t.Errorf("item %d = %s, want %s", i, sink.items[i].SKU, want)
		}
	}
}
