package pricer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scraplab/autopricer/internal/currency"
	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
	"github.com/scraplab/autopricer/internal/schema"
)

// CycleResult summarizes one pricing pass.
type CycleResult struct {
	Priced  int
	Skipped int
	Elapsed time.Duration
}

// RunCycle reprices every eligible item. Expired listings are swept first
// so stale quotes cannot contribute. Failures are contained per item; the
// cycle itself only fails when the pricing context cannot be built or the
// pricelist cannot be committed.
func (p *Pricer) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	p.store.SweepExpired()

	pctx, err := p.Context()
	if err != nil {
		return CycleResult{}, fmt.Errorf("building pricing context: %w", err)
	}

	var (
		mu      sync.Mutex
		priced  []models.PricedItem
		history []models.PriceHistoryEntry
		skipped int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.CycleConcurrency)

	for _, name := range p.items.Names() {
		name := name
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			item, err := p.priceOne(name, pctx)
			if err != nil {
				mu.Lock()
				skipped++
				mu.Unlock()
				logger.Debug("Skipping %s: %v", name, err)
				return nil
			}
			if item == nil {
				// Key price goes through the stabilizer, not the pricelist.
				return nil
			}
			mu.Lock()
			priced = append(priced, *item)
			history = append(history, models.PriceHistoryEntry{
				SKU:       item.SKU,
				BuyMetal:  currency.PriceToMetal(item.Buy, pctx.KeyMetal),
				SellMetal: currency.PriceToMetal(item.Sell, pctx.KeyMetal),
				Timestamp: item.Time,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CycleResult{}, err
	}

	if len(priced) > 0 {
		if err := p.pricelist.Commit(priced...); err != nil {
			return CycleResult{}, fmt.Errorf("committing pricelist: %w", err)
		}
		if err := p.store.InsertPriceHistory(history); err != nil {
			logger.Error("Recording price history: %v", err)
		}
		for _, item := range priced {
			p.publisher.Publish(item)
		}
	}

	res := CycleResult{Priced: len(priced), Skipped: skipped, Elapsed: time.Since(start)}
	logger.Info("Pricing cycle done: %d priced, %d skipped in %s", res.Priced, res.Skipped, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// priceOne derives and finalizes one item. A nil item with nil error means
// the result was routed elsewhere (the key sample path).
func (p *Pricer) priceOne(name string, pctx PricingContext) (*models.PricedItem, error) {
	sku, err := p.resolver.ResolveSKU(name)
	if err != nil {
		if errors.Is(err, schema.ErrSKUNotFound) {
			return nil, fmt.Errorf("%w: no SKU for %q", ErrMalformedItem, name)
		}
		return nil, err
	}

	buy, sell, err := p.Derive(name, sku, pctx)
	if err != nil {
		return nil, err
	}

	if sku == models.KeySKU {
		return nil, p.recordKeySample(buy, sell, pctx)
	}

	item, err := p.Finalize(name, sku, buy, sell, pctx)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// recordKeySample appends a derived key price observation for the
// stabilizer, rejecting samples outside the sanity band around the
// current key metal price.
func (p *Pricer) recordKeySample(buy, sell models.Price, pctx PricingContext) error {
	buyMetal := currency.PriceToMetal(buy, pctx.KeyMetal)
	sellMetal := currency.PriceToMetal(sell, pctx.KeyMetal)

	if pctx.KeyMetal > 0 && p.cfg.KeySanityBand > 0 {
		if outsideBand(buyMetal, pctx.KeyMetal, p.cfg.KeySanityBand) ||
			outsideBand(sellMetal, pctx.KeyMetal, p.cfg.KeySanityBand) {
			return fmt.Errorf("%w: key sample %.2f/%.2f outside %.0f%% of %.2f",
				ErrDivergenceRejected, buyMetal, sellMetal, p.cfg.KeySanityBand*100, pctx.KeyMetal)
		}
	}
	return p.store.InsertKeyPrice(buyMetal, sellMetal, time.Now().Unix())
}

func outsideBand(v, center, band float64) bool {
	return math.Abs(v-center)/center > band
}

// SeedKeyPrice ensures the pricelist has a key row before the first cycle
// so the pricing context never depends on the baseline being up. minSpread
// is the metal gap held between the seeded buy and sell sides.
func (p *Pricer) SeedKeyPrice(minSpread float64) error {
	if _, ok := p.pricelist.Get(models.KeySKU); ok {
		return nil
	}
	keyMetal, err := p.baseline.KeyMetal()
	if err != nil {
		return fmt.Errorf("seeding key price: %w", err)
	}
	item := models.PricedItem{
		Name:   models.KeyName,
		SKU:    models.KeySKU,
		Source: "bptf",
		Time:   time.Now().Unix(),
		Buy:    models.Price{Metal: currency.RoundScrap(keyMetal - minSpread)},
		Sell:   models.Price{Metal: keyMetal},
	}
	if err := p.pricelist.Commit(item); err != nil {
		return err
	}
	p.publisher.Publish(item)
	logger.Info("Seeded key price at %.2f ref from baseline", keyMetal)
	return nil
}
