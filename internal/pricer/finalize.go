package pricer

import (
	"fmt"
	"time"

	"github.com/scraplab/autopricer/internal/currency"
	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

// Finalize turns a provisional price pair into a publishable PricedItem:
// scrap rounding, currency normalization, spread repair, per-item bounds
// and the swing guard against recent history, in that order.
func (p *Pricer) Finalize(name, sku string, buy, sell models.Price, pctx PricingContext) (models.PricedItem, error) {
	var none models.PricedItem

	if buy.IsZero() || sell.IsZero() {
		return none, fmt.Errorf("%w: %s has a zero side", ErrMalformedItem, name)
	}

	buy.Metal = currency.RoundScrap(buy.Metal)
	sell.Metal = currency.RoundScrap(sell.Metal)
	buy = currency.Parse(buy, pctx.KeyMetal)
	sell = currency.Parse(sell, pctx.KeyMetal)

	// An inverted or flat spread is repaired, not rejected: sell is pushed
	// to the minimum margin above buy.
	if sell.Keys < buy.Keys || (sell.Keys == buy.Keys && sell.Metal <= buy.Metal) {
		sell = models.Price{
			Keys:  buy.Keys,
			Metal: currency.RoundScrap(buy.Metal + p.cfg.MinSellMargin),
		}
	}

	if bounds, ok := p.items.BoundsFor(name); ok {
		buy, sell = clampBounds(buy, sell, bounds)
	}

	if err := p.checkSwing(name, sku, buy, sell, pctx.KeyMetal); err != nil {
		return none, err
	}

	return models.PricedItem{
		Name:   name,
		SKU:    sku,
		Source: "bptf",
		Time:   time.Now().Unix(),
		Buy:    buy,
		Sell:   sell,
	}, nil
}

// clampBounds applies the optional per-item floor and ceiling on each
// component of the price pair.
func clampBounds(buy, sell models.Price, b models.Bounds) (models.Price, models.Price) {
	if b.MinBuyKeys != nil && buy.Keys < *b.MinBuyKeys {
		buy.Keys = *b.MinBuyKeys
	}
	if b.MaxBuyKeys != nil && buy.Keys > *b.MaxBuyKeys {
		buy.Keys = *b.MaxBuyKeys
	}
	if b.MinBuyMetal != nil && buy.Metal < *b.MinBuyMetal {
		buy.Metal = *b.MinBuyMetal
	}
	if b.MaxBuyMetal != nil && buy.Metal > *b.MaxBuyMetal {
		buy.Metal = *b.MaxBuyMetal
	}
	if b.MinSellKeys != nil && sell.Keys < *b.MinSellKeys {
		sell.Keys = *b.MinSellKeys
	}
	if b.MaxSellKeys != nil && sell.Keys > *b.MaxSellKeys {
		sell.Keys = *b.MaxSellKeys
	}
	if b.MinSellMetal != nil && sell.Metal < *b.MinSellMetal {
		sell.Metal = *b.MinSellMetal
	}
	if b.MaxSellMetal != nil && sell.Metal > *b.MaxSellMetal {
		sell.Metal = *b.MaxSellMetal
	}
	return buy, sell
}

// checkSwing rejects a buy increase or sell decrease beyond the configured
// fraction of the recent reference price. The reference is the mean of the
// last five history rows, then the current pricelist entry; an item with
// neither is accepted as-is.
func (p *Pricer) checkSwing(name, sku string, buy, sell models.Price, keyMetal float64) error {
	refBuy, refSell, ok := p.swingReference(sku, keyMetal)
	if !ok {
		return nil
	}

	newBuy := currency.PriceToMetal(buy, keyMetal)
	newSell := currency.PriceToMetal(sell, keyMetal)

	if refBuy > 0 {
		increase := (newBuy - refBuy) / refBuy
		if increase > p.cfg.MaxBuyIncrease {
			logger.Warn("Rejecting %s: buy %.2f jumped %.1f%% over recent %.2f",
				name, newBuy, increase*100, refBuy)
			return fmt.Errorf("%w: buy swing on %s", ErrPriceSwingRejected, name)
		}
	}
	if refSell > 0 {
		decrease := (refSell - newSell) / refSell
		if decrease > p.cfg.MaxSellDecrease {
			logger.Warn("Rejecting %s: sell %.2f dropped %.1f%% under recent %.2f",
				name, newSell, decrease*100, refSell)
			return fmt.Errorf("%w: sell swing on %s", ErrPriceSwingRejected, name)
		}
	}
	return nil
}

func (p *Pricer) swingReference(sku string, keyMetal float64) (refBuy, refSell float64, ok bool) {
	entries, err := p.store.RecentPriceHistory(sku, 5)
	if err != nil {
		logger.Warn("Price history unavailable for %s: %v", sku, err)
	}
	if len(entries) > 0 {
		for _, e := range entries {
			refBuy += e.BuyMetal
			refSell += e.SellMetal
		}
		refBuy /= float64(len(entries))
		refSell /= float64(len(entries))
		return refBuy, refSell, true
	}

	if prev, found := p.pricelist.Get(sku); found {
		refBuy = currency.PriceToMetal(prev.Buy, keyMetal)
		refSell = currency.PriceToMetal(prev.Sell, keyMetal)
		return refBuy, refSell, true
	}
	return 0, 0, false
}
