package pricer

import (
	"fmt"
	"math"
	"sort"

	"github.com/scraplab/autopricer/internal/currency"
	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

// Derive computes a provisional buy/sell price for one item from its
// current listings, validated against the baseline quote. When the
// fallback-to-baseline policy is enabled, any failure past the baseline
// resolution step returns the baseline quote verbatim instead of an error.
func (p *Pricer) Derive(name, sku string, pctx PricingContext) (models.Price, models.Price, error) {
	var zero models.Price

	quote, err := p.baseline.Quote(sku, pctx.KeyMetal)
	if err != nil {
		return zero, zero, fmt.Errorf("%w: %s: %v", ErrBaselineUnavailable, name, err)
	}
	if quote.Buy.IsZero() && quote.Sell.IsZero() {
		return zero, zero, fmt.Errorf("%w: %s priced at zero", ErrBaselineUnavailable, name)
	}

	fallback := func(cause error) (models.Price, models.Price, error) {
		if p.cfg.FallbackToBaseline {
			logger.Debug("Falling back to baseline for %s: %v", name, cause)
			return quote.Buy, quote.Sell, nil
		}
		return zero, zero, cause
	}

	buyListings, err := p.store.GetListings(name, models.IntentBuy)
	if err != nil {
		return fallback(fmt.Errorf("%w: %s: %v", ErrInsufficientListings, name, err))
	}
	sellListings, err := p.store.GetListings(name, models.IntentSell)
	if err != nil {
		return fallback(fmt.Errorf("%w: %s: %v", ErrInsufficientListings, name, err))
	}
	if len(buyListings) == 0 || len(sellListings) == 0 {
		return fallback(fmt.Errorf("%w: %s has an empty side", ErrInsufficientListings, name))
	}

	p.order(buyListings, models.IntentBuy, pctx.KeyMetal)
	p.order(sellListings, models.IntentSell, pctx.KeyMetal)

	buy, err := p.averageBuy(buyListings, pctx.KeyMetal)
	if err != nil {
		return fallback(fmt.Errorf("%s: %w", name, err))
	}
	sell, err := p.selectSell(sku, sellListings, pctx.KeyMetal)
	if err != nil {
		return fallback(fmt.Errorf("%s: %w", name, err))
	}

	if err := p.checkDivergence(quote, buy, sell, pctx.KeyMetal); err != nil {
		return fallback(fmt.Errorf("%s: %w", name, err))
	}
	return buy, sell, nil
}

// order sorts listings in place with the combined comparator: trusted
// owners first, then by price within each trust partition. Sell orders
// ascend (most competitive first), buy orders descend (highest bid first).
func (p *Pricer) order(listings []models.Listing, intent models.Intent, keyMetal float64) {
	sort.SliceStable(listings, func(i, j int) bool {
		ti, tj := p.trusted[listings[i].SteamID], p.trusted[listings[j].SteamID]
		if ti != tj {
			return ti
		}
		vi := currency.ListingToMetal(listings[i].Currencies, keyMetal)
		vj := currency.ListingToMetal(listings[j].Currencies, keyMetal)
		if intent == models.IntentSell {
			return vi < vj
		}
		return vi > vj
	})
}

// averageBuy reduces the ordered buy side to one price. Small samples
// (3–9 listings) average the top three directly; larger sets are first
// cleansed of z-score outliers.
func (p *Pricer) averageBuy(ordered []models.Listing, keyMetal float64) (models.Price, error) {
	var zero models.Price

	switch {
	case len(ordered) < 3:
		return zero, fmt.Errorf("%w: %d buy listings", ErrInsufficientListings, len(ordered))

	case len(ordered) < 10:
		var keys, metal float64
		for i := 0; i < 3; i++ {
			keys += ordered[i].Currencies.Keys
			metal += ordered[i].Currencies.Metal
		}
		return models.Price{
			Keys:  int(keys / 3),
			Metal: metal / 3,
		}, nil

	default:
		mean, err := p.filteredMean(ordered, keyMetal)
		if err != nil {
			return zero, err
		}
		keys := 0
		if keyMetal > 0 {
			keys = int(mean / keyMetal)
		}
		return models.Price{
			Keys:  keys,
			Metal: currency.RoundScrap(mean - float64(keys)*keyMetal),
		}, nil
	}
}

// filteredMean drops z-score outliers (|z| > 3 against the population mean
// and stddev of all listings) and averages the top three of what remains.
// A zero stddev means all listings agree; nothing is filtered then.
func (p *Pricer) filteredMean(ordered []models.Listing, keyMetal float64) (float64, error) {
	values := make([]float64, len(ordered))
	var mean float64
	for i, l := range ordered {
		values[i] = currency.ListingToMetal(l.Currencies, keyMetal)
		mean += values[i]
	}
	mean = currency.RoundScrap(mean / float64(len(values)))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(values)))

	var kept []float64
	for _, v := range values {
		if stdDev > 0 {
			z := (v - mean) / stdDev
			if z > 3 || z < -3 {
				continue
			}
		}
		kept = append(kept, v)
	}
	if len(kept) < 3 {
		return 0, fmt.Errorf("%w: %d of %d left", ErrNotEnoughAfterFiltering, len(kept), len(ordered))
	}

	// kept preserves the trust-respecting order of the input.
	filteredMean := (kept[0] + kept[1] + kept[2]) / 3
	if math.IsNaN(filteredMean) || filteredMean == 0 {
		return 0, fmt.Errorf("%w: invalid mean", ErrNotEnoughAfterFiltering)
	}
	return filteredMean, nil
}

// selectSell picks the most competitive listing in the trust-respecting
// order. With historical protection enabled, candidates that are z-score
// outliers against the last ten recorded sell prices are skipped; when
// every candidate is flagged, the first one is used anyway.
func (p *Pricer) selectSell(sku string, ordered []models.Listing, keyMetal float64) (models.Price, error) {
	if len(ordered) == 0 {
		return models.Price{}, fmt.Errorf("%w: no sell listings", ErrInsufficientListings)
	}

	pick := ordered[0]
	if p.cfg.SellHistoryProtection {
		history, err := p.store.RecentSellPrices(sku, 10)
		if err != nil {
			logger.Warn("Sell history unavailable for %s: %v", sku, err)
		} else if len(history) >= 3 {
			mean, std := meanStd(history)
			if std > 0 {
				for _, candidate := range ordered {
					v := currency.ListingToMetal(candidate.Currencies, keyMetal)
					z := (v - mean) / std
					if z <= 3 && z >= -3 {
						pick = candidate
						break
					}
				}
			}
		}
	}

	return listingPrice(pick, keyMetal), nil
}

// listingPrice converts raw listing currencies to a normalized price.
// Fractional key components are folded into the metal side.
func listingPrice(l models.Listing, keyMetal float64) models.Price {
	whole := math.Trunc(l.Currencies.Keys)
	metal := l.Currencies.Metal + (l.Currencies.Keys-whole)*keyMetal
	return models.Price{
		Keys:  int(whole),
		Metal: currency.RoundScrap(metal),
	}
}

// checkDivergence enforces the baseline sanity band. Rare-quality and
// killstreak tiers are accepted whenever buy does not exceed sell; standard
// items must stay within the configured percentages of the baseline.
func (p *Pricer) checkDivergence(quote *models.BaselineQuote, buy, sell models.Price, keyMetal float64) error {
	ourBuy := currency.PriceToMetal(buy, keyMetal)
	ourSell := currency.PriceToMetal(sell, keyMetal)

	if quote.Tier.Relaxed() {
		if ourBuy > ourSell {
			return fmt.Errorf("%w: buy %.2f above sell %.2f", ErrDivergenceRejected, ourBuy, ourSell)
		}
		return nil
	}

	baseBuy := currency.PriceToMetal(quote.Buy, keyMetal)
	baseSell := currency.PriceToMetal(quote.Sell, keyMetal)

	if baseBuy > 0 {
		buyDiff := (ourBuy - baseBuy) / baseBuy
		if buyDiff > p.cfg.MaxBuyDifference {
			return fmt.Errorf("%w: buying %.2f vs baseline %.2f (+%.1f%%)",
				ErrDivergenceRejected, ourBuy, baseBuy, buyDiff*100)
		}
	}
	if baseSell > 0 {
		sellDiff := (ourSell - baseSell) / baseSell
		if sellDiff < -p.cfg.MaxSellDifference {
			return fmt.Errorf("%w: selling %.2f vs baseline %.2f (%.1f%%)",
				ErrDivergenceRejected, ourSell, baseSell, sellDiff*100)
		}
	}
	return nil
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}
