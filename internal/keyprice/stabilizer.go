// Package keyprice keeps the published key price stable against short-term
// market noise. Derived key samples accumulate in storage; the stabilizer
// compares the two most recent observation windows and nudges the published
// price by one scrap at a time instead of tracking every cycle's output.
package keyprice

import (
	"fmt"
	"time"

	"github.com/scraplab/autopricer/internal/currency"
	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
	"github.com/scraplab/autopricer/internal/pricelist"
	"github.com/scraplab/autopricer/internal/storage"
)

// Publisher receives the key row whenever the stabilizer commits it.
type Publisher interface {
	Publish(item models.PricedItem)
}

// Alerter is notified when the key market turns volatile. The telegram
// client satisfies it; a log-only implementation is used when alerts are
// not configured.
type Alerter interface {
	Notify(message string)
}

// Config tunes the stabilizer. All metal values are in refined.
type Config struct {
	ChangeThreshold     float64       // window delta that triggers a nudge
	VolatilityThreshold float64       // stddev above which the price is held
	MinSpread           float64       // smallest allowed sell minus buy gap
	Retention           time.Duration // key sample retention for cleanup
}

// Scrap-grid rounding can leave an exact-minimum spread a hair under the
// configured value in floats.
const spreadEpsilon = 1e-9

// Stabilizer owns the published key price.
type Stabilizer struct {
	store     *storage.Storage
	pricelist *pricelist.Store
	publisher Publisher
	alerter   Alerter
	cfg       Config
}

func New(store *storage.Storage, pl *pricelist.Store, publisher Publisher, alerter Alerter, cfg Config) *Stabilizer {
	return &Stabilizer{
		store:     store,
		pricelist: pl,
		publisher: publisher,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Check runs one stabilization pass. The published key row follows the
// mean of the last three hours of samples, leaning at most one scrap in
// the direction of a move confirmed against the three hours before that.
// With either window empty the current price is held untouched.
func (s *Stabilizer) Check(now time.Time) error {
	current, ok := s.pricelist.Get(models.KeySKU)
	if !ok {
		return fmt.Errorf("no key row in pricelist")
	}

	ts := now.Unix()
	recent, err := s.store.KeyPriceWindow(ts-3*3600, ts)
	if err != nil {
		return fmt.Errorf("reading recent key window: %w", err)
	}
	if recent.Count == 0 {
		logger.Debug("No key samples in the last 3h, holding at %.2f", current.Sell.Metal)
		return nil
	}
	previous, err := s.store.KeyPriceWindow(ts-6*3600, ts-3*3600)
	if err != nil {
		return fmt.Errorf("reading previous key window: %w", err)
	}
	if previous.Count == 0 {
		logger.Debug("No key samples in the 3-6h window, holding at %.2f", current.Sell.Metal)
		return nil
	}

	if recent.StdSell > s.cfg.VolatilityThreshold || recent.StdBuy > s.cfg.VolatilityThreshold {
		msg := fmt.Sprintf("Key market volatile (sell std %.2f, buy std %.2f), holding price at %.2f",
			recent.StdSell, recent.StdBuy, current.Sell.Metal)
		logger.Warn("%s", msg)
		s.alerter.Notify(msg)
		return nil
	}

	// The published price tracks the recent window mean. A confirmed move
	// between the two windows leans it one scrap further in that direction.
	buy := currency.RoundScrap(recent.AvgBuy)
	sell := currency.RoundScrap(recent.AvgSell)
	adjusted := false

	sellDelta := recent.AvgSell - previous.AvgSell
	buyDelta := recent.AvgBuy - previous.AvgBuy

	switch {
	case sellDelta > s.cfg.ChangeThreshold:
		sell = currency.RoundScrap(recent.AvgSell + currency.Scrap)
		adjusted = true
	case sellDelta < -s.cfg.ChangeThreshold:
		sell = currency.RoundScrap(recent.AvgSell - currency.Scrap)
		adjusted = true
	case buyDelta > s.cfg.ChangeThreshold:
		buy = currency.RoundScrap(recent.AvgBuy - currency.Scrap)
		adjusted = true
	case buyDelta < -s.cfg.ChangeThreshold:
		buy = currency.RoundScrap(recent.AvgBuy + currency.Scrap)
		adjusted = true
	}

	if sell-buy < s.cfg.MinSpread-spreadEpsilon {
		buy = currency.RoundScrap(sell - s.cfg.MinSpread)
		adjusted = true
	}

	item := models.PricedItem{
		Name:   models.KeyName,
		SKU:    models.KeySKU,
		Source: "bptf",
		Time:   now.Unix(),
		Buy:    models.Price{Metal: buy},
		Sell:   models.Price{Metal: sell},
	}
	if err := s.pricelist.Commit(item); err != nil {
		return fmt.Errorf("committing key price: %w", err)
	}
	s.publisher.Publish(item)

	if adjusted {
		logger.Info("Key price adjusted to buy %.2f / sell %.2f", buy, sell)
	} else {
		logger.Debug("Key price steady at buy %.2f / sell %.2f", buy, sell)
	}
	return nil
}

// Cleanup drops key samples past the retention window.
func (s *Stabilizer) Cleanup() error {
	return s.store.CleanupKeyPrices(s.cfg.Retention)
}
