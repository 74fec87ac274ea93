package pricer

import (
	"github.com/scraplab/autopricer/internal/models"
	"github.com/scraplab/autopricer/internal/pricelist"
	"github.com/scraplab/autopricer/internal/schema"
	"github.com/scraplab/autopricer/internal/storage"
)

// BaselineSource supplies normalized external quotes.
type BaselineSource interface {
	Quote(sku string, keyMetal float64) (*models.BaselineQuote, error)
	KeyMetal() (float64, error)
}

// ItemSource supplies the eligible item set and per-item bounds.
type ItemSource interface {
	Names() []string
	BoundsFor(name string) (models.Bounds, bool)
}

// Publisher receives every finalized price. The outbound dispatcher queue
// implements it.
type Publisher interface {
	Publish(item models.PricedItem)
}

// Config holds derivation and finalization behavior.
type Config struct {
	FallbackToBaseline    bool
	MaxBuyDifference      float64 // fraction, e.g. 0.10
	MaxSellDifference     float64
	MinSellMargin         float64
	MaxBuyIncrease        float64
	MaxSellDecrease       float64
	SellHistoryProtection bool
	CycleConcurrency      int
	KeySanityBand         float64
	TrustedSteamIDs       []string
}

// PricingContext is the immutable per-cycle snapshot of shared pricing
// state. It is built once per cycle and passed down explicitly.
type PricingContext struct {
	KeyMetal float64
}

// Pricer derives and finalizes prices for all eligible items.
type Pricer struct {
	store     *storage.Storage
	baseline  BaselineSource
	pricelist *pricelist.Store
	items     ItemSource
	resolver  schema.Resolver
	publisher Publisher
	cfg       Config
	trusted   map[string]bool
}

// New assembles a pricer.
func New(store *storage.Storage, baseline BaselineSource, pl *pricelist.Store, items ItemSource, resolver schema.Resolver, publisher Publisher, cfg Config) *Pricer {
	if cfg.CycleConcurrency < 1 {
		cfg.CycleConcurrency = 15
	}
	trusted := make(map[string]bool, len(cfg.TrustedSteamIDs))
	for _, id := range cfg.TrustedSteamIDs {
		trusted[id] = true
	}
	return &Pricer{
		store:     store,
		baseline:  baseline,
		pricelist: pl,
		items:     items,
		resolver:  resolver,
		publisher: publisher,
		cfg:       cfg,
		trusted:   trusted,
	}
}

// Context builds the per-cycle pricing context. The key's metal price comes
// from the pricelist (the stabilizer is its sole steady-state writer),
// falling back to the baseline feed before the first stabilization pass.
func (p *Pricer) Context() (PricingContext, error) {
	if it, ok := p.pricelist.Get(models.KeySKU); ok && it.Sell.Metal > 0 {
		return PricingContext{KeyMetal: it.Sell.Metal}, nil
	}
	keyMetal, err := p.baseline.KeyMetal()
	if err != nil {
		return PricingContext{}, err
	}
	return PricingContext{KeyMetal: keyMetal}, nil
}
