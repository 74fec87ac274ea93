package pricer

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/scraplab/autopricer/internal/models"
	"github.com/scraplab/autopricer/internal/pricelist"
	"github.com/scraplab/autopricer/internal/schema"
	"github.com/scraplab/autopricer/internal/storage"
)

// fakeBaseline serves canned quotes.
type fakeBaseline struct {
	quotes   map[string]*models.BaselineQuote
	keyMetal float64
}

func (f *fakeBaseline) Quote(sku string, _ float64) (*models.BaselineQuote, error) {
	q, ok := f.quotes[sku]
	if !ok {
		return nil, errors.New("not priced")
	}
	return q, nil
}

func (f *fakeBaseline) KeyMetal() (float64, error) {
	if f.keyMetal <= 0 {
		return 0, errors.New("no key price")
	}
	return f.keyMetal, nil
}

// fakeItems is a static item source.
type fakeItems struct {
	names  []string
	bounds map[string]models.Bounds
}

func (f *fakeItems) Names() []string { return f.names }

func (f *fakeItems) BoundsFor(name string) (models.Bounds, bool) {
	b, ok := f.bounds[name]
	return b, ok
}

// capturePublisher records published items.
type capturePublisher struct {
	items []models.PricedItem
}

func (c *capturePublisher) Publish(item models.PricedItem) {
	c.items = append(c.items, item)
}

func standardQuote(buyMetal, sellMetal float64) *models.BaselineQuote {
	return &models.BaselineQuote{
		Buy:  models.Price{Metal: buyMetal},
		Sell: models.Price{Metal: sellMetal},
		Tier: models.TierStandard,
	}
}

type testEnv struct {
	store     *storage.Storage
	pricelist *pricelist.Store
	baseline  *fakeBaseline
	items     *fakeItems
	publisher *capturePublisher
	pricer    *Pricer
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pl, err := pricelist.Open(filepath.Join(t.TempDir(), "pricelist.json"))
	if err != nil {
		t.Fatal(err)
	}

	bl := &fakeBaseline{quotes: make(map[string]*models.BaselineQuote), keyMetal: 60}
	items := &fakeItems{bounds: make(map[string]models.Bounds)}
	pub := &capturePublisher{}
	resolver := schema.NewStatic(map[string]string{
		"Team Captain":           "378;6",
		models.KeyName:           models.KeySKU,
		"Unusual Burning Flames": "134;5",
	})

	p := New(store, bl, pl, items, resolver, pub, cfg)
	return &testEnv{store: store, pricelist: pl, baseline: bl, items: items, publisher: pub, pricer: p}
}

func defaultConfig() Config {
	return Config{
		MaxBuyDifference:      0.10,
		MaxSellDifference:     0.10,
		MinSellMargin:         0.11,
		MaxBuyIncrease:        0.10,
		MaxSellDecrease:       0.10,
		SellHistoryProtection: true,
		CycleConcurrency:      2,
		KeySanityBand:         0.20,
	}
}

func (e *testEnv) addListing(t *testing.T, name, sku string, intent models.Intent, metal float64, steamID string) {
	t.Helper()
	if steamID == "" {
		steamID = uuid.NewString()
	}
	err := e.store.UpsertListing(&models.Listing{
		Name:       name,
		SKU:        sku,
		Intent:     intent,
		Currencies: models.Currencies{Metal: metal},
		SteamID:    steamID,
		UpdatedAt:  time.Now().Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDerive_BuyIsTopThreeMean(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.baseline.quotes["378;6"] = standardQuote(12.00, 13.00)

	for _, m := range []float64{10, 12, 14} {
		env.addListing(t, "Team Captain", "378;6", models.IntentBuy, m, "")
	}
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 13.00, "")

	buy, sell, err := env.pricer.Derive("Team Captain", "378;6", PricingContext{KeyMetal: 60})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if buy.Keys != 0 || buy.Metal != 12.00 {
		t.Errorf("buy = %+v, want {0 12}", buy)
	}
	if sell.Keys != 0 || sell.Metal != 13.00 {
		t.Errorf("sell = %+v, want {0 13}", sell)
	}
}

func TestDerive_InsufficientBuyListings(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.baseline.quotes["378;6"] = standardQuote(12.00, 13.00)

	env.addListing(t, "Team Captain", "378;6", models.IntentBuy, 12, "")
	env.addListing(t, "Team Captain", "378;6", models.IntentBuy, 12.11, "")
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 13, "")

	_, _, err := env.pricer.Derive("Team Captain", "378;6", PricingContext{KeyMetal: 60})
	if !errors.Is(err, ErrInsufficientListings) {
		t.Errorf("err = %v, want ErrInsufficientListings", err)
	}
}

func TestDerive_FallbackToBaseline(t *testing.T) {
	cfg := defaultConfig()
	cfg.FallbackToBaseline = true
	env := newTestEnv(t, cfg)
	env.baseline.quotes["378;6"] = standardQuote(12.00, 13.00)

	// No listings at all: the baseline quote is served verbatim.
	buy, sell, err := env.pricer.Derive("Team Captain", "378;6", PricingContext{KeyMetal: 60})
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if buy.Metal != 12.00 || sell.Metal != 13.00 {
		t.Errorf("fallback quote = %+v / %+v", buy, sell)
	}
}

func TestDerive_BaselineFailureNeverFallsBack(t *testing.T) {
	cfg := defaultConfig()
	cfg.FallbackToBaseline = true
	env := newTestEnv(t, cfg)

	_, _, err := env.pricer.Derive("Team Captain", "378;6", PricingContext{KeyMetal: 60})
	if !errors.Is(err, ErrBaselineUnavailable) {
		t.Errorf("err = %v, want ErrBaselineUnavailable", err)
	}
}

func TestDerive_OutlierBuyListingsFiltered(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.baseline.quotes["378;6"] = standardQuote(10.00, 12.00)

	// Eleven consistent bids and one absurd one. The absurd bid sorts
	// first on the buy side but is a z-score outlier.
	for i := 0; i < 11; i++ {
		env.addListing(t, "Team Captain", "378;6", models.IntentBuy, 10.00, "")
	}
	env.addListing(t, "Team Captain", "378;6", models.IntentBuy, 500.00, "")
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 12.00, "")

	buy, _, err := env.pricer.Derive("Team Captain", "378;6", PricingContext{KeyMetal: 60})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if buy.Keys != 0 || buy.Metal != 10.00 {
		t.Errorf("buy = %+v, want {0 10} with the outlier dropped", buy)
	}
}

func TestDerive_TrustedSellerWinsSellOrder(t *testing.T) {
	cfg := defaultConfig()
	cfg.SellHistoryProtection = false
	cfg.TrustedSteamIDs = []string{"trusted-bot"}
	env := newTestEnv(t, cfg)
	env.baseline.quotes["378;6"] = standardQuote(12.00, 13.00)

	for _, m := range []float64{11, 12, 13} {
		env.addListing(t, "Team Captain", "378;6", models.IntentBuy, m, "")
	}
	// The untrusted seller undercuts, but the trusted seller's price wins.
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 12.50, "")
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 13.00, "trusted-bot")

	_, sell, err := env.pricer.Derive("Team Captain", "378;6", PricingContext{KeyMetal: 60})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if sell.Metal != 13.00 {
		t.Errorf("sell = %+v, want the trusted seller's 13.00", sell)
	}
}

func TestDerive_SellHistoryProtectionSkipsOutlier(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.baseline.quotes["378;6"] = standardQuote(12.00, 13.00)

	for _, m := range []float64{11, 12, 13} {
		env.addListing(t, "Team Captain", "378;6", models.IntentBuy, m, "")
	}
	// One absurdly cheap sell listing in front of a sane one.
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 0.11, "")
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 13.00, "")

	now := time.Now().Unix()
	var hist []models.PriceHistoryEntry
	for i, sellMetal := range []float64{12.8, 13.0, 13.2, 13.0, 12.9} {
		hist = append(hist, models.PriceHistoryEntry{
			SKU: "378;6", BuyMetal: 12, SellMetal: sellMetal, Timestamp: now - int64(i*60),
		})
	}
	if err := env.store.InsertPriceHistory(hist); err != nil {
		t.Fatal(err)
	}

	_, sell, err := env.pricer.Derive("Team Captain", "378;6", PricingContext{KeyMetal: 60})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if sell.Metal != 13.00 {
		t.Errorf("sell = %+v, want 13.00 with the 0.11 outlier skipped", sell)
	}
}

func TestDerive_DivergenceRejected(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.baseline.quotes["378;6"] = standardQuote(10.00, 11.00)

	// Our derived buy sits 50% over the baseline.
	for i := 0; i < 3; i++ {
		env.addListing(t, "Team Captain", "378;6", models.IntentBuy, 15.00, "")
	}
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 16.00, "")

	_, _, err := env.pricer.Derive("Team Captain", "378;6", PricingContext{KeyMetal: 60})
	if !errors.Is(err, ErrDivergenceRejected) {
		t.Errorf("err = %v, want ErrDivergenceRejected", err)
	}
}

func TestDerive_RelaxedTierOnlyRequiresSaneSpread(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.baseline.quotes["134;5"] = &models.BaselineQuote{
		Buy:  models.Price{Keys: 10},
		Sell: models.Price{Keys: 12},
		Tier: models.TierRare,
	}

	// Far from the baseline, but buy stays below sell.
	for i := 0; i < 3; i++ {
		env.addListing(t, "Unusual Burning Flames", "134;5", models.IntentBuy, 30.00, "")
	}
	env.addListing(t, "Unusual Burning Flames", "134;5", models.IntentSell, 40.00, "")

	if _, _, err := env.pricer.Derive("Unusual Burning Flames", "134;5", PricingContext{KeyMetal: 60}); err != nil {
		t.Errorf("relaxed tier should accept a sane spread: %v", err)
	}

	// Inverted spread is still rejected.
	env2 := newTestEnv(t, defaultConfig())
	env2.baseline.quotes["134;5"] = env.baseline.quotes["134;5"]
	for i := 0; i < 3; i++ {
		env2.addListing(t, "Unusual Burning Flames", "134;5", models.IntentBuy, 50.00, "")
	}
	env2.addListing(t, "Unusual Burning Flames", "134;5", models.IntentSell, 40.00, "")

	if _, _, err := env2.pricer.Derive("Unusual Burning Flames", "134;5", PricingContext{KeyMetal: 60}); !errors.Is(err, ErrDivergenceRejected) {
		t.Errorf("inverted spread should be rejected, got %v", err)
	}
}
