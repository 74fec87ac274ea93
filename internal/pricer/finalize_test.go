package pricer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scraplab/autopricer/internal/models"
)

func TestFinalize_RoundsAndNormalizes(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	buy := models.Price{Metal: 10.05}
	sell := models.Price{Metal: 12.07}
	item, err := env.pricer.Finalize("Team Captain", "378;6", buy, sell, PricingContext{KeyMetal: 60})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if item.Buy.Metal != 10.00 || item.Sell.Metal != 12.11 {
		t.Errorf("rounded prices = %+v / %+v", item.Buy, item.Sell)
	}
	if item.Source != "bptf" || item.SKU != "378;6" {
		t.Errorf("item metadata = %+v", item)
	}
}

func TestFinalize_RepairsInvertedSpread(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	item, err := env.pricer.Finalize("Team Captain", "378;6",
		models.Price{Metal: 10.00}, models.Price{Metal: 9.00}, PricingContext{KeyMetal: 60})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if item.Sell.Metal != 10.11 {
		t.Errorf("sell = %v, want buy plus the minimum margin", item.Sell.Metal)
	}
}

func TestFinalize_RejectsZeroSide(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	_, err := env.pricer.Finalize("Team Captain", "378;6",
		models.Price{}, models.Price{Metal: 12}, PricingContext{KeyMetal: 60})
	if !errors.Is(err, ErrMalformedItem) {
		t.Errorf("err = %v, want ErrMalformedItem", err)
	}
}

func TestFinalize_AppliesBounds(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	maxBuy := 9.00
	minSell := 13.00
	env.items.bounds["Team Captain"] = models.Bounds{
		MaxBuyMetal:  &maxBuy,
		MinSellMetal: &minSell,
	}

	item, err := env.pricer.Finalize("Team Captain", "378;6",
		models.Price{Metal: 10.00}, models.Price{Metal: 12.00}, PricingContext{KeyMetal: 60})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if item.Buy.Metal != 9.00 {
		t.Errorf("buy = %v, want clamped to 9", item.Buy.Metal)
	}
	if item.Sell.Metal != 13.00 {
		t.Errorf("sell = %v, want raised to 13", item.Sell.Metal)
	}
}

func TestFinalize_SwingGuard(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	now := time.Now().Unix()
	var hist []models.PriceHistoryEntry
	for i := 0; i < 5; i++ {
		hist = append(hist, models.PriceHistoryEntry{
			SKU: "378;6", BuyMetal: 90, SellMetal: 100, Timestamp: now - int64(i*60),
		})
	}
	if err := env.store.InsertPriceHistory(hist); err != nil {
		t.Fatal(err)
	}

	// Sell collapsing 15% below the recent mean is rejected.
	_, err := env.pricer.Finalize("Team Captain", "378;6",
		models.Price{Metal: 84.00}, models.Price{Metal: 85.03}, PricingContext{KeyMetal: 200})
	if !errors.Is(err, ErrPriceSwingRejected) {
		t.Errorf("err = %v, want ErrPriceSwingRejected", err)
	}

	// An 8% drop stays inside the guard.
	if _, err := env.pricer.Finalize("Team Captain", "378;6",
		models.Price{Metal: 90.00}, models.Price{Metal: 92.07}, PricingContext{KeyMetal: 200}); err != nil {
		t.Errorf("8%% drop should pass: %v", err)
	}

	// Buy jumping 15% above the recent mean is rejected.
	_, err = env.pricer.Finalize("Team Captain", "378;6",
		models.Price{Metal: 103.51}, models.Price{Metal: 104.06}, PricingContext{KeyMetal: 200})
	if !errors.Is(err, ErrPriceSwingRejected) {
		t.Errorf("err = %v, want ErrPriceSwingRejected for buy jump", err)
	}
}

func TestFinalize_SwingFallsBackToPricelist(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	prev := models.PricedItem{
		Name: "Team Captain", SKU: "378;6", Source: "bptf", Time: time.Now().Unix(),
		Buy:  models.Price{Metal: 90},
		Sell: models.Price{Metal: 100},
	}
	if err := env.pricelist.Commit(prev); err != nil {
		t.Fatal(err)
	}

	// No history rows: the current pricelist entry is the reference.
	_, err := env.pricer.Finalize("Team Captain", "378;6",
		models.Price{Metal: 84.00}, models.Price{Metal: 85.03}, PricingContext{KeyMetal: 200})
	if !errors.Is(err, ErrPriceSwingRejected) {
		t.Errorf("err = %v, want ErrPriceSwingRejected against pricelist reference", err)
	}
}

func TestFinalize_NoReferenceAccepts(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	// Neither history nor a pricelist row: any price passes the guard.
	if _, err := env.pricer.Finalize("Team Captain", "378;6",
		models.Price{Metal: 84.00}, models.Price{Metal: 85.03}, PricingContext{KeyMetal: 200}); err != nil {
		t.Errorf("first-ever price should be accepted: %v", err)
	}
}

func TestRunCycle_CommitsAndPublishes(t *testing.T) {
	cfg := defaultConfig()
	cfg.SellHistoryProtection = false
	env := newTestEnv(t, cfg)
	env.items.names = []string{"Team Captain"}
	env.baseline.quotes["378;6"] = standardQuote(12.00, 13.00)

	for _, m := range []float64{11, 12, 13} {
		env.addListing(t, "Team Captain", "378;6", models.IntentBuy, m, "")
	}
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 13.00, "")

	res, err := env.pricer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Priced != 1 || res.Skipped != 0 {
		t.Errorf("result = %+v", res)
	}

	it, ok := env.pricelist.Get("378;6")
	if !ok {
		t.Fatal("pricelist row missing after cycle")
	}
	if it.Buy.Metal != 12.00 || it.Sell.Metal != 13.00 {
		t.Errorf("committed price = %+v / %+v", it.Buy, it.Sell)
	}

	if len(env.publisher.items) != 1 {
		t.Fatalf("published %d items, want 1", len(env.publisher.items))
	}

	hist, err := env.store.RecentPriceHistory("378;6", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Errorf("history rows = %d, want 1", len(hist))
	}
}

func TestRunCycle_ContainsPerItemFailures(t *testing.T) {
	cfg := defaultConfig()
	cfg.SellHistoryProtection = false
	env := newTestEnv(t, cfg)
	env.items.names = []string{"Team Captain", "Unusual Burning Flames"}
	env.baseline.quotes["378;6"] = standardQuote(12.00, 13.00)
	// No baseline for the unusual: that item is skipped, not fatal.

	for _, m := range []float64{11, 12, 13} {
		env.addListing(t, "Team Captain", "378;6", models.IntentBuy, m, "")
	}
	env.addListing(t, "Team Captain", "378;6", models.IntentSell, 13.00, "")

	res, err := env.pricer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Priced != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 priced / 1 skipped", res)
	}
}

func TestRunCycle_RoutesKeyToSamples(t *testing.T) {
	cfg := defaultConfig()
	cfg.SellHistoryProtection = false
	env := newTestEnv(t, cfg)
	env.items.names = []string{models.KeyName}
	env.baseline.quotes[models.KeySKU] = standardQuote(59.00, 61.00)

	// The pricelist key row pins the cycle's key price.
	if err := env.pricelist.Commit(models.PricedItem{
		Name: models.KeyName, SKU: models.KeySKU, Source: "bptf", Time: time.Now().Unix(),
		Buy:  models.Price{Metal: 59.67},
		Sell: models.Price{Metal: 60.00},
	}); err != nil {
		t.Fatal(err)
	}

	for _, m := range []float64{59, 60, 61} {
		env.addListing(t, models.KeyName, models.KeySKU, models.IntentBuy, m, "")
	}
	env.addListing(t, models.KeyName, models.KeySKU, models.IntentSell, 61.00, "")

	res, err := env.pricer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	// The key never lands in the pricelist commit path.
	if res.Priced != 0 {
		t.Errorf("priced = %d, key should be routed to samples", res.Priced)
	}

	now := time.Now().Unix()
	st, err := env.store.KeyPriceWindow(now-60, now+60)
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 1 {
		t.Errorf("key samples = %d, want 1", st.Count)
	}
}

func TestSeedKeyPrice(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.baseline.keyMetal = 65.11

	if err := env.pricer.SeedKeyPrice(0.33); err != nil {
		t.Fatalf("SeedKeyPrice: %v", err)
	}
	it, ok := env.pricelist.Get(models.KeySKU)
	if !ok {
		t.Fatal("key row missing after seed")
	}
	if it.Sell.Metal != 65.11 {
		t.Errorf("seeded sell = %v, want 65.11", it.Sell.Metal)
	}
	if it.Buy.Metal >= it.Sell.Metal {
		t.Errorf("seeded buy %v should sit below sell %v", it.Buy.Metal, it.Sell.Metal)
	}

	// Seeding again is a no-op; the existing row survives.
	env.baseline.keyMetal = 10
	if err := env.pricer.SeedKeyPrice(0.33); err != nil {
		t.Fatal(err)
	}
	it, _ = env.pricelist.Get(models.KeySKU)
	if it.Sell.Metal != 65.11 {
		t.Errorf("reseed overwrote existing key row: %v", it.Sell.Metal)
	}
}
