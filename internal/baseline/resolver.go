package baseline

import (
	"errors"
	"fmt"
	"math"

	"github.com/scraplab/autopricer/internal/currency"
	"github.com/scraplab/autopricer/internal/models"
)

// ErrNotPriced is returned when the feed carries no usable price for a SKU.
var ErrNotPriced = errors.New("item not priced on baseline feed")

// ErrZeroPrice is returned when the feed prices both sides of a SKU at zero.
var ErrZeroPrice = errors.New("baseline price is zero")

// Quote normalizes the raw feed price for a SKU into a buy/sell quote at
// the current key price. The feed quotes a single value (optionally a
// value_high) in keys or metal; the quote spreads it ±10% into buy and
// sell sides. The key itself is quoted flat: its feed value is both sides.
func (c *Client) Quote(sku string, keyMetal float64) (*models.BaselineQuote, error) {
	raw, ok := c.Lookup(sku)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPriced, sku)
	}
	if raw.Value <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrZeroPrice, sku)
	}

	tier := models.TierForSKU(sku)

	if sku == models.KeySKU {
		flat := models.Price{Keys: 0, Metal: raw.Value}
		return &models.BaselineQuote{Buy: flat, Sell: flat, Tier: tier}, nil
	}

	value := raw.Value
	// The feed quotes a range for some items; value_high anchors the sell
	// side when present.
	high := raw.Value
	if raw.ValueHigh > 0 {
		high = raw.ValueHigh
	}
	if raw.Currency == "keys" {
		value *= keyMetal
		high *= keyMetal
	}

	buyValue := value * 0.9
	sellValue := high * 1.1

	round2 := func(v float64) float64 { return math.Round(v*100) / 100 }
	quoteSide := func(v float64) models.Price {
		if keyMetal <= 0 {
			return models.Price{Metal: round2(v)}
		}
		return models.Price{
			Keys:  int(math.Floor(v / keyMetal)),
			Metal: round2(math.Mod(v, keyMetal)),
		}
	}

	return &models.BaselineQuote{
		Buy:  quoteSide(buyValue),
		Sell: quoteSide(sellValue),
		Tier: tier,
	}, nil
}

// KeyMetal returns the key's own price in metal from the current snapshot.
// Used at startup and by the key price refresh task; every other quote is
// denominated through this value.
func (c *Client) KeyMetal() (float64, error) {
	raw, ok := c.Lookup(models.KeySKU)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotPriced, models.KeySKU)
	}
	if raw.Value <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrZeroPrice, models.KeySKU)
	}
	return currency.RoundScrap(raw.Value), nil
}
