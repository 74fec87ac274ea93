package models

// Price is a normalized keys+metal amount as published to subscribers.
// Unlike listing currencies, the key component is always a whole number.
type Price struct {
	Keys  int     `json:"keys"`
	Metal float64 `json:"metal"`
}

// IsZero reports whether both components are zero.
func (p Price) IsZero() bool {
	return p.Keys == 0 && p.Metal == 0
}

// PricedItem is one finalized pricelist row.
type PricedItem struct {
	Name   string `json:"name"`
	SKU    string `json:"sku"`
	Source string `json:"source"`
	Time   int64  `json:"time"`
	Buy    Price  `json:"buy"`
	Sell   Price  `json:"sell"`
}

// QualityTier classifies a SKU for downstream validation. Rare-quality and
// killstreak items skip the baseline divergence percentage check.
type QualityTier int

const (
	TierStandard QualityTier = iota
	TierRare
	TierKillstreak
)

// Relaxed reports whether the tier bypasses the divergence percentages.
func (t QualityTier) Relaxed() bool {
	return t != TierStandard
}

// BaselineQuote is a normalized external reference price for one SKU.
type BaselineQuote struct {
	Buy  Price
	Sell Price
	Tier QualityTier
}

// Bounds is the optional per-item clamp. Nil fields are unbounded.
type Bounds struct {
	MinBuyKeys  *int     `json:"minBuyKeys,omitempty"`
	MaxBuyKeys  *int     `json:"maxBuyKeys,omitempty"`
	MinBuyMetal *float64 `json:"minBuyMetal,omitempty"`
	MaxBuyMetal *float64 `json:"maxBuyMetal,omitempty"`

	MinSellKeys  *int     `json:"minSellKeys,omitempty"`
	MaxSellKeys  *int     `json:"maxSellKeys,omitempty"`
	MinSellMetal *float64 `json:"minSellMetal,omitempty"`
	MaxSellMetal *float64 `json:"maxSellMetal,omitempty"`
}

// PriceHistoryEntry is one append-only history row for a SKU.
type PriceHistoryEntry struct {
	SKU       string
	BuyMetal  float64
	SellMetal float64
	Timestamp int64
}
