// Package models defines the core domain entities: listings, prices, and
// baseline quotes.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Intent is the side of a classified listing.
type Intent string

const (
	IntentBuy  Intent = "buy"
	IntentSell Intent = "sell"
)

// Currencies is the raw price attached to a listing. Keys may be fractional
// in the wild (e.g. "1.5 keys"), metal is in refined.
type Currencies struct {
	Keys  float64 `json:"keys"`
	Metal float64 `json:"metal"`
}

// Listing is a standing buy or sell offer for one item by one owner.
// An owner has at most one active listing per item per side.
type Listing struct {
	Name       string
	SKU        string
	Intent     Intent
	Currencies Currencies
	SteamID    string
	UpdatedAt  int64 // UNIX seconds
}

// Key returns the natural key of the listing.
func (l *Listing) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", l.Name, l.SKU, l.Intent, l.SteamID)
}

// Validate checks listing field constraints.
func (l *Listing) Validate() error {
	if l.Name == "" {
		return errors.New("listing name must not be empty")
	}
	if l.SKU == "" {
		return errors.New("listing sku must not be empty")
	}
	if l.Intent != IntentBuy && l.Intent != IntentSell {
		return fmt.Errorf("listing intent must be buy or sell, got %q", l.Intent)
	}
	if l.SteamID == "" {
		return errors.New("listing steamid must not be empty")
	}
	if l.Currencies.Keys < 0 || l.Currencies.Metal < 0 {
		return errors.New("listing currencies must not be negative")
	}
	if l.Currencies.Keys == 0 && l.Currencies.Metal == 0 {
		return errors.New("listing must have a nonzero price")
	}
	if l.UpdatedAt > time.Now().Unix()+60 {
		return errors.New("listing timestamp must not be in the future")
	}
	return nil
}

// ListingStats is the per-SKU activity row driving retention.
// Current counts are recomputed after every mutation batch; the moving
// averages are smoothed on a schedule.
type ListingStats struct {
	SKU                string
	CurrentBuyCount    int
	CurrentSellCount   int
	MovingAvgBuyCount  float64
	MovingAvgSellCount float64
	LastUpdated        time.Time
}
