// Package currency implements the keys/refined-metal arithmetic used
// throughout the pricer. All metal values are rounded to the nearest scrap
// (0.11 refined); a key is worth a floating number of refined set by the
// current key price.
package currency

import (
	"math"

	"github.com/scraplab/autopricer/internal/models"
)

// Scrap is the smallest price increment in refined metal.
const Scrap = 0.11

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundScrap rounds a metal value to the nearest scrap increment. A
// fractional part that rounds to nine steps (0.99) carries into the next
// whole refined.
func RoundScrap(v float64) float64 {
	i := math.Floor(v)
	f := math.Round((v - i) / Scrap)
	if f == 9 {
		return round2(i + 1)
	}
	return round2(i + f*Scrap)
}

// ToMetal collapses a keys+metal amount into a single metal-equivalent
// value at the given key price.
func ToMetal(keys, metal, keyMetal float64) float64 {
	return RoundScrap(keys*keyMetal + metal)
}

// PriceToMetal converts a normalized price to metal-equivalent.
func PriceToMetal(p models.Price, keyMetal float64) float64 {
	return ToMetal(float64(p.Keys), p.Metal, keyMetal)
}

// ListingToMetal converts raw listing currencies to metal-equivalent.
func ListingToMetal(c models.Currencies, keyMetal float64) float64 {
	return ToMetal(c.Keys, c.Metal, keyMetal)
}

// Split converts a total metal value into whole keys plus remainder metal.
func Split(metal, keyMetal float64) models.Price {
	if keyMetal <= 0 {
		return models.Price{Metal: RoundScrap(metal)}
	}
	return models.Price{
		Keys:  int(metal / keyMetal),
		Metal: RoundScrap(math.Mod(metal, keyMetal)),
	}
}

// Parse re-normalizes a price against the current key price: the key
// component is converted to metal, summed with the metal component, and the
// total re-split into whole keys plus remainder. This keeps published
// prices consistent with the key price in force when they were written.
func Parse(p models.Price, keyMetal float64) models.Price {
	metal := RoundScrap(float64(p.Keys)*keyMetal) + p.Metal
	return Split(metal, keyMetal)
}
