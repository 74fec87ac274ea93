// Package pricer derives provisional prices from listings and a baseline
// quote, and finalizes them into pricelist rows.
package pricer

import "errors"

var (
	// ErrInsufficientListings: one side has too few listings to price from.
	ErrInsufficientListings = errors.New("not enough listings")
	// ErrNotEnoughAfterFiltering: outlier rejection left fewer than three
	// buy listings.
	ErrNotEnoughAfterFiltering = errors.New("not enough listings after outlier filtering")
	// ErrBaselineUnavailable: no usable baseline quote for the item.
	ErrBaselineUnavailable = errors.New("baseline quote unavailable")
	// ErrDivergenceRejected: derived price strays too far from the baseline.
	ErrDivergenceRejected = errors.New("price diverges too far from baseline")
	// ErrPriceSwingRejected: finalized price moves too far from recent history.
	ErrPriceSwingRejected = errors.New("price swing exceeds limits")
	// ErrMalformedItem: a side is missing or zero where it must not be.
	ErrMalformedItem = errors.New("malformed priced item")
)
