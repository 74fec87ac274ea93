package models

import "encoding/json"

// Websocket event names pushed by the classifieds feed.
const (
	EventListingUpdate = "listing-update"
	EventListingDelete = "listing-delete"
)

// ListingEvent mirrors one event from the classifieds push feed. The feed
// sends either a single event object or an array of them.
type ListingEvent struct {
	Event   string         `json:"event"`
	Payload ListingPayload `json:"payload"`
}

// ListingPayload carries the listing data of an event.
type ListingPayload struct {
	Item       EventItem          `json:"item"`
	SteamID    string             `json:"steamid"`
	Intent     string             `json:"intent"`
	Currencies map[string]float64 `json:"currencies"`
	Details    string             `json:"details"`
	UserAgent  json.RawMessage    `json:"userAgent,omitempty"`
}

// EventItem is the item block of a listing event.
type EventItem struct {
	Name       string          `json:"name"`
	Attributes []ItemAttribute `json:"attributes,omitempty"`
}

// ItemAttribute is a single item attribute. Cosmetic variants (paints,
// spells) are carried as float values.
type ItemAttribute struct {
	FloatValue float64 `json:"float_value,omitempty"`
}

// HasAgent reports whether the event carries an originating-agent marker.
// Listings without one are manual posts, not bot-managed, and are ignored.
func (p *ListingPayload) HasAgent() bool {
	return len(p.UserAgent) > 0 && string(p.UserAgent) != "null"
}

// NormalizedCurrencies extracts the recognized currency units from the raw
// payload. The second return is false when no recognized unit is present.
func (p *ListingPayload) NormalizedCurrencies() (Currencies, bool) {
	if p.Currencies == nil {
		return Currencies{}, false
	}
	keys, hasKeys := p.Currencies["keys"]
	metal, hasMetal := p.Currencies["metal"]
	if !hasKeys && !hasMetal {
		return Currencies{}, false
	}
	return Currencies{Keys: keys, Metal: metal}, true
}
