// Package ingest consumes the classifieds push feed: it filters and
// validates listing events, coalesces updates into batched writes, and
// applies deletes immediately.
package ingest

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/scraplab/autopricer/internal/models"
	"github.com/scraplab/autopricer/internal/schema"
)

// AllowList is the slice of the item list the filter needs.
type AllowList interface {
	Allowed(name string) bool
}

// FilterConfig carries the exclusion rules for inbound events.
type FilterConfig struct {
	ExcludedSteamIDs     []string
	ExcludedDescriptions []string
	// BlockedAttributes maps an exemption name fragment to the float
	// attribute value it blocks. An item carrying a blocked float value is
	// discarded unless its name contains one of the map's keys.
	BlockedAttributes map[string]float64
}

// Reasons an event is discarded, for audit logging.
const (
	ReasonNotAllowed     = "item not in allow-list"
	ReasonNoAgent        = "no originating-agent marker"
	ReasonBadCurrencies  = "no recognized currency unit"
	ReasonUnresolvable   = "item name did not resolve to a SKU"
	ReasonExcludedOwner  = "owner is excluded"
	ReasonBlockedDetails = "details match a blocked term"
	ReasonBlockedAttr    = "blocked attribute variant"
)

// Filter admits or rejects listing events before they reach the store.
type Filter struct {
	allow        AllowList
	resolver     schema.Resolver
	excludedIDs  map[string]bool
	blockedTerms []*regexp.Regexp
	blockedAttrs map[string]string // exemption fragment -> formatted float value
	fold         cases.Caser
}

// NewFilter builds the event filter. Blocked terms are normalized and
// compiled once; matching is word-boundary after NFKD normalization and
// case folding, mirroring how listing details are compared.
func NewFilter(cfg FilterConfig, allow AllowList, resolver schema.Resolver) *Filter {
	f := &Filter{
		allow:        allow,
		resolver:     resolver,
		excludedIDs:  make(map[string]bool, len(cfg.ExcludedSteamIDs)),
		blockedAttrs: make(map[string]string, len(cfg.BlockedAttributes)),
		fold:         cases.Fold(),
	}
	for _, id := range cfg.ExcludedSteamIDs {
		f.excludedIDs[id] = true
	}
	for _, term := range cfg.ExcludedDescriptions {
		folded := f.normalize(term)
		if folded == "" {
			continue
		}
		f.blockedTerms = append(f.blockedTerms,
			regexp.MustCompile(`\b`+regexp.QuoteMeta(folded)+`\b`))
	}
	for fragment, value := range cfg.BlockedAttributes {
		f.blockedAttrs[fragment] = formatAttr(value)
	}
	return f
}

func formatAttr(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (f *Filter) normalize(s string) string {
	return strings.TrimSpace(f.fold.String(norm.NFKD.String(s)))
}

// AdmitUpdate runs the filter chain over a listing-update event. It returns
// the listing to store, or a discard reason.
func (f *Filter) AdmitUpdate(ev *models.ListingEvent) (*models.Listing, string) {
	name := ev.Payload.Item.Name

	if !f.allow.Allowed(name) {
		return nil, ReasonNotAllowed
	}
	if !ev.Payload.HasAgent() {
		return nil, ReasonNoAgent
	}
	currencies, ok := ev.Payload.NormalizedCurrencies()
	if !ok {
		return nil, ReasonBadCurrencies
	}
	sku, err := f.resolver.ResolveSKU(name)
	if err != nil {
		if errors.Is(err, schema.ErrSKUNotFound) {
			return nil, ReasonUnresolvable
		}
		return nil, ReasonUnresolvable
	}
	if f.excludedIDs[ev.Payload.SteamID] {
		return nil, ReasonExcludedOwner
	}
	if f.detailsBlocked(ev.Payload.Details) {
		return nil, ReasonBlockedDetails
	}
	if f.attributesBlocked(name, ev.Payload.Item.Attributes) {
		return nil, ReasonBlockedAttr
	}

	return &models.Listing{
		Name:       name,
		SKU:        sku,
		Intent:     models.Intent(ev.Payload.Intent),
		Currencies: currencies,
		SteamID:    ev.Payload.SteamID,
		UpdatedAt:  time.Now().Unix(),
	}, ""
}

func (f *Filter) detailsBlocked(details string) bool {
	if details == "" {
		return false
	}
	folded := f.normalize(details)
	for _, re := range f.blockedTerms {
		if re.MatchString(folded) {
			return true
		}
	}
	return false
}

// attributesBlocked reports whether the item carries a blocked float-valued
// attribute (a cosmetic variant) without its name being exempted.
func (f *Filter) attributesBlocked(name string, attrs []models.ItemAttribute) bool {
	if len(attrs) == 0 || len(f.blockedAttrs) == 0 {
		return false
	}
	blockedValues := make(map[string]bool, len(f.blockedAttrs))
	exempt := false
	for fragment, value := range f.blockedAttrs {
		blockedValues[value] = true
		if strings.Contains(name, fragment) {
			exempt = true
		}
	}
	if exempt {
		return false
	}
	for _, a := range attrs {
		if a.FloatValue == 0 {
			continue
		}
		if blockedValues[formatAttr(a.FloatValue)] {
			return true
		}
	}
	return false
}
