package models

import "strings"

// KeySKU is the SKU of the denominating currency item
// (Mann Co. Supply Crate Key).
const KeySKU = "5021;6"

// KeyName is the canonical item name for KeySKU.
const KeyName = "Mann Co. Supply Crate Key"

// rareQualities are SKU quality codes whose market prices legitimately
// diverge from any baseline (unusual and collector's).
var rareQualities = map[string]bool{"5": true, "14": true}

// SKUQuality returns the quality component of a SKU ("defindex;quality;...").
func SKUQuality(sku string) string {
	parts := strings.SplitN(sku, ";", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// TierForSKU classifies a SKU for baseline validation purposes.
func TierForSKU(sku string) QualityTier {
	if rareQualities[SKUQuality(sku)] || strings.Contains(sku, ";australium") {
		return TierRare
	}
	if strings.Contains(sku, ";kt-") {
		return TierKillstreak
	}
	return TierStandard
}
