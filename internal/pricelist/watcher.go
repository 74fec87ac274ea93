package pricelist

import (
	"time"

	"github.com/scraplab/autopricer/internal/logger"
)

// LogStale warns about every pricelist row older than maxAge and returns
// how many were found. Run on a schedule so silently-stalled items are
// visible to operators.
func (s *Store) LogStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).Unix()
	stale := 0
	for _, it := range s.Items() {
		if it.Time < cutoff {
			age := time.Duration(time.Now().Unix()-it.Time) * time.Second
			logger.Warn("Price for %q (%s) is stale: last updated %v ago", it.Name, it.SKU, age.Round(time.Minute))
			stale++
		}
	}
	if stale > 0 {
		logger.Info("Stale price check: %d of %d items older than %v", stale, len(s.Items()), maxAge)
	}
	return stale
}
