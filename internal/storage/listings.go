package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

// UpsertListing inserts or overwrites a listing by its natural key.
// An existing row is only overwritten when the new timestamp is not older.
func (s *Storage) UpsertListing(l *models.Listing) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid listing: %w", err)
	}
	currencies, err := json.Marshal(l.Currencies)
	if err != nil {
		return fmt.Errorf("failed to marshal currencies: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO listings (name, sku, currencies, intent, updated, steamid)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (name, sku, intent, steamid)
		DO UPDATE SET currencies = excluded.currencies, updated = excluded.updated
		WHERE excluded.updated >= listings.updated`,
		l.Name, l.SKU, string(currencies), string(l.Intent), l.UpdatedAt, l.SteamID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

// UpsertListingsBatch applies a debounced batch of listings in a single
// transaction, de-duplicated by natural key keeping the last entry per key.
// It returns the distinct SKUs touched so callers can refresh stats.
func (s *Storage) UpsertListingsBatch(listings []*models.Listing) ([]string, error) {
	if len(listings) == 0 {
		return nil, nil
	}

	deduped := make(map[string]*models.Listing, len(listings))
	order := make([]string, 0, len(listings))
	for _, l := range listings {
		k := l.Key()
		if _, seen := deduped[k]; !seen {
			order = append(order, k)
		}
		deduped[k] = l // last event per key wins
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO listings (name, sku, currencies, intent, updated, steamid)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (name, sku, intent, steamid)
		DO UPDATE SET currencies = excluded.currencies, updated = excluded.updated
		WHERE excluded.updated >= listings.updated`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	skuSet := make(map[string]bool)
	for _, k := range order {
		l := deduped[k]
		if err := l.Validate(); err != nil {
			logger.Warn("Skipping invalid listing in batch (%s): %v", l.Name, err)
			continue
		}
		currencies, err := json.Marshal(l.Currencies)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal currencies: %w", err)
		}
		if _, err := stmt.Exec(l.Name, l.SKU, string(currencies), string(l.Intent), l.UpdatedAt, l.SteamID); err != nil {
			return nil, fmt.Errorf("failed to upsert listing %s: %w", l.Key(), err)
		}
		skuSet[l.SKU] = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	skus := make([]string, 0, len(skuSet))
	for sku := range skuSet {
		skus = append(skus, sku)
	}
	return skus, nil
}

// RemoveListing deletes one owner's listing for an item and side.
// It returns the SKU of the removed listing, or "" when nothing matched.
func (s *Storage) RemoveListing(steamID, name string, intent models.Intent) (string, error) {
	var sku string
	err := s.db.QueryRow(
		`SELECT sku FROM listings WHERE steamid = ? AND name = ? AND intent = ? LIMIT 1`,
		steamID, name, string(intent),
	).Scan(&sku)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up listing: %w", err)
	}
	if _, err := s.db.Exec(
		`DELETE FROM listings WHERE steamid = ? AND name = ? AND intent = ?`,
		steamID, name, string(intent),
	); err != nil {
		return "", fmt.Errorf("failed to delete listing: %w", err)
	}
	return sku, nil
}

// GetListings returns all active listings for an item on one side.
func (s *Storage) GetListings(name string, intent models.Intent) ([]models.Listing, error) {
	rows, err := s.db.Query(
		`SELECT name, sku, currencies, intent, updated, steamid
		 FROM listings WHERE name = ? AND intent = ?`,
		name, string(intent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		var currencies, intent string
		if err := rows.Scan(&l.Name, &l.SKU, &currencies, &intent, &l.UpdatedAt, &l.SteamID); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		if err := json.Unmarshal([]byte(currencies), &l.Currencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal currencies: %w", err)
		}
		l.Intent = models.Intent(intent)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// hardMaxAge is the failsafe retention limit applied regardless of activity
// band, protecting against stale stats.
const hardMaxAge = 5 * 24 * time.Hour

// retentionAge maps a moving-average listing count to the maximum listing
// age for that activity band.
func retentionAge(movingAvg float64) time.Duration {
	switch {
	case movingAvg > 10:
		return 35 * time.Minute
	case movingAvg > 8:
		return 2 * time.Hour
	case movingAvg > 6:
		return 6 * time.Hour
	case movingAvg > 4:
		return 24 * time.Hour
	case movingAvg > 2:
		return 3 * 24 * time.Hour
	default:
		return hardMaxAge
	}
}

// SweepExpired deletes listings whose age exceeds their SKU's activity band,
// independently for the buy and sell side, then applies the hard failsafe.
// Band failures are logged and skipped; the sweep never errors the caller.
func (s *Storage) SweepExpired() {
	now := time.Now().Unix()

	rows, err := s.db.Query(`SELECT sku, moving_avg_buy_count, moving_avg_sell_count FROM listing_stats`)
	if err != nil {
		logger.Error("Retention sweep failed to read stats: %v", err)
	} else {
		// Partition SKUs by band so each band is one DELETE.
		buyBands := make(map[time.Duration][]string)
		sellBands := make(map[time.Duration][]string)
		for rows.Next() {
			var sku string
			var avgBuy, avgSell sql.NullFloat64
			if err := rows.Scan(&sku, &avgBuy, &avgSell); err != nil {
				logger.Warn("Retention sweep failed to scan stats row: %v", err)
				continue
			}
			buyAge := retentionAge(avgBuy.Float64)
			sellAge := retentionAge(avgSell.Float64)
			buyBands[buyAge] = append(buyBands[buyAge], sku)
			sellBands[sellAge] = append(sellBands[sellAge], sku)
		}
		if err := rows.Err(); err != nil {
			logger.Warn("Retention sweep stats iteration: %v", err)
		}
		rows.Close()

		s.sweepBands(models.IntentBuy, buyBands, now)
		s.sweepBands(models.IntentSell, sellBands, now)
	}

	// Failsafe independent of stats.
	if _, err := s.db.Exec(`DELETE FROM listings WHERE updated <= ?`, now-int64(hardMaxAge.Seconds())); err != nil {
		logger.Error("Retention failsafe delete failed: %v", err)
	}
}

func (s *Storage) sweepBands(intent models.Intent, bands map[time.Duration][]string, now int64) {
	for age, skus := range bands {
		if len(skus) == 0 {
			continue
		}
		placeholders := strings.Repeat("?,", len(skus))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(skus)+2)
		for _, sku := range skus {
			args = append(args, sku)
		}
		args = append(args, string(intent), now-int64(age.Seconds()))
		query := fmt.Sprintf(
			`DELETE FROM listings WHERE sku IN (%s) AND intent = ? AND updated <= ?`,
			placeholders,
		)
		if _, err := s.db.Exec(query, args...); err != nil {
			logger.Error("Retention sweep (%s, %v band) failed: %v", intent, age, err)
		}
	}
}
