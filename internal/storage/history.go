package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/scraplab/autopricer/internal/models"
)

// InsertPriceHistory appends a batch of history rows in one transaction.
func (s *Storage) InsertPriceHistory(entries []models.PriceHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO price_history (sku, buy_metal, sell_metal, timestamp) VALUES (?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.SKU, e.BuyMetal, e.SellMetal, e.Timestamp); err != nil {
			return fmt.Errorf("failed to insert history for %s: %w", e.SKU, err)
		}
	}
	return tx.Commit()
}

// RecentPriceHistory returns up to limit most recent history rows for a SKU,
// newest first.
func (s *Storage) RecentPriceHistory(sku string, limit int) ([]models.PriceHistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT sku, buy_metal, sell_metal, timestamp
		FROM price_history WHERE sku = ?
		ORDER BY timestamp DESC LIMIT ?`, sku, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []models.PriceHistoryEntry
	for rows.Next() {
		var e models.PriceHistoryEntry
		if err := rows.Scan(&e.SKU, &e.BuyMetal, &e.SellMetal, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentSellPrices returns up to limit most recent recorded sell prices for
// a SKU in metal, newest first. Used by the sell-side outlier protection.
func (s *Storage) RecentSellPrices(sku string, limit int) ([]float64, error) {
	entries, err := s.RecentPriceHistory(sku, limit)
	if err != nil {
		return nil, err
	}
	prices := make([]float64, len(entries))
	for i, e := range entries {
		prices[i] = e.SellMetal
	}
	return prices, nil
}

// InsertKeyPrice appends one key price observation.
func (s *Storage) InsertKeyPrice(buyMetal, sellMetal float64, ts int64) error {
	_, err := s.db.Exec(
		`INSERT INTO key_prices (sku, buy_metal, sell_metal, created_at) VALUES (?,?,?,?)`,
		models.KeySKU, buyMetal, sellMetal, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert key price: %w", err)
	}
	return nil
}

// CleanupKeyPrices deletes key price rows older than the retention window.
func (s *Storage) CleanupKeyPrices(retention time.Duration) error {
	cutoff := time.Now().Add(-retention).Unix()
	if _, err := s.db.Exec(`DELETE FROM key_prices WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to clean up key prices: %w", err)
	}
	return nil
}

// KeyWindowStats summarizes key price observations inside one time window.
type KeyWindowStats struct {
	Count   int
	AvgBuy  float64
	AvgSell float64
	StdBuy  float64
	StdSell float64
}

// KeyPriceWindow computes mean and population standard deviation of the key
// price observations between from and to (UNIX seconds, from exclusive of
// older rows, to inclusive).
func (s *Storage) KeyPriceWindow(from, to int64) (*KeyWindowStats, error) {
	rows, err := s.db.Query(`
		SELECT buy_metal, sell_metal FROM key_prices
		WHERE sku = ? AND created_at >= ? AND created_at < ?`,
		models.KeySKU, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query key prices: %w", err)
	}
	defer rows.Close()

	var buys, sells []float64
	for rows.Next() {
		var b, sl float64
		if err := rows.Scan(&b, &sl); err != nil {
			return nil, fmt.Errorf("failed to scan key price: %w", err)
		}
		buys = append(buys, b)
		sells = append(sells, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	st := &KeyWindowStats{Count: len(buys)}
	if st.Count == 0 {
		return st, nil
	}
	st.AvgBuy, st.StdBuy = meanStd(buys)
	st.AvgSell, st.StdSell = meanStd(sells)
	return st, nil
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}
