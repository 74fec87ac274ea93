package storage

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

// DefaultEMAAlpha is the smoothing factor callers pass to
// UpdateMovingAverages unless they have a reason to deviate.
const DefaultEMAAlpha = emaAlpha

const (
	// emaAlpha is the smoothing factor for the activity moving averages.
	emaAlpha = 0.35
	// emaFloor prevents the averages from collapsing to values that would
	// pin every SKU in the most aggressive retention band forever.
	emaFloor = 0.05
	// emaEpsilon suppresses writes for changes below measurement noise.
	emaEpsilon = 1e-6
)

// UpdateListingStats recomputes the current buy/sell listing counts for one
// SKU. The moving averages are left untouched; they are smoothed separately
// by UpdateMovingAverages.
func (s *Storage) UpdateListingStats(sku string) error {
	var buy, sell int
	err := s.db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE intent = 'buy'),
			COUNT(*) FILTER (WHERE intent = 'sell')
		FROM listings WHERE sku = ?`, sku,
	).Scan(&buy, &sell)
	if err != nil {
		return fmt.Errorf("failed to count listings for %s: %w", sku, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO listing_stats (sku, current_buy_count, current_sell_count, last_updated)
		VALUES (?,?,?,?)
		ON CONFLICT (sku) DO UPDATE SET
			current_buy_count = excluded.current_buy_count,
			current_sell_count = excluded.current_sell_count,
			last_updated = excluded.last_updated`,
		sku, buy, sell, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stats for %s: %w", sku, err)
	}
	return nil
}

// InitListingStats seeds stats rows for every SKU present in the listings
// table, with bounded parallelism. Called once at startup.
func (s *Storage) InitListingStats() error {
	rows, err := s.db.Query(`SELECT DISTINCT sku FROM listings`)
	if err != nil {
		return fmt.Errorf("failed to query distinct SKUs: %w", err)
	}
	var skus []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan SKU: %w", err)
		}
		skus = append(skus, sku)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	logger.Info("Initializing listing stats for %d SKUs", len(skus))
	var g errgroup.Group
	g.SetLimit(10)
	for _, sku := range skus {
		g.Go(func() error {
			return s.UpdateListingStats(sku)
		})
	}
	return g.Wait()
}

// GetListingStats returns the stats row for one SKU, or nil when absent.
func (s *Storage) GetListingStats(sku string) (*models.ListingStats, error) {
	var st models.ListingStats
	var avgBuy, avgSell sql.NullFloat64
	var updated int64
	err := s.db.QueryRow(`
		SELECT sku, current_buy_count, current_sell_count,
		       moving_avg_buy_count, moving_avg_sell_count, last_updated
		FROM listing_stats WHERE sku = ?`, sku,
	).Scan(&st.SKU, &st.CurrentBuyCount, &st.CurrentSellCount, &avgBuy, &avgSell, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	st.MovingAvgBuyCount = avgBuy.Float64
	st.MovingAvgSellCount = avgSell.Float64
	st.LastUpdated = time.Unix(updated, 0)
	return &st, nil
}

// SetMovingAverages overrides the moving averages for one SKU. Used by the
// sweep tests and by operators repairing stats after an outage.
func (s *Storage) SetMovingAverages(sku string, avgBuy, avgSell float64) error {
	_, err := s.db.Exec(`
		INSERT INTO listing_stats (sku, moving_avg_buy_count, moving_avg_sell_count, last_updated)
		VALUES (?,?,?,?)
		ON CONFLICT (sku) DO UPDATE SET
			moving_avg_buy_count = excluded.moving_avg_buy_count,
			moving_avg_sell_count = excluded.moving_avg_sell_count,
			last_updated = excluded.last_updated`,
		sku, avgBuy, avgSell, time.Now().Unix(),
	)
	return err
}

func clampAndRound(v float64) float64 {
	return math.Max(emaFloor, math.Round(v*100)/100)
}

// UpdateMovingAverages applies one exponential-moving-average pass over all
// stats rows. A row with no previous average is seeded from its current
// count. Updates smaller than emaEpsilon are suppressed to avoid write
// amplification on idle SKUs.
func (s *Storage) UpdateMovingAverages(alpha float64) error {
	if alpha <= 0 || alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %v", alpha)
	}

	rows, err := s.db.Query(`
		SELECT sku, current_buy_count, current_sell_count,
		       moving_avg_buy_count, moving_avg_sell_count
		FROM listing_stats`)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}

	type update struct {
		sku             string
		avgBuy, avgSell float64
	}
	var updates []update
	for rows.Next() {
		var sku string
		var curBuy, curSell int
		var avgBuy, avgSell sql.NullFloat64
		if err := rows.Scan(&sku, &curBuy, &curSell, &avgBuy, &avgSell); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan stats: %w", err)
		}

		prevBuy := avgBuy.Float64
		if !avgBuy.Valid {
			prevBuy = float64(curBuy)
		}
		prevSell := avgSell.Float64
		if !avgSell.Valid {
			prevSell = float64(curSell)
		}

		newBuy := clampAndRound(alpha*float64(curBuy) + (1-alpha)*prevBuy)
		newSell := clampAndRound(alpha*float64(curSell) + (1-alpha)*prevSell)

		if avgBuy.Valid && avgSell.Valid &&
			math.Abs(newBuy-prevBuy) <= emaEpsilon && math.Abs(newSell-prevSell) <= emaEpsilon {
			continue
		}
		updates = append(updates, update{sku: sku, avgBuy: newBuy, avgSell: newSell})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(updates) == 0 {
		logger.Debug("No moving averages changed")
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().Unix()
	for _, u := range updates {
		if _, err := tx.Exec(`
			UPDATE listing_stats
			SET moving_avg_buy_count = ?, moving_avg_sell_count = ?, last_updated = ?
			WHERE sku = ?`,
			u.avgBuy, u.avgSell, now, u.sku,
		); err != nil {
			return fmt.Errorf("failed to update averages for %s: %w", u.sku, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit averages: %w", err)
	}
	logger.Debug("Updated moving averages for %d SKUs", len(updates))
	return nil
}
