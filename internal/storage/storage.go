// Package storage provides SQLite-backed persistence for listings, activity
// stats, price history, and key price history.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/autopricer/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "autopricer", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS listings (
			name       TEXT NOT NULL,
			sku        TEXT NOT NULL,
			currencies TEXT NOT NULL,
			intent     TEXT NOT NULL,
			updated    INTEGER NOT NULL,
			steamid    TEXT NOT NULL,
			PRIMARY KEY (name, sku, intent, steamid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_name_intent ON listings(name, intent)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_sku ON listings(sku)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_updated ON listings(updated)`,
		`CREATE TABLE IF NOT EXISTS listing_stats (
			sku                   TEXT PRIMARY KEY,
			current_buy_count     INTEGER NOT NULL DEFAULT 0,
			current_sell_count    INTEGER NOT NULL DEFAULT 0,
			moving_avg_buy_count  REAL,
			moving_avg_sell_count REAL,
			last_updated          INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			sku        TEXT NOT NULL,
			buy_metal  REAL NOT NULL,
			sell_metal REAL NOT NULL,
			timestamp  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_sku_ts ON price_history(sku, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS key_prices (
			sku        TEXT NOT NULL,
			buy_metal  REAL NOT NULL,
			sell_metal REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_key_prices_created ON key_prices(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
