package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"svea/pkg/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateTrade is returned when a trade already exists for the
	// same ticker and date.
	ErrDuplicateTrade = errors.New("store: duplicate trade")
)

// Store persists watchlists, snapshots, signals and paper trades in SQLite.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:"
// for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS watchlist (
		ticker          TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		date            TEXT NOT NULL,
		report_time     TEXT NOT NULL DEFAULT '',
		trend_score     REAL NOT NULL DEFAULT 0,
		sma_200         REAL NOT NULL DEFAULT 0,
		current_price   REAL NOT NULL DEFAULT 0,
		yesterday_close REAL NOT NULL DEFAULT 0,
		return_3m       REAL NOT NULL DEFAULT 0,
		return_1y       REAL NOT NULL DEFAULT 0,
		above_sma_200   INTEGER NOT NULL DEFAULT 0,
		UNIQUE(date, ticker)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker           TEXT NOT NULL,
		date             TEXT NOT NULL,
		timestamp        TIMESTAMP NOT NULL,
		open_price       REAL NOT NULL,
		current_price    REAL NOT NULL,
		high             REAL NOT NULL,
		low              REAL NOT NULL,
		volume           INTEGER NOT NULL,
		vwap             REAL NOT NULL,
		avg_5min         REAL NOT NULL DEFAULT 0,
		data_age_seconds INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_ticker_date ON snapshots(ticker, date);

	CREATE TABLE IF NOT EXISTS signals (
		id                 TEXT PRIMARY KEY,
		ticker             TEXT NOT NULL,
		date               TEXT NOT NULL,
		signal_time        TIMESTAMP NOT NULL,
		entry_price        REAL NOT NULL,
		open_price         REAL NOT NULL,
		vwap               REAL NOT NULL,
		yesterday_close    REAL NOT NULL,
		pct_from_yesterday REAL NOT NULL,
		vwap_distance_pct  REAL NOT NULL,
		open_distance_pct  REAL NOT NULL,
		confidence         REAL NOT NULL,
		data_age_seconds   INTEGER NOT NULL DEFAULT 0,
		executed           INTEGER NOT NULL DEFAULT 0,
		UNIQUE(date, ticker)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id          TEXT PRIMARY KEY,
		signal_id   TEXT NOT NULL,
		ticker      TEXT NOT NULL,
		date        TEXT NOT NULL,
		entry_time  TIMESTAMP NOT NULL,
		entry_price REAL NOT NULL,
		exit_time   TIMESTAMP,
		exit_price  REAL,
		exit_reason TEXT NOT NULL DEFAULT '',
		pnl_pct     REAL,
		notes       TEXT NOT NULL DEFAULT '',
		UNIQUE(date, ticker)
	);

	CREATE TABLE IF NOT EXISTS earnings (
		ticker        TEXT NOT NULL,
		company_name  TEXT NOT NULL DEFAULT '',
		report_date   TEXT NOT NULL,
		report_time   TEXT NOT NULL DEFAULT '',
		estimated_eps REAL,
		reported_eps  REAL,
		UNIQUE(report_date, ticker)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	// Columns added after the initial release. ALTER fails when the
	// column already exists, which is fine.
	migrations := []string{
		`ALTER TABLE signals ADD COLUMN data_age_seconds INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE trades ADD COLUMN notes TEXT NOT NULL DEFAULT ''`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil && !isDuplicateColumn(err) {
			return fmt.Errorf("applying migration: %w", err)
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column")
}

// ReplaceWatchlist replaces the watchlist for a trading day.
func (s *Store) ReplaceWatchlist(date string, entries []model.WatchlistEntry) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM watchlist WHERE date = ?`, date); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := tx.NamedExec(`
			INSERT INTO watchlist
			(ticker, name, date, report_time, trend_score, sma_200, current_price,
			 yesterday_close, return_3m, return_1y, above_sma_200)
			VALUES
			(:ticker, :name, :date, :report_time, :trend_score, :sma_200, :current_price,
			 :yesterday_close, :return_3m, :return_1y, :above_sma_200)`, e)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Watchlist returns the watchlist for a trading day, best trend score first.
func (s *Store) Watchlist(date string) ([]model.WatchlistEntry, error) {
	var entries []model.WatchlistEntry
	err := s.db.Select(&entries, `
		SELECT * FROM watchlist WHERE date = ? ORDER BY trend_score DESC, ticker`, date)
	return entries, err
}

// SaveSnapshot appends a snapshot. Snapshots are never updated.
func (s *Store) SaveSnapshot(snap model.Snapshot) error {
	_, err := s.db.NamedExec(`
		INSERT INTO snapshots
		(ticker, date, timestamp, open_price, current_price, high, low, volume,
		 vwap, avg_5min, data_age_seconds)
		VALUES
		(:ticker, :date, :timestamp, :open_price, :current_price, :high, :low, :volume,
		 :vwap, :avg_5min, :data_age_seconds)`, snap)
	return err
}

// Snapshots returns all snapshots for a ticker on a date, oldest first.
func (s *Store) Snapshots(ticker, date string) ([]model.Snapshot, error) {
	var snaps []model.Snapshot
	err := s.db.Select(&snaps, `
		SELECT ticker, date, timestamp, open_price, current_price, high, low,
		       volume, vwap, avg_5min, data_age_seconds
		FROM snapshots WHERE ticker = ? AND date = ? ORDER BY timestamp`, ticker, date)
	return snaps, err
}

// SaveSignal persists a signal. One signal per (date, ticker) is enforced
// by the schema; a second insert for the same pair fails.
func (s *Store) SaveSignal(sig model.Signal) error {
	_, err := s.db.NamedExec(`
		INSERT INTO signals
		(id, ticker, date, signal_time, entry_price, open_price, vwap,
		 yesterday_close, pct_from_yesterday, vwap_distance_pct, open_distance_pct,
		 confidence, data_age_seconds, executed)
		VALUES
		(:id, :ticker, :date, :signal_time, :entry_price, :open_price, :vwap,
		 :yesterday_close, :pct_from_yesterday, :vwap_distance_pct, :open_distance_pct,
		 :confidence, :data_age_seconds, :executed)`, sig)
	return err
}

// Signal returns a signal by id.
func (s *Store) Signal(id string) (*model.Signal, error) {
	var sig model.Signal
	err := s.db.Get(&sig, `SELECT * FROM signals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// Signals returns all signals for a trading day, earliest first.
func (s *Store) Signals(date string) ([]model.Signal, error) {
	var sigs []model.Signal
	err := s.db.Select(&sigs, `
		SELECT * FROM signals WHERE date = ? ORDER BY signal_time`, date)
	return sigs, err
}

// MarkSignalExecuted flags a signal as acted on.
func (s *Store) MarkSignalExecuted(id string) error {
	res, err := s.db.Exec(`UPDATE signals SET executed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTrade inserts a new open trade. Returns ErrDuplicateTrade when a
// trade already exists for the same ticker and date.
func (s *Store) CreateTrade(t model.Trade) error {
	_, err := s.db.NamedExec(`
		INSERT INTO trades
		(id, signal_id, ticker, date, entry_time, entry_price, exit_time,
		 exit_price, exit_reason, pnl_pct, notes)
		VALUES
		(:id, :signal_id, :ticker, :date, :entry_time, :entry_price, :exit_time,
		 :exit_price, :exit_reason, :pnl_pct, :notes)`, t)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateTrade
	}
	return err
}

// Trade returns a trade by id.
func (s *Store) Trade(id string) (*model.Trade, error) {
	var t model.Trade
	err := s.db.Get(&t, `SELECT * FROM trades WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// OpenTrades returns all trades that have not been closed yet.
func (s *Store) OpenTrades() ([]model.Trade, error) {
	var trades []model.Trade
	err := s.db.Select(&trades, `
		SELECT * FROM trades WHERE exit_time IS NULL ORDER BY entry_time`)
	return trades, err
}

// Trades returns all trades for a trading day.
func (s *Store) Trades(date string) ([]model.Trade, error) {
	var trades []model.Trade
	err := s.db.Select(&trades, `
		SELECT * FROM trades WHERE date = ? ORDER BY entry_time`, date)
	return trades, err
}

// RecentTrades returns the most recent trades across all days.
func (s *Store) RecentTrades(limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var trades []model.Trade
	err := s.db.Select(&trades, `
		SELECT * FROM trades ORDER BY entry_time DESC LIMIT ?`, limit)
	return trades, err
}

// CloseTrade records the exit of an open trade. Closing an already closed
// trade is an error.
func (s *Store) CloseTrade(id string, exitTime time.Time, exitPrice float64, reason string) error {
	t, err := s.Trade(id)
	if err != nil {
		return err
	}
	if t.IsClosed() {
		return fmt.Errorf("store: trade %s already closed", id)
	}

	pnl := 0.0
	if t.EntryPrice > 0 {
		pnl = (exitPrice - t.EntryPrice) / t.EntryPrice * 100
	}
	_, err = s.db.Exec(`
		UPDATE trades SET exit_time = ?, exit_price = ?, exit_reason = ?, pnl_pct = ?
		WHERE id = ?`, exitTime, exitPrice, reason, pnl, id)
	return err
}

// DeleteSnapshotsBefore removes snapshots older than the given date key.
// Returns the number of rows removed.
func (s *Store) DeleteSnapshotsBefore(date string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE date < ?`, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveEarnings upserts earnings reference rows.
func (s *Store) SaveEarnings(records []model.EarningsRecord) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		_, err := tx.NamedExec(`
			INSERT INTO earnings
			(ticker, company_name, report_date, report_time, estimated_eps, reported_eps)
			VALUES (:ticker, :company_name, :report_date, :report_time, :estimated_eps, :reported_eps)
			ON CONFLICT(report_date, ticker) DO UPDATE SET
				company_name = excluded.company_name,
				report_time = excluded.report_time,
				estimated_eps = excluded.estimated_eps,
				reported_eps = excluded.reported_eps`, r)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Earnings returns earnings rows for a report date.
func (s *Store) Earnings(date string) ([]model.EarningsRecord, error) {
	var records []model.EarningsRecord
	err := s.db.Select(&records, `
		SELECT * FROM earnings WHERE report_date = ? ORDER BY ticker`, date)
	return records, err
}

// TradeSummary aggregates closed-trade performance.
type TradeSummary struct {
	Total     int     `db:"total"`
	Closed    int     `db:"closed"`
	Wins      int     `db:"wins"`
	AvgPnLPct float64 `db:"avg_pnl"`
}

// Summary returns aggregate stats over all trades.
func (s *Store) Summary() (*TradeSummary, error) {
	var sum TradeSummary
	err := s.db.Get(&sum, `
		SELECT COUNT(*) AS total,
		       COUNT(exit_time) AS closed,
		       COALESCE(SUM(CASE WHEN pnl_pct > 0 THEN 1 ELSE 0 END), 0) AS wins,
		       COALESCE(AVG(pnl_pct), 0) AS avg_pnl
		FROM trades`)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}
