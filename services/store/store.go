// Package store persists decision logs, recorded trades and settled day
// results in a local SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"replaylab/services/engine"
)

var ErrNotFound = errors.New("store: not found")

// Store wraps the database behind a mutex; modernc sqlite is safe for
// concurrent reads but writes serialize anyway.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	mu  sync.Mutex
}

// Open opens (or creates) the database and runs migrations.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decision_logs (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol  TEXT NOT NULL,
			ts      INTEGER NOT NULL,
			content TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_symbol_ts ON decision_logs(symbol, ts)`,

		`CREATE TABLE IF NOT EXISTS real_trades (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			ts     INTEGER NOT NULL,
			type   TEXT NOT NULL,
			price  REAL NOT NULL,
			amount INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON real_trades(symbol, ts)`,

		`CREATE TABLE IF NOT EXISTS day_results (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT NOT NULL,
			day        TEXT NOT NULL,
			status     TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE(symbol, day)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.log.Info("closing store")
	return s.db.Close()
}

// DecisionLog is one raw strategy note as authored, before parsing.
type DecisionLog struct {
	ID      int64
	Symbol  string
	Time    time.Time
	Content string
}

func (s *Store) AddDecisionLog(symbol string, ts time.Time, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO decision_logs (symbol, ts, content) VALUES (?,?,?)`,
		symbol, ts.Unix(), content)
	return err
}

// DecisionLogsForSession returns the logs driving one trading day: everything
// from the previous day's close (15:00) through the given day's close. An
// evening plan authored after yesterday's close steers today's open.
func (s *Store) DecisionLogsForSession(symbol string, day time.Time) ([]DecisionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	y, m, d := day.Date()
	closeToday := time.Date(y, m, d, 15, 0, 0, 0, day.Location())
	closePrev := closeToday.AddDate(0, 0, -1)

	rows, err := s.db.Query(`SELECT id, symbol, ts, content FROM decision_logs
		WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts`,
		symbol, closePrev.Unix(), closeToday.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []DecisionLog
	for rows.Next() {
		var (
			rec  DecisionLog
			unix int64
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &unix, &rec.Content); err != nil {
			return nil, err
		}
		rec.Time = time.Unix(unix, 0).In(day.Location())
		logs = append(logs, rec)
	}
	return logs, rows.Err()
}

func (s *Store) AddRealTrade(symbol string, tx engine.RealTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO real_trades (symbol, ts, type, price, amount) VALUES (?,?,?,?,?)`,
		symbol, tx.Time.Unix(), string(tx.Type), tx.Price, tx.Amount)
	return err
}

// RealTrades returns the recorded transactions for one calendar day,
// ascending, post-close records included.
func (s *Store) RealTrades(symbol string, day time.Time) ([]engine.RealTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	rows, err := s.db.Query(`SELECT ts, type, price, amount FROM real_trades
		WHERE symbol = ? AND ts >= ? AND ts < ? ORDER BY ts`,
		symbol, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []engine.RealTransaction
	for rows.Next() {
		var (
			unix   int64
			txType string
			tx     engine.RealTransaction
		)
		if err := rows.Scan(&unix, &txType, &tx.Price, &tx.Amount); err != nil {
			return nil, err
		}
		tx.Time = time.Unix(unix, 0).In(day.Location())
		tx.Type = engine.TxType(txType)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// SaveResult upserts one day's settlement. Re-running a day replaces the
// previous record.
func (s *Store) SaveResult(symbol string, day time.Time, res engine.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO day_results (symbol, day, status, payload, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(symbol, day) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			created_at = excluded.created_at`,
		symbol, day.Format("2006-01-02"), string(res.Status), string(payload), time.Now().Unix())
	return err
}

func (s *Store) Result(symbol string, day time.Time) (*engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM day_results WHERE symbol = ? AND day = ?`,
		symbol, day.Format("2006-01-02")).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res engine.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

// ResultSummary is one row of the day-result listing.
type ResultSummary struct {
	Day    string  `json:"day"`
	Status string  `json:"status"`
	PnlPct float64 `json:"pnl_pct"`
}

func (s *Store) ListResults(symbol string, limit int) ([]ResultSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT day, status, payload FROM day_results
		WHERE symbol = ? ORDER BY day DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var (
			row     ResultSummary
			payload string
		)
		if err := rows.Scan(&row.Day, &row.Status, &payload); err != nil {
			return nil, err
		}
		var res engine.Result
		if err := json.Unmarshal([]byte(payload), &res); err == nil {
			row.PnlPct = res.PnlPct
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
