package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/logger"
	"github.com/evdnx/gotick/types"
)

// SQLiteStore keeps everything in one SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log logger.Logger
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("store_opened", logger.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bot_configs (
			bot_id                TEXT PRIMARY KEY,
			initial_stake         TEXT NOT NULL,
			take_profit           TEXT NOT NULL,
			stop_loss             TEXT NOT NULL,
			martingale_multiplier TEXT NOT NULL,
			updated_at            INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS run_state (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			bot_id     TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id         TEXT PRIMARY KEY,
			session_id TEXT,
			bot_id     TEXT NOT NULL,
			timestamp  INTEGER NOT NULL,
			stake      REAL,
			result     TEXT,
			profit     REAL,
			label      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_bot_ts ON trades(bot_id, timestamp)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec %q: %w", q[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveBotConfig(botID string, raw config.RawBotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO bot_configs
		(bot_id, initial_stake, take_profit, stop_loss, martingale_multiplier, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(bot_id) DO UPDATE SET
			initial_stake = excluded.initial_stake,
			take_profit = excluded.take_profit,
			stop_loss = excluded.stop_loss,
			martingale_multiplier = excluded.martingale_multiplier,
			updated_at = excluded.updated_at`,
		botID, raw.InitialStake, raw.TakeProfit, raw.StopLoss, raw.MartingaleMultiplier,
		time.Now().Unix(),
	)
	return err
}

func (s *SQLiteStore) LoadBotConfig(botID string) (config.RawBotConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw config.RawBotConfig
	err := s.db.QueryRow(`SELECT initial_stake, take_profit, stop_loss, martingale_multiplier
		FROM bot_configs WHERE bot_id = ?`, botID).
		Scan(&raw.InitialStake, &raw.TakeProfit, &raw.StopLoss, &raw.MartingaleMultiplier)
	if errors.Is(err, sql.ErrNoRows) {
		return config.RawBotConfig{}, false, nil
	}
	if err != nil {
		return config.RawBotConfig{}, false, err
	}
	return raw, true, nil
}

func (s *SQLiteStore) SetRunning(botID string, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if running {
		_, err := s.db.Exec(`INSERT INTO run_state (id, bot_id, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET bot_id = excluded.bot_id, updated_at = excluded.updated_at`,
			botID, time.Now().Unix())
		return err
	}
	_, err := s.db.Exec(`DELETE FROM run_state WHERE id = 1 AND bot_id = ?`, botID)
	return err
}

func (s *SQLiteStore) RunningBot() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.QueryRow(`SELECT bot_id FROM run_state WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *SQLiteStore) RecordTrade(t Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO trades
		(id, session_id, bot_id, timestamp, stake, result, profit, label)
		VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.SessionID, t.BotID, t.Timestamp.UnixMilli(),
		t.Stake, string(t.Result), t.Profit, t.Label,
	)
	return err
}

func (s *SQLiteStore) Trades(botID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, session_id, bot_id, timestamp, stake, result, profit, label
		FROM trades WHERE bot_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t      Trade
			ms     int64
			result string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.BotID, &ms, &t.Stake, &result, &t.Profit, &t.Label); err != nil {
			return nil, err
		}
		t.Timestamp = time.UnixMilli(ms).UTC()
		t.Result = types.Result(result)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.log.Info("store_closing")
	return s.db.Close()
}
