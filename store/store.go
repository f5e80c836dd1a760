package store

import (
	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/types"
)

// Trade is one journal row.
type Trade struct {
	ID        string
	SessionID string
	BotID     string
	types.TradeRecord
}

// Store persists bot settings, the running flag and the trade journal.
type Store interface {
	SaveBotConfig(botID string, raw config.RawBotConfig) error
	// LoadBotConfig reports false when nothing was saved for botID.
	LoadBotConfig(botID string) (config.RawBotConfig, bool, error)
	// SetRunning marks botID as the running bot, or clears the mark if it
	// is held by botID.
	SetRunning(botID string, running bool) error
	RunningBot() (string, bool, error)
	RecordTrade(t Trade) error
	// Trades returns the most recent trades of botID, newest first.
	Trades(botID string, limit int) ([]Trade, error)
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = NoopStore{}
)
