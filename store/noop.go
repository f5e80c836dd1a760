package store

import "github.com/evdnx/gotick/config"

// NoopStore discards everything. Used when no database is configured.
type NoopStore struct{}

func (NoopStore) SaveBotConfig(string, config.RawBotConfig) error { return nil }

func (NoopStore) LoadBotConfig(string) (config.RawBotConfig, bool, error) {
	return config.RawBotConfig{}, false, nil
}

func (NoopStore) SetRunning(string, bool) error { return nil }

func (NoopStore) RunningBot() (string, bool, error) { return "", false, nil }

func (NoopStore) RecordTrade(Trade) error { return nil }

func (NoopStore) Trades(string, int) ([]Trade, error) { return nil, nil }

func (NoopStore) Close() error { return nil }
