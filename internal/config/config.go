package config

import (
	"encoding/json"
	"fmt"
	"os"

	"binance-dca-bot-go/internal/models"
)

// Load parses the JSON config file and validates the ladder parameters so an
// invalid BotConfig is rejected before any trade can be started.
func Load(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Bot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bot configuration: %w", err)
	}
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 400
	}
	if cfg.PriceFeed == "" {
		cfg.PriceFeed = "poll"
	}
	if cfg.StateBackend == "" {
		cfg.StateBackend = "badger"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/state"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "data/states"
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = ":8080"
	}
	if cfg.Entry.PollSeconds <= 0 {
		cfg.Entry.PollSeconds = 2
	}
	if cfg.Entry.Interval == "" {
		cfg.Entry.Interval = "1m"
	}
	if cfg.Entry.CandleCount <= 0 {
		cfg.Entry.CandleCount = 14
	}
	if cfg.Entry.Threshold == 0 {
		cfg.Entry.Threshold = 30
	}
}
