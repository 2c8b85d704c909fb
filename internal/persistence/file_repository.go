package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"binance-dca-bot-go/internal/models"
)

// fileRepository stores each symbol's trade state as a JSON file under one
// directory. Clearing a state truncates the file to an empty object instead
// of deleting it, so a resumed process can tell "no cycle" from "never ran".
type fileRepository struct {
	dir string
}

// NewFileRepository creates the state directory if needed and returns a
// file-backed StateRepository.
func NewFileRepository(dir string) (StateRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &fileRepository{dir: dir}, nil
}

func (r *fileRepository) path(symbol string) string {
	return filepath.Join(r.dir, symbol+".json")
}

// SaveState writes the snapshot through a temp file and renames it into
// place, so a crash mid-write never leaves a torn state file.
func (r *fileRepository) SaveState(symbol string, state *models.TradeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := r.path(symbol) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path(symbol))
}

// LoadState reads the symbol's state file. A missing file or an empty object
// both mean no cycle was in flight.
func (r *fileRepository) LoadState(symbol string) (*models.TradeState, error) {
	data, err := os.ReadFile(r.path(symbol))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state models.TradeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file for %s: %w", symbol, err)
	}
	if state.Empty() {
		return nil, nil
	}
	return &state, nil
}

// ClearState resets the symbol's state file to an empty object.
func (r *fileRepository) ClearState(symbol string) error {
	return os.WriteFile(r.path(symbol), []byte("{}"), 0o644)
}

// Close is a no-op for the file backend.
func (r *fileRepository) Close() error {
	return nil
}
