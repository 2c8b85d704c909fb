package persistence

import "binance-dca-bot-go/internal/models"

// StateRepository defines the interface for trade state persistence.
// It abstracts the underlying storage mechanism (BadgerDB, JSON files)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the symbol's trade state snapshot.
	SaveState(symbol string, state *models.TradeState) error

	// LoadState loads the symbol's trade state from storage.
	// If no state is found, it returns (nil, nil).
	LoadState(symbol string) (*models.TradeState, error)

	// ClearState removes the symbol's persisted state after a cycle exits.
	ClearState(symbol string) error

	// Close gracefully closes the underlying storage.
	Close() error
}
