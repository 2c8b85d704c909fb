package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"binance-dca-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(symbol string) *models.TradeState {
	return &models.TradeState{
		Symbol:  symbol,
		CycleID: "cycle-1",
		Strategy: []models.GridStep{
			{Step: 0, OrderPriceToStep: 100, OrderTargetPrice: 101},
			{Step: 1, OrderPriceToStep: 98, OrderTargetPrice: 99.97},
		},
		CurrentStep:  1,
		BaseOrderID:  "42",
		OnTakeProfit: true,
		CurrentPrice: 97.5,
	}
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.SaveState("BTCUSDT", sampleState("BTCUSDT")))

	loaded, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, sampleState("BTCUSDT"), loaded)
}

func TestFileRepositoryLoadMissing(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)

	loaded, err := repo.LoadState("ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileRepositoryClearLeavesEmptyObject(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)

	require.NoError(t, repo.SaveState("BTCUSDT", sampleState("BTCUSDT")))
	require.NoError(t, repo.ClearState("BTCUSDT"))

	data, err := os.ReadFile(filepath.Join(dir, "BTCUSDT.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	loaded, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileRepositoryStatesAreIsolatedPerSymbol(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, repo.SaveState("BTCUSDT", sampleState("BTCUSDT")))
	require.NoError(t, repo.SaveState("BNBUSDT", sampleState("BNBUSDT")))
	require.NoError(t, repo.ClearState("BTCUSDT"))

	loaded, err := repo.LoadState("BNBUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "BNBUSDT", loaded.Symbol)
}
