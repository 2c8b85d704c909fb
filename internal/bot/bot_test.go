package bot

import (
	"testing"

	"binance-dca-bot-go/internal/gateway"
	"binance-dca-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testBotConfig() *models.Config {
	return &models.Config{
		PriceFeed:      "poll",
		PollIntervalMs: 10,
		Bot: models.BotConfig{
			TargetProfitPercent:            1,
			StartOrderVolume:               100,
			InsuranceOrderSteps:            2,
			InsurancePriceDeviationPercent: 2,
			InsuranceStepsMultiplier:       1,
			InsuranceOrderVolume:           100,
			InsuranceVolumeMultiplier:      2,
		},
	}
}

func newSim(quoteBalance float64) *gateway.SimGateway {
	inst := models.Instrument{QtyStep: "0.00001", PriceStep: "0.01", MinQty: "0.0001"}
	sim := gateway.NewSimGateway(inst, models.FeeRates{}, quoteBalance)
	sim.SetPrice(100)
	return sim
}

func TestStartFailureLeavesBotRestartable(t *testing.T) {
	b := New("BTCUSDT", testBotConfig(), newSim(50), nil, nil, zap.NewNop().Sugar())

	err := b.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrInsufficientBalance)
	assert.False(t, b.Status().Running)

	// The second attempt must hit the same balance error, not "already running".
	err = b.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrInsufficientBalance)
}

func TestStartStopStart(t *testing.T) {
	b := New("BTCUSDT", testBotConfig(), newSim(1000), nil, nil, zap.NewNop().Sugar())

	require.NoError(t, b.Start())
	assert.True(t, b.Status().Running)

	b.Stop()
	assert.False(t, b.Status().Running)

	require.NoError(t, b.Start())
	assert.True(t, b.Status().Running)
	b.Stop()
}
