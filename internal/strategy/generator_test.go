package strategy

import (
	"testing"

	"binance-dca-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInstrument = models.Instrument{
	Symbol:    "BTCUSDT",
	QtyStep:   "0.00001",
	PriceStep: "0.01",
	MinQty:    "0.0001",
}

func scenarioConfig() models.BotConfig {
	return models.BotConfig{
		TargetProfitPercent:            1,
		StartOrderVolume:               100,
		InsuranceOrderSteps:            2,
		InsurancePriceDeviationPercent: 2,
		InsuranceStepsMultiplier:       1,
		InsuranceOrderVolume:           100,
		InsuranceVolumeMultiplier:      2,
	}
}

func TestGenerateLadderShape(t *testing.T) {
	cfg := scenarioConfig()
	ladder, err := Generate("BTCUSDT", cfg, 100, 0.0001, testInstrument)
	require.NoError(t, err)
	require.Len(t, ladder, cfg.InsuranceOrderSteps+1)

	for i, rung := range ladder {
		assert.Equal(t, i, rung.Step, "steps must be strictly increasing from 0")
		if i > 0 {
			assert.Less(t, rung.OrderPriceToStep, ladder[i-1].OrderPriceToStep,
				"trigger prices must be strictly decreasing")
			assert.GreaterOrEqual(t, rung.SummarizedOrderBasePairVolume, ladder[i-1].SummarizedOrderBasePairVolume)
			assert.GreaterOrEqual(t, rung.SummarizedOrderSecondaryPairVolume, ladder[i-1].SummarizedOrderSecondaryPairVolume)
		}
	}
}

// Scenario A from the strategy's reference parameters.
func TestGenerateScenarioA(t *testing.T) {
	ladder, err := Generate("BTCUSDT", scenarioConfig(), 100, 0.0001, testInstrument)
	require.NoError(t, err)
	require.Len(t, ladder, 3)

	assert.Equal(t, 100.0, ladder[0].OrderPriceToStep)
	assert.Equal(t, 98.0, ladder[1].OrderPriceToStep)
	assert.Equal(t, 96.0, ladder[2].OrderPriceToStep)

	assert.Equal(t, 100.0, ladder[0].OrderBasePairVolume)
	assert.Equal(t, 100.0, ladder[1].OrderBasePairVolume)
	assert.Equal(t, 200.0, ladder[2].OrderBasePairVolume)

	// Base order: 100 USDT at 100 buys exactly 1.
	assert.Equal(t, 1.0, ladder[0].OrderSecondaryPairVolume)
	assert.Equal(t, 100.0, ladder[0].OrderAveragePrice)
	assert.Equal(t, 101.0, ladder[0].OrderTargetPrice)
}

func TestGenerateAveragePriceIdentity(t *testing.T) {
	ladder, err := Generate("BTCUSDT", scenarioConfig(), 100, 0.0001, testInstrument)
	require.NoError(t, err)

	for _, rung := range ladder {
		expected := rung.SummarizedOrderBasePairVolume / rung.SummarizedOrderSecondaryPairVolume
		assert.InDelta(t, expected, rung.OrderAveragePrice, 1e-9,
			"average price must equal summarized quote volume over summarized quantity")
	}
}

func TestGenerateTargetNeverShortsProfit(t *testing.T) {
	cfg := scenarioConfig()
	ladder, err := Generate("BTCUSDT", cfg, 100, 0.0001, testInstrument)
	require.NoError(t, err)

	// Flooring the target to the price step may shave at most one step's
	// worth of profit, never add to it.
	for _, rung := range ladder {
		realized := rung.OrderTargetPrice/rung.OrderAveragePrice - 1
		target := cfg.TargetProfitPercent / 100
		assert.LessOrEqual(t, realized, target+1e-9)
		assert.GreaterOrEqual(t, realized, target-0.01/rung.OrderAveragePrice-1e-9)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate("BTCUSDT", scenarioConfig(), 100, 0.0001, testInstrument)
	require.NoError(t, err)
	b, err := Generate("BTCUSDT", scenarioConfig(), 100, 0.0001, testInstrument)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// Scenario B: a tiny quote volume against a huge price cannot buy the
// exchange minimum.
func TestGenerateInfeasibleLadder(t *testing.T) {
	cfg := scenarioConfig()
	cfg.StartOrderVolume = 0.0001
	ladder, err := Generate("BTCUSDT", cfg, 1e9, 0.0001, testInstrument)
	assert.Nil(t, ladder)
	assert.ErrorIs(t, err, ErrLadderInfeasible)
}

func TestGenerateRejectsBadInputs(t *testing.T) {
	cfg := scenarioConfig()

	_, err := Generate("BTCUSDT", cfg, 0, 0.0001, testInstrument)
	assert.Error(t, err, "zero entry price must refuse to run")

	_, err = Generate("BTCUSDT", cfg, -5, 0.0001, testInstrument)
	assert.Error(t, err, "negative entry price must refuse to run")

	_, err = Generate("BTCUSDT", cfg, 100, 0, testInstrument)
	assert.Error(t, err, "zero minQty must refuse to run")

	bad := cfg
	bad.TargetProfitPercent = 0
	_, err = Generate("BTCUSDT", bad, 100, 0.0001, testInstrument)
	assert.Error(t, err, "invalid configuration must refuse to run")

	bad = cfg
	bad.InsuranceStepsMultiplier = 0.5
	_, err = Generate("BTCUSDT", bad, 100, 0.0001, testInstrument)
	assert.Error(t, err)
}

func TestGenerateZeroInsuranceSteps(t *testing.T) {
	cfg := scenarioConfig()
	cfg.InsuranceOrderSteps = 0
	ladder, err := Generate("BTCUSDT", cfg, 100, 0.0001, testInstrument)
	require.NoError(t, err)
	require.Len(t, ladder, 1)
	assert.Equal(t, 0, ladder[0].Step)
}

func TestGenerateDeviationsCompound(t *testing.T) {
	cfg := scenarioConfig()
	cfg.InsuranceOrderSteps = 3
	cfg.InsuranceStepsMultiplier = 2
	ladder, err := Generate("BTCUSDT", cfg, 100, 0.0001, testInstrument)
	require.NoError(t, err)
	require.Len(t, ladder, 4)

	// Deviation increments: 2, then 2*2, then 2*4 -> cumulative 2, 6, 14.
	assert.Equal(t, 2.0, ladder[1].OrderDeviation)
	assert.Equal(t, 6.0, ladder[2].OrderDeviation)
	assert.Equal(t, 14.0, ladder[3].OrderDeviation)
	assert.Equal(t, 98.0, ladder[1].OrderPriceToStep)
	assert.Equal(t, 94.0, ladder[2].OrderPriceToStep)
	assert.Equal(t, 86.0, ladder[3].OrderPriceToStep)
}
