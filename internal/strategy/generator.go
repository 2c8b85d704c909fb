// Package strategy contains the pure trading logic: the DCA ladder
// generator and the RSI entry gate. Nothing in this package performs I/O.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/precision"
)

// ErrLadderInfeasible is returned when the base order's quantity, floored to
// the instrument's step, falls below the exchange minimum. A small account or
// a high-priced asset must surface as "cannot build a valid ladder", never as
// a silent zero-length trade.
var ErrLadderInfeasible = errors.New("base order quantity below exchange minimum, cannot build a valid ladder")

// Generate derives the full order ladder for one trade cycle from the ladder
// parameters, the entry price and the instrument rules.
//
// Rung 0 is the market base order at the entry price. Rungs 1..N are
// insurance orders: their trigger deviations compound geometrically by the
// steps multiplier and their quote volumes grow geometrically by the volume
// multiplier. Each rung carries the running totals and the volume-weighted
// average entry across rungs 0..i, from which its take-profit target is
// derived.
//
// Identical inputs always yield identical output; the function has no side
// effects.
func Generate(symbol string, cfg models.BotConfig, entryPrice, minQty float64, inst models.Instrument) ([]models.GridStep, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %v", entryPrice)
	}
	if minQty <= 0 {
		return nil, fmt.Errorf("minimum quantity must be positive, got %v", minQty)
	}

	baseQty := precision.QuantityForQuote(cfg.StartOrderVolume, entryPrice, inst.QtyStep)
	if baseQty < minQty {
		return nil, fmt.Errorf("%s: %w (qty %v < min %v)", symbol, ErrLadderInfeasible, baseQty, minQty)
	}

	ladder := make([]models.GridStep, 0, cfg.InsuranceOrderSteps+1)

	sumBase := cfg.StartOrderVolume
	sumSecondary := baseQty
	ladder = append(ladder, finishRung(models.GridStep{
		Step:                     0,
		OrderDeviation:           0,
		OrderPriceToStep:         entryPrice,
		OrderBasePairVolume:      cfg.StartOrderVolume,
		OrderSecondaryPairVolume: baseQty,
	}, sumBase, sumSecondary, cfg.TargetProfitPercent, inst))

	cumDeviation := 0.0
	for i := 1; i <= cfg.InsuranceOrderSteps; i++ {
		cumDeviation += cfg.InsurancePriceDeviationPercent * math.Pow(cfg.InsuranceStepsMultiplier, float64(i-1))

		price := precision.FloorToStep(entryPrice*(1-cumDeviation/100), inst.PriceStep)
		if price <= 0 {
			return nil, fmt.Errorf("%s: rung %d deviation %.2f%% pushes trigger price to zero", symbol, i, cumDeviation)
		}
		volume := cfg.InsuranceOrderVolume * math.Pow(cfg.InsuranceVolumeMultiplier, float64(i-1))
		qty := precision.QuantityForQuote(volume, price, inst.QtyStep)

		sumBase += volume
		sumSecondary += qty
		ladder = append(ladder, finishRung(models.GridStep{
			Step:                     i,
			OrderDeviation:           cumDeviation,
			OrderPriceToStep:         price,
			OrderBasePairVolume:      volume,
			OrderSecondaryPairVolume: qty,
		}, sumBase, sumSecondary, cfg.TargetProfitPercent, inst))
	}

	return ladder, nil
}

// finishRung fills in the derived fields: running totals, weighted average
// entry and the take-profit target. Target price and deviation are floored so
// rounding can only shave the realized profit by at most one precision step,
// never inflate it.
func finishRung(rung models.GridStep, sumBase, sumSecondary, targetProfitPercent float64, inst models.Instrument) models.GridStep {
	rung.SummarizedOrderBasePairVolume = sumBase
	rung.SummarizedOrderSecondaryPairVolume = sumSecondary
	rung.OrderAveragePrice = sumBase / sumSecondary

	target := rung.OrderAveragePrice * (1 + targetProfitPercent/100)
	rung.OrderTargetPrice = precision.FloorToStep(target, inst.PriceStep)
	rung.OrderTargetDeviation = precision.FloorToDecimals((rung.OrderTargetPrice/rung.OrderAveragePrice-1)*100, 2)
	return rung
}
