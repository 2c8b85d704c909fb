package strategy

import (
	"context"
	"errors"
	"time"

	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/precision"

	"go.uber.org/zap"
)

// RSI conclusion labels.
const (
	RSIOversold   = "oversold"
	RSIOverbought = "overbought"
	RSINormal     = "normal"

	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendFlat    = "50/50"
)

// Evaluation is an RSI reading over one window of candles.
type Evaluation struct {
	Value           float64 `json:"relativeStrengthIndex"`
	RSIConclusion   string  `json:"rsiConclusion"`
	TrendConclusion string  `json:"trendConclusion"`
}

// ErrNoCandles is returned when an RSI window holds no candles.
var ErrNoCandles = errors.New("no candles to evaluate")

// EvaluateRSI computes a candle-body RSI: relative strength is the sum of
// green candle bodies over the sum of red candle bodies in the window. The
// result is floored to two decimals.
func EvaluateRSI(klines []models.Kline) (Evaluation, error) {
	if len(klines) == 0 {
		return Evaluation{}, ErrNoCandles
	}

	var green, red float64
	for _, k := range klines {
		switch {
		case k.Close > k.Open:
			green += k.Close - k.Open
		case k.Open > k.Close:
			red += k.Open - k.Close
		}
	}

	var rsi float64
	if red == 0 {
		rsi = 100
	} else {
		rs := green / red
		rsi = 100 - 100/(1+rs)
	}
	rsi = precision.FloorToDecimals(rsi, 2)

	eval := Evaluation{Value: rsi}
	switch {
	case rsi > 70:
		eval.RSIConclusion = RSIOversold
	case rsi < 30:
		eval.RSIConclusion = RSIOverbought
	default:
		eval.RSIConclusion = RSINormal
	}
	switch {
	case rsi > 50:
		eval.TrendConclusion = TrendBullish
	case rsi < 50:
		eval.TrendConclusion = TrendBearish
	default:
		eval.TrendConclusion = TrendFlat
	}
	return eval, nil
}

// KlineSource fetches the most recent candles for a symbol. The live
// implementation is backed by the exchange; tests inject canned windows.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
}

// Watcher polls RSI for one symbol and fires a callback once the entry
// condition is met: the index dips below the threshold, then recovers back
// into the normal band. Firing is one-shot; the caller re-arms a new Watcher
// for the next cycle.
type Watcher struct {
	symbol string
	cfg    models.EntryConfig
	source KlineSource
	logger *zap.SugaredLogger
}

// NewWatcher builds an RSI watcher for a symbol.
func NewWatcher(symbol string, cfg models.EntryConfig, source KlineSource, logger *zap.SugaredLogger) *Watcher {
	return &Watcher{symbol: symbol, cfg: cfg, source: source, logger: logger}
}

// Watch blocks until the entry condition fires or ctx is cancelled. On fire
// it invokes start with the evaluation that triggered it and returns nil.
func (w *Watcher) Watch(ctx context.Context, start func(Evaluation)) error {
	w.logger.Infof("[%s] RSI monitoring started (threshold %.2f, interval %s)", w.symbol, w.cfg.Threshold, w.cfg.Interval)

	armed := false
	cadence := time.Duration(w.cfg.PollSeconds) * time.Second
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		eval, err := w.evaluate(ctx)
		if err != nil {
			w.logger.Warnf("[%s] RSI evaluation failed: %v", w.symbol, err)
		} else if !armed && eval.Value < w.cfg.Threshold {
			// Below threshold: wait for the bounce back before starting.
			armed = true
			w.logger.Infof("[%s] RSI %.2f below threshold, waiting for recovery", w.symbol, eval.Value)
		} else if armed && eval.RSIConclusion == RSINormal {
			w.logger.Infof("[%s] RSI recovered to %.2f, starting trade", w.symbol, eval.Value)
			start(eval)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) evaluate(ctx context.Context) (Evaluation, error) {
	klines, err := w.source.Klines(ctx, w.symbol, w.cfg.Interval, w.cfg.CandleCount)
	if err != nil {
		return Evaluation{}, err
	}
	return EvaluateRSI(klines)
}
