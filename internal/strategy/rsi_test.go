package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func candle(open, close float64) models.Kline {
	return models.Kline{Open: open, Close: close, High: max(open, close), Low: min(open, close)}
}

func TestEvaluateRSIAllGreen(t *testing.T) {
	eval, err := EvaluateRSI([]models.Kline{candle(1, 2), candle(2, 3)})
	require.NoError(t, err)
	assert.Equal(t, 100.0, eval.Value)
	assert.Equal(t, RSIOversold, eval.RSIConclusion)
	assert.Equal(t, TrendBullish, eval.TrendConclusion)
}

func TestEvaluateRSIBalanced(t *testing.T) {
	// One green body of 2 and one red body of 2: RS=1, RSI=50.
	eval, err := EvaluateRSI([]models.Kline{candle(10, 12), candle(12, 10)})
	require.NoError(t, err)
	assert.Equal(t, 50.0, eval.Value)
	assert.Equal(t, RSINormal, eval.RSIConclusion)
	assert.Equal(t, TrendFlat, eval.TrendConclusion)
}

func TestEvaluateRSIBearish(t *testing.T) {
	// Green body 1, red body 3: RS=1/3, RSI=25.
	eval, err := EvaluateRSI([]models.Kline{candle(10, 11), candle(11, 8)})
	require.NoError(t, err)
	assert.Equal(t, 25.0, eval.Value)
	assert.Equal(t, RSIOverbought, eval.RSIConclusion)
	assert.Equal(t, TrendBearish, eval.TrendConclusion)
}

func TestEvaluateRSIEmptyWindow(t *testing.T) {
	_, err := EvaluateRSI(nil)
	assert.ErrorIs(t, err, ErrNoCandles)
}

// scriptedKlines returns a different canned window on each call.
type scriptedKlines struct {
	mu      sync.Mutex
	windows [][]models.Kline
	calls   int
}

func (s *scriptedKlines) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[s.calls]
	if s.calls < len(s.windows)-1 {
		s.calls++
	}
	return w, nil
}

func TestWatcherFiresAfterDipAndRecovery(t *testing.T) {
	source := &scriptedKlines{windows: [][]models.Kline{
		// RSI 25: dips below the threshold, arms the gate.
		{candle(10, 11), candle(11, 8)},
		// RSI 50: recovered to normal, should fire.
		{candle(10, 12), candle(12, 10)},
	}}

	cfg := models.EntryConfig{RSIEnabled: true, Interval: "1m", CandleCount: 14, Threshold: 30, PollSeconds: 1}
	w := NewWatcher("BTCUSDT", cfg, source, zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fired := make(chan Evaluation, 1)
	err := w.Watch(ctx, func(e Evaluation) { fired <- e })
	require.NoError(t, err)

	select {
	case eval := <-fired:
		assert.Equal(t, 50.0, eval.Value)
	default:
		t.Fatal("watcher returned without firing")
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	source := &scriptedKlines{windows: [][]models.Kline{
		// RSI 100: never dips, the gate never arms.
		{candle(1, 2)},
	}}
	cfg := models.EntryConfig{RSIEnabled: true, Interval: "1m", CandleCount: 14, Threshold: 30, PollSeconds: 1}
	w := NewWatcher("BTCUSDT", cfg, source, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := w.Watch(ctx, func(Evaluation) { t.Error("should not fire") })
	assert.ErrorIs(t, err, context.Canceled)
}
