package trade

import (
	"context"
	"errors"
	"testing"
	"time"

	"binance-dca-bot-go/internal/gateway"
	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testInstrument() models.Instrument {
	return models.Instrument{QtyStep: "0.00001", PriceStep: "0.01", MinQty: "0.0001"}
}

// testConfig builds a 2-rung ladder from entry 100: insurance triggers at 98
// and 96, base target 101.
func testConfig() models.BotConfig {
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

type fixture struct {
	sim     *gateway.SimGateway
	source  *ScriptedSource
	repo    persistence.StateRepository
	machine *Machine
	stopped chan string
}

func newFixture(t *testing.T, quoteBalance float64) *fixture {
	t.Helper()
	repo, err := persistence.NewFileRepository(t.TempDir())
	require.NoError(t, err)

	sim := gateway.NewSimGateway(testInstrument(), models.FeeRates{}, quoteBalance)
	sim.SetPrice(100)
	source := NewScriptedSource()
	stopped := make(chan string, 1)

	m := NewMachine("BTCUSDT", testConfig(), sim, repo, source, zap.NewNop().Sugar(),
		func(symbol, reason string) { stopped <- reason })
	return &fixture{sim: sim, source: source, repo: repo, machine: m, stopped: stopped}
}

func (f *fixture) push(t *testing.T, price float64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.source.Push(ctx, price))
}

func (f *fixture) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-f.machine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not finish in time")
	}
}

func kinds(placed []gateway.PlacedOrder) []string {
	out := make([]string, len(placed))
	for i, p := range placed {
		out[i] = p.Kind
	}
	return out
}

func TestHappyPathExitsOnTarget(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.machine.Start(context.Background()))

	// Above every insurance trigger: only the take-profit goes out.
	f.push(t, 100.5)
	// At the base rung's target the cycle closes.
	f.push(t, 101.2)
	f.waitDone(t)

	assert.Equal(t, PhaseExited, f.machine.Phase())
	assert.Equal(t, []string{gateway.OpMarketBuy, gateway.OpLimitSell}, kinds(f.sim.Placed()))
	assert.Equal(t, StopReasonTakeProfit, <-f.stopped)

	// Persisted state is cleared on exit.
	loaded, err := f.repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestTakeProfitSizedFromCurrentRung(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.machine.Start(context.Background()))

	f.push(t, 100.5)
	require.Eventually(t, func() bool {
		return len(f.sim.Placed()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	tp := f.sim.Placed()[1]
	assert.Equal(t, gateway.OpLimitSell, tp.Kind)
	assert.Equal(t, 101.0, tp.Price)
	// Base rung only: the sell covers exactly the base quantity.
	assert.InDelta(t, 1.0, tp.Qty, 1e-6)
	f.machine.Stop()
}

func TestGapThroughTwoRungsConsumesOnePerTick(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.machine.Start(context.Background()))

	// Price gaps below both rungs. The first tick consumes only the nearest
	// rung, the second tick consumes the next.
	f.push(t, 95.5)
	f.push(t, 95.5)
	require.Eventually(t, func() bool {
		return len(f.sim.Placed()) == 4
	}, 2*time.Second, 5*time.Millisecond)

	placed := f.sim.Placed()
	assert.Equal(t, []string{
		gateway.OpMarketBuy,
		gateway.OpLimitBuy,
		gateway.OpLimitSell,
		gateway.OpLimitBuy,
	}, kinds(placed))
	assert.Equal(t, 98.0, placed[1].Price)
	assert.Equal(t, 96.0, placed[3].Price)

	assert.Equal(t, 2, f.machine.Snapshot().CurrentStep)
	f.machine.Stop()
}

func TestTakeProfitFailureRetriesNextTick(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.machine.Start(context.Background()))

	f.sim.FailNext(gateway.OpLimitSell, errors.New("gateway down"))
	f.push(t, 100.5)
	f.push(t, 100.6)
	require.Eventually(t, func() bool {
		return f.machine.Snapshot().TakeProfitOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	sells := 0
	for _, p := range f.sim.Placed() {
		if p.Kind == gateway.OpLimitSell {
			sells++
		}
	}
	assert.Equal(t, 1, sells)
	f.machine.Stop()
}

func TestInsuranceFailureHandsRungBack(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.machine.Start(context.Background()))

	f.sim.FailNext(gateway.OpLimitBuy, errors.New("gateway down"))
	f.push(t, 97)
	f.push(t, 97)
	require.Eventually(t, func() bool {
		return f.machine.Snapshot().InsuranceOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	snap := f.machine.Snapshot()
	assert.Equal(t, 1, snap.CurrentStep)
	assert.False(t, snap.OnInsurance)

	buys := 0
	for _, p := range f.sim.Placed() {
		if p.Kind == gateway.OpLimitBuy {
			buys++
			assert.Equal(t, 98.0, p.Price)
		}
	}
	assert.Equal(t, 1, buys)
	f.machine.Stop()
}

func TestStartFailsOnInsufficientBalance(t *testing.T) {
	f := newFixture(t, 50) // base order needs 100

	err := f.machine.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrInsufficientBalance)
	assert.Empty(t, kinds(f.sim.Placed()))
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.machine.Start(context.Background()))

	f.machine.Stop()
	f.machine.Stop()
	f.waitDone(t)

	assert.Equal(t, PhaseStopped, f.machine.Phase())
	assert.Equal(t, StopReasonManual, <-f.stopped)
	select {
	case reason := <-f.stopped:
		t.Fatalf("stop emitted twice: %s", reason)
	default:
	}

	loaded, err := f.repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRestoreResumesWithoutNewBaseOrder(t *testing.T) {
	f := newFixture(t, 1000)

	snapshot := &models.TradeState{
		Symbol:  "BTCUSDT",
		CycleID: "cycle-resume",
		Strategy: []models.GridStep{
			{Step: 0, OrderPriceToStep: 100, OrderBasePairVolume: 100,
				OrderSecondaryPairVolume: 1, SummarizedOrderSecondaryPairVolume: 1,
				OrderAveragePrice: 100, OrderTargetPrice: 101},
			{Step: 1, OrderPriceToStep: 98, OrderBasePairVolume: 100,
				OrderSecondaryPairVolume: 1.02040, SummarizedOrderSecondaryPairVolume: 2.02040,
				OrderAveragePrice: 98.99, OrderTargetPrice: 99.97},
		},
		CurrentStep: 0,
		BaseOrderID: "previous-42",
	}
	require.NoError(t, f.machine.Restore(snapshot))
	require.NoError(t, f.machine.Start(context.Background()))

	// Take-profit goes out for the restored position, then the target exits.
	f.push(t, 100.5)
	f.push(t, 101.5)
	f.waitDone(t)

	placed := f.sim.Placed()
	assert.Equal(t, []string{gateway.OpLimitSell}, kinds(placed))
	assert.Equal(t, PhaseExited, f.machine.Phase())
}

func TestRestoreRejectsEmptySnapshot(t *testing.T) {
	f := newFixture(t, 1000)
	assert.Error(t, f.machine.Restore(&models.TradeState{Symbol: "BTCUSDT"}))
}

// stallingPriceGateway holds every GetLastPrice call until proceed is closed,
// so a test can land a Stop while Start is still mid-flight.
type stallingPriceGateway struct {
	*gateway.SimGateway
	proceed chan struct{}
}

func (g *stallingPriceGateway) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	<-g.proceed
	return g.SimGateway.GetLastPrice(ctx, symbol)
}

func TestStopDuringStartupWins(t *testing.T) {
	sim := gateway.NewSimGateway(testInstrument(), models.FeeRates{}, 1000)
	sim.SetPrice(100)
	gw := &stallingPriceGateway{SimGateway: sim, proceed: make(chan struct{})}
	source := NewScriptedSource()
	stopped := make(chan string, 1)
	m := NewMachine("BTCUSDT", testConfig(), gw, nil, source, zap.NewNop().Sugar(),
		func(symbol, reason string) { stopped <- reason })

	startErr := make(chan error, 1)
	go func() { startErr <- m.Start(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	m.Stop()
	close(gw.proceed)

	select {
	case err := <-startErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}

	// The stop won: no orders went out and the machine stayed down.
	assert.Equal(t, PhaseStopped, m.Phase())
	assert.Empty(t, sim.Placed())
	assert.Equal(t, StopReasonManual, <-stopped)

	select {
	case <-m.Done():
	default:
		t.Fatal("done not closed after stop")
	}
	// A second stop after the aborted start must stay a no-op.
	m.Stop()
	assert.Equal(t, PhaseStopped, m.Phase())
}

func TestExitAfterDeeperRungsCancelsStaleTakeProfit(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.machine.Start(context.Background()))

	// Two rungs consumed; the sell was placed while rung 1 was current and
	// rests above the rung-2 target the exit will fire on.
	f.push(t, 95.5)
	f.push(t, 95.5)
	require.Eventually(t, func() bool {
		return len(f.sim.Placed()) == 4
	}, 2*time.Second, 5*time.Millisecond)

	placed := f.sim.Placed()
	require.Equal(t, gateway.OpLimitSell, placed[2].Kind)
	takeProfitID := placed[2].OrderID

	f.push(t, 105)
	f.waitDone(t)
	assert.Equal(t, PhaseExited, f.machine.Phase())

	order, err := f.sim.GetOrderStatus(context.Background(), "BTCUSDT", takeProfitID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", order.Status)
}

func TestTicksAfterStopAreIgnored(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.machine.Start(context.Background()))

	f.machine.Stop()
	f.waitDone(t)

	// The loop is gone; a push must not be consumed.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, f.source.Push(ctx, 95))
	assert.Equal(t, 1, len(f.sim.Placed())) // only the base order
}
