// Package trade holds the state machine that runs one symbol's DCA trade
// cycle: base market buy, a ladder of insurance limit buys consumed one rung
// per tick, a take-profit limit sell, and a price-triggered exit.
package trade

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"binance-dca-bot-go/internal/gateway"
	"binance-dca-bot-go/internal/metrics"
	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/persistence"
	"binance-dca-bot-go/internal/precision"
	"binance-dca-bot-go/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase is the lifecycle position of a trade cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLadderBuilt
	PhaseArmed
	PhaseTakeProfitPending
	PhaseExited
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLadderBuilt:
		return "ladder_built"
	case PhaseArmed:
		return "armed"
	case PhaseTakeProfitPending:
		return "take_profit_pending"
	case PhaseExited:
		return "exited"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stop reasons reported through the onStop callback and the cycle metric.
const (
	StopReasonTakeProfit = "take_profit"
	StopReasonManual     = "manual"
)

// Machine drives one symbol's trade cycle off a stream of price ticks.
//
// All decisions happen under the mutex; gateway calls happen outside it, and
// their results are applied back under the mutex after re-checking the phase,
// so an order that lands after Stop is discarded rather than resurrecting the
// cycle. Ticks arrive on one channel and are handled one at a time, never
// concurrently.
type Machine struct {
	symbol string
	cfg    models.BotConfig
	gw     gateway.OrderGateway
	repo   persistence.StateRepository
	source PriceSource
	logger *zap.SugaredLogger
	onStop func(symbol, reason string)

	mu    sync.Mutex
	phase Phase
	state *models.TradeState
	inst  models.Instrument
	fees  models.FeeRates

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMachine builds an idle machine. repo and onStop may be nil.
func NewMachine(symbol string, cfg models.BotConfig, gw gateway.OrderGateway, repo persistence.StateRepository, source PriceSource, logger *zap.SugaredLogger, onStop func(symbol, reason string)) *Machine {
	return &Machine{
		symbol: symbol,
		cfg:    cfg,
		gw:     gw,
		repo:   repo,
		source: source,
		logger: logger,
		onStop: onStop,
		phase:  PhaseIdle,
		state:  &models.TradeState{Symbol: symbol},
		done:   make(chan struct{}),
	}
}

// Restore seeds the machine with a persisted snapshot so Start resumes the
// cycle mid-ladder instead of opening a new one. Only valid before Start.
func (m *Machine) Restore(state *models.TradeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseIdle {
		return fmt.Errorf("cannot restore state in phase %s", m.phase)
	}
	if state.Empty() {
		return errors.New("cannot restore an empty snapshot")
	}
	m.state = state.Clone()
	return nil
}

// Start opens the trade cycle. For a fresh machine it fetches the entry
// price and trading rules, generates the ladder, places the base market
// order and then arms the tick loop. For a restored machine it skips
// straight to arming. ctx bounds only the startup calls; the tick loop runs
// until Stop or exit.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return fmt.Errorf("machine already started (phase %s)", m.phase)
	}
	resumed := !m.state.Empty()
	m.mu.Unlock()

	if resumed {
		if err := m.fetchInstrument(ctx); err != nil {
			return err
		}
		snap := m.Snapshot()
		m.logger.Infof("[%s] resuming trade cycle %s at rung %d",
			m.symbol, snap.CycleID, snap.CurrentStep)
	} else {
		if err := m.buildLadder(ctx); err != nil {
			return err
		}
		if err := m.placeBaseOrder(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	prices, err := m.source.Prices(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open price source: %w", err)
	}

	// A Stop issued while the startup calls were in flight wins: the machine
	// must stay down, never arm, and never resurrect the closed done channel.
	m.mu.Lock()
	if m.phase == PhaseStopped || m.phase == PhaseExited {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("machine for %s stopped during startup", m.symbol)
	}
	m.phase = PhaseArmed
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx, prices)
	return nil
}

// Stop ends the cycle from outside. It is idempotent and safe from any
// goroutine; resting limit orders are cancelled on the way out.
func (m *Machine) Stop() {
	m.teardown(PhaseStopped, StopReasonManual)
}

// Done is closed when the tick loop has fully exited.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Snapshot returns a deep copy of the current trade state.
func (m *Machine) Snapshot() *models.TradeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// fetchInstrument loads the trading rules and fee rates the cycle needs for
// rounding and fee-adjusted sizing. Missing fee rates degrade to zero.
func (m *Machine) fetchInstrument(ctx context.Context) error {
	inst, err := m.gw.GetInstrument(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch trading rules: %w", err)
	}
	fees, err := m.gw.GetFeeRates(ctx, m.symbol)
	if err != nil {
		m.logger.Warnf("[%s] could not fetch fee rates, assuming zero: %v", m.symbol, err)
		fees = &models.FeeRates{}
	}

	m.mu.Lock()
	m.inst = *inst
	m.fees = *fees
	m.mu.Unlock()
	return nil
}

func (m *Machine) buildLadder(ctx context.Context) error {
	price, err := m.gw.GetLastPrice(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch entry price: %w", err)
	}
	if err := m.fetchInstrument(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	inst := m.inst
	m.mu.Unlock()
	minQty, err := strconv.ParseFloat(inst.MinQty, 64)
	if err != nil {
		return fmt.Errorf("bad minQty %q for %s: %w", inst.MinQty, m.symbol, err)
	}

	ladder, err := strategy.Generate(m.symbol, m.cfg, price, minQty, inst)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseIdle {
		return fmt.Errorf("machine for %s stopped while building the ladder", m.symbol)
	}
	m.state = &models.TradeState{
		Symbol:       m.symbol,
		CycleID:      uuid.NewString(),
		Strategy:     ladder,
		CurrentPrice: price,
	}
	m.phase = PhaseLadderBuilt
	m.persistLocked()
	metrics.LadderDepth.WithLabelValues(m.symbol).Set(float64(len(ladder) - 1))
	m.logger.Infof("[%s] ladder built: %d rungs, entry %.8f, cycle %s",
		m.symbol, len(ladder), price, m.state.CycleID)
	return nil
}

func (m *Machine) placeBaseOrder(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseLadderBuilt {
		m.mu.Unlock()
		return fmt.Errorf("machine for %s stopped before the base order", m.symbol)
	}
	base := m.state.Strategy[0]
	m.mu.Unlock()

	balance, err := m.gw.GetQuoteBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch quote balance: %w", err)
	}
	if balance < base.OrderBasePairVolume {
		return fmt.Errorf("%w: need %.2f, have %.2f",
			gateway.ErrInsufficientBalance, base.OrderBasePairVolume, balance)
	}

	orderID, err := m.gw.PlaceMarketBuy(ctx, m.symbol, base.OrderBasePairVolume, newClientOrderID(kindBase))
	if err != nil {
		metrics.OrderFailuresTotal.WithLabelValues(m.symbol, kindBase).Inc()
		return fmt.Errorf("base order failed: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(m.symbol, kindBase).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseLadderBuilt {
		// A market buy cannot be cancelled; the acquired position stays in
		// the account for the operator.
		m.logger.Warnf("[%s] stopped while the base order %s was in flight, position left in account",
			m.symbol, orderID)
		return fmt.Errorf("machine for %s stopped before the base order", m.symbol)
	}
	m.state.BaseOrderID = orderID
	m.persistLocked()
	m.logger.Infof("[%s] base order placed: %.2f USDT at market, order %s",
		m.symbol, base.OrderBasePairVolume, orderID)
	return nil
}

func (m *Machine) run(ctx context.Context, prices <-chan float64) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case price, ok := <-prices:
			if !ok {
				return
			}
			m.handleTick(ctx, price)
		}
	}
}

// handleTick is the single decision point of the cycle. At most one
// insurance rung is consumed per tick; the take-profit order is dispatched
// once the base order exists; the cycle exits when price reaches the active
// rung's target.
func (m *Machine) handleTick(ctx context.Context, price float64) {
	metrics.TicksTotal.WithLabelValues(m.symbol).Inc()
	metrics.LastPrice.WithLabelValues(m.symbol).Set(price)

	m.mu.Lock()
	if m.phase != PhaseArmed && m.phase != PhaseTakeProfitPending {
		m.mu.Unlock()
		return
	}
	st := m.state
	st.CurrentPrice = price

	var insuranceRung *models.GridStep
	if next := st.NextRung(); next != nil && !st.OnInsurance && price <= next.OrderPriceToStep {
		st.OnInsurance = true
		st.CurrentStep = next.Step
		rung := *next
		insuranceRung = &rung
		metrics.LadderDepth.WithLabelValues(m.symbol).Set(float64(len(st.Strategy) - 1 - st.CurrentStep))
	}

	var takeProfitRung *models.GridStep
	if st.BaseOrderID != "" && !st.OnTakeProfit {
		st.OnTakeProfit = true
		rung := *st.CurrentRung()
		takeProfitRung = &rung
		m.phase = PhaseTakeProfitPending
	}

	targetPrice := st.CurrentRung().OrderTargetPrice
	exiting := st.BaseOrderID != "" && price >= targetPrice
	m.persistLocked()
	m.mu.Unlock()

	if insuranceRung != nil {
		m.placeInsuranceOrder(ctx, *insuranceRung)
	}
	if takeProfitRung != nil {
		m.placeTakeProfitOrder(ctx, *takeProfitRung)
	}
	if exiting {
		m.logger.Infof("[%s] price %.8f reached target %.8f, closing cycle",
			m.symbol, price, targetPrice)
		m.teardown(PhaseExited, StopReasonTakeProfit)
	}
}

// placeInsuranceOrder submits the limit buy for a rung consumed this tick.
// On a transient failure the rung is handed back (pointer rolled back, flag
// cleared) so the next tick retries it. Insufficient balance is terminal for
// the rung: the ladder stops advancing, the cycle rides on its current
// position.
func (m *Machine) placeInsuranceOrder(ctx context.Context, rung models.GridStep) {
	orderID, err := m.gw.PlaceLimitBuy(ctx, m.symbol,
		rung.OrderSecondaryPairVolume, rung.OrderPriceToStep, newClientOrderID(kindInsurance))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseExited || m.phase == PhaseStopped {
		return
	}

	if err != nil {
		metrics.OrderFailuresTotal.WithLabelValues(m.symbol, kindInsurance).Inc()
		if errors.Is(err, gateway.ErrInsufficientBalance) {
			m.logger.Errorf("[%s] insurance rung %d failed, no balance left, ladder frozen: %v",
				m.symbol, rung.Step, err)
			m.persistLocked()
			return
		}
		m.logger.Warnf("[%s] insurance rung %d failed, retrying next tick: %v",
			m.symbol, rung.Step, err)
		m.state.CurrentStep = rung.Step - 1
		m.state.OnInsurance = false
		metrics.LadderDepth.WithLabelValues(m.symbol).Set(float64(len(m.state.Strategy) - 1 - m.state.CurrentStep))
		m.persistLocked()
		return
	}

	metrics.OrdersTotal.WithLabelValues(m.symbol, kindInsurance).Inc()
	m.state.InsuranceOrderID = orderID
	m.state.OnInsurance = false
	m.persistLocked()
	m.logger.Infof("[%s] insurance rung %d placed: %.8f @ %.8f, order %s",
		m.symbol, rung.Step, rung.OrderSecondaryPairVolume, rung.OrderPriceToStep, orderID)
}

// placeTakeProfitOrder submits the limit sell sized from the rung's running
// totals, shaved by the taker fee the buys paid in base asset. A transient
// failure clears the flag so the next tick retries.
func (m *Machine) placeTakeProfitOrder(ctx context.Context, rung models.GridStep) {
	m.mu.Lock()
	qty := precision.FeeAdjustedQuantity(rung.SummarizedOrderSecondaryPairVolume, m.fees.Taker, m.inst.QtyStep)
	m.mu.Unlock()

	orderID, err := m.gw.PlaceLimitSell(ctx, m.symbol,
		qty, rung.OrderTargetPrice, newClientOrderID(kindTakeProfit))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseExited || m.phase == PhaseStopped {
		return
	}

	if err != nil {
		metrics.OrderFailuresTotal.WithLabelValues(m.symbol, kindTakeProfit).Inc()
		m.logger.Warnf("[%s] take-profit placement failed, retrying next tick: %v", m.symbol, err)
		m.state.OnTakeProfit = false
		if m.phase == PhaseTakeProfitPending {
			m.phase = PhaseArmed
		}
		m.persistLocked()
		return
	}

	metrics.OrdersTotal.WithLabelValues(m.symbol, kindTakeProfit).Inc()
	m.state.TakeProfitOrderID = orderID
	m.persistLocked()
	m.logger.Infof("[%s] take-profit placed: %.8f @ %.8f, order %s",
		m.symbol, qty, rung.OrderTargetPrice, orderID)
}

// teardown moves the machine to a terminal phase exactly once: it clears the
// in-memory and persisted state, stops the tick loop, cancels whatever limit
// orders the cycle left resting and notifies the owner.
func (m *Machine) teardown(phase Phase, reason string) {
	m.mu.Lock()
	if m.phase == PhaseExited || m.phase == PhaseStopped {
		m.mu.Unlock()
		return
	}
	m.phase = phase
	openOrders := []string{m.state.InsuranceOrderID}
	takeProfitID := m.state.TakeProfitOrderID
	if reason == StopReasonManual {
		openOrders = append(openOrders, takeProfitID)
		takeProfitID = ""
	}
	m.state = &models.TradeState{Symbol: m.symbol}
	cancel := m.cancel
	m.mu.Unlock()

	m.cancelOpenOrders(openOrders)
	if takeProfitID != "" {
		// The sell may sit at a target from a shallower rung while the exit
		// fired on a deeper rung's lower target. Cancel it unless it filled.
		m.cancelUnfilledTakeProfit(takeProfitID)
	}
	if cancel != nil {
		cancel()
	} else {
		// Never armed; the run loop does not exist to close done.
		close(m.done)
	}
	if m.repo != nil {
		if err := m.repo.ClearState(m.symbol); err != nil {
			m.logger.Errorf("[%s] failed to clear persisted state: %v", m.symbol, err)
		}
	}
	metrics.TradeCyclesTotal.WithLabelValues(m.symbol, reason).Inc()
	metrics.LadderDepth.WithLabelValues(m.symbol).Set(0)
	m.logger.Infof("[%s] trade cycle closed (%s)", m.symbol, reason)
	if m.onStop != nil {
		m.onStop(m.symbol, reason)
	}
}

// cancelUnfilledTakeProfit checks whether the take-profit sell actually
// executed and cancels it when it is still resting, so a take-profit exit
// never leaves a stale sell on the book.
func (m *Machine) cancelUnfilledTakeProfit(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	order, err := m.gw.GetOrderStatus(ctx, m.symbol, orderID)
	if err != nil {
		m.logger.Warnf("[%s] could not check take-profit order %s: %v", m.symbol, orderID, err)
		return
	}
	if order.Status == "FILLED" {
		return
	}
	if err := m.gw.CancelOrder(ctx, m.symbol, orderID); err != nil {
		m.logger.Warnf("[%s] could not cancel stale take-profit %s: %v", m.symbol, orderID, err)
		return
	}
	m.logger.Infof("[%s] cancelled stale take-profit order %s", m.symbol, orderID)
}

// cancelOpenOrders best-effort cancels resting orders during teardown. An
// order that already filled or was never placed fails quietly.
func (m *Machine) cancelOpenOrders(orderIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range orderIDs {
		if id == "" {
			continue
		}
		if err := m.gw.CancelOrder(ctx, m.symbol, id); err != nil {
			m.logger.Debugf("[%s] could not cancel order %s: %v", m.symbol, id, err)
			continue
		}
		m.logger.Infof("[%s] cancelled open order %s", m.symbol, id)
	}
}

func (m *Machine) persistLocked() {
	if m.repo == nil {
		return
	}
	if err := m.repo.SaveState(m.symbol, m.state.Clone()); err != nil {
		m.logger.Errorf("[%s] failed to persist trade state: %v", m.symbol, err)
	}
}
