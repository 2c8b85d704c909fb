// Package bot wires one symbol's trading dependencies together: the RSI
// entry gate, the price feed, the trade state machine and its persistence.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-dca-bot-go/internal/gateway"
	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/persistence"
	"binance-dca-bot-go/internal/reporter"
	"binance-dca-bot-go/internal/strategy"
	"binance-dca-bot-go/internal/trade"

	"go.uber.org/zap"
)

// Bot owns the trade cycles of a single symbol. A cycle that closes with a
// take-profit immediately opens the next one; a manual stop leaves the bot
// idle until it is started again.
type Bot struct {
	symbol string
	cfg    *models.Config
	gw     gateway.OrderGateway
	repo   persistence.StateRepository
	klines strategy.KlineSource
	logger *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	machine *trade.Machine
	cancel  context.CancelFunc
}

// New builds an idle bot. klines may be nil when the RSI gate is disabled.
func New(symbol string, cfg *models.Config, gw gateway.OrderGateway, repo persistence.StateRepository, klines strategy.KlineSource, logger *zap.SugaredLogger) *Bot {
	return &Bot{
		symbol: symbol,
		cfg:    cfg,
		gw:     gw,
		repo:   repo,
		klines: klines,
		logger: logger,
	}
}

// Start brings the bot up. A persisted cycle is resumed directly, skipping
// the entry gate; otherwise the RSI gate (when enabled) decides when the
// first cycle opens.
func (b *Bot) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot for %s already running", b.symbol)
	}
	b.running = true
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	snapshot, err := b.loadSnapshot()
	if err != nil {
		b.logger.Warnf("[%s] could not load persisted state, starting fresh: %v", b.symbol, err)
	}
	if snapshot != nil {
		if err := b.resumeCycle(ctx, snapshot); err != nil {
			b.abortStart(cancel)
			return err
		}
		return nil
	}

	if b.cfg.Entry.RSIEnabled && b.klines != nil {
		go b.watchEntry(ctx)
		return nil
	}
	if err := b.openCycle(ctx); err != nil {
		b.abortStart(cancel)
		return err
	}
	return nil
}

// abortStart unwinds a failed Start so the bot can be started again.
func (b *Bot) abortStart(cancel context.CancelFunc) {
	cancel()
	b.mu.Lock()
	b.running = false
	b.machine = nil
	b.mu.Unlock()
}

// Stop halts the entry gate and the active cycle. Idempotent.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	machine := b.machine
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if machine != nil {
		machine.Stop()
	}
}

// Status is the control surface's view of the bot.
type Status struct {
	Symbol  string             `json:"symbol"`
	Running bool               `json:"running"`
	Phase   string             `json:"phase"`
	State   *models.TradeState `json:"state,omitempty"`
}

// Status reports the bot's current phase and trade state.
func (b *Bot) Status() Status {
	b.mu.Lock()
	machine := b.machine
	running := b.running
	b.mu.Unlock()

	s := Status{Symbol: b.symbol, Running: running, Phase: "idle"}
	if machine != nil {
		s.Phase = machine.Phase().String()
		if snap := machine.Snapshot(); !snap.Empty() {
			s.State = snap
		}
	}
	return s
}

func (b *Bot) loadSnapshot() (*models.TradeState, error) {
	if b.repo == nil {
		return nil, nil
	}
	snapshot, err := b.repo.LoadState(b.symbol)
	if err != nil {
		return nil, err
	}
	if snapshot.Empty() {
		return nil, nil
	}
	return snapshot, nil
}

// watchEntry blocks on the RSI gate and opens the first cycle when it fires.
func (b *Bot) watchEntry(ctx context.Context) {
	watcher := strategy.NewWatcher(b.symbol, b.cfg.Entry, b.klines, b.logger)
	err := watcher.Watch(ctx, func(eval strategy.Evaluation) {
		b.logger.Infof("[%s] entry gate fired: RSI %.2f (%s)", b.symbol, eval.Value, eval.RSIConclusion)
		if err := b.openCycle(ctx); err != nil {
			b.logger.Errorf("[%s] failed to open cycle: %v", b.symbol, err)
			b.Stop()
		}
	})
	if err != nil && ctx.Err() == nil {
		b.logger.Errorf("[%s] entry watcher stopped: %v", b.symbol, err)
	}
}

func (b *Bot) resumeCycle(ctx context.Context, snapshot *models.TradeState) error {
	machine := b.newMachine()
	if err := machine.Restore(snapshot); err != nil {
		return err
	}
	return b.armMachine(ctx, machine)
}

func (b *Bot) openCycle(ctx context.Context) error {
	return b.armMachine(ctx, b.newMachine())
}

func (b *Bot) armMachine(ctx context.Context, machine *trade.Machine) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot for %s is stopped", b.symbol)
	}
	b.machine = machine
	b.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := machine.Start(startCtx); err != nil {
		return err
	}
	if snap := machine.Snapshot(); !snap.Empty() {
		reporter.PrintLadder(b.symbol, snap.Strategy)
	}
	return nil
}

func (b *Bot) newMachine() *trade.Machine {
	source := b.newPriceSource()
	return trade.NewMachine(b.symbol, b.cfg.Bot, b.gw, b.repo, source, b.logger, b.onCycleClosed)
}

func (b *Bot) newPriceSource() trade.PriceSource {
	if b.cfg.PriceFeed == "ws" {
		return trade.NewWSSource(b.cfg.WSBaseURL, b.symbol, b.logger)
	}
	interval := time.Duration(b.cfg.PollIntervalMs) * time.Millisecond
	return trade.NewPollingSource(b.gw, b.symbol, interval, b.logger)
}

// onCycleClosed rolls straight into the next cycle after a take-profit exit.
func (b *Bot) onCycleClosed(symbol, reason string) {
	if reason != trade.StopReasonTakeProfit {
		return
	}
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		return
	}

	go func() {
		if err := b.openCycle(context.Background()); err != nil {
			b.logger.Errorf("[%s] failed to open next cycle: %v", symbol, err)
			b.Stop()
		}
	}()
}
