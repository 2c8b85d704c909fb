package bot

import (
	"fmt"
	"sort"
	"sync"

	"binance-dca-bot-go/internal/gateway"
	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/persistence"
	"binance-dca-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// Manager holds one Bot per symbol and backs the control surface.
type Manager struct {
	cfg    *models.Config
	gw     gateway.OrderGateway
	repo   persistence.StateRepository
	klines strategy.KlineSource
	logger *zap.SugaredLogger

	mu   sync.Mutex
	bots map[string]*Bot
}

// NewManager builds an empty manager sharing one gateway and repository.
func NewManager(cfg *models.Config, gw gateway.OrderGateway, repo persistence.StateRepository, klines strategy.KlineSource, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:    cfg,
		gw:     gw,
		repo:   repo,
		klines: klines,
		logger: logger,
		bots:   make(map[string]*Bot),
	}
}

// Add registers a bot for the symbol without starting it. Adding an existing
// symbol is an error.
func (m *Manager) Add(symbol string) (*Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bots[symbol]; exists {
		return nil, fmt.Errorf("bot for %s already exists", symbol)
	}
	b := New(symbol, m.cfg, m.gw, m.repo, m.klines, m.logger)
	m.bots[symbol] = b
	return b, nil
}

// Get returns the bot for the symbol.
func (m *Manager) Get(symbol string) (*Bot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[symbol]
	return b, ok
}

// Start starts the symbol's bot.
func (m *Manager) Start(symbol string) error {
	b, ok := m.Get(symbol)
	if !ok {
		return fmt.Errorf("no bot for %s", symbol)
	}
	return b.Start()
}

// Stop stops the symbol's bot.
func (m *Manager) Stop(symbol string) error {
	b, ok := m.Get(symbol)
	if !ok {
		return fmt.Errorf("no bot for %s", symbol)
	}
	b.Stop()
	return nil
}

// StopAll stops every bot, used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	bots := make([]*Bot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.mu.Unlock()

	for _, b := range bots {
		b.Stop()
	}
}

// Statuses returns every bot's status, ordered by symbol.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	bots := make([]*Bot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
