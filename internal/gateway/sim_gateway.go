package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"binance-dca-bot-go/internal/models"
)

// Operation names for scripted failures.
const (
	OpMarketBuy = "market_buy"
	OpLimitBuy  = "limit_buy"
	OpLimitSell = "limit_sell"
	OpLastPrice = "last_price"
)

// PlacedOrder records one order the simulator accepted, for assertions and
// backtest accounting.
type PlacedOrder struct {
	Kind          string // market_buy, limit_buy, limit_sell
	Symbol        string
	Qty           float64
	Price         float64
	QuoteAmount   float64
	ClientOrderID string
	OrderID       string
}

type simLimit struct {
	id    string
	side  models.Side
	qty   float64
	price float64
}

// SimGateway is a deterministic in-memory OrderGateway. It fills market
// orders at the current price immediately and fills resting limit orders on
// touch when SetPrice moves the market. It drives the backtest mode and the
// state machine tests.
type SimGateway struct {
	mu sync.Mutex

	instrument models.Instrument
	fees       models.FeeRates

	lastPrice    float64
	quoteBalance float64
	baseBalance  float64

	openLimits map[string]*simLimit
	orders     map[string]*models.Order
	placed     []PlacedOrder
	nextID     int64

	failures map[string]error // op -> error returned on next call
}

// NewSimGateway builds a simulator with a starting quote balance.
func NewSimGateway(inst models.Instrument, fees models.FeeRates, quoteBalance float64) *SimGateway {
	return &SimGateway{
		instrument:   inst,
		fees:         fees,
		quoteBalance: quoteBalance,
		openLimits:   make(map[string]*simLimit),
		orders:       make(map[string]*models.Order),
		failures:     make(map[string]error),
	}
}

// SetPrice moves the simulated market and fills any limit orders the new
// price touches: buys at or below the price, sells at or above it.
func (s *SimGateway) SetPrice(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice = price

	for id, lim := range s.openLimits {
		filled := false
		switch lim.side {
		case models.Buy:
			if price <= lim.price {
				cost := lim.qty * lim.price
				s.quoteBalance -= cost
				s.baseBalance += lim.qty * (1 - s.fees.Maker)
				filled = true
			}
		case models.Sell:
			if price >= lim.price {
				proceeds := lim.qty * lim.price
				s.baseBalance -= lim.qty
				s.quoteBalance += proceeds * (1 - s.fees.Maker)
				filled = true
			}
		}
		if filled {
			s.orders[id].Status = "FILLED"
			delete(s.openLimits, id)
		}
	}
}

// FailNext makes the next call of the given operation return err.
func (s *SimGateway) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Placed returns a copy of every accepted order in placement sequence.
func (s *SimGateway) Placed() []PlacedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlacedOrder, len(s.placed))
	copy(out, s.placed)
	return out
}

// Balances returns the current quote and base balances.
func (s *SimGateway) Balances() (quote, base float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteBalance, s.baseBalance
}

func (s *SimGateway) takeFailure(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// GetLastPrice returns the scripted market price.
func (s *SimGateway) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpLastPrice); err != nil {
		return 0, err
	}
	if s.lastPrice <= 0 {
		return 0, fmt.Errorf("no price set for %s", symbol)
	}
	return s.lastPrice, nil
}

// GetInstrument returns the configured trading rules.
func (s *SimGateway) GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	inst := s.instrument
	inst.Symbol = symbol
	return &inst, nil
}

// GetQuoteBalance returns the free quote balance.
func (s *SimGateway) GetQuoteBalance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteBalance, nil
}

// GetFeeRates returns the configured fee rates.
func (s *SimGateway) GetFeeRates(ctx context.Context, symbol string) (*models.FeeRates, error) {
	fees := s.fees
	return &fees, nil
}

// PlaceMarketBuy fills immediately at the current price.
func (s *SimGateway) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64, clientOrderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpMarketBuy); err != nil {
		return "", err
	}
	if quoteAmount > s.quoteBalance {
		return "", ErrInsufficientBalance
	}
	if s.lastPrice <= 0 {
		return "", fmt.Errorf("no market price for %s", symbol)
	}

	id := s.newOrderID()
	qty := quoteAmount / s.lastPrice
	s.quoteBalance -= quoteAmount
	s.baseBalance += qty * (1 - s.fees.Taker)

	s.orders[id] = &models.Order{
		Symbol: symbol, OrderID: id, ClientOrderID: clientOrderID,
		Status: "FILLED", Type: "MARKET", Side: string(models.Buy),
		Price:   strconv.FormatFloat(s.lastPrice, 'f', -1, 64),
		OrigQty: strconv.FormatFloat(qty, 'f', -1, 64),
	}
	s.placed = append(s.placed, PlacedOrder{
		Kind: OpMarketBuy, Symbol: symbol, Qty: qty, Price: s.lastPrice,
		QuoteAmount: quoteAmount, ClientOrderID: clientOrderID, OrderID: id,
	})
	return id, nil
}

// PlaceLimitBuy rests a limit buy until the price touches it.
func (s *SimGateway) PlaceLimitBuy(ctx context.Context, symbol string, qty, price float64, clientOrderID string) (string, error) {
	return s.placeLimit(symbol, models.Buy, OpLimitBuy, qty, price, clientOrderID)
}

// PlaceLimitSell rests a limit sell until the price touches it.
func (s *SimGateway) PlaceLimitSell(ctx context.Context, symbol string, qty, price float64, clientOrderID string) (string, error) {
	return s.placeLimit(symbol, models.Sell, OpLimitSell, qty, price, clientOrderID)
}

func (s *SimGateway) placeLimit(symbol string, side models.Side, op string, qty, price float64, clientOrderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(op); err != nil {
		return "", err
	}
	if side == models.Buy && qty*price > s.quoteBalance {
		return "", ErrInsufficientBalance
	}

	id := s.newOrderID()
	s.openLimits[id] = &simLimit{id: id, side: side, qty: qty, price: price}
	s.orders[id] = &models.Order{
		Symbol: symbol, OrderID: id, ClientOrderID: clientOrderID,
		Status: "NEW", Type: "LIMIT", Side: string(side),
		Price:   strconv.FormatFloat(price, 'f', -1, 64),
		OrigQty: strconv.FormatFloat(qty, 'f', -1, 64),
	}
	s.placed = append(s.placed, PlacedOrder{
		Kind: op, Symbol: symbol, Qty: qty, Price: price,
		ClientOrderID: clientOrderID, OrderID: id,
	})
	return id, nil
}

// CancelOrder removes a resting limit order.
func (s *SimGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.openLimits[orderID]; !ok {
		return fmt.Errorf("order %s not open", orderID)
	}
	delete(s.openLimits, orderID)
	s.orders[orderID].Status = "CANCELED"
	return nil
}

// GetOrderStatus returns the simulated order.
func (s *SimGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	copied := *order
	return &copied, nil
}

func (s *SimGateway) newOrderID() string {
	s.nextID++
	return strconv.FormatInt(s.nextID, 10)
}
