// Package gateway defines the closed, typed contract between the trade state
// machine and the exchange. The machine never sees exchange-specific response
// shapes; everything crossing this boundary is a models type or a plain value.
package gateway

import (
	"context"
	"errors"

	"binance-dca-bot-go/internal/models"
)

// ErrInsufficientBalance is the one terminal gateway error the state machine
// treats specially: it is never retried, and the trade cannot proceed past
// the order that hit it.
var ErrInsufficientBalance = errors.New("insufficient quote balance")

// OrderGateway is the minimal order-execution contract the trade state
// machine depends on. Every call is network-bound and fallible; callers must
// treat any non-terminal failure as transient.
type OrderGateway interface {
	// GetLastPrice returns the last traded price for the symbol.
	GetLastPrice(ctx context.Context, symbol string) (float64, error)

	// GetInstrument returns the symbol's trading rules (steps, minimum qty).
	GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error)

	// GetQuoteBalance returns the free quote-currency (USDT) balance.
	GetQuoteBalance(ctx context.Context) (float64, error)

	// PlaceMarketBuy spends quoteAmount of the quote currency at market.
	PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64, clientOrderID string) (string, error)

	// PlaceLimitBuy places a GTC limit buy for qty at price.
	PlaceLimitBuy(ctx context.Context, symbol string, qty, price float64, clientOrderID string) (string, error)

	// PlaceLimitSell places a GTC limit sell for qty at price.
	PlaceLimitSell(ctx context.Context, symbol string, qty, price float64, clientOrderID string) (string, error)

	// GetFeeRates returns the maker/taker commission rates for the symbol.
	GetFeeRates(ctx context.Context, symbol string) (*models.FeeRates, error)

	// CancelOrder cancels an open order. Used during teardown.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrderStatus fetches the current state of an order.
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*models.Order, error)
}
