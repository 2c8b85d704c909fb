package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"binance-dca-bot-go/internal/gateway"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PriceSource produces the price ticks that drive a trade state machine. The
// channel closes when the context is cancelled or the source shuts down.
// Sources must never block on a slow consumer; a tick that arrives while the
// machine is still busy is dropped, not queued.
type PriceSource interface {
	Prices(ctx context.Context) (<-chan float64, error)
}

// PollingSource asks the gateway for the last price on a fixed cadence and
// emits only when the price changed since the previous poll.
type PollingSource struct {
	gw       gateway.OrderGateway
	symbol   string
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewPollingSource builds a polling source. Interval defaults to 400ms when
// zero or negative.
func NewPollingSource(gw gateway.OrderGateway, symbol string, interval time.Duration, logger *zap.SugaredLogger) *PollingSource {
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	return &PollingSource{gw: gw, symbol: symbol, interval: interval, logger: logger}
}

// Prices starts the polling loop.
func (p *PollingSource) Prices(ctx context.Context) (<-chan float64, error) {
	out := make(chan float64)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		var last float64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				price, err := p.gw.GetLastPrice(ctx, p.symbol)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					p.logger.Warnf("[%s] price poll failed: %v", p.symbol, err)
					continue
				}
				if price == last {
					continue
				}
				select {
				case out <- price:
					last = price
				case <-ctx.Done():
					return
				default:
					// Consumer is mid-tick. Leave last untouched so the
					// price is offered again next poll.
				}
			}
		}
	}()
	return out, nil
}

// WSSource streams aggTrade prices over a websocket and reconnects with a
// fixed backoff when the connection drops.
type WSSource struct {
	wsBaseURL string
	symbol    string
	logger    *zap.SugaredLogger
}

// NewWSSource builds a websocket source against the given stream base URL.
func NewWSSource(wsBaseURL, symbol string, logger *zap.SugaredLogger) *WSSource {
	return &WSSource{wsBaseURL: wsBaseURL, symbol: symbol, logger: logger}
}

// Prices starts the connect/read/reconnect daemon.
func (w *WSSource) Prices(ctx context.Context) (<-chan float64, error) {
	out := make(chan float64)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			conn, err := w.connect(ctx)
			if err != nil {
				w.logger.Warnf("[%s] websocket connect failed: %v, retrying in 5s", w.symbol, err)
				if !sleepCtx(ctx, 5*time.Second) {
					return
				}
				continue
			}

			w.logger.Infof("[%s] websocket connected", w.symbol)
			err = w.readMessages(ctx, conn, out)
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			w.logger.Warnf("[%s] websocket disconnected: %v, reconnecting in 5s", w.symbol, err)
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
		}
	}()
	return out, nil
}

func (w *WSSource) connect(ctx context.Context) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", w.wsBaseURL, strings.ToLower(w.symbol))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	return conn, err
}

// readMessages pumps one established connection until it breaks. A ping
// goroutine keeps the read deadline extended through the pong handler.
func (w *WSSource) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- float64) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10 // must be less than pongWait
	)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		pingTicker := time.NewTicker(pingPeriod)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var trade struct {
			Price json.Number `json:"p"`
		}
		if err := json.Unmarshal(message, &trade); err != nil {
			w.logger.Warnf("[%s] failed to parse trade message: %v", w.symbol, err)
			continue
		}
		price, err := trade.Price.Float64()
		if err != nil {
			continue
		}

		select {
		case out <- price:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Consumer busy, drop the tick.
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// ScriptedSource replays a caller-driven price sequence. Backtests and tests
// push prices synchronously; Push returns once the machine has accepted the
// tick, so callers can interleave pushes with assertions.
type ScriptedSource struct {
	ch chan float64
}

// NewScriptedSource builds an empty scripted source.
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{ch: make(chan float64)}
}

// Prices hands the caller-fed channel to the machine.
func (s *ScriptedSource) Prices(ctx context.Context) (<-chan float64, error) {
	return s.ch, nil
}

// Push delivers one price tick. It blocks until the machine picks it up or
// the context is cancelled.
func (s *ScriptedSource) Push(ctx context.Context, price float64) error {
	select {
	case s.ch <- price:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream; the machine's run loop exits when the channel
// drains.
func (s *ScriptedSource) Close() {
	close(s.ch)
}
